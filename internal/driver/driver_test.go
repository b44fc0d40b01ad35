package driver

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeDriver struct{ connected bool }

func (f *fakeDriver) Connect(ctx context.Context) error { f.connected = true; return nil }
func (f *fakeDriver) Query(ctx context.Context, sqlText string) (RowStream, error) {
	return func(yield func(cols []string, row []Value) error) error {
		if err := yield([]string{"a"}, nil); err != nil {
			return err
		}
		return yield(nil, []Value{Int(1)})
	}, nil
}
func (f *fakeDriver) Close() error { return nil }

func TestRegistryNewUnregisteredType(t *testing.T) {
	r := NewRegistry()
	if _, err := r.New(TypeRelational, json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for unregistered type")
	}
}

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewRegistry()
	r.Register(TypeRelational, func(config json.RawMessage) (Driver, error) {
		return &fakeDriver{}, nil
	})

	drv, err := r.New(TypeRelational, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := drv.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	types := r.Types()
	if len(types) != 1 || types[0] != TypeRelational {
		t.Fatalf("got types %v", types)
	}
}

func TestRowStreamYieldsColsThenRows(t *testing.T) {
	drv := &fakeDriver{}
	stream, err := drv.Query(context.Background(), "select 1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	var sawCols []string
	var sawRows [][]Value
	err = stream(func(cols []string, row []Value) error {
		if cols != nil {
			sawCols = cols
		} else {
			sawRows = append(sawRows, row)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(sawCols) != 1 || sawCols[0] != "a" {
		t.Fatalf("got cols %v", sawCols)
	}
	if len(sawRows) != 1 {
		t.Fatalf("got %d rows, want 1", len(sawRows))
	}
}
