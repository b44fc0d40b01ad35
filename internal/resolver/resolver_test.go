package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/kartikbazzad/bunbase/bunquery/internal/apperrors"
	"github.com/kartikbazzad/bunbase/bunquery/internal/driver"
	"github.com/kartikbazzad/bunbase/bunquery/internal/metadata"
)

type fakeStore struct {
	queries    map[string]*metadata.QueryDefinition
	connectors map[string]*metadata.ConnectorConfig
}

func (s *fakeStore) Query(ctx context.Context, id string) (*metadata.QueryDefinition, error) {
	if q, ok := s.queries[id]; ok {
		return q, nil
	}
	return nil, metadata.ErrNotFound
}

func (s *fakeStore) Connector(ctx context.Context, id string) (*metadata.ConnectorConfig, error) {
	if c, ok := s.connectors[id]; ok {
		return c, nil
	}
	return nil, metadata.ErrNotFound
}

type fakeDriver struct {
	connectErr error
	queryErr   error
	closed     bool
}

func (f *fakeDriver) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeDriver) Query(ctx context.Context, sqlText string) (driver.RowStream, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	rendered := sqlText
	return func(yield func(cols []string, row []driver.Value) error) error {
		if err := yield([]string{"echo"}, nil); err != nil {
			return err
		}
		return yield(nil, []driver.Value{driver.String(rendered)})
	}, nil
}
func (f *fakeDriver) Close() error { f.closed = true; return nil }

func newFixture(t *testing.T, drv *fakeDriver) (*Resolver, *fakeStore) {
	t.Helper()
	store := &fakeStore{
		queries: map[string]*metadata.QueryDefinition{
			"q1": {ID: "q1", ConnectorID: "c1", Content: "select {{.name}}"},
		},
		connectors: map[string]*metadata.ConnectorConfig{
			"c1": {ID: "c1", Type: "relational", Config: json.RawMessage(`{}`)},
		},
	}
	registry := newTestRegistry(func(config json.RawMessage) (driver.Driver, error) {
		return drv, nil
	})
	return New(store, registry), store
}

func newTestRegistry(factory driver.Factory) *driver.Registry {
	r := driver.NewRegistry()
	r.Register(driver.TypeRelational, factory)
	return r
}

func TestResolveSuccess(t *testing.T) {
	drv := &fakeDriver{}
	r, _ := newFixture(t, drv)

	handle, err := r.Resolve(context.Background(), "q1", map[string]interface{}{"name": "widgets"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer handle.Close()

	var rows []string
	err = handle.Stream(func(cols []string, row []driver.Value) error {
		if row != nil {
			rows = append(rows, row[0].Str)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(rows) != 1 || rows[0] != "select widgets" {
		t.Fatalf("got rows %v, want templated sql to have rendered widgets", rows)
	}
}

func TestResolveQueryNotFound(t *testing.T) {
	r, _ := newFixture(t, &fakeDriver{})
	_, err := r.Resolve(context.Background(), "missing", nil)
	var ae *apperrors.Error
	if !errors.As(err, &ae) || ae.Code != apperrors.CodeQueryNotFound {
		t.Fatalf("got %v, want CodeQueryNotFound", err)
	}
}

func TestResolveConnectErrorClosesDriver(t *testing.T) {
	drv := &fakeDriver{connectErr: errors.New("boom")}
	r, _ := newFixture(t, drv)

	_, err := r.Resolve(context.Background(), "q1", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !drv.closed {
		t.Fatal("expected driver to be closed after failed Connect")
	}
}

func TestResolveTemplateRenderError(t *testing.T) {
	store := &fakeStore{
		queries: map[string]*metadata.QueryDefinition{
			"bad": {ID: "bad", ConnectorID: "c1", Content: "select {{.missing.nested}}"},
		},
		connectors: map[string]*metadata.ConnectorConfig{
			"c1": {ID: "c1", Type: "relational", Config: json.RawMessage(`{}`)},
		},
	}
	registry := newTestRegistry(func(config json.RawMessage) (driver.Driver, error) {
		return &fakeDriver{}, nil
	})
	r := New(store, registry)

	_, err := r.Resolve(context.Background(), "bad", map[string]interface{}{})
	var ae *apperrors.Error
	if !errors.As(err, &ae) || ae.Code != apperrors.CodeTemplateRender {
		t.Fatalf("got %v, want CodeTemplateRender", err)
	}
}
