package driver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestValueMarshalIdempotent checks that every ValueKind serializes to
// its wire-native JSON representation.
func TestValueMarshalIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	id := uuid.New()

	cases := []struct {
		name string
		v    Value
		want string
	}{
		{"null", Null(), "null"},
		{"bool", Bool(true), "true"},
		{"int", Int(42), "42"},
		{"float", Float(3.5), "3.5"},
		{"decimal", Decimal("12.3400"), `"12.3400"`},
		{"string", String("hello"), `"hello"`},
		{"date", Date("2026-03-04"), `"2026-03-04"`},
		{"instant", Instant(now), `"` + now.Format(time.RFC3339Nano) + `"`},
		{"uuid", UUID(id), `"` + id.String() + `"`},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := json.Marshal(c.v)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != c.want {
				t.Fatalf("got %s, want %s", got, c.want)
			}
		})
	}
}

func TestValueMarshalBytes(t *testing.T) {
	v := Bytes([]byte("abc"))
	got, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var roundtrip []byte
	if err := json.Unmarshal(got, &roundtrip); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(roundtrip) != "abc" {
		t.Fatalf("got %q, want %q", roundtrip, "abc")
	}
}

func TestValueMarshalUnknownKind(t *testing.T) {
	v := Value{Kind: "bogus"}
	if _, err := json.Marshal(v); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
