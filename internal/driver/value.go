package driver

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValueKind is one of the portable primitive kinds row values may cross
// the driver boundary as. Every driver decodes its backend-native
// wrapper types (binary decimals, timestamp containers, 16-byte UUID
// blobs, ...) down to one of these before yielding a row.
type ValueKind string

const (
	KindNull    ValueKind = "null"
	KindBool    ValueKind = "bool"
	KindInt     ValueKind = "int"
	KindFloat   ValueKind = "float"
	KindDecimal ValueKind = "decimal"
	KindString  ValueKind = "string"
	KindBytes   ValueKind = "bytes"
	KindInstant ValueKind = "instant"
	KindDate    ValueKind = "date"
	KindUUID    ValueKind = "uuid"
)

// Value is a portable row cell. Exactly one of the typed fields is
// meaningful, selected by Kind; this keeps drivers from leaking
// backend-specific wrapper types across the driver boundary while
// staying cheap to construct (no interface{} boxing of a variant type).
type Value struct {
	Kind ValueKind

	Bool    bool
	Int     int64
	Float   float64
	Decimal string // arbitrary-precision decimal, kept as its canonical string form
	Str     string
	Bytes   []byte
	Instant time.Time
	Date    string // YYYY-MM-DD
	UUID    uuid.UUID
}

func Null() Value                  { return Value{Kind: KindNull} }
func Bool(v bool) Value            { return Value{Kind: KindBool, Bool: v} }
func Int(v int64) Value            { return Value{Kind: KindInt, Int: v} }
func Float(v float64) Value        { return Value{Kind: KindFloat, Float: v} }
func Decimal(v string) Value       { return Value{Kind: KindDecimal, Decimal: v} }
func String(v string) Value        { return Value{Kind: KindString, Str: v} }
func Bytes(v []byte) Value         { return Value{Kind: KindBytes, Bytes: v} }
func Instant(v time.Time) Value    { return Value{Kind: KindInstant, Instant: v.UTC()} }
func Date(v string) Value          { return Value{Kind: KindDate, Date: v} }
func UUID(v uuid.UUID) Value       { return Value{Kind: KindUUID, UUID: v} }

// MarshalJSON encodes a Value the way the row frame's payload.data
// array expects: the bare wire-native representation, not a tagged
// variant. Decoding a Value and re-encoding it must reproduce the same
// bytes for every kind.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindDecimal:
		return json.Marshal(v.Decimal)
	case KindString:
		return json.Marshal(v.Str)
	case KindBytes:
		return json.Marshal(v.Bytes) // base64, matches encoding/json's []byte handling
	case KindInstant:
		return json.Marshal(v.Instant.Format(time.RFC3339Nano))
	case KindDate:
		return json.Marshal(v.Date)
	case KindUUID:
		return json.Marshal(v.UUID.String())
	default:
		return nil, fmt.Errorf("value: unknown kind %q", v.Kind)
	}
}
