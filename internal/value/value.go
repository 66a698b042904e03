// Package value implements the recursive JSON-like value tree and the
// dotted/bracket path syntax used to address into it.
package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Kind tags which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInteger
	KindFloat
	KindString
	KindBinary
	KindArray
	KindObject
)

// Value is a recursive sum type: null, bool, signed 64-bit integer, IEEE 754
// double, UTF-8 string, binary blob, ordered array, or string-keyed mapping.
// Exactly one field is meaningful, selected by Kind; zero values of the
// others are ignored.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	Binary []byte
	Array  []Value
	Object map[string]Value
}

// ErrInvalidPath is returned when a path cannot be traversed or written.
var ErrInvalidPath = errors.New("invalid path")

// Null is the canonical null value.
func Null() Value { return Value{Kind: KindNull} }

func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func Int(i int64) Value { return Value{Kind: KindInteger, Int: i} }

func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }

func String(s string) Value { return Value{Kind: KindString, Str: s} }

func Binary(b []byte) Value { return Value{Kind: KindBinary, Binary: b} }

func Array(items ...Value) Value { return Value{Kind: KindArray, Array: items} }

func Object(m map[string]Value) Value {
	if m == nil {
		m = make(map[string]Value)
	}
	return Value{Kind: KindObject, Object: m}
}

// IsNull reports whether v is the null variant.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsInt64 returns the value coerced to an integer, treating absent/null and
// non-numeric values as 0. Used by counter semantics.
func (v Value) AsInt64() int64 {
	switch v.Kind {
	case KindInteger:
		return v.Int
	case KindFloat:
		return int64(v.Float)
	default:
		return 0
	}
}

// MarshalJSON implements json.Marshaler so a Value round-trips through the
// standard library encoder for every variant except binary, which is
// rejected (binary has no JSON representation in this protocol).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.Bool {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindInteger:
		return []byte(strconv.FormatInt(v.Int, 10)), nil
	case KindFloat:
		return json.Marshal(v.Float)
	case KindString:
		return json.Marshal(v.Str)
	case KindBinary:
		return nil, fmt.Errorf("value: binary variant is not JSON-serializable")
	case KindArray:
		out := make([]json.RawMessage, len(v.Array))
		for i, item := range v.Array {
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			out[i] = b
		}
		return json.Marshal(out)
	case KindObject:
		out := make(map[string]json.RawMessage, len(v.Object))
		for k, item := range v.Object {
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			out[k] = b
		}
		return json.Marshal(out)
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.Kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler, preferring an integer
// representation for numbers that are losslessly whole.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FromInterface(raw)
	return nil
}

// FromInterface converts a decoded-with-UseNumber JSON value (as produced by
// encoding/json) into a Value, preferring integer over float when lossless.
func FromInterface(raw interface{}) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i)
		}
		f, _ := x.Float64()
		return Float(f)
	case float64:
		if f := x; f == math.Trunc(f) && !math.IsInf(f, 0) {
			return Int(int64(f))
		}
		return Float(x)
	case string:
		return String(x)
	case []interface{}:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = FromInterface(item)
		}
		return Value{Kind: KindArray, Array: items}
	case map[string]interface{}:
		obj := make(map[string]Value, len(x))
		for k, item := range x {
			obj[k] = FromInterface(item)
		}
		return Object(obj)
	default:
		return Null()
	}
}
