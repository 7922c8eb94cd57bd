// Package wire implements the gateway's frame envelope and the untyped
// payload representation shared by every frame kind.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind identifies which alternative of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindArray
	KindMap
)

// Value is a tagged sum representing an arbitrary JSON payload. It exists
// so that frame payloads can be threaded through the gateway untyped and
// still round-trip byte-identical (map ordering aside) through JSON,
// without ever losing the int/float distinction the way a plain
// map[string]interface{} decoded by encoding/json does.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	m    map[string]Value
}

// Null is the zero Value.
var Null = Value{kind: KindNull}

func NewBool(b bool) Value   { return Value{kind: KindBool, b: b} }
func NewInt(i int64) Value   { return Value{kind: KindInt, i: i} }
func NewDouble(f float64) Value { return Value{kind: KindDouble, f: f} }
func NewString(s string) Value { return Value{kind: KindString, s: s} }

func NewArray(items []Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, arr: cp}
}

func NewMap(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindDouble:
		if v.f == float64(int64(v.f)) {
			return int64(v.f), true
		}
	}
	return 0, false
}

func (v Value) AsDouble() (float64, bool) {
	switch v.kind {
	case KindDouble:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Field looks up a key in a map Value, returning Null and false if v is
// not a map or the key is absent.
func (v Value) Field(key string) (Value, bool) {
	m, ok := v.AsMap()
	if !ok {
		return Null, false
	}
	f, ok := m[key]
	return f, ok
}

// FromAny wraps a value produced by decoding JSON with UseNumber() into a
// Value tree, recursively.
func FromAny(a any) (Value, error) {
	switch t := a.(type) {
	case nil:
		return Null, nil
	case bool:
		return NewBool(t), nil
	case json.Number:
		return numberValue(t)
	case float64:
		return NewDouble(t), nil
	case string:
		return NewString(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Null, err
			}
			items[i] = v
		}
		return NewArray(items), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Null, err
			}
			m[k] = v
		}
		return NewMap(m), nil
	default:
		return Null, fmt.Errorf("wire: unsupported value type %T", a)
	}
}

func numberValue(n json.Number) (Value, error) {
	if i, err := n.Int64(); err == nil {
		return NewInt(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return Null, fmt.Errorf("wire: invalid number %q: %w", n, err)
	}
	return NewDouble(f), nil
}

// ToAny converts a Value back into plain Go values suitable for
// json.Marshal (float64/json.Number/int64/string/bool/nil/[]any/
// map[string]any).
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindDouble:
		// An integral double below 1e21 would marshal without a decimal
		// point and decode back as KindInt, so it keeps a trailing ".0".
		if v.f == math.Trunc(v.f) && math.Abs(v.f) < 1e21 {
			return json.Number(strconv.FormatFloat(v.f, 'f', 1, 64))
		}
		return v.f
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.ToAny()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON implements json.Unmarshaler, preserving the int/float
// distinction via json.Number.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var a any
	if err := dec.Decode(&a); err != nil {
		return err
	}
	val, err := FromAny(a)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// ParseValue decodes a single JSON value (number-preserving) into a Value.
func ParseValue(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Null, err
	}
	return v, nil
}

// String renders a Value as canonical JSON text, sorting map keys, for
// use in tests and debug logging.
func (v Value) String() string {
	switch v.kind {
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			kb, _ := json.Marshal(k)
			parts[i] = string(kb) + ":" + v.m[k].String()
		}
		return "{" + joinComma(parts) + "}"
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, item := range v.arr {
			parts[i] = item.String()
		}
		return "[" + joinComma(parts) + "]"
	default:
		b, _ := json.Marshal(v.ToAny())
		return string(b)
	}
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
