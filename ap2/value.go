package ap2

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Kind enumerates the variants a [Value] can hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a JSON-like document restricted to a closed set of variants so
// that canonicalization is total over every value that can be constructed.
// The zero Value is null.
type Value struct {
	kind   Kind
	b      bool
	n      float64
	s      string
	list   []Value
	fields map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64. Non-finite numbers are accepted here and rejected by
// [Canonicalize].
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List builds an ordered list.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Object builds a mapping from the provided fields.
func Object(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindObject, fields: cp}
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// Bool returns the boolean payload and whether v is a bool.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Number returns the numeric payload and whether v is a number.
func (v Value) Number() (float64, bool) { return v.n, v.kind == KindNumber }

// Str returns the string payload and whether v is a string.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Items returns the list elements. Callers must not modify the result.
func (v Value) Items() []Value { return v.list }

// Field looks up a key on an object value.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.fields[key]
	return f, ok
}

// Len returns the number of list elements or object fields.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindObject:
		return len(v.fields)
	default:
		return 0
	}
}

// MarshalJSON renders the canonical form.
func (v Value) MarshalJSON() ([]byte, error) {
	s, err := Canonicalize(v)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// UnmarshalJSON parses any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseJSON decodes a single JSON document into a [Value].
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("ap2: decode value: %w", err)
	}
	if dec.More() {
		return Value{}, errors.New("ap2: unexpected data after JSON value")
	}
	return fromAny(raw)
}

// ValueOf converts a Go value into a [Value] by way of its JSON encoding, so
// struct tags decide the resulting field names.
func ValueOf(x any) (Value, error) {
	if v, ok := x.(Value); ok {
		return v, nil
	}
	raw, err := json.Marshal(x)
	if err != nil {
		return Value{}, fmt.Errorf("ap2: encode value: %w", err)
	}
	return ParseJSON(raw)
}

func fromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return Value{}, fmt.Errorf("ap2: number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case float64:
		return Number(t), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Value{kind: KindObject, fields: fields}, nil
	default:
		return Value{}, fmt.Errorf("ap2: unsupported JSON type %T", raw)
	}
}
