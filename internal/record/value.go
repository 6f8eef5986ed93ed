package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Value is a payload value: Null, String, Int, Bool, Array or Object.
// There is no float type, so numbers survive a round trip exactly.
type Value interface {
	value()
}

type (
	Null   struct{}
	String string
	Int    int64
	Bool   bool
	Array  []Value
	Object map[string]Value
)

func (Null) value()   {}
func (String) value() {}
func (Int) value()    {}
func (Bool) value()   {}
func (Array) value()  {}
func (Object) value() {}

// Keys returns the object's keys in byte order.
func (obj Object) Keys() []string {
	return slices.Sorted(maps.Keys(obj))
}

// Field returns the rendered top-level field value and whether it exists.
func (obj Object) Field(name string) (string, bool) {
	v, ok := obj[name]
	if !ok {
		return "", false
	}
	return Render(v), true
}

// MarshalJSON encodes obj with Marshal so JSON output matches stored text.
func (obj Object) MarshalJSON() ([]byte, error) {
	return Marshal(obj)
}

// Render returns the text form used for field comparisons: scalars bare,
// composites as serialized JSON.
func Render(v Value) string {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Bool:
		return strconv.FormatBool(bool(val))
	case Null, nil:
		return ""
	}
	data, err := Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// Unmarshal decodes a single JSON value. Numbers must be integers that fit
// in int64.
func Unmarshal(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return fromDecoded(raw)
}

func fromDecoded(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not allowed in payloads: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := fromDecoded(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			conv, err := fromDecoded(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	}
	return nil, fmt.Errorf("unsupported payload type: %T", v)
}
