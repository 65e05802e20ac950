package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// SimpleValue is the scalar value of a topic or association: a string, an
// int64, a float64 or a bool. The zero SimpleValue holds no value.
type SimpleValue struct {
	v any
}

// ValueOf normalizes v into a SimpleValue. Integer and float widths collapse to
// int64 and float64.
func ValueOf(v any) (SimpleValue, error) {
	switch x := v.(type) {
	case nil:
		return SimpleValue{}, nil
	case SimpleValue:
		return x, nil
	case string:
		return SimpleValue{v: x}, nil
	case bool:
		return SimpleValue{v: x}, nil
	case int:
		return SimpleValue{v: int64(x)}, nil
	case int32:
		return SimpleValue{v: int64(x)}, nil
	case int64:
		return SimpleValue{v: x}, nil
	case uint32:
		return SimpleValue{v: int64(x)}, nil
	case float32:
		return SimpleValue{v: float64(x)}, nil
	case float64:
		return SimpleValue{v: x}, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return SimpleValue{v: i}, nil
		}
		f, err := x.Float64()
		if err != nil {
			return SimpleValue{}, fmt.Errorf("parsing number %q: %w", x, err)
		}
		return SimpleValue{v: f}, nil
	default:
		return SimpleValue{}, fmt.Errorf("unsupported simple value type %T", v)
	}
}

// MustValue is ValueOf for literals known to be valid.
func MustValue(v any) SimpleValue {
	sv, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return sv
}

// String returns a text value.
func String(s string) SimpleValue { return SimpleValue{v: s} }

// Int returns a number value.
func Int(i int64) SimpleValue { return SimpleValue{v: i} }

// Float returns a number value.
func Float(f float64) SimpleValue { return SimpleValue{v: f} }

// Bool returns a boolean value.
func Bool(b bool) SimpleValue { return SimpleValue{v: b} }

// Raw returns the underlying Go value (nil, string, int64, float64 or bool).
func (v SimpleValue) Raw() any { return v.v }

// IsZero reports whether no value is set.
func (v SimpleValue) IsZero() bool { return v.v == nil }

// IsEmpty reports whether the value is unset or the empty string.
func (v SimpleValue) IsEmpty() bool {
	if v.v == nil {
		return true
	}
	s, ok := v.v.(string)
	return ok && s == ""
}

// Text renders the value as text, the form used for labels and fulltext indexing.
func (v SimpleValue) Text() string {
	switch x := v.v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v.v)
}

// String implements fmt.Stringer.
func (v SimpleValue) String() string { return v.Text() }

// Bool returns the value as bool; non-bool values report false.
func (v SimpleValue) Bool() bool {
	b, _ := v.v.(bool)
	return b
}

// Equal compares two values by type and content.
func (v SimpleValue) Equal(o SimpleValue) bool {
	return v.v == o.v
}

// MarshalJSON encodes the raw value.
func (v SimpleValue) MarshalJSON() ([]byte, error) {
	if f, ok := v.v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil, fmt.Errorf("simple value %v is not representable in JSON", f)
	}
	return json.Marshal(v.v)
}

// UnmarshalJSON decodes a scalar; integral numbers become int64.
func (v *SimpleValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	sv, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = sv
	return nil
}
