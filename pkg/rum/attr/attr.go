// Package attr defines the attribute values accepted by the Tidemark
// tracking API.
//
// The delivery pipeline is string-attribute-only by contract, so every
// value a caller attaches to an event is converted to text exactly once,
// at the composition boundary. Rather than probing arbitrary objects with
// reflection, the package exposes a closed set of tagged variants with
// fixed conversion rules, plus Any for callers that hold an untyped value.
package attr

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// timeLayout is the fixed wire form for timestamp attributes: UTC
// ISO-8601 with millisecond precision.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Kind discriminates the closed set of value variants.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
	KindDuration
	KindStrings
)

// Value is one attribute value. The zero Value renders as the empty string.
type Value struct {
	kind Kind
	str  string
	i    int64
	f    float64
	b    bool
	t    time.Time
	d    time.Duration
	list []string
}

// Map is the attribute set callers pass to the tracking API.
type Map map[string]Value

// String returns a string-valued attribute.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int returns an integer-valued attribute.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a float-valued attribute.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a boolean-valued attribute.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time returns a timestamp attribute, rendered as UTC ISO-8601 with
// millisecond precision.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// Duration returns a duration attribute, rendered as whole milliseconds.
func Duration(d time.Duration) Value { return Value{kind: KindDuration, d: d} }

// Strings returns a list attribute, rendered comma-joined in order.
func Strings(ss ...string) Value { return Value{kind: KindStrings, list: ss} }

// Kind reports the variant of the value.
func (v Value) Kind() Kind { return v.kind }

// Text renders the value in its canonical string form.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.UTC().Format(timeLayout)
	case KindDuration:
		return strconv.FormatInt(v.d.Milliseconds(), 10)
	case KindStrings:
		return strings.Join(v.list, ",")
	default:
		return ""
	}
}

// Text converts the whole map to its string form. Nil maps yield nil.
func (m Map) Text() map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.Text()
	}
	return out
}

// Any converts an arbitrary value into a Value using fixed rules, so the
// pipeline never receives an unconvertible attribute:
//
//   - nil renders as "null"
//   - strings, booleans, integers, unsigned integers and floats use their
//     canonical text form
//   - time.Time renders as UTC ISO-8601, time.Duration as milliseconds
//   - []string renders comma-joined
//   - types implementing encoding.TextMarshaler, json.Marshaler,
//     fmt.Stringer or error use that hook, in that order
//   - remaining maps, slices and structs render as compact JSON
//   - anything else degrades to a descriptive fallback, never a panic
func Any(v any) Value {
	if v == nil {
		return String("null")
	}

	switch x := v.(type) {
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint:
		return String(strconv.FormatUint(uint64(x), 10))
	case uint8:
		return Int(int64(x))
	case uint16:
		return Int(int64(x))
	case uint32:
		return Int(int64(x))
	case uint64:
		return String(strconv.FormatUint(x, 10))
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case time.Time:
		return Time(x)
	case time.Duration:
		return Duration(x)
	case []string:
		return Strings(x...)
	}

	// Serialization hooks, most specific first.
	switch x := v.(type) {
	case encoding.TextMarshaler:
		if b, err := x.MarshalText(); err == nil {
			return String(string(b))
		}
	case json.Marshaler:
		if b, err := x.MarshalJSON(); err == nil {
			return String(string(b))
		}
	case fmt.Stringer:
		return String(x.String())
	case error:
		return String(x.Error())
	}

	// Structured values serialize to compact JSON.
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Ptr:
		if b, err := json.Marshal(v); err == nil {
			return String(string(b))
		}
	}

	return String(fmt.Sprintf("<unserializable %T>", v))
}
