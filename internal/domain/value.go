package domain

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// ValueKind discriminates the dynamic type carried by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
	KindList
	KindMap
)

// String returns the kind name used in parameter declarations.
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindFloat:
		return "number"
	case KindBool:
		return "boolean"
	case KindTime:
		return "datetime"
	case KindList:
		return "array"
	case KindMap:
		return "object"
	default:
		return "null"
	}
}

// Value is a tagged union for workflow data: node configuration entries,
// parameter bindings, node outputs, and execution state variables. The
// zero Value is null.
type Value struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Float float64
	Bool  bool
	Time  time.Time
	List  []Value
	Map   map[string]Value
}

func NullValue() Value                  { return Value{} }
func StringValue(s string) Value        { return Value{Kind: KindString, Str: s} }
func IntValue(i int64) Value            { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value        { return Value{Kind: KindFloat, Float: f} }
func BoolValue(b bool) Value            { return Value{Kind: KindBool, Bool: b} }
func TimeValue(t time.Time) Value       { return Value{Kind: KindTime, Time: t} }
func ListValue(items []Value) Value     { return Value{Kind: KindList, List: items} }
func MapValue(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// IsNull reports whether the value carries nothing.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// FromAny converts loosely typed data (as produced by JSON decoding or
// caller code) into a Value. Unsupported types are stringified.
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return NullValue()
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case int:
		return IntValue(int64(t))
	case int32:
		return IntValue(int64(t))
	case int64:
		return IntValue(t)
	case float32:
		return FloatValue(float64(t))
	case float64:
		if t == float64(int64(t)) {
			return IntValue(int64(t))
		}
		return FloatValue(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i)
		}
		if f, err := t.Float64(); err == nil {
			return FloatValue(f)
		}
		return StringValue(t.String())
	case time.Time:
		return TimeValue(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return ListValue(items)
	case []Value:
		return ListValue(t)
	case map[string]any:
		return MapValue(FromAnyMap(t))
	case map[string]Value:
		return MapValue(t)
	default:
		return StringValue(fmt.Sprintf("%v", t))
	}
}

// FromAnyMap converts a loosely typed map into a Value map.
func FromAnyMap(m map[string]any) map[string]Value {
	if m == nil {
		return nil
	}
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = FromAny(v)
	}
	return out
}

// Any returns the natural Go representation.
func (v Value) Any() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBool:
		return v.Bool
	case KindTime:
		return v.Time
	case KindList:
		items := make([]any, len(v.List))
		for i, item := range v.List {
			items[i] = item.Any()
		}
		return items
	case KindMap:
		return AnyMap(v.Map)
	default:
		return nil
	}
}

// AnyMap converts a Value map into its natural Go representation.
func AnyMap(m map[string]Value) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Any()
	}
	return out
}

// AsString renders the value for interpolation into strings.
func (v Value) AsString() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindTime:
		return v.Time.Format(time.RFC3339)
	case KindNull:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// AsInt coerces to int64, truncating floats and parsing numeric strings.
// Non-numeric values yield zero.
func (v Value) AsInt() int64 {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindFloat:
		return int64(v.Float)
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	case KindString:
		if i, err := strconv.ParseInt(v.Str, 10, 64); err == nil {
			return i
		}
	}
	return 0
}

// AsFloat coerces to float64 when the value is numeric or a numeric
// string. The second return reports whether the coercion held.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	case KindString:
		if f, err := strconv.ParseFloat(v.Str, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// AsBool applies truthiness: false for null, false, zero, the empty
// string, and empty collections.
func (v Value) AsBool() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindString:
		return v.Str != ""
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Float != 0
	case KindTime:
		return !v.Time.IsZero()
	case KindList:
		return len(v.List) > 0
	case KindMap:
		return len(v.Map) > 0
	default:
		return false
	}
}

// AsTime returns the carried time, parsing RFC 3339 strings. Anything
// else yields the zero time.
func (v Value) AsTime() time.Time {
	switch v.Kind {
	case KindTime:
		return v.Time
	case KindString:
		if t, err := time.Parse(time.RFC3339, v.Str); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Equal compares two values. Integers and floats are normalized before
// comparison, so IntValue(3) equals FloatValue(3.0). Lists compare
// elementwise, maps keywise.
func (v Value) Equal(other Value) bool {
	if lf, lok := v.AsFloat(); lok && v.Kind != KindString {
		if rf, rok := other.AsFloat(); rok && other.Kind != KindString {
			return lf == rf
		}
		return false
	}

	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.Str == other.Str
	case KindBool:
		return v.Bool == other.Bool
	case KindTime:
		return v.Time.Equal(other.Time)
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for k, item := range v.Map {
			o, ok := other.Map[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON writes the natural JSON form: strings as strings, numbers
// as numbers, times as RFC 3339 strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.Str)
	case KindInt:
		return []byte(strconv.FormatInt(v.Int, 10)), nil
	case KindFloat:
		return json.Marshal(v.Float)
	case KindBool:
		return []byte(strconv.FormatBool(v.Bool)), nil
	case KindTime:
		return json.Marshal(v.Time.Format(time.RFC3339Nano))
	case KindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case KindMap:
		if v.Map == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Map)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.Kind)
}

// UnmarshalJSON infers the kind from the JSON token. Integral numbers
// become integers, everything else with a fraction or exponent becomes a
// float. Times are not inferred: they stay strings and AsTime parses
// them on demand.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = NullValue()
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case '[':
		var items []Value
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*v = ListValue(items)
	case '{':
		var m map[string]Value
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*v = MapValue(m)
	default:
		if i, err := strconv.ParseInt(string(data), 10, 64); err == nil {
			*v = IntValue(i)
			return nil
		}
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("invalid value literal %q: %w", data, err)
		}
		*v = FloatValue(f)
	}
	return nil
}
