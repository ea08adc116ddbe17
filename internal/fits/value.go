package fits

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindInteger
	KindFloat
	KindBool
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "undefined"
	}
}

// Value is a typed header value. Only the field matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Bool  bool
	Str   string
}

func Int(v int64) Value { return Value{Kind: KindInteger, Int: v} }

func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }

func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

func String(v string) Value { return Value{Kind: KindString, Str: v} }

func Undefined() Value { return Value{} }

func (v Value) IsUndefined() bool { return v.Kind == KindUndefined }

// AsInt returns the integer payload when the value is an Integer.
func (v Value) AsInt() (int64, bool) {
	if v.Kind != KindInteger {
		return 0, false
	}
	return v.Int, true
}

// AsFloat widens Integer and Float values to float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInteger:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	}
	return 0, false
}

// AsString returns the payload of a String value.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// Interface returns the payload as a plain Go value (nil for Undefined).
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindInteger:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBool:
		return v.Bool
	case KindString:
		return v.Str
	}
	return nil
}

// Equal reports whether two values carry the same tag and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInteger:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float || (math.IsNaN(v.Float) && math.IsNaN(o.Float))
	case KindBool:
		return v.Bool == o.Bool
	case KindString:
		return v.Str == o.Str
	}
	return true
}

// String renders the value the way it reads in a card, without padding.
func (v Value) String() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return formatFloat(v.Float)
	case KindBool:
		if v.Bool {
			return "T"
		}
		return "F"
	case KindString:
		return "'" + strings.ReplaceAll(v.Str, "'", "''") + "'"
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindFloat && (math.IsNaN(v.Float) || math.IsInf(v.Float, 0)) {
		return json.Marshal(formatFloat(v.Float))
	}
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	val, err := valueOf(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// ParseValue types a value typed on a command line or in a query: a quoted
// string stays a string, then logical, integer and float are tried in turn,
// and anything else is a bare string.
func ParseValue(s string) Value {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return String(strings.ReplaceAll(s[1:len(s)-1], "''", "'"))
	}
	switch s {
	case "":
		return Undefined()
	case "T":
		return Bool(true)
	case "F":
		return Bool(false)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return Float(f)
	}
	return String(s)
}

// formatFloat keeps a '.' or exponent in the output so the token re-parses
// as a Float rather than an Integer.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'G', -1, 64)
	if strings.ContainsAny(s, ".EN") || strings.Contains(s, "Inf") {
		return s
	}
	return s + ".0"
}

// Header maps keywords to values. A duplicate keyword keeps the last value.
type Header map[string]Value

// Keys returns the header keywords in lexical order.
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of h.
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// HeaderFromMap converts a loosely typed map, as produced by JSON or YAML
// decoders, into a Header. Entries whose value has no FITS representation
// are reported and left out.
func HeaderFromMap(m map[string]interface{}) (Header, []KeyError) {
	h := make(Header, len(m))
	var bad []KeyError
	for k, raw := range m {
		key := strings.ToUpper(strings.TrimSpace(k))
		v, err := valueOf(raw)
		if err != nil {
			bad = append(bad, KeyError{Keyword: key, Err: err})
			continue
		}
		h[key] = v
	}
	sort.Slice(bad, func(i, j int) bool { return bad[i].Keyword < bad[j].Keyword })
	return h, bad
}

func valueOf(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Undefined(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return Value{}, fmt.Errorf("header value %d exceeds int64 range", x)
		}
		return Int(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, fmt.Errorf("header value %d exceeds int64 range", x)
		}
		return Int(int64(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("header value %q: %w", x.String(), err)
		}
		return Float(f), nil
	}
	return Value{}, fmt.Errorf("header value of type %T has no FITS representation", raw)
}
