package mapping

import (
	"encoding/json"
	"strconv"
)

// Value is the closed variant produced by coercion. Downstream code never
// re-inspects raw JSON: a Value is exactly one of Text, Number, Bool or Date.
type Value struct {
	kind    Type
	text    string
	number  int64
	boolean bool
}

// TextValue creates a text Value.
func TextValue(s string) Value { return Value{kind: TypeText, text: s} }

// NumberValue creates a number Value.
func NumberValue(n int64) Value { return Value{kind: TypeNumber, number: n} }

// BoolValue creates a bool Value.
func BoolValue(b bool) Value { return Value{kind: TypeBool, boolean: b} }

// DateValue creates a date Value. Dates are opaque text.
func DateValue(s string) Value { return Value{kind: TypeDate, text: s} }

// Kind returns the value's type tag.
func (v Value) Kind() Type { return v.kind }

// Text returns the textual representation of the value. This is the
// representation used for derived identifiers.
func (v Value) Text() string {
	switch v.kind {
	case TypeNumber:
		return strconv.FormatInt(v.number, 10)
	case TypeBool:
		return strconv.FormatBool(v.boolean)
	default:
		return v.text
	}
}

// Int returns the numeric payload. Zero unless Kind is Number.
func (v Value) Int() int64 { return v.number }

// Bool returns the boolean payload. False unless Kind is Bool.
func (v Value) Bool() bool { return v.boolean }

// MarshalJSON renders the native JSON form: numbers unquoted, bools as
// literals, text and dates as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case TypeNumber:
		return []byte(strconv.FormatInt(v.number, 10)), nil
	case TypeBool:
		return []byte(strconv.FormatBool(v.boolean)), nil
	default:
		return json.Marshal(v.text)
	}
}
