package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/docdex/docdex/internal/domain"
)

// DocField is one coerced field with its declared name.
type DocField struct {
	Name  string
	Value Value
}

// Doc is a schema-coerced document: the projection of a raw document onto the
// mapping's active properties, in declaration order. Fields not declared in
// the mapping are dropped.
type Doc struct {
	fields []DocField
}

// Fields returns the coerced fields in mapping declaration order.
func (d Doc) Fields() []DocField { return d.fields }

// Get looks up a coerced field by property name.
func (d Doc) Get(name string) (Value, bool) {
	for _, f := range d.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// MarshalJSON renders the document as an object preserving field order.
func (d Doc) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Coerce validates and converts a raw JSON document against the mapping.
// It fails when the mapping has no active properties, when a required or
// identifier-part field is absent (JSON null counts as absent), or when a
// present value cannot be converted to the declared type.
func (m Mapping) Coerce(raw []byte) (Doc, error) {
	active := m.Active()
	if len(active) == 0 {
		return Doc{}, fmt.Errorf("%w: no mapping defined, create a mapping first", domain.ErrSchema)
	}

	var source map[string]json.RawMessage
	if err := json.Unmarshal(raw, &source); err != nil {
		return Doc{}, fmt.Errorf("%w: document is not a JSON object: %v", domain.ErrSchema, err)
	}

	fields := make([]DocField, 0, len(active))
	for _, p := range active {
		rawVal, present := source[p.Name()]
		if present && isJSONNull(rawVal) {
			present = false
		}
		if !present {
			if p.Required() || p.IDPart() {
				return Doc{}, fmt.Errorf("%w: field %q is required", domain.ErrSchema, p.Name())
			}
			continue
		}
		val, err := coerceValue(p, rawVal)
		if err != nil {
			return Doc{}, err
		}
		fields = append(fields, DocField{Name: p.Name(), Value: val})
	}
	return Doc{fields: fields}, nil
}

func coerceValue(p Property, raw json.RawMessage) (Value, error) {
	switch p.PropType() {
	case TypeText:
		return TextValue(asText(raw)), nil
	case TypeDate:
		return DateValue(asText(raw)), nil
	case TypeNumber:
		n, err := strconv.ParseInt(asText(raw), 10, 64)
		if err != nil {
			return Value{}, domain.NewTypeMismatch(p.Name(), "number")
		}
		return NumberValue(n), nil
	case TypeBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return BoolValue(b), nil
		}
		switch strings.ToLower(asText(raw)) {
		case "true":
			return BoolValue(true), nil
		case "false":
			return BoolValue(false), nil
		}
		return Value{}, domain.NewTypeMismatch(p.Name(), "bool")
	}
	return Value{}, domain.NewTypeMismatch(p.Name(), string(p.PropType()))
}

// asText yields the textual representation of a JSON scalar: the string
// itself for strings, the literal text otherwise. Numbers keep their exact
// digits; a float64 round trip would mangle integers near and beyond 2^53.
func asText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(bytes.TrimSpace(raw))
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
