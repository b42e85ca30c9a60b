package mapping

import (
	"encoding/json"
	"fmt"
)

// Type is the declared value type of a property.
type Type string

// Property type constants.
const (
	// TypeText stores the textual representation of the value as-is.
	TypeText Type = "text"
	// TypeNumber stores the value as a 64-bit integer.
	TypeNumber Type = "number"
	// TypeBool stores the value as a boolean.
	TypeBool Type = "bool"
	// TypeDate stores the value as opaque text. No format validation is
	// applied.
	TypeDate Type = "date"
)

// IsValid checks if the property type is supported.
func (t Type) IsValid() bool {
	switch t {
	case TypeText, TypeNumber, TypeBool, TypeDate:
		return true
	}
	return false
}

// State marks whether a property is honored by the engine or kept only for
// record after a schema update removed it.
type State string

const (
	// StateActive marks a property the engine validates, coerces and indexes.
	StateActive State = "active"
	// StateRetired marks a soft-deleted property. Retired properties are
	// dropped from coerced output and never contribute to derived ids.
	StateRetired State = "retired"
)

// Property is an immutable value object describing one schema field.
type Property struct {
	name     string
	ptype    Type
	required bool
	idPart   bool
	alias    string
	restrict json.RawMessage
	state    State
}

// NewProperty validates and creates an active Property.
func NewProperty(name string, t Type) (Property, error) {
	if name == "" {
		return Property{}, fmt.Errorf("property name is required")
	}
	if len(name) > 64 {
		return Property{}, fmt.Errorf("property name %q too long (max 64)", name)
	}
	if !t.IsValid() {
		return Property{}, fmt.Errorf("invalid property type %q for %q", t, name)
	}
	return Property{name: name, ptype: t, state: StateActive}, nil
}

// ReconstructProperty creates a Property without validation (storage hydration).
func ReconstructProperty(
	name string, t Type, required, idPart bool,
	alias string, restrict json.RawMessage, state State,
) Property {
	if state == "" {
		state = StateActive
	}
	return Property{
		name: name, ptype: t, required: required, idPart: idPart,
		alias: alias, restrict: restrict, state: state,
	}
}

// Name returns the property name.
func (p Property) Name() string { return p.name }

// PropType returns the declared value type.
func (p Property) PropType() Type { return p.ptype }

// Required reports whether the field must be present in every document.
func (p Property) Required() bool { return p.required }

// IDPart reports whether the field contributes to the derived document id.
func (p Property) IDPart() bool { return p.idPart }

// Alias returns the display alias.
func (p Property) Alias() string { return p.alias }

// Restrict returns the opaque value-restriction descriptor. It is passed
// through unevaluated; validation happens outside the engine.
func (p Property) Restrict() json.RawMessage { return p.restrict }

// PropState returns Active or Retired.
func (p Property) PropState() State { return p.state }

// IsActive reports whether the property is honored by the engine.
func (p Property) IsActive() bool { return p.state == StateActive }

// WithRequired returns a copy with the required flag set.
func (p Property) WithRequired(required bool) Property {
	p.required = required
	return p
}

// WithIDPart returns a copy with the identifier-part flag set.
func (p Property) WithIDPart(idPart bool) Property {
	p.idPart = idPart
	return p
}

// WithAlias returns a copy with the alias set.
func (p Property) WithAlias(alias string) Property {
	p.alias = alias
	return p
}

// WithRestrict returns a copy with the restriction descriptor set.
func (p Property) WithRestrict(restrict json.RawMessage) Property {
	p.restrict = restrict
	return p
}

// Retired returns a copy in the Retired state.
func (p Property) Retired() Property {
	p.state = StateRetired
	return p
}
