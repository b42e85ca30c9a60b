package mapping

import (
	"fmt"

	"github.com/docdex/docdex/internal/domain"
)

// Mapping is the ordered set of properties making up an index schema
// (immutable value object). Property order is the declaration order and
// determines the field order of coerced output.
type Mapping struct {
	props []Property
}

// New validates and creates a Mapping. Property names must be unique and at
// least one active property must be an identifier part, otherwise the index
// could never accept documents.
func New(props []Property) (Mapping, error) {
	seen := make(map[string]bool, len(props))
	hasIDPart := false
	for _, p := range props {
		if seen[p.Name()] {
			return Mapping{}, fmt.Errorf("%w: duplicate property name %q", domain.ErrSchema, p.Name())
		}
		seen[p.Name()] = true
		if p.IsActive() && p.IDPart() {
			hasIDPart = true
		}
	}
	if !hasIDPart {
		return Mapping{}, fmt.Errorf(
			"%w: no identifier-part property, set at least one property as doc id part", domain.ErrSchema)
	}
	return Mapping{props: props}, nil
}

// Reconstruct creates a Mapping without validation (storage hydration).
func Reconstruct(props []Property) Mapping {
	return Mapping{props: props}
}

// Properties returns all properties in declaration order, retired included.
func (m Mapping) Properties() []Property { return m.props }

// Active returns the active properties in declaration order.
func (m Mapping) Active() []Property {
	active := make([]Property, 0, len(m.props))
	for _, p := range m.props {
		if p.IsActive() {
			active = append(active, p)
		}
	}
	return active
}

// ByName looks up a property by name.
func (m Mapping) ByName(name string) (Property, bool) {
	for _, p := range m.props {
		if p.Name() == name {
			return p, true
		}
	}
	return Property{}, false
}

// IsEmpty reports whether the mapping has no active properties.
func (m Mapping) IsEmpty() bool {
	return len(m.Active()) == 0
}
