package mapping

import (
	"sort"
	"strings"
)

// DeriveID computes the stable document identifier for a coerced document:
// the textual values of all active identifier-part properties, sorted
// lexicographically by property name, joined with "-". Sorting by name (not
// declaration order) keeps the id independent of schema declaration order.
//
// The function is pure: the same document under the same mapping always
// yields the same id, which is what makes search-engine upserts idempotent.
func (m Mapping) DeriveID(doc Doc) string {
	names := make([]string, 0, 4)
	for _, p := range m.Active() {
		if p.IDPart() {
			names = append(names, p.Name())
		}
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		if v, ok := doc.Get(name); ok {
			parts[i] = v.Text()
		}
	}
	return strings.Join(parts, "-")
}
