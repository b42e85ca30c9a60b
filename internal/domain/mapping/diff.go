package mapping

// Plan is the outcome of comparing a current schema to a proposed one. The
// caller applies Insert/Update/Retire transactionally; when NeedRecreate is
// set it instead replaces the property rows outright and schedules a full
// rebuild of the physical index.
type Plan struct {
	Insert       []Property
	Update       []Property
	Retire       []Property
	NeedRecreate bool
}

// PlanUpdate classifies a schema change as in-place-updatable or
// recreate-required. A rebuild is forced whenever the set of fields that
// contribute to document identity, or whose absence breaks constraints,
// changes:
//
//   - a new active property appears (historical documents cannot
//     retroactively gain the field),
//   - an existing property changes type or identifier-part flag (previously
//     stored values or derived ids become invalid),
//   - a required or identifier-part property disappears from the proposal.
//
// Everything else is a safe in-place patch. Properties dropped from the
// proposal, and proposals explicitly marked retired, are soft-deleted: kept
// for record but no longer honored.
func PlanUpdate(old, incoming []Property) Plan {
	remaining := make(map[string]Property, len(old))
	for _, p := range old {
		remaining[p.Name()] = p
	}

	var plan Plan
	for _, next := range incoming {
		prev, exists := remaining[next.Name()]
		if !next.IsActive() {
			if exists && prev.IsActive() {
				delete(remaining, next.Name())
				plan.Retire = append(plan.Retire, next.Retired())
				if prev.IDPart() || prev.Required() {
					plan.NeedRecreate = true
				}
			}
			continue
		}
		if !exists {
			plan.Insert = append(plan.Insert, next)
			plan.NeedRecreate = true
			continue
		}
		delete(remaining, next.Name())
		if prev.IDPart() != next.IDPart() || prev.PropType() != next.PropType() {
			plan.NeedRecreate = true
		}
		plan.Update = append(plan.Update, next)
	}

	// Old properties never referenced by the proposal count as removed.
	for _, prev := range remaining {
		if !prev.IsActive() {
			continue
		}
		plan.Retire = append(plan.Retire, prev.Retired())
		if prev.IDPart() || prev.Required() {
			plan.NeedRecreate = true
		}
	}
	return plan
}
