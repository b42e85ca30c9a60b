package index

import (
	"fmt"
	"regexp"

	"github.com/docdex/docdex/internal/domain"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Status is the lifecycle state of a logical index.
type Status string

const (
	// StatusInactivated means the schema is defined but no physical index
	// backs it yet.
	StatusInactivated Status = "inactivated"
	// StatusActivated means the index is ready and accepts reads and writes.
	StatusActivated Status = "activated"
	// StatusMigrating means a population job is in flight. Schema mutations
	// and document writes are rejected; reads remain allowed (stale
	// tolerated).
	StatusMigrating Status = "migrating"
)

// Index is the logical search index aggregate (immutable value object). The
// physical name is the name actually used in the search engine; it changes
// on every recreate and is empty exactly while the index is Inactivated.
type Index struct {
	id           int64
	name         string
	description  string
	physicalName string
	status       Status
	collectionID int64
	autoAppend   bool
	generation   int64
}

// New validates and creates an Index in the Inactivated state.
func New(name, description string, collectionID int64, autoAppend bool) (Index, error) {
	if name == "" {
		return Index{}, fmt.Errorf("index name is required")
	}
	if len(name) > 64 {
		return Index{}, fmt.Errorf("index name too long (max 64)")
	}
	if !nameRegex.MatchString(name) {
		return Index{}, fmt.Errorf("index name must be alphanumeric with underscores and hyphens")
	}
	if collectionID <= 0 {
		return Index{}, fmt.Errorf("collection reference is required")
	}
	return Index{
		name:         name,
		description:  description,
		status:       StatusInactivated,
		collectionID: collectionID,
		autoAppend:   autoAppend,
	}, nil
}

// Reconstruct creates an Index without validation (storage hydration).
func Reconstruct(
	id int64, name, description, physicalName string,
	status Status, collectionID int64, autoAppend bool, generation int64,
) Index {
	return Index{
		id: id, name: name, description: description, physicalName: physicalName,
		status: status, collectionID: collectionID, autoAppend: autoAppend,
		generation: generation,
	}
}

// ID returns the storage identifier.
func (i Index) ID() int64 { return i.id }

// Name returns the user-facing logical name, stable across rebuilds.
func (i Index) Name() string { return i.name }

// Description returns the description.
func (i Index) Description() string { return i.description }

// PhysicalName returns the search-engine index name currently backing the
// logical index. Empty while Inactivated.
func (i Index) PhysicalName() string { return i.physicalName }

// Status returns the lifecycle state.
func (i Index) Status() Status { return i.status }

// CollectionID returns the owning collection.
func (i Index) CollectionID() int64 { return i.collectionID }

// AutoAppend reports whether collection uploads trigger an append run.
func (i Index) AutoAppend() bool { return i.autoAppend }

// Generation returns the physical-name generation counter.
func (i Index) Generation() int64 { return i.generation }

// WithID returns a copy with the storage id set (after insert).
func (i Index) WithID(id int64) Index {
	i.id = id
	return i
}

// WithDescription returns a copy with the description replaced.
func (i Index) WithDescription(description string) Index {
	i.description = description
	return i
}

// nextPhysical advances the generation counter and allocates the next
// physical name. The counter is persisted with the index, so names are
// unique per logical index without relying on wall-clock time.
func (i Index) nextPhysical() Index {
	i.generation++
	i.physicalName = fmt.Sprintf("%s@%d", i.name, i.generation)
	return i
}

// Activate freezes the mapping and begins the first population run:
// Inactivated -> Migrating, with a fresh physical name allocated.
func (i Index) Activate() (Index, error) {
	if i.status != StatusInactivated {
		return Index{}, domain.NewInvalidState("activate", string(i.status))
	}
	i = i.nextPhysical()
	i.status = StatusMigrating
	return i, nil
}

// Recreate begins a full rebuild under a new physical name. Returns the
// updated index and the previous physical name (empty if none existed).
func (i Index) Recreate() (Index, string, error) {
	if i.status == StatusMigrating {
		return Index{}, "", domain.NewInvalidState("recreate", string(i.status))
	}
	old := i.physicalName
	i = i.nextPhysical()
	i.status = StatusMigrating
	return i, old, nil
}

// BeginAppend begins an incremental population run. No new physical index is
// created: Activated -> Migrating.
func (i Index) BeginAppend() (Index, error) {
	if i.status != StatusActivated {
		return Index{}, domain.NewInvalidState("append", string(i.status))
	}
	i.status = StatusMigrating
	return i, nil
}

// CompleteSync restores the index to Activated after a population run. It is
// executed on every job exit path, success or failure, so an index never
// stays Migrating after a job attempt returns.
func (i Index) CompleteSync() Index {
	i.status = StatusActivated
	return i
}

// ForceActivate is the operator escape hatch for an index left Migrating by
// a job that never reached its cleanup (process crash).
func (i Index) ForceActivate() (Index, error) {
	if i.status != StatusMigrating {
		return Index{}, domain.NewInvalidState("force-activate", string(i.status))
	}
	i.status = StatusActivated
	return i, nil
}

// CheckDeletable rejects deletion while a population job is in flight.
func (i Index) CheckDeletable() error {
	if i.status == StatusMigrating {
		return domain.NewInvalidState("delete", string(i.status))
	}
	return nil
}

// CheckWritable rejects document writes unless the index is ready.
func (i Index) CheckWritable() error {
	if i.status != StatusActivated {
		return domain.NewInvalidState("write document", string(i.status))
	}
	return nil
}
