// Package dispatch is the asynchronous task transport: fire-and-forget
// publication of job descriptors, consumed out-of-band by exactly one
// consumer group per channel. Delivery is at-least-once; handlers must be
// safe under duplicate delivery.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/docdex/docdex/internal/domain/job"
)

// Descriptor is the published job reference.
type Descriptor struct {
	JobID   int64           `json:"job_id"`
	Type    job.Type        `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler executes a delivered descriptor. All job bookkeeping (status,
// logs) is the handler's responsibility; the returned error is for the
// transport's own diagnostics only.
type Handler func(ctx context.Context, d Descriptor) error

// Dispatcher publishes descriptors for asynchronous execution. Dispatch
// returns as soon as the descriptor is accepted by the transport; callers
// that need completion must poll job status.
type Dispatcher interface {
	Dispatch(ctx context.Context, d Descriptor) error
}
