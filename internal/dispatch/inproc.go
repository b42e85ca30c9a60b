package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Inproc executes descriptors on worker goroutines inside the process.
// Internally it runs an explicit task and result channel pair; externally
// Dispatch keeps the fire-and-forget contract.
type Inproc struct {
	handler Handler
	logger  *zap.Logger
	tasks   chan Descriptor
	results chan taskResult
}

type taskResult struct {
	desc Descriptor
	err  error
}

var _ Dispatcher = (*Inproc)(nil)

// NewInproc creates an in-process dispatcher. buffer bounds the number of
// queued descriptors before Dispatch blocks.
func NewInproc(handler Handler, logger *zap.Logger, buffer int) *Inproc {
	if buffer <= 0 {
		buffer = 64
	}
	return &Inproc{
		handler: handler,
		logger:  logger,
		tasks:   make(chan Descriptor, buffer),
		results: make(chan taskResult, buffer),
	}
}

// Dispatch queues a descriptor for execution.
func (d *Inproc) Dispatch(ctx context.Context, desc Descriptor) error {
	select {
	case d.tasks <- desc:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch job %d: %w", desc.JobID, ctx.Err())
	}
}

// Run consumes tasks with the given number of workers until ctx is
// cancelled. Results are drained into the log so background failures are
// never silent.
func (d *Inproc) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for n := 0; n < workers; n++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case desc := <-d.tasks:
					err := d.handler(ctx, desc)
					select {
					case d.results <- taskResult{desc: desc, err: err}:
					case <-ctx.Done():
						return nil
					}
				}
			}
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case res := <-d.results:
				if res.err != nil {
					d.logger.Error("job failed",
						zap.Int64("job_id", res.desc.JobID),
						zap.String("type", string(res.desc.Type)),
						zap.Error(res.err),
					)
				} else {
					d.logger.Info("job finished",
						zap.Int64("job_id", res.desc.JobID),
						zap.String("type", string(res.desc.Type)),
					)
				}
			}
		}
	})
	return g.Wait()
}
