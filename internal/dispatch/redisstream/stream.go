// Package redisstream implements dispatch over a Redis stream with a
// consumer group: XADD to publish, XREADGROUP/XACK to consume. Entries not
// acknowledged before a crash are re-delivered, giving at-least-once
// semantics.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/rueidis"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docdex/docdex/internal/dispatch"
)

const (
	readCount   = 16
	readBlockMS = 5000
)

// Stream publishes and consumes job descriptors on one Redis stream.
type Stream struct {
	client   rueidis.Client
	stream   string
	group    string
	consumer string
	handler  dispatch.Handler
	logger   *zap.Logger
}

var _ dispatch.Dispatcher = (*Stream)(nil)

// New creates a stream dispatcher. handler may be nil on publish-only
// instances.
func New(client rueidis.Client, stream, group, consumer string, handler dispatch.Handler, logger *zap.Logger) *Stream {
	return &Stream{
		client: client, stream: stream, group: group, consumer: consumer,
		handler: handler, logger: logger,
	}
}

// Dispatch publishes a descriptor to the stream.
func (s *Stream) Dispatch(ctx context.Context, d dispatch.Descriptor) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	cmd := s.client.B().Xadd().Key(s.stream).Id("*").FieldValue().FieldValue("body", string(body)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("XADD %s: %w", s.stream, err)
	}
	return nil
}

// Run consumes the stream with the given number of workers until ctx is
// cancelled. The consumer group is created on first use.
func (s *Stream) Run(ctx context.Context, workers int) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		consumer := fmt.Sprintf("%s-%d", s.consumer, i)
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}
				if err := s.readBatch(ctx, consumer); err != nil && ctx.Err() == nil {
					s.logger.Error("stream read failed", zap.String("stream", s.stream), zap.Error(err))
				}
			}
		})
	}
	return g.Wait()
}

func (s *Stream) ensureGroup(ctx context.Context) error {
	cmd := s.client.B().XgroupCreate().Key(s.stream).Group(s.group).Id("$").Mkstream().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if re, ok := rueidis.IsRedisErr(err); !ok || !strings.Contains(re.Error(), "BUSYGROUP") {
			return fmt.Errorf("XGROUP CREATE %s: %w", s.group, err)
		}
	}
	return nil
}

func (s *Stream) readBatch(ctx context.Context, consumer string) error {
	cmd := s.client.B().Xreadgroup().Group(s.group, consumer).
		Count(readCount).Block(readBlockMS).Streams().Key(s.stream).Id(">").Build()
	res, err := s.client.Do(ctx, cmd).AsXRead()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil // block timeout, nothing pending
		}
		return fmt.Errorf("XREADGROUP: %w", err)
	}

	for _, entry := range res[s.stream] {
		s.handle(ctx, entry)
		ack := s.client.B().Xack().Key(s.stream).Group(s.group).Id(entry.ID).Build()
		if err := s.client.Do(ctx, ack).Error(); err != nil {
			s.logger.Warn("XACK failed", zap.String("entry", entry.ID), zap.Error(err))
		}
	}
	return nil
}

// handle decodes and executes one entry. Failures are logged, never
// re-raised: job status rows are the visibility contract for background
// errors, and a poisoned entry must not wedge the stream.
func (s *Stream) handle(ctx context.Context, entry rueidis.XRangeEntry) {
	body, ok := entry.FieldValues["body"]
	if !ok {
		s.logger.Warn("stream entry without body", zap.String("entry", entry.ID))
		return
	}
	var d dispatch.Descriptor
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		s.logger.Warn("undecodable stream entry", zap.String("entry", entry.ID), zap.Error(err))
		return
	}
	if err := s.handler(ctx, d); err != nil {
		s.logger.Error("job failed",
			zap.Int64("job_id", d.JobID),
			zap.String("type", string(d.Type)),
			zap.Error(err),
		)
	}
}
