package repositories

import (
	"context"
	"errors"
	"time"

	"netqos/internal/core/domain"
	"netqos/internal/core/ports"
	"netqos/pkg/batch"

	"go.uber.org/zap"
)

var ErrSinkClosed = errors.New("persistence sink closed")

type sinkOperation func(ctx context.Context) error

func (op sinkOperation) Execute(ctx context.Context) error { return op(ctx) }

// sinkBatchProcessor runs every operation of a batch in order and reports
// all failures together.
type sinkBatchProcessor struct{}

func (sinkBatchProcessor) ProcessBatch(ctx context.Context, operations []batch.Operation) error {
	var errs []error
	for _, op := range operations {
		if err := op.Execute(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BatchedSink moves writes to an inner sink off the tick path. Writes are
// applied in the order they were submitted.
type BatchedSink struct {
	inner   ports.PersistenceSink
	batcher *batch.Batcher
	logger  *zap.SugaredLogger
}

func NewBatchedSink(inner ports.PersistenceSink, batchSize int, batchInterval time.Duration, logger *zap.SugaredLogger) *BatchedSink {
	b := batch.NewBatcher(batchSize, batchInterval, sinkBatchProcessor{})
	b.OnError(func(err error, dropped int) {
		logger.Warnw("persistence batch failed", "error", err, "operations", dropped)
	})
	return &BatchedSink{inner: inner, batcher: b, logger: logger}
}

func (s *BatchedSink) Record(ctx context.Context, rec domain.TickRecord) error {
	if !s.batcher.Add(sinkOperation(func(ctx context.Context) error {
		return s.inner.Record(ctx, rec)
	})) {
		return ErrSinkClosed
	}
	return nil
}

func (s *BatchedSink) Snapshot(ctx context.Context, sample domain.MetricsSample) error {
	if !s.batcher.Add(sinkOperation(func(ctx context.Context) error {
		return s.inner.Snapshot(ctx, sample)
	})) {
		return ErrSinkClosed
	}
	return nil
}

// RecentTicks flushes pending writes and reads from the inner sink when it
// supports reading.
func (s *BatchedSink) RecentTicks(ctx context.Context, limit int) ([]domain.TickRecord, error) {
	reader, ok := s.inner.(ports.TickReader)
	if !ok {
		return nil, errors.New("persistence backend cannot read ticks")
	}
	if err := s.batcher.Flush(ctx); err != nil {
		return nil, err
	}
	return reader.RecentTicks(ctx, limit)
}

// Close drains pending writes, then closes the inner sink.
func (s *BatchedSink) Close(ctx context.Context) error {
	if n := s.batcher.PendingCount(); n > 0 {
		s.logger.Infow("flushing persistence queue", "pending", n)
	}
	stopErr := s.batcher.Stop(ctx)
	return errors.Join(stopErr, s.inner.Close(ctx))
}
