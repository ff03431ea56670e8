package batch

import (
	"context"
	"sync"
	"time"
)

// Operation represents a single operation to be batched
type Operation interface {
	Execute(ctx context.Context) error
}

// Processor processes a batch of operations. Operations arrive in the order
// they were added.
type Processor interface {
	ProcessBatch(ctx context.Context, operations []Operation) error
}

// Batcher collects operations and hands them to a Processor from a single
// goroutine, either when batchSize is reached or every batchInterval.
type Batcher struct {
	batchSize     int
	batchInterval time.Duration
	processor     Processor
	onError       func(err error, dropped int)

	mu      sync.Mutex
	pending []Operation
	stopped bool

	flushChan chan struct{}
	stopChan  chan struct{}
	done      chan struct{}
	flushMu   sync.Mutex
}

// NewBatcher creates a new batcher and starts its flush loop.
func NewBatcher(batchSize int, batchInterval time.Duration, processor Processor) *Batcher {
	b := &Batcher{
		batchSize:     batchSize,
		batchInterval: batchInterval,
		pending:       make([]Operation, 0, batchSize),
		flushChan:     make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
		processor:     processor,
	}

	go b.run()

	return b
}

// OnError registers a callback for batches the processor failed on.
func (b *Batcher) OnError(fn func(err error, dropped int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Add queues op. It returns false once the batcher has been stopped.
func (b *Batcher) Add(op Operation) bool {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return false
	}
	b.pending = append(b.pending, op)
	shouldFlush := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- struct{}{}:
		default:
		}
	}

	return true
}

// Flush immediately processes all pending operations
func (b *Batcher) Flush(ctx context.Context) error {
	// flushMu keeps batches from being processed concurrently and out of order
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	ops := make([]Operation, len(b.pending))
	copy(ops, b.pending)
	b.pending = b.pending[:0]
	onError := b.onError
	b.mu.Unlock()

	err := b.processor.ProcessBatch(ctx, ops)
	if err != nil && onError != nil {
		onError(err, len(ops))
	}
	return err
}

func (b *Batcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = b.Flush(context.Background())
		case <-b.flushChan:
			_ = b.Flush(context.Background())
		case <-b.stopChan:
			_ = b.Flush(context.Background())
			return
		}
	}
}

// Stop rejects further operations, flushes what is pending and waits for the
// flush loop to exit or ctx to expire.
func (b *Batcher) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stopChan)

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingCount returns the number of pending operations
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
