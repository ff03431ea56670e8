package memory

import (
	"context"
	"sync"

	"netqos/internal/core/domain"
)

// Sink keeps the last capacity tick records and the latest sample in memory.
type Sink struct {
	mu       sync.RWMutex
	records  []domain.TickRecord
	capacity int
	latest   *domain.MetricsSample
}

func NewSink(capacity int) *Sink {
	if capacity < 1 {
		capacity = 1
	}
	return &Sink{
		records:  make([]domain.TickRecord, 0, capacity),
		capacity: capacity,
	}
}

func (s *Sink) Record(ctx context.Context, rec domain.TickRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) == s.capacity {
		copy(s.records, s.records[1:])
		s.records = s.records[:s.capacity-1]
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *Sink) Snapshot(ctx context.Context, sample domain.MetricsSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &sample
	return nil
}

// RecentTicks returns up to limit records, oldest first.
func (s *Sink) RecentTicks(ctx context.Context, limit int) ([]domain.TickRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(s.records) {
		start = len(s.records) - limit
	}
	return append([]domain.TickRecord(nil), s.records[start:]...), nil
}

// Latest returns the last snapshot, if any.
func (s *Sink) Latest() (domain.MetricsSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return domain.MetricsSample{}, false
	}
	return *s.latest, true
}

func (s *Sink) Close(ctx context.Context) error { return nil }
