package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"netqos/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

const recordField = "record"

// Sink persists tick records to a capped Redis stream and the latest sample
// to a plain key.
type Sink struct {
	client *redis.Client
	maxLen int64
}

func NewSink(client *redis.Client, maxLen int64) *Sink {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Sink{client: client, maxLen: maxLen}
}

func (s *Sink) Record(ctx context.Context, rec domain.TickRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal tick record: %w", err)
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: TicksStream,
			MaxLen: s.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				recordField: data,
				"mode":      string(rec.Mode),
				"event":     string(rec.Event),
			},
		})
		if rec.DecisionID != "" {
			pipe.Set(ctx, SnapshotKey+":decision", rec.DecisionID, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append tick: %w", err)
	}
	return nil
}

func (s *Sink) Snapshot(ctx context.Context, sample domain.MetricsSample) error {
	data, err := json.Marshal(sample.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.client.Set(ctx, SnapshotKey, data, 0).Err()
}

// RecentTicks returns up to limit records, oldest first.
func (s *Sink) RecentTicks(ctx context.Context, limit int) ([]domain.TickRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := s.client.XRevRangeN(ctx, TicksStream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ticks: %w", err)
	}

	out := make([]domain.TickRecord, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		raw, ok := msgs[i].Values[recordField].(string)
		if !ok {
			continue
		}
		var rec domain.TickRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close leaves the client open; it is shared with the decision bus.
func (s *Sink) Close(ctx context.Context) error { return nil }
