package ports

import (
	"context"
	"time"

	"netqos/internal/core/domain"
)

// Clock abstracts wall time so time-gated transitions can be tested.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// PolicyEnforcer realizes a decision on the switch. Calls are best-effort:
// the result is reported, never retried by the caller.
type PolicyEnforcer interface {
	ApplyPolicy(ctx context.Context, decision domain.PolicyDecision) domain.PushResult
}

// PersistenceSink stores the append-only tick log and the latest sample.
type PersistenceSink interface {
	Record(ctx context.Context, rec domain.TickRecord) error
	Snapshot(ctx context.Context, sample domain.MetricsSample) error
	Close(ctx context.Context) error
}

// TickReader is implemented by sinks that can serve recent tick rows.
type TickReader interface {
	RecentTicks(ctx context.Context, limit int) ([]domain.TickRecord, error)
}

// DecisionPublisher fans decisions out to observers outside the process.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, decision domain.PolicyDecision) error
}

// StatsSource returns the current raw per-class counters.
type StatsSource interface {
	Fetch(ctx context.Context) (domain.RawCounters, error)
}

// MetricsCollector records controller telemetry.
type MetricsCollector interface {
	ObserveSample(sample domain.MetricsSample)
	ObserveState(state domain.ControllerState)
	IncDecision(kind domain.DecisionKind)
	ObservePush(result domain.PushResult)
	IncIngest(status string)
	IncDroppedDecision()
}
