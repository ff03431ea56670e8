package services

import (
	"context"
	"sync"
	"time"

	"netqos/internal/core/domain"
	"netqos/internal/core/ports"
	"netqos/pkg/logger"
	"netqos/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TickUpdate describes the outcome of one control-loop tick.
type TickUpdate struct {
	TickID   string                 `json:"tick_id"`
	Sample   domain.MetricsSample   `json:"sample"`
	State    domain.ControllerState `json:"state"`
	Event    domain.Event           `json:"event"`
	Severity domain.Severity        `json:"severity"`
	Decision *domain.PolicyDecision `json:"decision,omitempty"`
}

// Observer is notified after every tick and every push attempt. Calls are
// made from the loop's goroutines and must not block.
type Observer interface {
	OnTick(update TickUpdate)
	OnPush(decision domain.PolicyDecision, result domain.PushResult)
}

// Status is a read-only view of the loop for the query API.
type Status struct {
	State        domain.ControllerState `json:"state"`
	Severity     domain.Severity        `json:"severity"`
	LastSample   *domain.MetricsSample  `json:"last_sample,omitempty"`
	LastDecision *domain.PolicyDecision `json:"last_decision,omitempty"`
	LastPush     *domain.PushResult     `json:"last_push,omitempty"`
	MeterPlan    []domain.MeterEntry    `json:"meter_plan,omitempty"`
	Ticks        uint64                 `json:"ticks"`
}

type ControlLoopOptions struct {
	Enforcer  ports.PolicyEnforcer
	Sink      ports.PersistenceSink
	Publisher ports.DecisionPublisher
	Metrics   ports.MetricsCollector
	Clock     ports.Clock
	// QueueSize bounds decisions waiting for the enforcer. When full, the
	// oldest queued decision is dropped.
	QueueSize   int
	History     int
	PushTimeout time.Duration
}

// ControlLoop feeds samples through the decision engine one at a time and
// hands resulting decisions, in order, to a single dispatcher goroutine.
type ControlLoop struct {
	engine    *DecisionEngine
	enforcer  ports.PolicyEnforcer
	sink      ports.PersistenceSink
	publisher ports.DecisionPublisher
	metrics   ports.MetricsCollector
	clock     ports.Clock
	history   *DecisionLog
	logger    *zap.SugaredLogger
	ctxLogger *logger.ContextLogger

	pushTimeout time.Duration

	// mu serializes engine updates and the enqueue that follows them.
	mu    sync.Mutex
	queue chan domain.PolicyDecision

	stateMu      sync.RWMutex
	state        domain.ControllerState
	severity     domain.Severity
	lastSample   *domain.MetricsSample
	lastDecision *domain.PolicyDecision
	lastPush     *domain.PushResult
	ticks        uint64

	obsMu     sync.RWMutex
	observers []Observer

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func NewControlLoop(engine *DecisionEngine, opts ControlLoopOptions, log *zap.SugaredLogger) *ControlLoop {
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.History < 1 {
		opts.History = 50
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = 3 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}

	return &ControlLoop{
		engine:      engine,
		enforcer:    opts.Enforcer,
		sink:        opts.Sink,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		clock:       opts.Clock,
		history:     NewDecisionLog(opts.History),
		logger:      log,
		ctxLogger:   logger.NewContextLogger(log.Desugar()),
		pushTimeout: opts.PushTimeout,
		queue:       make(chan domain.PolicyDecision, opts.QueueSize),
		state:       engine.State(),
		severity:    domain.SeverityNormal,
		stopChan:    make(chan struct{}),
	}
}

// Subscribe registers an observer for tick and push notifications.
func (l *ControlLoop) Subscribe(o Observer) {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	l.observers = append(l.observers, o)
}

// Start launches the dispatcher. It stops when ctx is done or Stop is called.
func (l *ControlLoop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		l.wg.Add(1)
		go l.dispatch(ctx)
	})
}

// Stop halts the dispatcher. Decisions still queued are abandoned; the next
// tick after a restart supersedes them.
func (l *ControlLoop) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
}

// Ingest runs one tick for sample and returns the decision it produced, if any.
func (l *ControlLoop) Ingest(ctx context.Context, sample domain.MetricsSample) TickUpdate {
	tickID := uuid.NewString()
	ctx = logger.WithTickID(ctx, tickID)
	ctx, span := tracing.TraceTick(ctx, tickID)
	defer span.End()

	sample = sample.Normalize()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = l.clock.Now()
	}
	severity := ClassifySample(sample, l.engine.Config().LinkCapacityMbps)

	l.mu.Lock()
	decision, event := l.engine.Update(sample)
	state := l.engine.State()
	if decision != nil {
		l.enqueue(*decision)
		l.history.Add(*decision)
	}
	l.stateMu.Lock()
	l.state = state
	l.severity = severity
	l.lastSample = &sample
	l.ticks++
	if decision != nil {
		l.lastDecision = decision
	}
	l.stateMu.Unlock()

	update := TickUpdate{
		TickID:   tickID,
		Sample:   sample,
		State:    state,
		Event:    event,
		Severity: severity,
		Decision: decision,
	}
	l.persist(ctx, update)
	l.mu.Unlock()

	tracing.AddSpanAttributes(ctx,
		tracing.ModeKey.String(string(state.Mode)),
		tracing.EventKey.String(string(event)),
		tracing.LimitKey.Float64(state.DownloadLimitMbps),
	)

	l.metrics.ObserveSample(sample)
	l.metrics.ObserveState(state)
	if decision != nil {
		l.metrics.IncDecision(decision.Kind)
		tracing.AddSpanAttributes(ctx, tracing.DecisionIDKey.String(decision.ID))
		l.logger.Infow("Policy decision",
			"tick_id", tickID,
			"decision_id", decision.ID,
			"kind", decision.Kind,
			"reason", decision.Reason,
			"event", event,
			"download_limit_mbps", state.DownloadLimitMbps,
		)
	}

	l.notifyTick(update)
	return update
}

// enqueue must be called with mu held so queue order matches engine order.
func (l *ControlLoop) enqueue(d domain.PolicyDecision) {
	for {
		select {
		case l.queue <- d:
			return
		default:
		}
		select {
		case dropped := <-l.queue:
			l.metrics.IncDroppedDecision()
			l.logger.Warnw("Dropping superseded decision", "decision_id", dropped.ID, "superseded_by", d.ID)
		default:
		}
	}
}

func (l *ControlLoop) dispatch(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case d := <-l.queue:
			l.push(ctx, d)
		}
	}
}

func (l *ControlLoop) push(ctx context.Context, d domain.PolicyDecision) {
	if l.enforcer == nil {
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, l.pushTimeout)
	pushCtx, span := tracing.TracePolicyPush(pushCtx, d.ID, string(d.Kind))
	result := l.enforcer.ApplyPolicy(pushCtx, d)
	span.SetAttributes(tracing.PushResultKey.String(string(result.Status)))
	if result.Err != nil {
		tracing.RecordError(pushCtx, result.Err)
	}
	span.End()
	cancel()

	if result.DecisionID == "" {
		result.DecisionID = d.ID
	}
	if result.At.IsZero() {
		result.At = l.clock.Now()
	}

	l.stateMu.Lock()
	l.lastPush = &result
	l.stateMu.Unlock()

	l.metrics.ObservePush(result)
	switch result.Status {
	case domain.PushSuccess:
		l.logger.Infow("Policy pushed", "decision_id", d.ID, "duration", result.Duration)
	case domain.PushSkipped:
		l.logger.Debugw("Policy push skipped", "decision_id", d.ID, "error", result.Error)
	default:
		l.logger.Warnw("Policy push failed",
			"decision_id", d.ID,
			"status", result.Status,
			"status_code", result.StatusCode,
			"error", result.Error,
		)
	}

	if l.publisher != nil {
		if err := l.publisher.PublishDecision(ctx, d); err != nil {
			l.logger.Warnw("Failed to publish decision", "decision_id", d.ID, "error", err)
		}
	}

	l.obsMu.RLock()
	for _, o := range l.observers {
		o.OnPush(d, result)
	}
	l.obsMu.RUnlock()
}

// persist runs with mu held so rows land in engine order. The sink must not
// block; the batched sink only enqueues.
func (l *ControlLoop) persist(ctx context.Context, u TickUpdate) {
	if l.sink == nil {
		return
	}
	rec := domain.TickRecord{
		TickID:            u.TickID,
		Sample:            u.Sample,
		Mode:              u.State.Mode,
		DownloadLimitMbps: u.State.DownloadLimitMbps,
		Event:             u.Event,
		Severity:          u.Severity,
	}
	if u.Decision != nil {
		rec.DecisionID = u.Decision.ID
	}
	if err := l.sink.Record(ctx, rec); err != nil {
		l.ctxLogger.LogError(ctx, err, "Failed to record tick")
	}
	if err := l.sink.Snapshot(ctx, u.Sample); err != nil {
		l.ctxLogger.LogError(ctx, err, "Failed to write snapshot")
	}
}

func (l *ControlLoop) notifyTick(u TickUpdate) {
	l.obsMu.RLock()
	defer l.obsMu.RUnlock()
	for _, o := range l.observers {
		o.OnTick(u)
	}
}

func (l *ControlLoop) Status() Status {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()

	st := Status{
		State:        l.state,
		Severity:     l.severity,
		LastSample:   l.lastSample,
		LastDecision: l.lastDecision,
		LastPush:     l.lastPush,
		Ticks:        l.ticks,
	}
	if l.lastDecision != nil {
		st.MeterPlan = MeterPlan(*l.lastDecision)
	}
	return st
}

// LatestSample returns the last ingested sample.
func (l *ControlLoop) LatestSample() (domain.MetricsSample, bool) {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	if l.lastSample == nil {
		return domain.MetricsSample{}, false
	}
	return *l.lastSample, true
}

func (l *ControlLoop) Decisions(limit int) []domain.PolicyDecision {
	return l.history.Recent(limit)
}

func (l *ControlLoop) LinkCapacityMbps() float64 {
	return l.engine.Config().LinkCapacityMbps
}

type noopMetrics struct{}

func (noopMetrics) ObserveSample(domain.MetricsSample)  {}
func (noopMetrics) ObserveState(domain.ControllerState) {}
func (noopMetrics) IncDecision(domain.DecisionKind)     {}
func (noopMetrics) ObservePush(domain.PushResult)       {}
func (noopMetrics) IncIngest(string)                    {}
func (noopMetrics) IncDroppedDecision()                 {}
