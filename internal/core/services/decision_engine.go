package services

import (
	"fmt"
	"math"
	"time"

	"netqos/internal/core/domain"
	"netqos/internal/core/ports"
	"netqos/pkg/config"

	"github.com/google/uuid"
)

const (
	AbsentModeTotal    = "total"
	AbsentModePerClass = "per_class"
)

const limitEpsilon = 1e-9

type EngineConfig struct {
	LinkCapacityMbps     float64
	MinBandwidthMbps     float64
	MaxBandwidthMbps     float64
	ProbeInterval        time.Duration
	LossThresholdPercent float64
	LossPersistence      int
	RegressionFraction   float64
	DecreaseStepMbps     float64
	IncreaseStepMbps     float64
	IdleThresholdMbps    float64
	AbsentMode           string
	AbsentThresholdMbps  float64
	VideoPresentMbps     float64

	VideoCeilingMbps      float64
	VideoPriority         int
	VideoElevatedPriority int
	DownloadPriority      int
	DownloadLowPriority   int
}

// DefaultEngineConfig is tuned for a 10 Mbps bottleneck.
func DefaultEngineConfig() EngineConfig {
	return NewEngineConfig(config.DefaultConfig())
}

func NewEngineConfig(cfg *config.Config) EngineConfig {
	c := cfg.Controller
	return EngineConfig{
		LinkCapacityMbps:      c.LinkCapacityMbps,
		MinBandwidthMbps:      c.MinBandwidthMbps,
		MaxBandwidthMbps:      c.MaxBandwidthMbps,
		ProbeInterval:         c.ProbeInterval,
		LossThresholdPercent:  c.LossThresholdPercent,
		LossPersistence:       c.LossPersistence,
		RegressionFraction:    c.RegressionFraction,
		DecreaseStepMbps:      c.DecreaseStepMbps,
		IncreaseStepMbps:      c.IncreaseStepMbps,
		IdleThresholdMbps:     c.IdleThresholdMbps,
		AbsentMode:            c.AbsentMode,
		AbsentThresholdMbps:   c.AbsentThresholdMbps,
		VideoPresentMbps:      c.VideoPresentMbps,
		VideoCeilingMbps:      c.VideoCeilingMbps,
		VideoPriority:         c.VideoPriority,
		VideoElevatedPriority: c.VideoElevatedPriority,
		DownloadPriority:      c.DownloadPriority,
		DownloadLowPriority:   c.DownloadLowPriority,
	}
}

// DecisionEngine is the IDLE/ACTIVE bandwidth controller. Probing is the
// increase branch of ACTIVE. It is not safe for concurrent use; callers
// serialize Update.
type DecisionEngine struct {
	cfg   EngineConfig
	clock ports.Clock

	mode           domain.Mode
	limit          float64
	maxVideoAvg    float64
	lossHistory    *MovingAverageWindow
	lastActionTime time.Time
}

func NewDecisionEngine(cfg EngineConfig, clock ports.Clock) *DecisionEngine {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if cfg.MaxBandwidthMbps <= 0 || cfg.MaxBandwidthMbps > cfg.LinkCapacityMbps {
		cfg.MaxBandwidthMbps = cfg.LinkCapacityMbps
	}
	return &DecisionEngine{
		cfg:         cfg,
		clock:       clock,
		mode:        domain.ModeIdle,
		limit:       cfg.LinkCapacityMbps,
		lossHistory: NewMovingAverageWindow(cfg.LossPersistence),
	}
}

// Update evaluates one sample. It returns a decision only when the
// allocation changes; the event describes what happened either way.
func (e *DecisionEngine) Update(sample domain.MetricsSample) (*domain.PolicyDecision, domain.Event) {
	s := sample.Normalize()
	now := e.clock.Now()

	decision, event := e.step(s, now)
	e.checkInvariants()
	return decision, event
}

func (e *DecisionEngine) step(s domain.MetricsSample, now time.Time) (*domain.PolicyDecision, domain.Event) {
	if e.trafficAbsent(s) {
		if s.VideoMbps < e.cfg.VideoPresentMbps {
			e.maxVideoAvg = 0
		}
		if e.mode == domain.ModeActive {
			return e.release(now, "traffic absent"), domain.EventAbsent
		}
		return nil, domain.EventAbsent
	}

	e.lossHistory.Add(s.VideoLossPercentMA)
	if s.VideoMbpsAvg > e.maxVideoAvg {
		e.maxVideoAvg = s.VideoMbpsAvg
	}

	persistentLoss := e.lossHistory.AllAbove(e.cfg.LossThresholdPercent)
	bwRegression := e.maxVideoAvg > 0 && s.VideoMbpsAvg < e.maxVideoAvg*(1-e.cfg.RegressionFraction)
	intervene := persistentLoss || bwRegression

	if e.mode == domain.ModeIdle {
		if !intervene {
			return nil, domain.EventSteady
		}
		e.mode = domain.ModeActive
		e.limit = e.cfg.MinBandwidthMbps
		e.lastActionTime = now
		return e.apply(now, interventionReason(persistentLoss, bwRegression)), domain.EventActivated
	}

	if now.Sub(e.lastActionTime) < e.cfg.ProbeInterval {
		return nil, domain.EventDebounced
	}

	if intervene {
		e.limit = round(math.Max(e.cfg.MinBandwidthMbps, e.limit-e.cfg.DecreaseStepMbps), 2)
		e.lastActionTime = now
		return e.apply(now, interventionReason(persistentLoss, bwRegression)), domain.EventDecreased
	}

	if e.limit >= e.releaseThreshold()-limitEpsilon {
		return e.release(now, "recovered"), domain.EventReleased
	}

	next := e.limit + e.cfg.IncreaseStepMbps
	next = math.Min(next, e.cfg.LinkCapacityMbps-e.maxVideoAvg)
	next = math.Min(next, e.cfg.MaxBandwidthMbps)
	next = round(math.Max(next, e.cfg.MinBandwidthMbps), 2)

	switch {
	case next > e.limit+limitEpsilon:
		e.limit = next
		e.lastActionTime = now
		return e.apply(now, "probe"), domain.EventIncreased
	case next < e.limit-limitEpsilon:
		// video's high-water mark grew past the current allocation
		e.limit = next
		e.lastActionTime = now
		return e.apply(now, "video headroom"), domain.EventDecreased
	default:
		return nil, domain.EventHeld
	}
}

// releaseThreshold is the limit at which a clean ACTIVE controller returns
// to IDLE. It never exceeds the increase ceiling.
func (e *DecisionEngine) releaseThreshold() float64 {
	return math.Min(e.cfg.IdleThresholdMbps, e.cfg.MaxBandwidthMbps)
}

func (e *DecisionEngine) trafficAbsent(s domain.MetricsSample) bool {
	if e.cfg.AbsentMode == AbsentModePerClass {
		return s.VideoMbps < e.cfg.AbsentThresholdMbps || s.DownloadMbps < e.cfg.AbsentThresholdMbps
	}
	return s.TotalMbps() < e.cfg.LinkCapacityMbps/2
}

// release returns to IDLE with full capacity for both classes.
func (e *DecisionEngine) release(now time.Time, reason string) *domain.PolicyDecision {
	e.mode = domain.ModeIdle
	e.limit = e.cfg.LinkCapacityMbps
	e.lossHistory.Reset()
	e.lastActionTime = now
	return e.reset(now, reason)
}

func (e *DecisionEngine) apply(now time.Time, reason string) *domain.PolicyDecision {
	return &domain.PolicyDecision{
		ID:       uuid.NewString(),
		Kind:     domain.DecisionApply,
		Reason:   reason,
		IssuedAt: now,
		Policies: [domain.NumClasses]domain.ClassPolicy{
			domain.VideoIndex: {
				Name:               domain.ClassVideo,
				Priority:           e.cfg.VideoElevatedPriority,
				BandwidthLimitMbps: e.cfg.VideoCeilingMbps,
			},
			domain.DownloadIndex: {
				Name:               domain.ClassDownload,
				Priority:           e.cfg.DownloadLowPriority,
				BandwidthLimitMbps: e.limit,
			},
		},
	}
}

func (e *DecisionEngine) reset(now time.Time, reason string) *domain.PolicyDecision {
	return &domain.PolicyDecision{
		ID:       uuid.NewString(),
		Kind:     domain.DecisionReset,
		Reason:   reason,
		IssuedAt: now,
		Policies: [domain.NumClasses]domain.ClassPolicy{
			domain.VideoIndex: {
				Name:               domain.ClassVideo,
				Priority:           e.cfg.VideoPriority,
				BandwidthLimitMbps: e.cfg.LinkCapacityMbps,
			},
			domain.DownloadIndex: {
				Name:               domain.ClassDownload,
				Priority:           e.cfg.DownloadPriority,
				BandwidthLimitMbps: e.cfg.LinkCapacityMbps,
			},
		},
	}
}

func interventionReason(persistentLoss, bwRegression bool) string {
	switch {
	case persistentLoss && bwRegression:
		return "persistent loss, bandwidth regression"
	case persistentLoss:
		return "persistent loss"
	default:
		return "bandwidth regression"
	}
}

// checkInvariants panics on a state no sequence of samples should reach.
func (e *DecisionEngine) checkInvariants() {
	if e.limit < e.cfg.MinBandwidthMbps-limitEpsilon || e.limit > e.cfg.LinkCapacityMbps+limitEpsilon {
		panic(fmt.Sprintf("decision engine: download limit %.3f outside [%.3f, %.3f]",
			e.limit, e.cfg.MinBandwidthMbps, e.cfg.LinkCapacityMbps))
	}
	if e.mode == domain.ModeIdle && math.Abs(e.limit-e.cfg.LinkCapacityMbps) > limitEpsilon {
		panic(fmt.Sprintf("decision engine: IDLE with download limit %.3f", e.limit))
	}
}

// State returns a copy of the controller state.
func (e *DecisionEngine) State() domain.ControllerState {
	return domain.ControllerState{
		Mode:                    e.mode,
		DownloadLimitMbps:       e.limit,
		MaxObservedVideoAvgMbps: e.maxVideoAvg,
		LossHistory:             e.lossHistory.Values(),
		LastActionTime:          e.lastActionTime,
	}
}

func (e *DecisionEngine) Config() EngineConfig { return e.cfg }
