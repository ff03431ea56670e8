package domain

import "time"

type Mode string

const (
	ModeIdle   Mode = "IDLE"
	ModeActive Mode = "ACTIVE"
)

// Event tags what a single engine update did.
type Event string

const (
	EventActivated Event = "activated"
	EventDecreased Event = "decreased"
	EventIncreased Event = "increased"
	EventReleased  Event = "released"
	EventAbsent    Event = "traffic_absent"
	EventDebounced Event = "debounced"
	EventSteady    Event = "steady"
	EventHeld      Event = "held"
)

// ControllerState is a copy of the decision engine's state for observers.
type ControllerState struct {
	Mode                    Mode      `json:"mode"`
	DownloadLimitMbps       float64   `json:"download_limit_mbps"`
	MaxObservedVideoAvgMbps float64   `json:"max_observed_video_avg_mbps"`
	LossHistory             []float64 `json:"loss_history"`
	LastActionTime          time.Time `json:"last_action_time"`
}

// TickRecord is one row of the append-only tick log.
type TickRecord struct {
	TickID            string        `json:"tick_id"`
	Sample            MetricsSample `json:"sample"`
	Mode              Mode          `json:"mode"`
	DownloadLimitMbps float64       `json:"download_limit_mbps"`
	Event             Event         `json:"event"`
	Severity          Severity      `json:"severity"`
	DecisionID        string        `json:"decision_id,omitempty"`
}
