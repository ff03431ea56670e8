package domain

import "time"

type ClassName string

const (
	ClassVideo    ClassName = "video"
	ClassDownload ClassName = "download"
)

// ClassPolicy is the enforcement directive for one traffic class.
type ClassPolicy struct {
	Name               ClassName `json:"name"`
	Priority           int       `json:"priority"`
	BandwidthLimitMbps float64   `json:"bandwidth_limit_mbps"`
}

type DecisionKind string

const (
	DecisionApply DecisionKind = "apply"
	DecisionReset DecisionKind = "reset"
)

// Class indexes into PolicyDecision.Policies.
const (
	VideoIndex = iota
	DownloadIndex
	NumClasses
)

// PolicyDecision is an immutable allocation for both classes, video first.
type PolicyDecision struct {
	ID       string                  `json:"id"`
	Kind     DecisionKind            `json:"kind"`
	Reason   string                  `json:"reason"`
	IssuedAt time.Time               `json:"issued_at"`
	Policies [NumClasses]ClassPolicy `json:"policies"`
}

func (d PolicyDecision) Video() ClassPolicy    { return d.Policies[VideoIndex] }
func (d PolicyDecision) Download() ClassPolicy { return d.Policies[DownloadIndex] }

type PushStatus string

const (
	PushSuccess  PushStatus = "success"
	PushTimeout  PushStatus = "timeout"
	PushRejected PushStatus = "rejected"
	PushFailed   PushStatus = "failed"
	PushSkipped  PushStatus = "skipped"
)

// PushResult is the outcome of one attempt to hand a decision to the enforcer.
type PushResult struct {
	DecisionID string        `json:"decision_id"`
	Status     PushStatus    `json:"status"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
	At         time.Time     `json:"at"`
}

func (r PushResult) OK() bool { return r.Status == PushSuccess }

// MeterEntry previews how a class policy maps onto switch meters and flow rules.
type MeterEntry struct {
	Class        ClassName `json:"class"`
	MeterID      int       `json:"meter_id"`
	RateKbps     int       `json:"rate_kbps"`
	BurstKbps    int       `json:"burst_kbps"`
	FlowPriority int       `json:"flow_priority"`
	TCPDstPort   int       `json:"tcp_dst_port"`
}
