package domain

import (
	"math"
	"time"
)

// RawCounters are per-class byte rates as reported by the switch statistics endpoint.
type RawCounters struct {
	VideoBps    float64 `json:"video_bps"`
	DownloadBps float64 `json:"download_bps"`
	TotalBps    float64 `json:"total_bps"`
	VideoLoss   float64 `json:"video_loss"` // bps
}

// MetricsSample is one measurement tick. It is not modified after it is
// handed to the decision engine.
type MetricsSample struct {
	Timestamp          time.Time `json:"timestamp"`
	VideoMbps          float64   `json:"video_mbps"`
	DownloadMbps       float64   `json:"download_mbps"`
	VideoLossPercent   float64   `json:"raw_loss_percent"`
	VideoLossPercentMA float64   `json:"video_loss_percent_ma"`
	VideoMbpsAvg       float64   `json:"video_mbps_avg"`
	DownloadMbpsAvg    float64   `json:"download_mbps_avg"`
	EstimatedDelayMs   float64   `json:"estimated_delay_ms"`
}

// TotalMbps is the aggregate load on the bottleneck link.
func (s MetricsSample) TotalMbps() float64 {
	return s.VideoMbps + s.DownloadMbps
}

// Normalize clamps rates to >= 0 and loss percentages into [0, 100].
// NaN and infinities are treated as missing and become 0.
func (s MetricsSample) Normalize() MetricsSample {
	s.VideoMbps = nonNegative(s.VideoMbps)
	s.DownloadMbps = nonNegative(s.DownloadMbps)
	s.VideoMbpsAvg = nonNegative(s.VideoMbpsAvg)
	s.DownloadMbpsAvg = nonNegative(s.DownloadMbpsAvg)
	s.EstimatedDelayMs = nonNegative(s.EstimatedDelayMs)
	s.VideoLossPercent = percent(s.VideoLossPercent)
	s.VideoLossPercentMA = percent(s.VideoLossPercentMA)
	return s
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func percent(v float64) float64 {
	v = nonNegative(v)
	if v > 100 {
		return 100
	}
	return v
}

// Severity is a coarse congestion label derived from load, delay and loss.
type Severity string

const (
	SeverityNormal Severity = "normal"
	SeverityHigh   Severity = "high"
	SeveritySevere Severity = "severe"
)

// Snapshot is the persisted and served form of the latest sample.
type Snapshot struct {
	MetricsSample
	TotalMbps float64 `json:"total_mbps"`
}

func (s MetricsSample) Snapshot() Snapshot {
	return Snapshot{MetricsSample: s, TotalMbps: s.TotalMbps()}
}
