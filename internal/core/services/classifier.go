package services

import "netqos/internal/core/domain"

// ClassifyLoad labels congestion from the load ratio, delay and loss.
// The label is informational only; it never drives the decision engine.
func ClassifyLoad(loadMbps, linkCapacityMbps, delayMs, lossPercent float64) domain.Severity {
	ratio := 0.0
	if linkCapacityMbps > 0 {
		ratio = loadMbps / linkCapacityMbps
	}
	switch {
	case ratio > 1.1 || delayMs > 150 || lossPercent > 2:
		return domain.SeveritySevere
	case ratio > 0.85 || delayMs > 80 || lossPercent > 0.5:
		return domain.SeverityHigh
	default:
		return domain.SeverityNormal
	}
}

// ClassifySample is ClassifyLoad applied to a sample.
func ClassifySample(s domain.MetricsSample, linkCapacityMbps float64) domain.Severity {
	return ClassifyLoad(s.TotalMbps(), linkCapacityMbps, s.EstimatedDelayMs, s.VideoLossPercent)
}
