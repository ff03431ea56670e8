package services

import "netqos/internal/core/domain"

var classPorts = map[domain.ClassName]int{
	domain.ClassVideo:    5001,
	domain.ClassDownload: 5002,
}

// MeterPlan previews the meters and flow rules an OpenFlow enforcer would
// install for the decision.
func MeterPlan(d domain.PolicyDecision) []domain.MeterEntry {
	plan := make([]domain.MeterEntry, 0, len(d.Policies))
	for _, p := range d.Policies {
		rate := int(p.BandwidthLimitMbps * 1000)
		burst := rate / 10
		if burst < 1000 {
			burst = 1000
		}
		meterID := p.Priority
		if meterID < 1 {
			meterID = 1
		}
		plan = append(plan, domain.MeterEntry{
			Class:        p.Name,
			MeterID:      meterID,
			RateKbps:     rate,
			BurstKbps:    burst,
			FlowPriority: 100 + p.Priority,
			TCPDstPort:   classPorts[p.Name],
		})
	}
	return plan
}
