package reliability

import (
	"context"
	"errors"
	"time"

	"netqos/internal/core/domain"
	"netqos/internal/core/ports"
)

// ErrStandby marks a push skipped because another controller instance owns
// the enforcer.
var ErrStandby = errors.New("controller is on standby")

// Ownership reports whether this instance may drive the enforcer.
type Ownership interface {
	Held() bool
}

// StandbyEnforcer forwards pushes only while this instance owns the
// enforcer lease, so replicas sharing one switch never push conflicting
// policies.
type StandbyEnforcer struct {
	enforcer ports.PolicyEnforcer
	owner    Ownership
}

func NewStandbyEnforcer(enforcer ports.PolicyEnforcer, owner Ownership) *StandbyEnforcer {
	return &StandbyEnforcer{enforcer: enforcer, owner: owner}
}

func (s *StandbyEnforcer) ApplyPolicy(ctx context.Context, d domain.PolicyDecision) domain.PushResult {
	if !s.owner.Held() {
		return domain.PushResult{
			DecisionID: d.ID,
			Status:     domain.PushSkipped,
			Err:        ErrStandby,
			Error:      ErrStandby.Error(),
			At:         time.Now(),
		}
	}
	return s.enforcer.ApplyPolicy(ctx, d)
}
