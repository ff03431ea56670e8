package reliability

import (
	"context"
	"time"

	"netqos/internal/core/domain"
	"netqos/internal/core/ports"
	"netqos/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// GuardedEnforcer wraps a PolicyEnforcer with a circuit breaker. While the
// circuit is open, pushes are skipped instead of waiting on a dead endpoint.
type GuardedEnforcer struct {
	enforcer ports.PolicyEnforcer
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.SugaredLogger
}

func NewGuardedEnforcer(
	enforcer ports.PolicyEnforcer,
	breaker *circuitbreaker.CircuitBreaker,
	logger *zap.SugaredLogger,
) *GuardedEnforcer {
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("enforcer circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return &GuardedEnforcer{
		enforcer: enforcer,
		breaker:  breaker,
		logger:   logger,
	}
}

func (g *GuardedEnforcer) ApplyPolicy(ctx context.Context, d domain.PolicyDecision) domain.PushResult {
	if !g.breaker.Allow() {
		return domain.PushResult{
			DecisionID: d.ID,
			Status:     domain.PushSkipped,
			Err:        circuitbreaker.ErrOpen,
			Error:      circuitbreaker.ErrOpen.Error(),
			At:         time.Now(),
		}
	}

	result := g.enforcer.ApplyPolicy(ctx, d)
	g.breaker.Record(breakerError(result))
	return result
}

// Breaker exposes the circuit for health checks.
func (g *GuardedEnforcer) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}

// breakerError maps a push result to a breaker outcome. A rejection proves the
// enforcer is reachable, so only transport failures count against it.
func breakerError(r domain.PushResult) error {
	switch r.Status {
	case domain.PushTimeout, domain.PushFailed:
		if r.Err != nil {
			return r.Err
		}
		return domain.ErrEnforcerUnavailable
	default:
		return nil
	}
}
