package services

import (
	"sync"

	"netqos/internal/core/domain"
)

// DecisionLog keeps the most recent decisions in a fixed-size ring.
type DecisionLog struct {
	mu    sync.RWMutex
	items []domain.PolicyDecision
	next  int
	count int
}

func NewDecisionLog(size int) *DecisionLog {
	if size < 1 {
		size = 1
	}
	return &DecisionLog{items: make([]domain.PolicyDecision, size)}
}

func (l *DecisionLog) Add(d domain.PolicyDecision) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items[l.next] = d
	l.next = (l.next + 1) % len(l.items)
	if l.count < len(l.items) {
		l.count++
	}
}

// Recent returns up to limit decisions, newest first. limit <= 0 means all.
func (l *DecisionLog) Recent(limit int) []domain.PolicyDecision {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.PolicyDecision, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.items)) % len(l.items)
		out = append(out, l.items[idx])
	}
	return out
}

func (l *DecisionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
