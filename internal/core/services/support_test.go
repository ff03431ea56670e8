package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"netqos/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassifyLoad(t *testing.T) {
	tests := []struct {
		name  string
		load  float64
		delay float64
		loss  float64
		want  domain.Severity
	}{
		{"quiet", 4, 13, 0, domain.SeverityNormal},
		{"high load", 9, 23, 0, domain.SeverityHigh},
		{"high delay", 4, 95, 0, domain.SeverityHigh},
		{"high loss", 4, 13, 0.8, domain.SeverityHigh},
		{"overload", 11.5, 23, 0, domain.SeveritySevere},
		{"severe delay", 4, 500, 0, domain.SeveritySevere},
		{"severe loss", 4, 13, 2.5, domain.SeveritySevere},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyLoad(tt.load, 10, tt.delay, tt.loss))
		})
	}
	assert.Equal(t, domain.SeverityNormal, ClassifyLoad(5, 0, 0, 0))
}

func TestMeterPlan(t *testing.T) {
	d := domain.PolicyDecision{Policies: [domain.NumClasses]domain.ClassPolicy{
		{Name: domain.ClassVideo, Priority: 10, BandwidthLimitMbps: 10},
		{Name: domain.ClassDownload, Priority: 0, BandwidthLimitMbps: 2.5},
	}}

	plan := MeterPlan(d)
	require.Len(t, plan, 2)
	assert.Equal(t, domain.MeterEntry{
		Class: domain.ClassVideo, MeterID: 10, RateKbps: 10000, BurstKbps: 1000, FlowPriority: 110, TCPDstPort: 5001,
	}, plan[0])
	assert.Equal(t, domain.MeterEntry{
		Class: domain.ClassDownload, MeterID: 1, RateKbps: 2500, BurstKbps: 1000, FlowPriority: 100, TCPDstPort: 5002,
	}, plan[1])
}

func TestDecisionLog_RingNewestFirst(t *testing.T) {
	l := NewDecisionLog(3)
	assert.Empty(t, l.Recent(0))

	for _, id := range []string{"a", "b", "c", "d"} {
		l.Add(domain.PolicyDecision{ID: id})
	}
	assert.Equal(t, 3, l.Len())

	ids := func(ds []domain.PolicyDecision) []string {
		out := []string{}
		for _, d := range ds {
			out = append(out, d.ID)
		}
		return out
	}
	assert.Equal(t, []string{"d", "c", "b"}, ids(l.Recent(0)))
	assert.Equal(t, []string{"d", "c"}, ids(l.Recent(2)))
}

type stubSource struct {
	counters domain.RawCounters
	err      error
}

func (s stubSource) Fetch(ctx context.Context) (domain.RawCounters, error) {
	return s.counters, s.err
}

func TestCollector_Poll(t *testing.T) {
	clock := newFakeClock()
	c := NewCollector(stubSource{counters: domain.RawCounters{VideoBps: 4e6, DownloadBps: 5e6, TotalBps: 9e6}},
		NewMetricsDeriver(10, 3, 10), clock, time.Second, time.Second, zap.NewNop().Sugar())

	s, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.0, s.VideoMbps)
	assert.Equal(t, clock.Now(), s.Timestamp)

	failing := NewCollector(stubSource{err: errors.New("connection refused")},
		NewMetricsDeriver(10, 3, 10), clock, time.Second, time.Second, zap.NewNop().Sugar())
	_, err = failing.Poll(context.Background())
	assert.ErrorIs(t, err, domain.ErrStatsUnavailable)
}

func TestCollector_RunDeliversUntilCancelled(t *testing.T) {
	c := NewCollector(stubSource{counters: domain.RawCounters{VideoBps: 1e6}},
		NewMetricsDeriver(10, 3, 10), nil, 10*time.Millisecond, time.Second, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan domain.MetricsSample, 16)
	done := make(chan struct{})
	go func() {
		c.Run(ctx, func(ctx context.Context, s domain.MetricsSample) error {
			select {
			case got <- s:
			default:
			}
			return nil
		})
		close(done)
	}()

	select {
	case s := <-got:
		assert.Equal(t, 1.0, s.VideoMbps)
	case <-time.After(time.Second):
		t.Fatal("no sample delivered")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}
