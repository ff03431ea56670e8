package services

import (
	"testing"
	"time"

	"netqos/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDelay_Branches(t *testing.T) {
	tests := []struct {
		name     string
		load     float64
		capacity float64
		want     float64
	}{
		{"idle link", 0, 10, 5},
		{"linear", 4, 10, 13},
		{"linear at 90 percent", 9, 10, 23},
		{"quadratic", 9.5, 10, 95.25},
		{"at capacity", 10, 10, 500},
		{"over capacity", 11, 10, 600},
		{"negative load", -3, 10, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ComputeDelay(tt.load, tt.capacity), 1e-9)
		})
	}
}

func TestComputeDelay_SaturatedIsStrictlyIncreasing(t *testing.T) {
	prev := ComputeDelay(10, 10)
	assert.GreaterOrEqual(t, prev, 500.0)
	for load := 10.1; load < 30; load += 0.1 {
		d := ComputeDelay(load, 10)
		assert.GreaterOrEqual(t, d, 500.0)
		assert.Greater(t, d, prev, "load %.1f", load)
		prev = d
	}
}

func TestComputeDelay_MonotoneForAnyCapacity(t *testing.T) {
	for _, capacity := range []float64{1, 10, 100, 1000} {
		prev := ComputeDelay(0, capacity)
		for i := 1; i <= 2000; i++ {
			load := capacity * 1.5 * float64(i) / 2000
			d := ComputeDelay(load, capacity)
			require.GreaterOrEqual(t, d, prev, "capacity %.0f load %.3f", capacity, load)
			prev = d
		}
	}
}

func TestComputeLossPercent(t *testing.T) {
	assert.Equal(t, 0.0, ComputeLossPercent(0, 0))
	assert.Equal(t, 0.0, ComputeLossPercent(-1, 2))
	assert.InDelta(t, 20.0, ComputeLossPercent(5, 4), 1e-9)
	assert.Equal(t, 0.0, ComputeLossPercent(4, 5), "clamped at zero")
	assert.Equal(t, 100.0, ComputeLossPercent(4, 0))
}

func TestMovingAverageWindow_EvictsOldest(t *testing.T) {
	w := NewMovingAverageWindow(3)
	assert.Equal(t, 0.0, w.Average())

	assert.Equal(t, 3.0, UpdateMovingAverage(w, 3))
	assert.Equal(t, 4.0, UpdateMovingAverage(w, 5))
	assert.False(t, w.Full())
	assert.Equal(t, 5.0, UpdateMovingAverage(w, 7))
	assert.True(t, w.Full())
	assert.Equal(t, 7.0, UpdateMovingAverage(w, 9))
	assert.Equal(t, []float64{5, 7, 9}, w.Values())

	w.Reset()
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 1.0, UpdateMovingAverage(w, 1))
}

func TestMovingAverageWindow_AllAbove(t *testing.T) {
	w := NewMovingAverageWindow(3)
	w.Add(1.2)
	w.Add(1.5)
	assert.False(t, w.AllAbove(1.0), "not full")
	w.Add(1.3)
	assert.True(t, w.AllAbove(1.0))
	w.Add(1.0)
	assert.False(t, w.AllAbove(1.0), "threshold is exclusive")
}

func TestMetricsDeriver_Derive(t *testing.T) {
	d := NewMetricsDeriver(10, 3, 2)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s := d.Derive(domain.RawCounters{VideoBps: 4e6, DownloadBps: 5e6, TotalBps: 9e6, VideoLoss: 1e6}, now)
	assert.Equal(t, now, s.Timestamp)
	assert.Equal(t, 4.0, s.VideoMbps)
	assert.Equal(t, 5.0, s.DownloadMbps)
	assert.Equal(t, 20.0, s.VideoLossPercent)
	assert.Equal(t, 20.0, s.VideoLossPercentMA)
	assert.Equal(t, 4.0, s.VideoMbpsAvg)
	assert.Equal(t, 23.0, s.EstimatedDelayMs)

	// total_bps missing: the aggregate is rebuilt from the classes
	s = d.Derive(domain.RawCounters{VideoBps: 2e6, DownloadBps: 8e6}, now)
	assert.Equal(t, 0.0, s.VideoLossPercent)
	assert.Equal(t, 10.0, s.VideoLossPercentMA)
	assert.Equal(t, 3.0, s.VideoMbpsAvg)
	assert.Equal(t, 6.5, s.DownloadMbpsAvg)
	assert.Equal(t, 500.0, s.EstimatedDelayMs)

	// bandwidth window of 2 evicts the first sample
	s = d.Derive(domain.RawCounters{VideoBps: 2e6, DownloadBps: 2e6, TotalBps: 4e6}, now)
	assert.Equal(t, 2.0, s.VideoMbpsAvg)
	assert.Equal(t, 5.0, s.DownloadMbpsAvg)
	assert.Equal(t, 2, d.BandwidthWindow())
}

func TestMetricsDeriver_NoVideoMeansNoLoss(t *testing.T) {
	d := NewMetricsDeriver(10, 3, 10)
	s := d.Derive(domain.RawCounters{DownloadBps: 5e6, VideoLoss: 1e6}, time.Now())
	assert.Equal(t, 0.0, s.VideoLossPercent)
}
