package services

import (
	"math"
	"sync"
	"time"

	"netqos/internal/core/domain"
)

// ComputeDelay estimates queuing delay on the bottleneck link from its load.
// Negative load is treated as 0. Every branch is floored at the linear
// baseline so the result never decreases as load grows, whatever the capacity.
func ComputeDelay(totalLoadMbps, linkCapacityMbps float64) float64 {
	load := math.Max(totalLoadMbps, 0)
	base := 5 + 2*load

	switch {
	case load >= linkCapacityMbps:
		return math.Max(500+(load-linkCapacityMbps)*100, base)
	case load > 0.9*linkCapacityMbps:
		util := load / linkCapacityMbps
		return math.Max(5+100*util*util, base)
	default:
		return base
	}
}

// ComputeLossPercent returns the share of sent traffic that was not
// received, clamped to [0, 100]. It is 0 when nothing was sent.
func ComputeLossPercent(txMbps, rxMbps float64) float64 {
	if txMbps <= 0 {
		return 0
	}
	loss := (txMbps - rxMbps) / txMbps * 100
	return math.Min(math.Max(loss, 0), 100)
}

// MovingAverageWindow holds the last N values of a metric in insertion order.
type MovingAverageWindow struct {
	size   int
	values []float64
}

func NewMovingAverageWindow(size int) *MovingAverageWindow {
	if size < 1 {
		size = 1
	}
	return &MovingAverageWindow{size: size, values: make([]float64, 0, size)}
}

// Add appends v, evicting the oldest value once the window is full, and
// returns the mean of the current contents.
func (w *MovingAverageWindow) Add(v float64) float64 {
	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.size-1]
	}
	w.values = append(w.values, v)
	return w.Average()
}

func (w *MovingAverageWindow) Average() float64 {
	if len(w.values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.values {
		sum += v
	}
	return sum / float64(len(w.values))
}

func (w *MovingAverageWindow) Len() int   { return len(w.values) }
func (w *MovingAverageWindow) Size() int  { return w.size }
func (w *MovingAverageWindow) Full() bool { return len(w.values) == w.size }
func (w *MovingAverageWindow) Reset()     { w.values = w.values[:0] }

// Values returns a copy of the window, oldest first.
func (w *MovingAverageWindow) Values() []float64 {
	return append([]float64(nil), w.values...)
}

// AllAbove reports whether the window is full and every value exceeds threshold.
func (w *MovingAverageWindow) AllAbove(threshold float64) bool {
	if !w.Full() {
		return false
	}
	for _, v := range w.values {
		if v <= threshold {
			return false
		}
	}
	return true
}

// UpdateMovingAverage appends value to window and returns the new average.
func UpdateMovingAverage(window *MovingAverageWindow, value float64) float64 {
	return window.Add(value)
}

// MetricsDeriver turns raw switch counters into MetricsSamples. It owns the
// smoothing windows, so one deriver serves one measurement stream.
type MetricsDeriver struct {
	linkCapacityMbps float64

	mu             sync.Mutex
	lossWindow     *MovingAverageWindow
	videoWindow    *MovingAverageWindow
	downloadWindow *MovingAverageWindow
}

func NewMetricsDeriver(linkCapacityMbps float64, lossWindow, bandwidthWindow int) *MetricsDeriver {
	return &MetricsDeriver{
		linkCapacityMbps: linkCapacityMbps,
		lossWindow:       NewMovingAverageWindow(lossWindow),
		videoWindow:      NewMovingAverageWindow(bandwidthWindow),
		downloadWindow:   NewMovingAverageWindow(bandwidthWindow),
	}
}

// Derive builds the sample for one tick and advances the windows.
func (d *MetricsDeriver) Derive(raw domain.RawCounters, now time.Time) domain.MetricsSample {
	videoMbps := round(math.Max(raw.VideoBps, 0)/1e6, 2)
	downloadMbps := round(math.Max(raw.DownloadBps, 0)/1e6, 2)

	totalMbps := round(math.Max(raw.TotalBps, 0)/1e6, 2)
	if totalMbps == 0 {
		totalMbps = videoMbps + downloadMbps
	}

	var lossPercent float64
	if videoMbps > 0 {
		lossMbps := math.Max(raw.VideoLoss, 0) / 1e6
		lossPercent = round(ComputeLossPercent(videoMbps+lossMbps, videoMbps), 2)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return domain.MetricsSample{
		Timestamp:          now,
		VideoMbps:          videoMbps,
		DownloadMbps:       downloadMbps,
		VideoLossPercent:   lossPercent,
		VideoLossPercentMA: round(d.lossWindow.Add(lossPercent), 2),
		VideoMbpsAvg:       round(d.videoWindow.Add(videoMbps), 2),
		DownloadMbpsAvg:    round(d.downloadWindow.Add(downloadMbps), 2),
		EstimatedDelayMs:   round(ComputeDelay(totalMbps, d.linkCapacityMbps), 1),
	}
}

// BandwidthWindow is the number of samples behind the bandwidth averages.
func (d *MetricsDeriver) BandwidthWindow() int {
	return d.videoWindow.Size()
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
