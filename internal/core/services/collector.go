package services

import (
	"context"
	"fmt"
	"time"

	"netqos/internal/core/domain"
	"netqos/internal/core/ports"

	"go.uber.org/zap"
)

// SampleHandler receives each derived sample. In-process it is the control
// loop; in the standalone collector it forwards to the engine over HTTP.
type SampleHandler func(ctx context.Context, sample domain.MetricsSample) error

// Collector polls a stats source at a fixed cadence and derives samples.
type Collector struct {
	source   ports.StatsSource
	deriver  *MetricsDeriver
	clock    ports.Clock
	interval time.Duration
	timeout  time.Duration
	logger   *zap.SugaredLogger
}

func NewCollector(
	source ports.StatsSource,
	deriver *MetricsDeriver,
	clock ports.Clock,
	interval, timeout time.Duration,
	logger *zap.SugaredLogger,
) *Collector {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Collector{
		source:   source,
		deriver:  deriver,
		clock:    clock,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Poll fetches counters once and derives a sample.
func (c *Collector) Poll(ctx context.Context) (domain.MetricsSample, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.source.Fetch(fetchCtx)
	if err != nil {
		return domain.MetricsSample{}, fmt.Errorf("%w: %v", domain.ErrStatsUnavailable, err)
	}
	return c.deriver.Derive(raw, c.clock.Now()), nil
}

// Run polls until ctx is cancelled. Failed polls and handler errors are
// logged and the next tick proceeds normally.
func (c *Collector) Run(ctx context.Context, handle SampleHandler) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.tick(ctx, handle)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Collector) tick(ctx context.Context, handle SampleHandler) {
	sample, err := c.Poll(ctx)
	if err != nil {
		c.logger.Warnw("Stats poll failed", "error", err)
		return
	}

	c.logger.Infow("Sample",
		"total_mbps", sample.TotalMbps(),
		"video_mbps", sample.VideoMbps,
		"delay_ms", sample.EstimatedDelayMs,
		"loss_percent", sample.VideoLossPercent,
		"severity", ClassifySample(sample, c.deriver.linkCapacityMbps),
	)

	if err := handle(ctx, sample); err != nil {
		c.logger.Warnw("Sample delivery failed", "error", err)
	}
}
