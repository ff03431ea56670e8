package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"netqos/internal/core/domain"
	"netqos/pkg/retry"

	"github.com/go-resty/resty/v2"
)

// EngineForwarder posts derived samples to a remote decision engine.
type EngineForwarder struct {
	client *resty.Client
	url    string
}

func NewEngineForwarder(url string, timeout time.Duration) *EngineForwarder {
	return &EngineForwarder{
		client: resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		url:    url,
	}
}

// Send delivers one sample. The caller logs failures and moves on to the next tick.
func (f *EngineForwarder) Send(ctx context.Context, sample domain.MetricsSample) error {
	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(WireSample(sample)).
		Post(f.url)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// WaitReady polls the engine's /health endpoint until it answers 200, using
// the given backoff.
func (f *EngineForwarder) WaitReady(ctx context.Context, cfg retry.Config) error {
	u, err := url.Parse(f.url)
	if err != nil {
		return fmt.Errorf("invalid engine url: %w", err)
	}
	u.Path, u.RawQuery = "/health", ""
	healthURL := u.String()

	return retry.Retry(ctx, cfg, func() error {
		resp, err := f.client.R().SetContext(ctx).Get(healthURL)
		if err != nil {
			return err
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("engine health returned %d", resp.StatusCode())
		}
		return nil
	})
}

// WireSample is the ingestion body for a sample. It carries the rich field
// names plus the aggregate fields older engines read.
func WireSample(s domain.MetricsSample) map[string]interface{} {
	return map[string]interface{}{
		"timestamp":             s.Timestamp.Format(time.RFC3339Nano),
		"video_mbps":            s.VideoMbps,
		"download_mbps":         s.DownloadMbps,
		"raw_loss_percent":      s.VideoLossPercent,
		"video_loss_percent_ma": s.VideoLossPercentMA,
		"video_mbps_avg":        s.VideoMbpsAvg,
		"download_mbps_avg":     s.DownloadMbpsAvg,
		"estimated_delay_ms":    s.EstimatedDelayMs,
		"traffic_load":          s.TotalMbps(),
		"delay_ms":              s.EstimatedDelayMs,
		"packet_loss":           s.VideoLossPercent / 100,
	}
}
