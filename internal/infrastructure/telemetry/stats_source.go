package telemetry

import (
	"context"
	"fmt"
	"time"

	"netqos/internal/core/domain"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// RESTStatsSource reads per-class byte rates from the switch statistics
// endpoint. Missing counters read as 0.
type RESTStatsSource struct {
	client *resty.Client
	url    string
}

func NewRESTStatsSource(url string, timeout time.Duration) *RESTStatsSource {
	return &RESTStatsSource{
		client: resty.New().SetTimeout(timeout),
		url:    url,
	}
}

func (s *RESTStatsSource) Fetch(ctx context.Context) (domain.RawCounters, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return domain.RawCounters{}, err
	}
	if !resp.IsSuccess() {
		return domain.RawCounters{}, fmt.Errorf("stats endpoint returned %d", resp.StatusCode())
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return domain.RawCounters{}, fmt.Errorf("stats endpoint returned invalid JSON")
	}
	fields := gjson.GetManyBytes(body, "video_bps", "download_bps", "total_bps", "video_loss")
	return domain.RawCounters{
		VideoBps:    fields[0].Float(),
		DownloadBps: fields[1].Float(),
		TotalBps:    fields[2].Float(),
		VideoLoss:   fields[3].Float(),
	}, nil
}
