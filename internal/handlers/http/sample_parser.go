package http

import (
	"fmt"
	"regexp"
	"time"

	"netqos/internal/core/domain"

	"github.com/tidwall/gjson"
)

var (
	errNotJSON   = fmt.Errorf("%w: body is not valid JSON", domain.ErrInvalidSample)
	errNotObject = fmt.Errorf("%w: body must be a JSON object", domain.ErrInvalidSample)

	videoAvgKey    = regexp.MustCompile(`^video_mbps_\d+sec_avg$`)
	downloadAvgKey = regexp.MustCompile(`^download_mbps_\d+sec_avg$`)
)

// ParseSample reads a metrics POST body. It accepts the rich per-class
// fields and the simple aggregate fields (traffic_load, delay_ms,
// packet_loss as a fraction); rich fields win when both are present.
// Missing numbers read as 0 and missing averages fall back to the
// instantaneous rates.
func ParseSample(body []byte) (domain.MetricsSample, error) {
	if !gjson.ValidBytes(body) {
		return domain.MetricsSample{}, errNotJSON
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return domain.MetricsSample{}, errNotObject
	}

	var s domain.MetricsSample
	if ts := doc.Get("timestamp"); ts.Exists() {
		if t, err := time.Parse(time.RFC3339Nano, ts.String()); err == nil {
			s.Timestamp = t
		}
	}

	video, download := doc.Get("video_mbps"), doc.Get("download_mbps")
	if video.Exists() || download.Exists() {
		s.VideoMbps = video.Float()
		s.DownloadMbps = download.Float()
	} else {
		// Aggregate-only body: attribute the load to the download class.
		s.DownloadMbps = doc.Get("traffic_load").Float()
	}

	s.EstimatedDelayMs = firstFloat(doc, "estimated_delay_ms", "delay_ms")

	switch {
	case doc.Get("raw_loss_percent").Exists():
		s.VideoLossPercent = doc.Get("raw_loss_percent").Float()
	case doc.Get("video_loss_percent").Exists():
		s.VideoLossPercent = doc.Get("video_loss_percent").Float()
	default:
		s.VideoLossPercent = doc.Get("packet_loss").Float() * 100
	}
	if ma := doc.Get("video_loss_percent_ma"); ma.Exists() {
		s.VideoLossPercentMA = ma.Float()
	} else {
		s.VideoLossPercentMA = s.VideoLossPercent
	}

	s.VideoMbpsAvg, s.DownloadMbpsAvg = s.VideoMbps, s.DownloadMbps
	if v := doc.Get("video_mbps_avg"); v.Exists() {
		s.VideoMbpsAvg = v.Float()
	}
	if v := doc.Get("download_mbps_avg"); v.Exists() {
		s.DownloadMbpsAvg = v.Float()
	}
	doc.ForEach(func(key, value gjson.Result) bool {
		switch {
		case videoAvgKey.MatchString(key.String()):
			s.VideoMbpsAvg = value.Float()
		case downloadAvgKey.MatchString(key.String()):
			s.DownloadMbpsAvg = value.Float()
		}
		return true
	})

	return s.Normalize(), nil
}

func firstFloat(doc gjson.Result, keys ...string) float64 {
	for _, k := range keys {
		if v := doc.Get(k); v.Exists() {
			return v.Float()
		}
	}
	return 0
}
