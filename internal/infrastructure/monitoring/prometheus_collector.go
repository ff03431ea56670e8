package monitoring

import (
	"netqos/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	videoMbps         prometheus.Gauge
	downloadMbps      prometheus.Gauge
	lossPercentMA     prometheus.Gauge
	estimatedDelayMs  prometheus.Gauge
	downloadLimitMbps prometheus.Gauge
	maxVideoAvgMbps   prometheus.Gauge
	controllerActive  prometheus.Gauge

	// Counters
	decisionsTotal        *prometheus.CounterVec
	pushesTotal           *prometheus.CounterVec
	ingestTotal           *prometheus.CounterVec
	droppedDecisionsTotal prometheus.Counter

	// Histograms
	pushDuration prometheus.Histogram
}

// NewPrometheusCollector registers controller metrics on reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	f := promauto.With(reg)
	return &PrometheusCollector{
		videoMbps: f.NewGauge(prometheus.GaugeOpts{
			Name: "netqos_video_mbps",
			Help: "Instantaneous video class throughput in Mbps",
		}),

		downloadMbps: f.NewGauge(prometheus.GaugeOpts{
			Name: "netqos_download_mbps",
			Help: "Instantaneous download class throughput in Mbps",
		}),

		lossPercentMA: f.NewGauge(prometheus.GaugeOpts{
			Name: "netqos_video_loss_percent_ma",
			Help: "Moving average of video loss percentage",
		}),

		estimatedDelayMs: f.NewGauge(prometheus.GaugeOpts{
			Name: "netqos_estimated_delay_ms",
			Help: "Estimated queuing delay on the bottleneck link",
		}),

		downloadLimitMbps: f.NewGauge(prometheus.GaugeOpts{
			Name: "netqos_download_limit_mbps",
			Help: "Currently enforced download ceiling",
		}),

		maxVideoAvgMbps: f.NewGauge(prometheus.GaugeOpts{
			Name: "netqos_max_observed_video_avg_mbps",
			Help: "High-water mark of the video moving average",
		}),

		controllerActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "netqos_controller_active",
			Help: "1 when the controller is ACTIVE, 0 when IDLE",
		}),

		decisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netqos_decisions_total",
			Help: "Policy decisions emitted by kind",
		}, []string{"kind"}),

		pushesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netqos_policy_pushes_total",
			Help: "Policy pushes by result",
		}, []string{"status"}),

		ingestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netqos_ingest_requests_total",
			Help: "Metrics ingestion requests by outcome",
		}, []string{"status"}),

		droppedDecisionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "netqos_dropped_decisions_total",
			Help: "Queued decisions superseded before they were pushed",
		}),

		pushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "netqos_policy_push_duration_seconds",
			Help:    "Duration of policy pushes to the enforcer",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 3},
		}),
	}
}

func (p *PrometheusCollector) ObserveSample(s domain.MetricsSample) {
	p.videoMbps.Set(s.VideoMbps)
	p.downloadMbps.Set(s.DownloadMbps)
	p.lossPercentMA.Set(s.VideoLossPercentMA)
	p.estimatedDelayMs.Set(s.EstimatedDelayMs)
}

func (p *PrometheusCollector) ObserveState(st domain.ControllerState) {
	p.downloadLimitMbps.Set(st.DownloadLimitMbps)
	p.maxVideoAvgMbps.Set(st.MaxObservedVideoAvgMbps)
	if st.Mode == domain.ModeActive {
		p.controllerActive.Set(1)
	} else {
		p.controllerActive.Set(0)
	}
}

func (p *PrometheusCollector) IncDecision(kind domain.DecisionKind) {
	p.decisionsTotal.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) ObservePush(r domain.PushResult) {
	p.pushesTotal.WithLabelValues(string(r.Status)).Inc()
	if r.Status != domain.PushSkipped {
		p.pushDuration.Observe(r.Duration.Seconds())
	}
}

func (p *PrometheusCollector) IncIngest(status string) {
	p.ingestTotal.WithLabelValues(status).Inc()
}

func (p *PrometheusCollector) IncDroppedDecision() {
	p.droppedDecisionsTotal.Inc()
}
