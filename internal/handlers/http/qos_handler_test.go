package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"netqos/internal/core/domain"
	"netqos/internal/core/services"
	"netqos/internal/infrastructure/middleware"
	"netqos/internal/infrastructure/monitoring"
	"netqos/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testAPI struct {
	router *gin.Engine
	loop   *services.ControlLoop
	sink   *memory.Sink
	health *monitoring.HealthChecker
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop().Sugar()

	metrics := monitoring.NewPrometheusCollector(prometheus.NewRegistry())
	sink := memory.NewSink(100)
	engine := services.NewDecisionEngine(services.DefaultEngineConfig(), nil)
	loop := services.NewControlLoop(engine, services.ControlLoopOptions{
		Sink:    sink,
		Metrics: metrics,
		History: 10,
	}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	t.Cleanup(func() {
		cancel()
		loop.Stop()
	})

	health := monitoring.NewHealthChecker()
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(logger), middleware.ErrorHandlerMiddleware(logger))
	NewQoSHandler(loop, sink, health, metrics, logger).SetupRoutes(router, router.Group("/api/v1"))

	return &testAPI{router: router, loop: loop, sink: sink, health: health}
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func lossyBody(loss float64) string {
	b, _ := json.Marshal(map[string]float64{
		"video_mbps":            4,
		"download_mbps":         5,
		"video_loss_percent_ma": loss,
		"raw_loss_percent":      loss,
	})
	return string(b)
}

func TestIngestMetrics_ActivatesAfterPersistentLoss(t *testing.T) {
	api := newTestAPI(t)

	var last map[string]interface{}
	for i, loss := range []float64{1.2, 1.5, 1.3} {
		path := "/metrics"
		if i%2 == 1 {
			path = "/api/v1/metrics"
		}
		w := api.do(http.MethodPost, path, lossyBody(loss))
		require.Equal(t, http.StatusOK, w.Code)
		last = decode(t, w)
		assert.Equal(t, "ok", last["msg"])
		if i < 2 {
			assert.Nil(t, last["decision"])
		}
	}
	assert.NotEmpty(t, last["decision"])
	assert.Equal(t, string(domain.ModeActive), last["mode"])
	assert.Equal(t, string(domain.EventActivated), last["event"])

	w := api.do(http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status services.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, domain.ModeActive, status.State.Mode)
	assert.Equal(t, 1.0, status.State.DownloadLimitMbps)
	require.NotNil(t, status.LastDecision)
	assert.Len(t, status.MeterPlan, domain.NumClasses)

	w = api.do(http.MethodGet, "/api/v1/decisions?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode(t, w)["count"])

	w = api.do(http.MethodGet, "/api/v1/ticks?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, decode(t, w)["count"])
}

func TestIngestMetrics_InvalidBody(t *testing.T) {
	api := newTestAPI(t)

	for _, body := range []string{"not json", "[1,2,3]"} {
		w := api.do(http.MethodPost, "/metrics", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_INPUT", decode(t, w)["error"])
	}
	assert.Equal(t, uint64(0), api.loop.Status().Ticks)
}

func TestGetMetrics(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/v1/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	api.do(http.MethodPost, "/metrics", `{"video_mbps": 2, "download_mbps": 3}`)
	w = api.do(http.MethodGet, "/api/v1/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 5.0, body["total_mbps"])
	assert.Equal(t, 2.0, body["video_mbps"])
}

func TestListDecisions_BadLimit(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(http.MethodGet, "/api/v1/decisions?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/ready", "").Code)

	api.health.AddCheck("redis", func(ctx context.Context) (bool, error) {
		return false, errors.New("connection refused")
	}, time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, api.do(http.MethodGet, "/health", "").Code)

	var body struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	w := api.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error)
	assert.Equal(t, "connection refused", body.Details["redis"])

	api.health.AddCheck(monitoring.EnforcerCheck, func(ctx context.Context) (bool, error) {
		return false, errors.New("circuit open")
	}, time.Second)
	w = api.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ENFORCER_UNAVAILABLE", body.Error)
	assert.Equal(t, "circuit open", body.Details[monitoring.EnforcerCheck])
}
