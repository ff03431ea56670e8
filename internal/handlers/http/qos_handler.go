package http

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"netqos/internal/core/domain"
	"netqos/internal/core/ports"
	"netqos/internal/core/services"
	"netqos/internal/infrastructure/monitoring"
	"netqos/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxBodyBytes     = 64 << 10
	defaultListLimit = 50
	maxListLimit     = 1000
)

// Controller is the part of the control loop the HTTP API drives.
type Controller interface {
	Ingest(ctx context.Context, sample domain.MetricsSample) services.TickUpdate
	Status() services.Status
	LatestSample() (domain.MetricsSample, bool)
	Decisions(limit int) []domain.PolicyDecision
}

type QoSHandler struct {
	controller Controller
	ticks      ports.TickReader
	health     *monitoring.HealthChecker
	metrics    ports.MetricsCollector
	logger     *zap.SugaredLogger
}

// NewQoSHandler wires the API. ticks may be nil when the persistence backend
// cannot be read back.
func NewQoSHandler(
	controller Controller,
	ticks ports.TickReader,
	health *monitoring.HealthChecker,
	metrics ports.MetricsCollector,
	logger *zap.SugaredLogger,
) *QoSHandler {
	return &QoSHandler{
		controller: controller,
		ticks:      ticks,
		health:     health,
		metrics:    metrics,
		logger:     logger,
	}
}

// SetupRoutes registers the public probes and ingestion route on router and
// the query API on api, which may carry auth middleware.
func (h *QoSHandler) SetupRoutes(router *gin.Engine, api *gin.RouterGroup) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.POST("/metrics", h.IngestMetrics)

	api.POST("/metrics", h.IngestMetrics)
	api.GET("/metrics", h.GetMetrics)
	api.GET("/status", h.GetStatus)
	api.GET("/decisions", h.ListDecisions)
	api.GET("/ticks", h.ListTicks)
}

func (h *QoSHandler) IngestMetrics(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.metrics.IncIngest("invalid")
		c.Error(errors.NewInvalidInputError("failed to read body"))
		return
	}

	sample, err := ParseSample(body)
	if err != nil {
		h.metrics.IncIngest("invalid")
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	update := h.controller.Ingest(c.Request.Context(), sample)
	h.metrics.IncIngest("ok")

	var decisionID interface{}
	if update.Decision != nil {
		decisionID = update.Decision.ID
	}
	c.JSON(http.StatusOK, gin.H{
		"msg":      "ok",
		"decision": decisionID,
		"mode":     update.State.Mode,
		"event":    update.Event,
	})
}

func (h *QoSHandler) GetMetrics(c *gin.Context) {
	sample, ok := h.controller.LatestSample()
	if !ok {
		c.Error(errors.NewNotFoundError("no sample ingested yet"))
		return
	}
	c.JSON(http.StatusOK, sample.Snapshot())
}

func (h *QoSHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Status())
}

func (h *QoSHandler) ListDecisions(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		c.Error(err)
		return
	}
	decisions := h.controller.Decisions(limit)
	c.JSON(http.StatusOK, gin.H{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

func (h *QoSHandler) ListTicks(c *gin.Context) {
	if h.ticks == nil {
		c.Error(errors.NewServiceUnavailableError("tick history not available"))
		return
	}
	limit, err := parseLimit(c)
	if err != nil {
		c.Error(err)
		return
	}
	ticks, err := h.ticks.RecentTicks(c.Request.Context(), limit)
	if err != nil {
		h.logger.Warnw("failed to read ticks", "error", err)
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to read ticks", http.StatusInternalServerError))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ticks": ticks,
		"count": len(ticks),
	})
}

func (h *QoSHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *QoSHandler) Ready(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	if status.Healthy() {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	var appErr *errors.AppError
	if msg := status.Checks[monitoring.EnforcerCheck]; msg != "" && msg != "healthy" {
		appErr = errors.NewEnforcerUnavailableError(stderrors.New(msg))
	} else {
		appErr = errors.NewServiceUnavailableError("not ready")
	}
	for name, msg := range status.Checks {
		if msg != "healthy" {
			appErr.WithContext(name, msg)
		}
	}
	c.Error(appErr)
}

func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.NewInvalidInputError("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}
