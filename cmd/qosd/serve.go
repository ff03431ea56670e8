package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"netqos/internal/core/domain"
	"netqos/internal/core/ports"
	"netqos/internal/core/services"
	httphandlers "netqos/internal/handlers/http"
	decisionbus "netqos/internal/infrastructure/distributed"
	"netqos/internal/infrastructure/enforcer"
	"netqos/internal/infrastructure/middleware"
	"netqos/internal/infrastructure/monitoring"
	"netqos/internal/infrastructure/observer"
	"netqos/internal/infrastructure/reliability"
	"netqos/internal/infrastructure/repositories"
	"netqos/internal/infrastructure/telemetry"
	"netqos/pkg/circuitbreaker"
	"netqos/pkg/config"
	"netqos/pkg/distributed"
	"netqos/pkg/tracing"
	"netqos/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const enforcerLeaseKey = "netqos:enforcer:lease"

func newServeCommand(root *rootOptions) *cobra.Command {
	var embedded bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the controller and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			if cmd.Flags().Changed("embedded-collector") {
				cfg.Collector.Embedded = embedded
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().BoolVar(&embedded, "embedded-collector", false, "poll the stats source in-process instead of waiting for POSTs")
	return cmd
}

func buildEnforcer(cfg *config.Config, log *zap.SugaredLogger, health *monitoring.HealthChecker) (ports.PolicyEnforcer, error) {
	if !cfg.Enforcer.Enabled {
		log.Warn("policy enforcer disabled, decisions will not be pushed")
		return enforcer.Disabled{}, nil
	}

	validator, err := validation.NewPolicyValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to build policy validator: %w", err)
	}
	var enf ports.PolicyEnforcer = enforcer.NewRESTEnforcer(cfg.Enforcer.URL, cfg.Enforcer.Method, cfg.Enforcer.Timeout, validator)

	cb := cfg.Enforcer.CircuitBreaker
	if cb.Enabled {
		breaker := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold:    cb.FailureThreshold,
			SuccessThreshold:    cb.SuccessThreshold,
			Timeout:             cb.OpenTimeout,
			MaxRequestsHalfOpen: 1,
		})
		health.AddBreakerCheck(monitoring.EnforcerCheck, breaker)
		enf = reliability.NewGuardedEnforcer(enf, breaker, log)
	}

	log.Infow("policy enforcer configured",
		"url", cfg.Enforcer.URL,
		"method", cfg.Enforcer.Method,
		"circuit_breaker", cb.Enabled,
	)
	return enf, nil
}

func serve(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "netqos",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewPrometheusCollector(reg)
	health := monitoring.NewHealthChecker()

	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	sink, err := repoFactory.CreateSink()
	if err != nil {
		return fmt.Errorf("failed to create persistence sink: %w", err)
	}

	var publisher ports.DecisionPublisher
	var bus *decisionbus.EventBus
	redisClient := repoFactory.RedisClient()
	if redisClient != nil {
		health.AddRedisCheck(redisClient, 2*time.Second)
		bus = decisionbus.NewEventBus(redisClient, uuid.NewString(), log)
		publisher = bus
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()

	enf, err := buildEnforcer(cfg, log, health)
	if err != nil {
		return err
	}
	var leaseDone chan struct{}
	if redisClient != nil && cfg.Enforcer.Enabled && cfg.Enforcer.LeaseTTL > 0 {
		lease := distributed.NewLease(redisClient, enforcerLeaseKey, cfg.Enforcer.LeaseTTL)
		lease.OnChange(func(held bool) {
			log.Infow("enforcer lease changed", "held", held)
		})
		leaseDone = make(chan struct{})
		go func() {
			lease.Run(loopCtx)
			close(leaseDone)
		}()
		enf = reliability.NewStandbyEnforcer(enf, lease)
	}

	engine := services.NewDecisionEngine(services.NewEngineConfig(cfg), nil)
	loop := services.NewControlLoop(engine, services.ControlLoopOptions{
		Enforcer:    enf,
		Sink:        sink,
		Publisher:   publisher,
		Metrics:     metrics,
		QueueSize:   cfg.Enforcer.Queue,
		History:     cfg.Controller.DecisionHistory,
		PushTimeout: cfg.Enforcer.Timeout,
	}, log)

	var hub *observer.Hub
	if cfg.Observer.Enabled {
		hub = observer.NewHub(cfg.Observer.PingInterval, cfg.Observer.WriteTimeout, log)
		loop.Subscribe(hub)
	}

	loop.Start(loopCtx)

	if cfg.Collector.Embedded {
		collector := services.NewCollector(
			telemetry.NewRESTStatsSource(cfg.Collector.StatsURL, cfg.Collector.Timeout),
			services.NewMetricsDeriver(cfg.Controller.LinkCapacityMbps, cfg.Controller.LossWindow, cfg.Controller.BandwidthWindow),
			nil,
			cfg.Collector.Interval,
			cfg.Collector.Timeout,
			log,
		)
		go collector.Run(loopCtx, func(ctx context.Context, s domain.MetricsSample) error {
			loop.Ingest(ctx, s)
			return nil
		})
		log.Infow("embedded collector started", "stats_url", cfg.Collector.StatsURL, "interval", cfg.Collector.Interval)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(log.Desugar()),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	api := router.Group("/api/v1")
	if cfg.Auth.Enabled {
		api.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	}
	httphandlers.NewQoSHandler(loop, sink, health, metrics, log).SetupRoutes(router, api)
	if hub != nil {
		api.GET("/ws", gin.WrapH(hub))
	}
	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.PrometheusPath, gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting netqos controller",
			"address", cfg.Server.Address,
			"link_capacity_mbps", cfg.Controller.LinkCapacityMbps,
			"persistence", cfg.Persistence.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
		log.Errorw("Server failed", "error", runErr)
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		srv.Close()
	}

	// Stop intake first so the final ticks reach the sink before it closes.
	cancelLoop()
	loop.Stop()
	if leaseDone != nil {
		<-leaseDone
	}
	if err := sink.Close(shutdownCtx); err != nil {
		log.Errorw("Error closing persistence sink", "error", err)
	}
	if bus != nil {
		bus.Close()
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("netqos controller stopped")
	return runErr
}
