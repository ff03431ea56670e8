package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netqos/internal/core/services"
	"netqos/internal/infrastructure/telemetry"
	"netqos/pkg/config"
	"netqos/pkg/logger"
	"netqos/pkg/retry"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type options struct {
	configPath string
	statsURL   string
	engineURL  string
	interval   time.Duration
	waitEngine bool
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "", "path to config.yaml")
	fs.StringVar(&o.statsURL, "stats-url", "", "override collector.stats_url")
	fs.StringVar(&o.engineURL, "engine-url", "", "override collector.engine_url")
	fs.DurationVar(&o.interval, "interval", 0, "override collector.interval")
	fs.BoolVar(&o.waitEngine, "wait-engine", true, "wait for the engine's /health before polling")
}

func (o *options) apply(cfg *config.Config) {
	if o.statsURL != "" {
		cfg.Collector.StatsURL = o.statsURL
	}
	if o.engineURL != "" {
		cfg.Collector.EngineURL = o.engineURL
	}
	if o.interval > 0 {
		cfg.Collector.Interval = o.interval
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "collector",
		Short:         "Poll switch statistics and forward derived samples to qosd",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(opts.configPath)
			if err != nil {
				return err
			}
			opts.apply(cfg)
			if cfg.Collector.StatsURL == "" || cfg.Collector.EngineURL == "" {
				return fmt.Errorf("collector.stats_url and collector.engine_url must be set")
			}
			return run(cmd.Context(), cfg, opts.waitEngine)
		},
	}
	opts.addFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg *config.Config, waitEngine bool) error {
	log := logger.NewWithOptions(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}).Sugar().With("component", "collector")
	defer log.Sync()

	forwarder := telemetry.NewEngineForwarder(cfg.Collector.EngineURL, cfg.Collector.Timeout)
	if waitEngine {
		log.Infow("Waiting for engine", "engine_url", cfg.Collector.EngineURL)
		if err := forwarder.WaitReady(ctx, retry.DefaultConfig()); err != nil {
			return fmt.Errorf("engine not reachable: %w", err)
		}
	}

	collector := services.NewCollector(
		telemetry.NewRESTStatsSource(cfg.Collector.StatsURL, cfg.Collector.Timeout),
		services.NewMetricsDeriver(cfg.Controller.LinkCapacityMbps, cfg.Controller.LossWindow, cfg.Controller.BandwidthWindow),
		nil,
		cfg.Collector.Interval,
		cfg.Collector.Timeout,
		log,
	)

	log.Infow("Collector started",
		"stats_url", cfg.Collector.StatsURL,
		"engine_url", cfg.Collector.EngineURL,
		"interval", cfg.Collector.Interval,
	)
	collector.Run(ctx, forwarder.Send)
	log.Info("Collector stopped")
	return nil
}
