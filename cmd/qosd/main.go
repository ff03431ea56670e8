package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"netqos/pkg/config"
	"netqos/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "qosd",
		Short:         "Closed-loop bandwidth QoS controller",
		Long:          "qosd ingests link metrics, decides per-class bandwidth policies and pushes them to the switch enforcer.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (default: search configs/, /etc/netqos/, .)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(
		newServeCommand(opts),
		newWatchCommand(opts),
		newTokenCommand(opts),
	)
	return cmd
}

// load resolves the configuration and builds the process logger from it.
func (o *rootOptions) load() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Resolve(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	zapLogger := logger.NewWithOptions(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	return cfg, zapLogger.Sugar(), nil
}
