package main

import (
	"context"
	"errors"
	"fmt"

	"netqos/internal/infrastructure/distributed"
	redisrepo "netqos/internal/infrastructure/repositories/redis"
	"netqos/pkg/retry"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newWatchCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print policy decisions published by running controllers",
		Long:  "watch subscribes to the Redis decisions channel and prints one line per decision. It needs redis.address to point at the controller's Redis.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			client, err := redisrepo.NewRedisClient(ctx, redisrepo.Options{
				Address:  cfg.Redis.Address,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				PoolSize: 2,
				Retry:    retry.DefaultConfig(),
			}, log)
			if err != nil {
				return err
			}
			defer client.Close()

			bus := distributed.NewEventBus(client, "watch-"+uuid.NewString(), log)
			defer bus.Close()

			out := cmd.OutOrStdout()
			err = bus.Subscribe(ctx, func(ev *distributed.Event) error {
				d, err := ev.Decision()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %-14s %s video=%.2fMbps/p%d download=%.2fMbps/p%d reason=%s\n",
					ev.Timestamp.Format("15:04:05"),
					ev.Type,
					d.ID,
					d.Video().BandwidthLimitMbps, d.Video().Priority,
					d.Download().BandwidthLimitMbps, d.Download().Priority,
					d.Reason,
				)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
