package main

import (
	"fmt"
	"time"

	"netqos/internal/infrastructure/middleware"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type tokenOptions struct {
	subject string
	ttl     time.Duration
}

func (o *tokenOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.subject, "subject", "collector", "token subject")
	fs.DurationVar(&o.ttl, "ttl", 24*time.Hour, "token lifetime")
}

func newTokenCommand(root *rootOptions) *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not set")
			}
			token, err := middleware.IssueToken(cfg.Auth.JWTSecret, opts.subject, opts.ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	opts.addFlags(cmd.Flags())
	return cmd
}
