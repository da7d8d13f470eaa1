package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lightninginspiration/supabridge/config"
	"github.com/lightninginspiration/supabridge/internal/app"
	"github.com/lightninginspiration/supabridge/internal/logging"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the exchange server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to build bridge", zap.Error(err))
				return err
			}

			defer func() {
				if cerr := a.Close(); cerr != nil {
					logger.Warn("failed to release resources", zap.Error(cerr))
				}
			}()

			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			logger.Info("server stopped")

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	return cmd
}
