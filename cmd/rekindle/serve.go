package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rekindle/internal/provider"
	"rekindle/internal/relay"
	"rekindle/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streaming relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := store.NewLocalStore(cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		gemini, err := provider.NewGemini(ctx, provider.GeminiConfig{
			APIKey: cfg.Provider.APIKey,
			Model:  cfg.Provider.Model,
		}, logger)
		if err != nil {
			return err
		}
		defer gemini.Close()

		if cfg.Provider.APIKey == "" {
			logger.Warn("no provider API key configured; chat requests will fail until GEMINI_API_KEY is set")
		}

		logger.Info("starting relay",
			zap.String("listen", cfg.Listen),
			zap.String("database", cfg.Database),
			zap.String("model", cfg.Provider.Model))

		return relay.NewServer(st, gemini, logger).Run(ctx, cfg.Listen)
	},
}
