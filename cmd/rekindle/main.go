// Command rekindle runs the thought-resumption engine: a streaming relay
// server, a terminal chat panel that consumes it, and a transcript
// importer for seeding the store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rekindle/internal/config"
	"rekindle/internal/logging"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "rekindle",
	Short:         "Resume stored AI conversations and keep the insights",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "rekindle.yaml", "path to the config file")
	rootCmd.AddCommand(serveCmd, chatCmd, importCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads config and builds the logger shared by every subcommand.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
