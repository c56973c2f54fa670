package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antoniostano/confidant/internal/config"
	"github.com/antoniostano/confidant/internal/logging"
)

const serviceName = "confidant"

var rootCmd = &cobra.Command{
	Use:   "confidant",
	Short: "Confidant – chat support, mood check-ins and progress insights",
	Long: `confidant serves the chat, check-in and progress API and ships a few
operator commands for schema setup and inspecting a user's progress.
Configuration comes from the environment, optionally seeded from .env.local and .env.`,
	SilenceUsage: true,
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(exportCmd)
}

// loadRuntime reads .env files, the environment and builds the logger.
func loadRuntime() (config.Config, *zap.Logger, error) {
	loaded, err := config.LoadDotEnv()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("dotenv: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config error: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init failed: %w", err)
	}
	if len(loaded) > 0 {
		logger.Debug("loaded env files", zap.Strings("files", loaded))
	}
	return cfg, logger, nil
}
