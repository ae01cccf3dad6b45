package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sharelink/internal/config"
	"sharelink/internal/logger"
)

// NewRootCommand returns the root command with all subcommands attached.
func NewRootCommand(ctx context.Context) *cobra.Command {
	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:   "sharelink",
		Short: "Temporary file sharing service.",
		Long: `sharelink stores uploaded files in an S3-compatible bucket and hands out
short-lived links to them. Links can be emailed once and expire after the
retention window, when the sweep removes both the file and its record.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(NewServeCommand(ctx))
	rootCmd.AddCommand(NewSweepCommand(ctx))
	rootCmd.AddCommand(NewMigrateCommand(ctx))

	return rootCmd
}

// bootstrap loads configuration from the environment and builds the process logger.
func bootstrap() (*config.AppConfig, *zap.Logger, error) {
	cfg := config.Load()
	log, err := logger.New(cfg.Env, cfg.LogLevel, cfg.Location())
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}
