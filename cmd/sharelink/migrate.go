package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sharelink/internal/database"
	"sharelink/internal/database/migration"
)

// NewMigrateCommand creates the 'migrate' command, which bootstraps the shares schema and exits.
func NewMigrateCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:     "migrate",
		Example: "$ sharelink migrate",
		Short:   "Create the shares table and indexes if they are missing",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			db, err := database.NewPostgres(cfg.Database, log)
			if err != nil {
				log.Error("failed to connect to database", zap.Error(err))
				return err
			}
			defer db.Close()

			return migration.EnsureMigrated(ctx, db, log, cfg.Database.Host)
		},
	}
}
