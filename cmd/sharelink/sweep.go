package main

import (
	"context"
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sharelink/internal/database"
	"sharelink/internal/metrics"
	"sharelink/internal/repository/postgres"
	"sharelink/internal/service"
	"sharelink/internal/storage"
)

// NewSweepCommand creates the 'sweep' command. It runs one pass and exits; schedule it daily with cron or a Kubernetes CronJob.
func NewSweepCommand(ctx context.Context) *cobra.Command {
	var printReport bool

	cmd := &cobra.Command{
		Use:     "sweep",
		Example: "$ sharelink sweep --report",
		Short:   "Delete shares older than the retention window",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			store, err := storage.NewMinIO(cfg.MinIO, log)
			if err != nil {
				log.Error("failed to initialize object storage", zap.Error(err))
				return err
			}

			svc := service.NewShareService(store, postgres.NewSharePostgres(db), nil,
				metrics.New(prometheus.NewRegistry()), log, serviceConfig(cfg))

			report, err := svc.Sweep(ctx)
			if err != nil {
				return err
			}
			if printReport {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printReport, "report", false, "print the sweep report as JSON")

	return cmd
}
