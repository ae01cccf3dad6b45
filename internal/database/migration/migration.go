package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type migrationStep struct {
	Name string
	SQL  string
}

const sentinelQuery = "SELECT to_regclass('public.shares') IS NOT NULL"

var steps = []migrationStep{
	{
		Name: "create_table_shares",
		SQL: `CREATE TABLE IF NOT EXISTS shares (
  token         UUID        PRIMARY KEY,
  display_name  TEXT        NOT NULL,
  blob_ref      TEXT        NOT NULL,
  storage_key   TEXT        NOT NULL UNIQUE,
  size_bytes    BIGINT      NOT NULL CHECK (size_bytes >= 0),
  content_type  TEXT        NOT NULL,
  sender        TEXT        NULL,
  receiver      TEXT        NULL,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
  deleting_at   TIMESTAMPTZ NULL
);`,
	},
	{
		Name: "create_index_shares_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_shares_created_at ON shares (created_at);`,
	},
	{
		Name: "create_index_shares_deleting_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_shares_deleting_at ON shares (deleting_at) WHERE deleting_at IS NOT NULL;`,
	},
}

// EnsureMigrated checks if the 'shares' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, log *zap.Logger, dbHost string) error {
	start := time.Now()
	log = log.With(zap.String("component", "database"), zap.String("db_host", dbHost))

	log.Info("db_migration_check", zap.String("status", "starting"))

	var exists bool
	if err := db.QueryRowContext(ctx, sentinelQuery).Scan(&exists); err != nil {
		log.Error("db_migration_failed",
			zap.String("status", "error"),
			zap.Error(err),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		log.Info("db_migration_skip",
			zap.String("status", "success"),
			zap.String("reason", "schema already exists"),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return nil
	}

	log.Info("db_migration_start", zap.String("status", "in_progress"))

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Error("db_migration_failed",
				zap.String("status", "error"),
				zap.String("migration_step", step.Name),
				zap.Error(err),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		log.Info("db_migration_step",
			zap.String("status", "success"),
			zap.String("migration_step", step.Name),
			zap.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
		)
	}

	log.Info("db_migration_success",
		zap.String("status", "success"),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return nil
}
