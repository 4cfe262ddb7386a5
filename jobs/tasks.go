package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsedesk/pulsedesk/internal/observability"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskMigrationRefresh recomputes the legacy-migration gauge.
	TaskMigrationRefresh = "metrics:migration_refresh"
	// TaskAuditPrune deletes audit records past the retention window.
	TaskAuditPrune = "audit:prune"
)

// NewMigrationRefreshTask constructs the migration-gauge refresh task.
func NewMigrationRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskMigrationRefresh, nil)
}

// NewAuditPruneTask constructs the audit prune task.
func NewAuditPruneTask() *asynq.Task {
	return asynq.NewTask(TaskAuditPrune, nil)
}

// MigrationRefreshHandler publishes the count of active principals still
// running on the legacy role fallback.
func MigrationRefreshHandler(pool *pgxpool.Pool, metrics *observability.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var count int64
		err := pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM users WHERE is_active AND role_id IS NULL`).Scan(&count)
		if err != nil {
			logger.Error("migration refresh", slog.Any("error", err))
			return err
		}
		metrics.SetUnmigratedUsers(count)
		logger.Info("migration gauge refreshed", slog.Int64("unmigrated_users", count))
		return nil
	}
}

// AuditPruneHandler deletes audit records older than the retention window.
func AuditPruneHandler(pool *pgxpool.Pool, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tag, err := pool.Exec(ctx,
			`DELETE FROM audit_logs WHERE created_at < NOW() - make_interval(secs => $1)`, retention.Seconds())
		if err != nil {
			logger.Error("audit prune", slog.Any("error", err))
			return err
		}
		logger.Info("audit logs pruned", slog.Int64("deleted", tag.RowsAffected()))
		return nil
	}
}
