package tasks

import (
	"context"
	"fmt"
	"time"
)

// newDBMaintenanceTask creates the task that compacts the recording
// database. Ingestion writes append-only tables that only grow, so the
// periodic VACUUM keeps the file size bounded by live data.
func newDBMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "db_maintenance")

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting database maintenance task...")
		startTime := time.Now()

		err := deps.Store.RunMaintenance(ctx)
		duration := time.Since(startTime)

		if err != nil {
			log.ErrorContext(ctx, "Database maintenance task failed", "error", err, "duration", duration)
			return fmt.Errorf("database maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "Database maintenance task completed", "duration", duration)
		return nil
	}
}
