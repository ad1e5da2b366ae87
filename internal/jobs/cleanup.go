package jobs

import (
	"log/slog"
	"time"

	"gorm.io/gorm"

	"gcgateway/internal/analytics"
	"gcgateway/internal/config"
	"gcgateway/internal/database"
)

// CleanupJob removes raw events and closed sessions past the retention
// period. Aggregate counters are kept forever; they are the durable
// reporting surface once the raw rows age out.
type CleanupJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewCleanupJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *CleanupJob {
	return &CleanupJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run deletes expired rows in batches to avoid holding the write lock.
// Open sessions are never deleted regardless of age.
func (j *CleanupJob) Run() error {
	retentionDays := j.cfg.EventsRetentionDays
	db := j.dbManager.GetConnection()
	cutoffDate := time.Now().UTC().AddDate(0, 0, -retentionDays)

	j.logger.Info("Starting retention cleanup",
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff_date", cutoffDate))

	deletedEvents, err := j.deleteInBatches(db, "events", func(batch *gorm.DB) *gorm.DB {
		return batch.Where("timestamp < ?", cutoffDate).Delete(&analytics.Event{})
	})
	if err != nil {
		return err
	}

	deletedSessions, err := j.deleteInBatches(db, "sessions", func(batch *gorm.DB) *gorm.DB {
		return batch.Where("end_time IS NOT NULL AND start_time < ?", cutoffDate).Delete(&analytics.Session{})
	})
	if err != nil {
		return err
	}

	if deletedEvents == 0 && deletedSessions == 0 {
		j.logger.Debug("No expired rows to clean up")
		return nil
	}

	j.logger.Info("Retention cleanup completed",
		slog.Int64("deleted_events", deletedEvents),
		slog.Int64("deleted_sessions", deletedSessions),
		slog.Int("retention_days", retentionDays))

	return nil
}

func (j *CleanupJob) deleteInBatches(db *gorm.DB, table string, deleteFn func(*gorm.DB) *gorm.DB) (int64, error) {
	const batchSize = 1000
	totalDeleted := int64(0)

	for {
		result := deleteFn(db.Limit(batchSize))
		if result.Error != nil {
			j.logger.Error("Failed to delete expired rows",
				slog.String("table", table),
				slog.Any("error", result.Error),
				slog.Int64("deleted_so_far", totalDeleted))
			return totalDeleted, result.Error
		}

		totalDeleted += result.RowsAffected

		if result.RowsAffected < int64(batchSize) {
			return totalDeleted, nil
		}

		// Small delay between batches to limit write lock contention
		time.Sleep(100 * time.Millisecond)
	}
}
