// Package scheduler drives periodic data-source syncs and reaps abandoned
// sync tasks. A single ticker loop scans the source configurations and
// enqueues runs for the due ones; the persisted last-synced watermark makes
// the loop crash-safe without a separate schedule store.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-user-sub004/internal/db/controller/datasource"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
	"github.com/TencentBlueKing/bk-user-sub004/internal/syncer"
)

const defaultInterval = time.Minute

// Trigger enqueues sync work without blocking, returning the task ID.
type Trigger interface {
	EnqueueDataSourceSync(sourceID uint64, opts syncer.Options) (uint64, error)
}

// Scheduler periodically enqueues due data-source syncs.
type Scheduler struct {
	db       *gorm.DB
	trigger  Trigger
	interval time.Duration
	now      func() time.Time
}

// New creates a Scheduler polling at the given interval.
func New(db *gorm.DB, trigger Trigger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Scheduler{
		db:       db,
		trigger:  trigger,
		interval: interval,
		now:      time.Now,
	}
}

// Run loops until the context is canceled. Scan failures are logged and do
// not stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("sync scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sync scheduler stopped")

			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick scans all schedulable sources and enqueues the due ones.
func (s *Scheduler) Tick() {
	sources, err := datasource.ListSchedulable(s.db)
	if err != nil {
		log.Error().Err(err).Msg("failed to list schedulable data sources")

		return
	}

	attempts, err := s.latestAttempts()
	if err != nil {
		log.Error().Err(err).Msg("failed to load sync attempt watermarks")

		return
	}

	now := s.now()

	for _, source := range sources {
		if !s.due(&source, attempts[source.ID], now) {
			continue
		}

		taskID, errEnqueue := s.trigger.EnqueueDataSourceSync(source.ID, syncer.Options{
			Trigger: models.SyncTaskTriggerScheduled,
		})
		if errEnqueue != nil {
			log.Error().Err(errEnqueue).Uint64("source_id", source.ID).Msg("failed to enqueue scheduled sync")

			continue
		}

		log.Info().
			Uint64("source_id", source.ID).
			Uint64("task_id", taskID).
			Msg("scheduled sync enqueued")
	}
}

// latestAttempts returns the creation time of the newest sync task per
// source, successful or not.
func (s *Scheduler) latestAttempts() (map[uint64]time.Time, error) {
	type attemptRow struct {
		SourceID  uint64
		CreatedAt time.Time
	}

	var rows []attemptRow

	err := s.db.Model(&models.DataSourceSyncTask{}).
		Select("source_id, MAX(created_at) AS created_at").
		Group("source_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	attempts := make(map[uint64]time.Time, len(rows))
	for _, row := range rows {
		attempts[row.SourceID] = row.CreatedAt
	}

	return attempts, nil
}

// due decides whether a source should sync now. A fixed daily exec time
// takes precedence over the period. The watermark is the later of the last
// successful sync and the last attempt, so a failing source is retried on
// its configured schedule instead of on every tick, and double-triggering
// after restarts is prevented.
func (s *Scheduler) due(source *models.DataSource, lastAttempt time.Time, now time.Time) bool {
	mark := lastAttempt
	if source.LastSyncedAt != nil && source.LastSyncedAt.After(mark) {
		mark = *source.LastSyncedAt
	}

	if source.SyncExecTime != "" {
		execTime, err := time.ParseInLocation("15:04", source.SyncExecTime, now.Location())
		if err != nil {
			log.Warn().
				Uint64("source_id", source.ID).
				Str("exec_time", source.SyncExecTime).
				Msg("invalid sync exec time, source skipped")

			return false
		}

		todayExec := time.Date(
			now.Year(), now.Month(), now.Day(),
			execTime.Hour(), execTime.Minute(), 0, 0, now.Location(),
		)

		if now.Before(todayExec) {
			return false
		}

		return mark.Before(todayExec)
	}

	if source.SyncPeriod <= 0 {
		return false
	}

	if mark.IsZero() {
		return true
	}

	return now.Sub(mark) >= time.Duration(source.SyncPeriod)*time.Minute
}
