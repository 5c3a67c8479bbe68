package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-user-sub004/internal/db/controller/synctask"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

const (
	defaultReapInterval = time.Hour
	defaultTaskCeiling  = 24 * time.Hour
)

// Reaper force-fails sync tasks stuck in pending or running beyond the
// ceiling. It only fixes the bookkeeping: the underlying work, if any is
// still alive, is bounded by adapter timeouts and the lock TTL.
type Reaper struct {
	db       *gorm.DB
	interval time.Duration
	ceiling  time.Duration
	now      func() time.Time
}

// NewReaper creates a Reaper with the given scan interval and task age
// ceiling; zero values fall back to the defaults.
func NewReaper(db *gorm.DB, interval, ceiling time.Duration) *Reaper {
	if interval <= 0 {
		interval = defaultReapInterval
	}

	if ceiling <= 0 {
		ceiling = defaultTaskCeiling
	}

	return &Reaper{db: db, interval: interval, ceiling: ceiling, now: time.Now}
}

// Run loops until the context is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().Dur("ceiling", r.ceiling).Msg("stale task reaper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stale task reaper stopped")

			return
		case <-ticker.C:
			r.Reap()
		}
	}
}

// Reap flips every overdue task to failed with an explanatory log line.
func (r *Reaper) Reap() {
	cutoff := r.now().Add(-r.ceiling)
	explanation := fmt.Sprintf("forcibly failed by the stale task reaper after running longer than %s", r.ceiling)

	sourceTasks, err := synctask.ListStaleDataSourceTasks(r.db, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to list stale data source sync tasks")
	}

	for i := range sourceTasks {
		task := &sourceTasks[i]

		if errLog := synctask.AppendDataSourceTaskLog(r.db, task, explanation); errLog != nil {
			log.Error().Err(errLog).Uint64("task_id", task.ID).Msg("failed to append reap log")
		}

		if errFinish := synctask.FinishDataSourceTask(r.db, task, models.SyncTaskStatusFailed, false); errFinish != nil {
			log.Error().Err(errFinish).Uint64("task_id", task.ID).Msg("failed to reap task")

			continue
		}

		log.Warn().Uint64("task_id", task.ID).Uint64("source_id", task.SourceID).Msg("stale data source sync task reaped")
	}

	tenantTasks, err := synctask.ListStaleTenantTasks(r.db, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to list stale tenant sync tasks")
	}

	for i := range tenantTasks {
		task := &tenantTasks[i]

		if errLog := synctask.AppendTenantTaskLog(r.db, task, explanation); errLog != nil {
			log.Error().Err(errLog).Uint64("task_id", task.ID).Msg("failed to append reap log")
		}

		if errFinish := synctask.FinishTenantTask(r.db, task, models.SyncTaskStatusFailed, false); errFinish != nil {
			log.Error().Err(errFinish).Uint64("task_id", task.ID).Msg("failed to reap task")

			continue
		}

		log.Warn().Uint64("task_id", task.ID).Str("tenant_id", task.TenantID).Msg("stale tenant sync task reaped")
	}
}
