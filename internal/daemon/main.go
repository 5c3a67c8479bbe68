// Package daemon wires the sync engine together: database, lock backend,
// orchestrators, scheduler and the stale task reaper.
package daemon

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	gormmysql "gorm.io/driver/mysql"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-user-sub004/internal/adapter/factory"
	"github.com/TencentBlueKing/bk-user-sub004/internal/config"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/controller/synctask"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/dsn"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
	"github.com/TencentBlueKing/bk-user-sub004/internal/locker"
	"github.com/TencentBlueKing/bk-user-sub004/internal/scheduler"
	"github.com/TencentBlueKing/bk-user-sub004/internal/signal"
	"github.com/TencentBlueKing/bk-user-sub004/internal/syncer"
	"github.com/TencentBlueKing/bk-user-sub004/internal/tenantsync"
)

var syncRunsFinished = promauto.NewCounterVec( //nolint:gochecknoglobals
	prometheus.CounterOpts{
		Namespace: "bkuser",
		Subsystem: "sync",
		Name:      "runs_finished_total",
		Help:      "Finished sync runs by terminal status.",
	},
	[]string{"status"},
)

// Daemon represents the main application daemon.
type Daemon struct {
	db        *gorm.DB
	sources   *syncer.Orchestrator
	tenants   *tenantsync.Orchestrator
	scheduler *scheduler.Scheduler
	reaper    *scheduler.Reaper
	bus       *signal.Bus
}

// New creates a new Daemon instance with the provided configuration.
func New(cfg *config.Config) *Daemon {
	if cfg == nil {
		log.Fatal().Msg("config is nil")
		return nil
	}

	dbDriver := openDriver(cfg)

	db, err := gorm.Open(dbDriver, &gorm.Config{})
	if err != nil {
		panic("failed to connect database")
	}

	if err = db.AutoMigrate(
		&models.Tenant{},
		&models.DataSource{},
		&models.SourceUser{},
		&models.SourceDepartment{},
		&models.SourceDepartmentUserRelation{},
		&models.SourceLeaderRelation{},
		&models.TenantUser{},
		&models.TenantDepartment{},
		&models.TenantUserIDRecord{},
		&models.DataSourceSyncTask{},
		&models.TenantSyncTask{},
		&models.CollaborationStrategy{},
	); err != nil {
		panic("failed to migrate database")
	}

	if err = factory.Validate(); err != nil {
		panic("adapter registry incomplete: " + err.Error())
	}

	seed(cfg, db)

	lock := locker.New(openLockBackend(cfg), cfg.Lock.Prefix)
	bus := signal.NewBus()
	lockTTL := time.Duration(cfg.Sync.LockTTLMinutes) * time.Minute

	sources := syncer.New(db, lock, bus, lockTTL)
	tenants := tenantsync.New(db, lock, bus, lockTTL)
	sources.SetProjector(tenants)

	d := &Daemon{
		db:      db,
		sources: sources,
		tenants: tenants,
		reaper: scheduler.NewReaper(
			db,
			time.Duration(cfg.Sync.ReapIntervalSeconds)*time.Second,
			time.Duration(cfg.Sync.TaskCeilingHours)*time.Hour,
		),
		bus: bus,
	}

	d.scheduler = scheduler.New(
		db,
		d,
		time.Duration(cfg.Sync.SchedulerIntervalSeconds)*time.Second,
	)

	return d
}

// openDriver picks the gorm driver from the configured engine.
func openDriver(cfg *config.Config) gorm.Dialector {
	if cfg.DB.GormEngine == "postgres" {
		return gormpostgres.Open(dsn.Create(cfg))
	}

	return gormmysql.Open(dsn.Create(cfg))
}

// openLockBackend picks the lock backend from the configuration. Config
// validation already rejected unknown backends.
func openLockBackend(cfg *config.Config) locker.Backend {
	if cfg.Lock.Backend == "redis" {
		return locker.NewRedisBackend(cfg.Lock.RedisAddr, cfg.Lock.RedisPassword, cfg.Lock.RedisDB)
	}

	return locker.NewMemoryBackend()
}

// DB exposes the shared gorm handle.
func (d *Daemon) DB() *gorm.DB {
	return d.db
}

// Start runs the scheduler, the reaper and the metrics subscriber until the
// context is canceled.
func (d *Daemon) Start(ctx context.Context) error {
	completions, cancel := d.bus.Subscribe(64)
	defer cancel()

	go d.scheduler.Run(ctx)
	go d.reaper.Run(ctx)

	log.Info().Msg("sync engine started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sync engine stopped")

			return nil
		case completion := <-completions:
			syncRunsFinished.WithLabelValues(string(completion.Status)).Inc()
		}
	}
}

// EnqueueDataSourceSync creates a pending sync task for the source and
// executes it in the background, returning the task ID immediately.
func (d *Daemon) EnqueueDataSourceSync(sourceID uint64, opts syncer.Options) (uint64, error) {
	task, err := synctask.CreateDataSourceTask(d.db, sourceID, opts.Trigger, opts.Operator)
	if err != nil {
		return 0, err
	}

	go func() {
		if errRun := d.sources.ExecuteTask(context.Background(), task, opts); errRun != nil {
			log.Error().Err(errRun).
				Uint64("source_id", sourceID).
				Uint64("task_id", task.ID).
				Msg("data source sync failed")
		}
	}()

	return task.ID, nil
}

// EnqueueTenantSync creates a pending projection task for (tenant, source)
// and executes it in the background, returning the task ID immediately.
func (d *Daemon) EnqueueTenantSync(tenantID string, sourceID uint64, operator string) (uint64, error) {
	task, source, err := d.tenants.CreateTask(tenantID, sourceID, models.SyncTaskTriggerManual, operator)
	if err != nil {
		return 0, err
	}

	go func() {
		if errRun := d.tenants.ExecuteTask(context.Background(), source, task); errRun != nil {
			log.Error().Err(errRun).
				Str("tenant_id", tenantID).
				Uint64("source_id", sourceID).
				Uint64("task_id", task.ID).
				Msg("tenant sync failed")
		}
	}()

	return task.ID, nil
}

// RunDataSourceSync executes a sync for the source synchronously.
func (d *Daemon) RunDataSourceSync(ctx context.Context, sourceID uint64, opts syncer.Options) (uint64, error) {
	return d.sources.Run(ctx, sourceID, opts)
}

// RunTenantSync executes a tenant projection for (tenant, source)
// synchronously.
func (d *Daemon) RunTenantSync(
	ctx context.Context,
	tenantID string,
	sourceID uint64,
	operator string,
) (uint64, error) {
	return d.tenants.Run(ctx, tenantID, sourceID, models.SyncTaskTriggerManual, operator)
}
