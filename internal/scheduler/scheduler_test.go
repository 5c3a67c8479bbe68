package scheduler

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-user-sub004/internal/db/controller/synctask"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
	"github.com/TencentBlueKing/bk-user-sub004/internal/syncer"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to create test database")

	err = db.AutoMigrate(&models.DataSource{}, &models.DataSourceSyncTask{}, &models.TenantSyncTask{})
	require.NoError(t, err, "failed to migrate test database")

	return db
}

// fakeTrigger records enqueued syncs. With a database attached it also
// creates the pending task row, like the real engine does.
type fakeTrigger struct {
	db       *gorm.DB
	enqueued []uint64
}

func (f *fakeTrigger) EnqueueDataSourceSync(sourceID uint64, opts syncer.Options) (uint64, error) {
	f.enqueued = append(f.enqueued, sourceID)

	if f.db != nil {
		task, err := synctask.CreateDataSourceTask(f.db, sourceID, opts.Trigger, opts.Operator)
		if err != nil {
			return 0, err
		}

		return task.ID, nil
	}

	return uint64(len(f.enqueued)), nil
}

func at(t *testing.T, value string) time.Time {
	t.Helper()

	parsed, err := time.ParseInLocation("2006-01-02 15:04", value, time.Local)
	require.NoError(t, err)

	return parsed
}

func TestDuePeriod(t *testing.T) {
	s := New(nil, nil, 0)
	now := at(t, "2026-08-28 12:00")

	lastRecent := now.Add(-10 * time.Minute)
	lastOld := now.Add(-45 * time.Minute)

	testCases := []struct {
		name        string
		source      models.DataSource
		lastAttempt time.Time
		want        bool
	}{
		{
			name:   "never synced with period",
			source: models.DataSource{SyncPeriod: 30},
			want:   true,
		},
		{
			name:   "period not yet elapsed",
			source: models.DataSource{SyncPeriod: 30, LastSyncedAt: &lastRecent},
			want:   false,
		},
		{
			name:   "period elapsed",
			source: models.DataSource{SyncPeriod: 30, LastSyncedAt: &lastOld},
			want:   true,
		},
		{
			name:        "recent failed attempt holds off the retry",
			source:      models.DataSource{SyncPeriod: 30},
			lastAttempt: lastRecent,
			want:        false,
		},
		{
			name:        "failed attempt older than the period",
			source:      models.DataSource{SyncPeriod: 30},
			lastAttempt: lastOld,
			want:        true,
		},
		{
			name:   "no schedule at all",
			source: models.DataSource{},
			want:   false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.due(&tc.source, tc.lastAttempt, now))
		})
	}
}

func TestDueFixedExecTime(t *testing.T) {
	s := New(nil, nil, 0)

	yesterday := at(t, "2026-08-27 03:05")
	todayAfterExec := at(t, "2026-08-28 03:05")

	testCases := []struct {
		name        string
		source      models.DataSource
		lastAttempt time.Time
		now         time.Time
		want        bool
	}{
		{
			name:   "before today's exec time",
			source: models.DataSource{SyncExecTime: "03:00"},
			now:    at(t, "2026-08-28 02:59"),
			want:   false,
		},
		{
			name:   "after exec time, never synced",
			source: models.DataSource{SyncExecTime: "03:00"},
			now:    at(t, "2026-08-28 03:01"),
			want:   true,
		},
		{
			name:   "after exec time, last synced yesterday",
			source: models.DataSource{SyncExecTime: "03:00", LastSyncedAt: &yesterday},
			now:    at(t, "2026-08-28 03:01"),
			want:   true,
		},
		{
			name:   "already synced after today's exec time",
			source: models.DataSource{SyncExecTime: "03:00", LastSyncedAt: &todayAfterExec},
			now:    at(t, "2026-08-28 09:00"),
			want:   false,
		},
		{
			name: "exec time takes precedence over period",
			source: models.DataSource{
				SyncExecTime: "03:00",
				SyncPeriod:   1,
				LastSyncedAt: &todayAfterExec,
			},
			now:  at(t, "2026-08-28 09:00"),
			want: false,
		},
		{
			name:        "failed attempt after today's exec time",
			source:      models.DataSource{SyncExecTime: "03:00"},
			lastAttempt: at(t, "2026-08-28 03:01"),
			now:         at(t, "2026-08-28 09:00"),
			want:        false,
		},
		{
			name:   "invalid exec time is skipped",
			source: models.DataSource{SyncExecTime: "25:99"},
			now:    at(t, "2026-08-28 09:00"),
			want:   false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.due(&tc.source, tc.lastAttempt, tc.now))
		})
	}
}

func TestTickEnqueuesDueSources(t *testing.T) {
	db := setupTestDB(t)

	stale := time.Now().Add(-2 * time.Hour)
	recent := time.Now().Add(-time.Minute)

	require.NoError(t, db.Create(&models.DataSource{
		TenantID: "acme", Name: "due", Kind: models.DataSourceKindLDAP, SyncPeriod: 30, LastSyncedAt: &stale,
	}).Error)
	require.NoError(t, db.Create(&models.DataSource{
		TenantID: "acme", Name: "not due", Kind: models.DataSourceKindLDAP, SyncPeriod: 30, LastSyncedAt: &recent,
	}).Error)
	require.NoError(t, db.Create(&models.DataSource{
		TenantID: "acme", Name: "workbook", Kind: models.DataSourceKindExcel, SyncPeriod: 30,
	}).Error)

	trigger := &fakeTrigger{}
	s := New(db, trigger, 0)

	s.Tick()

	assert.Equal(t, []uint64{1}, trigger.enqueued)
}

func TestFailedRunWaitsForThePeriod(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.Create(&models.DataSource{
		TenantID: "acme", Name: "flaky", Kind: models.DataSourceKindLDAP, SyncPeriod: 60,
	}).Error)

	trigger := &fakeTrigger{db: db}
	s := New(db, trigger, 0)

	s.Tick()
	require.Len(t, trigger.enqueued, 1)

	// The run fails, leaving LastSyncedAt untouched.
	var task models.DataSourceSyncTask
	require.NoError(t, db.Order("id DESC").First(&task).Error)
	require.NoError(t, synctask.StartDataSourceTask(db, &task))
	require.NoError(t, synctask.FinishDataSourceTask(db, &task, models.SyncTaskStatusFailed, false))

	// The immediately following tick does not re-enqueue the source.
	s.Tick()
	assert.Len(t, trigger.enqueued, 1)

	// Once the period elapses the source is attempted again.
	s.now = func() time.Time { return time.Now().Add(61 * time.Minute) }
	s.Tick()
	assert.Len(t, trigger.enqueued, 2)
}

func TestReapForceFailsStaleTasks(t *testing.T) {
	db := setupTestDB(t)

	stale := models.DataSourceSyncTask{
		SourceID: 1,
		Status:   models.SyncTaskStatusRunning,
		Trigger:  models.SyncTaskTriggerScheduled,
	}
	require.NoError(t, db.Create(&stale).Error)
	require.NoError(t, db.Model(&stale).Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	fresh := models.DataSourceSyncTask{
		SourceID: 1,
		Status:   models.SyncTaskStatusRunning,
		Trigger:  models.SyncTaskTriggerScheduled,
	}
	require.NoError(t, db.Create(&fresh).Error)

	staleTenant := models.TenantSyncTask{
		TenantID: "acme", SourceID: 1, SourceTenantID: "acme",
		Status:  models.SyncTaskStatusPending,
		Trigger: models.SyncTaskTriggerSignal,
	}
	require.NoError(t, db.Create(&staleTenant).Error)
	require.NoError(t, db.Model(&staleTenant).Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	r := NewReaper(db, 0, 0)
	r.Reap()

	var reaped models.DataSourceSyncTask
	require.NoError(t, db.First(&reaped, stale.ID).Error)
	assert.Equal(t, models.SyncTaskStatusFailed, reaped.Status)
	assert.Contains(t, reaped.Logs, "stale task reaper")

	var untouched models.DataSourceSyncTask
	require.NoError(t, db.First(&untouched, fresh.ID).Error)
	assert.Equal(t, models.SyncTaskStatusRunning, untouched.Status)

	var reapedTenant models.TenantSyncTask
	require.NoError(t, db.First(&reapedTenant, staleTenant.ID).Error)
	assert.Equal(t, models.SyncTaskStatusFailed, reapedTenant.Status)
}

func TestReapedTaskStaysTerminal(t *testing.T) {
	db := setupTestDB(t)

	task := models.DataSourceSyncTask{
		SourceID: 1,
		Status:   models.SyncTaskStatusRunning,
		Trigger:  models.SyncTaskTriggerScheduled,
	}
	require.NoError(t, db.Create(&task).Error)
	require.NoError(t, db.Model(&task).Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	r := NewReaper(db, 0, 0)
	r.Reap()

	// A second pass finds nothing to reap.
	r.Reap()

	var count int64
	require.NoError(t, db.Model(&models.DataSourceSyncTask{}).
		Where("status = ?", models.SyncTaskStatusFailed).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
