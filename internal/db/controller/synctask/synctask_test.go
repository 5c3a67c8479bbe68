package synctask

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to create test database")

	err = db.AutoMigrate(&models.DataSourceSyncTask{}, &models.TenantSyncTask{})
	require.NoError(t, err, "failed to migrate test database")

	return db
}

func TestDataSourceTaskLifecycle(t *testing.T) {
	db := setupTestDB(t)

	_, err := CreateDataSourceTask(nil, 1, models.SyncTaskTriggerManual, "")
	require.ErrorIs(t, err, ErrDBNil)

	task, err := CreateDataSourceTask(db, 1, models.SyncTaskTriggerManual, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.SyncTaskStatusPending, task.Status)
	assert.Equal(t, "admin", task.Operator)

	require.NoError(t, StartDataSourceTask(db, task))
	assert.Equal(t, models.SyncTaskStatusRunning, task.Status)
	assert.False(t, task.StartAt.IsZero())

	require.NoError(t, AppendDataSourceTaskLog(db, task, "fetched 10 users"))
	assert.Contains(t, task.Logs, "fetched 10 users")

	require.NoError(t, FinishDataSourceTask(db, task, models.SyncTaskStatusSuccess, true))
	assert.Equal(t, models.SyncTaskStatusSuccess, task.Status)
	assert.True(t, task.HasWarning)
	assert.Greater(t, task.Duration, time.Duration(0))

	// Round-trip through the database.
	var stored models.DataSourceSyncTask
	require.NoError(t, db.First(&stored, task.ID).Error)
	assert.Equal(t, models.SyncTaskStatusSuccess, stored.Status)
	assert.Contains(t, stored.Logs, "fetched 10 users")
}

func TestTerminalTasksAreImmutable(t *testing.T) {
	db := setupTestDB(t)

	task, err := CreateDataSourceTask(db, 1, models.SyncTaskTriggerScheduled, "")
	require.NoError(t, err)

	require.NoError(t, StartDataSourceTask(db, task))
	require.NoError(t, FinishDataSourceTask(db, task, models.SyncTaskStatusFailed, false))

	require.ErrorIs(t, StartDataSourceTask(db, task), ErrTaskTerminal)
	require.ErrorIs(t, FinishDataSourceTask(db, task, models.SyncTaskStatusSuccess, false), ErrTaskTerminal)
	assert.Equal(t, models.SyncTaskStatusFailed, task.Status)
}

func TestFinishThroughStaleCopyKeepsStoredOutcome(t *testing.T) {
	db := setupTestDB(t)

	task, err := CreateDataSourceTask(db, 1, models.SyncTaskTriggerScheduled, "")
	require.NoError(t, err)
	require.NoError(t, StartDataSourceTask(db, task))

	// Another writer (the reaper) loads its own copy and fails the task.
	var reaped models.DataSourceSyncTask
	require.NoError(t, db.First(&reaped, task.ID).Error)
	require.NoError(t, AppendDataSourceTaskLog(db, &reaped, "forcibly failed"))
	require.NoError(t, FinishDataSourceTask(db, &reaped, models.SyncTaskStatusFailed, false))

	// The worker still holds its pre-reap copy; its success must not land.
	require.ErrorIs(t, FinishDataSourceTask(db, task, models.SyncTaskStatusSuccess, false), ErrTaskTerminal)
	require.ErrorIs(t, AppendDataSourceTaskLog(db, task, "all done"), ErrTaskTerminal)

	var stored models.DataSourceSyncTask
	require.NoError(t, db.First(&stored, task.ID).Error)
	assert.Equal(t, models.SyncTaskStatusFailed, stored.Status)
	assert.Contains(t, stored.Logs, "forcibly failed")
	assert.NotContains(t, stored.Logs, "all done")
}

func TestTenantFinishThroughStaleCopyKeepsStoredOutcome(t *testing.T) {
	db := setupTestDB(t)

	task, err := CreateTenantTask(db, "acme", 1, "acme", models.SyncTaskTriggerSignal, "")
	require.NoError(t, err)
	require.NoError(t, StartTenantTask(db, task))

	var reaped models.TenantSyncTask
	require.NoError(t, db.First(&reaped, task.ID).Error)
	require.NoError(t, FinishTenantTask(db, &reaped, models.SyncTaskStatusFailed, false))

	require.ErrorIs(t, FinishTenantTask(db, task, models.SyncTaskStatusSuccess, false), ErrTaskTerminal)

	var stored models.TenantSyncTask
	require.NoError(t, db.First(&stored, task.ID).Error)
	assert.Equal(t, models.SyncTaskStatusFailed, stored.Status)
}

func TestLogLinesAreTimestamped(t *testing.T) {
	db := setupTestDB(t)

	task, err := CreateDataSourceTask(db, 1, models.SyncTaskTriggerManual, "")
	require.NoError(t, err)

	require.NoError(t, AppendDataSourceTaskLog(db, task, "first"))
	require.NoError(t, AppendDataSourceTaskLog(db, task, "second"))

	lines := task.Logs
	assert.Contains(t, lines, "first\n")
	assert.Contains(t, lines, "second\n")
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z `, lines)
}

func TestListStaleDataSourceTasks(t *testing.T) {
	db := setupTestDB(t)

	old, err := CreateDataSourceTask(db, 1, models.SyncTaskTriggerScheduled, "")
	require.NoError(t, err)

	// Backdate the creation so the task is past the cutoff.
	backdated := time.Now().Add(-48 * time.Hour)
	require.NoError(t, db.Model(old).Update("created_at", backdated).Error)

	fresh, err := CreateDataSourceTask(db, 1, models.SyncTaskTriggerScheduled, "")
	require.NoError(t, err)

	finished, err := CreateDataSourceTask(db, 1, models.SyncTaskTriggerScheduled, "")
	require.NoError(t, err)
	require.NoError(t, StartDataSourceTask(db, finished))
	require.NoError(t, FinishDataSourceTask(db, finished, models.SyncTaskStatusSuccess, false))
	require.NoError(t, db.Model(finished).Update("created_at", backdated).Error)

	stale, err := ListStaleDataSourceTasks(db, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)

	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
	assert.NotEqual(t, fresh.ID, stale[0].ID)
}

func TestTenantTaskLifecycle(t *testing.T) {
	db := setupTestDB(t)

	task, err := CreateTenantTask(db, "globex", 1, "acme", models.SyncTaskTriggerSignal, "")
	require.NoError(t, err)
	assert.Equal(t, models.SyncTaskStatusPending, task.Status)
	assert.Equal(t, "globex", task.TenantID)
	assert.Equal(t, "acme", task.SourceTenantID)

	require.NoError(t, StartTenantTask(db, task))
	require.NoError(t, AppendTenantTaskLog(db, task, "projected 5 users"))
	require.NoError(t, FinishTenantTask(db, task, models.SyncTaskStatusSuccess, false))

	require.ErrorIs(t, FinishTenantTask(db, task, models.SyncTaskStatusFailed, false), ErrTaskTerminal)

	var stored models.TenantSyncTask
	require.NoError(t, db.First(&stored, task.ID).Error)
	assert.Equal(t, models.SyncTaskStatusSuccess, stored.Status)
	assert.Contains(t, stored.Logs, "projected 5 users")
}

func TestListStaleTenantTasks(t *testing.T) {
	db := setupTestDB(t)

	old, err := CreateTenantTask(db, "acme", 1, "acme", models.SyncTaskTriggerSignal, "")
	require.NoError(t, err)
	require.NoError(t, StartTenantTask(db, old))
	require.NoError(t, db.Model(old).Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	_, err = CreateTenantTask(db, "acme", 1, "acme", models.SyncTaskTriggerSignal, "")
	require.NoError(t, err)

	stale, err := ListStaleTenantTasks(db, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)

	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}
