// Package synctask provides lifecycle operations for sync task records:
// creation, the pending -> running -> terminal transitions, append-only
// logging and stale task queries.
package synctask

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

var (
	// ErrTaskNotFound is returned when a task does not exist.
	ErrTaskNotFound = errors.New("sync task not found")
	// ErrTaskTerminal is returned when transitioning a task that already
	// reached success or failed.
	ErrTaskTerminal = errors.New("sync task is already in a terminal state")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

func logLine(line string) string {
	return fmt.Sprintf("%s %s\n", time.Now().UTC().Format(time.RFC3339), line)
}

// nonTerminalStatuses guards every write with a status condition, so a
// stale in-memory copy can never rewrite a row that another writer (the
// reaper, typically) already drove to a terminal state.
var nonTerminalStatuses = []models.SyncTaskStatus{
	models.SyncTaskStatusPending,
	models.SyncTaskStatusRunning,
}

// CreateDataSourceTask creates a pending data-source sync task.
func CreateDataSourceTask(
	db *gorm.DB,
	sourceID uint64,
	trigger models.SyncTaskTrigger,
	operator string,
) (*models.DataSourceSyncTask, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	task := &models.DataSourceSyncTask{
		SourceID: sourceID,
		Status:   models.SyncTaskStatusPending,
		Trigger:  trigger,
		Operator: operator,
	}
	if result := db.Create(task); result.Error != nil {
		return nil, result.Error
	}

	return task, nil
}

// StartDataSourceTask transitions a pending task to running and stamps the
// start time. The update is conditional on the stored row still being
// pending; ErrTaskTerminal otherwise.
func StartDataSourceTask(db *gorm.DB, task *models.DataSourceSyncTask) error {
	if db == nil {
		return ErrDBNil
	}
	if task.Status.Terminal() {
		return ErrTaskTerminal
	}

	startAt := time.Now()

	result := db.Model(task).
		Where("status = ?", models.SyncTaskStatusPending).
		Updates(map[string]interface{}{
			"status":   models.SyncTaskStatusRunning,
			"start_at": startAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskTerminal
	}

	task.Status = models.SyncTaskStatusRunning
	task.StartAt = startAt

	return nil
}

// AppendDataSourceTaskLog appends a timestamped line to the task log. Logs
// are frozen with the rest of the row once the stored task is terminal.
func AppendDataSourceTaskLog(db *gorm.DB, task *models.DataSourceSyncTask, line string) error {
	if db == nil {
		return ErrDBNil
	}

	logs := task.Logs + logLine(line)

	result := db.Model(task).
		Where("status IN ?", nonTerminalStatuses).
		Update("logs", logs)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskTerminal
	}

	task.Logs = logs

	return nil
}

// FinishDataSourceTask moves a task to a terminal state. The update is
// conditional on the stored row being non-terminal, so finishing through a
// stale copy after the reaper already failed the task returns
// ErrTaskTerminal instead of rewriting the outcome.
func FinishDataSourceTask(
	db *gorm.DB,
	task *models.DataSourceSyncTask,
	status models.SyncTaskStatus,
	hasWarning bool,
) error {
	if db == nil {
		return ErrDBNil
	}
	if task.Status.Terminal() {
		return ErrTaskTerminal
	}

	hasWarning = task.HasWarning || hasWarning

	var duration time.Duration
	if !task.StartAt.IsZero() {
		duration = time.Since(task.StartAt)
	}

	result := db.Model(task).
		Where("status IN ?", nonTerminalStatuses).
		Updates(map[string]interface{}{
			"status":      status,
			"has_warning": hasWarning,
			"duration":    duration,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskTerminal
	}

	task.Status = status
	task.HasWarning = hasWarning
	task.Duration = duration

	return nil
}

// ListStaleDataSourceTasks retrieves non-terminal tasks created before the
// given cutoff.
func ListStaleDataSourceTasks(db *gorm.DB, cutoff time.Time) ([]models.DataSourceSyncTask, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var tasks []models.DataSourceSyncTask
	result := db.
		Where("status IN ?", nonTerminalStatuses).
		Where("created_at < ?", cutoff).
		Find(&tasks)
	if result.Error != nil {
		return nil, result.Error
	}

	return tasks, nil
}

// CreateTenantTask creates a pending tenant sync task.
func CreateTenantTask(
	db *gorm.DB,
	tenantID string,
	sourceID uint64,
	sourceTenantID string,
	trigger models.SyncTaskTrigger,
	operator string,
) (*models.TenantSyncTask, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	task := &models.TenantSyncTask{
		TenantID:       tenantID,
		SourceID:       sourceID,
		SourceTenantID: sourceTenantID,
		Status:         models.SyncTaskStatusPending,
		Trigger:        trigger,
		Operator:       operator,
	}
	if result := db.Create(task); result.Error != nil {
		return nil, result.Error
	}

	return task, nil
}

// StartTenantTask transitions a pending tenant task to running, conditional
// on the stored row still being pending.
func StartTenantTask(db *gorm.DB, task *models.TenantSyncTask) error {
	if db == nil {
		return ErrDBNil
	}
	if task.Status.Terminal() {
		return ErrTaskTerminal
	}

	startAt := time.Now()

	result := db.Model(task).
		Where("status = ?", models.SyncTaskStatusPending).
		Updates(map[string]interface{}{
			"status":   models.SyncTaskStatusRunning,
			"start_at": startAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskTerminal
	}

	task.Status = models.SyncTaskStatusRunning
	task.StartAt = startAt

	return nil
}

// AppendTenantTaskLog appends a timestamped line to the task log. Logs are
// frozen with the rest of the row once the stored task is terminal.
func AppendTenantTaskLog(db *gorm.DB, task *models.TenantSyncTask, line string) error {
	if db == nil {
		return ErrDBNil
	}

	logs := task.Logs + logLine(line)

	result := db.Model(task).
		Where("status IN ?", nonTerminalStatuses).
		Update("logs", logs)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskTerminal
	}

	task.Logs = logs

	return nil
}

// FinishTenantTask moves a tenant task to a terminal state, conditional on
// the stored row being non-terminal.
func FinishTenantTask(
	db *gorm.DB,
	task *models.TenantSyncTask,
	status models.SyncTaskStatus,
	hasWarning bool,
) error {
	if db == nil {
		return ErrDBNil
	}
	if task.Status.Terminal() {
		return ErrTaskTerminal
	}

	hasWarning = task.HasWarning || hasWarning

	var duration time.Duration
	if !task.StartAt.IsZero() {
		duration = time.Since(task.StartAt)
	}

	result := db.Model(task).
		Where("status IN ?", nonTerminalStatuses).
		Updates(map[string]interface{}{
			"status":      status,
			"has_warning": hasWarning,
			"duration":    duration,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskTerminal
	}

	task.Status = status
	task.HasWarning = hasWarning
	task.Duration = duration

	return nil
}

// ListStaleTenantTasks retrieves non-terminal tenant tasks created before
// the given cutoff.
func ListStaleTenantTasks(db *gorm.DB, cutoff time.Time) ([]models.TenantSyncTask, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var tasks []models.TenantSyncTask
	result := db.
		Where("status IN ?", nonTerminalStatuses).
		Where("created_at < ?", cutoff).
		Find(&tasks)
	if result.Error != nil {
		return nil, result.Error
	}

	return tasks, nil
}
