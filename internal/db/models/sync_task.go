package models

import (
	"time"
)

// SyncTaskStatus is the lifecycle state of a sync task. Tasks move
// pending -> running -> {success, failed} and never transition again once
// terminal.
type SyncTaskStatus string

const (
	// SyncTaskStatusPending marks a task created but not yet started.
	SyncTaskStatusPending SyncTaskStatus = "pending"
	// SyncTaskStatusRunning marks a task currently executing.
	SyncTaskStatusRunning SyncTaskStatus = "running"
	// SyncTaskStatusSuccess marks a completed task.
	SyncTaskStatusSuccess SyncTaskStatus = "success"
	// SyncTaskStatusFailed marks a failed or reaped task.
	SyncTaskStatusFailed SyncTaskStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s SyncTaskStatus) Terminal() bool {
	return s == SyncTaskStatusSuccess || s == SyncTaskStatusFailed
}

// SyncTaskTrigger records what started a sync task.
type SyncTaskTrigger string

const (
	// SyncTaskTriggerScheduled marks tasks started by the periodic scheduler.
	SyncTaskTriggerScheduled SyncTaskTrigger = "scheduled"
	// SyncTaskTriggerManual marks tasks started by an operator.
	SyncTaskTriggerManual SyncTaskTrigger = "manual"
	// SyncTaskTriggerSignal marks tenant sync tasks started by a
	// data-source sync completion signal.
	SyncTaskTriggerSignal SyncTaskTrigger = "signal"
)

// DataSourceSyncTask is the bookkeeping record of one data-source sync run.
// Logs are append-only text read by the audit UI.
type DataSourceSyncTask struct {
	ID       uint64          `gorm:"primaryKey"`
	SourceID uint64          `gorm:"index;not null"`
	Status   SyncTaskStatus  `gorm:"type:varchar(16);index;not null"`
	Trigger  SyncTaskTrigger `gorm:"type:varchar(16);not null"`
	// Operator is the account that started a manual run, empty otherwise.
	Operator string `gorm:"size:128"`
	StartAt  time.Time
	// Duration is filled when the task reaches a terminal state.
	Duration time.Duration
	// Logs is the accumulated, append-only task log.
	Logs string `gorm:"type:text"`
	// HasWarning flags runs that completed with warnings worth surfacing.
	HasWarning bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TenantSyncTask is the bookkeeping record of one tenant projection run.
type TenantSyncTask struct {
	ID uint64 `gorm:"primaryKey"`
	// TenantID is the tenant projected into.
	TenantID string `gorm:"size:64;index;not null"`
	SourceID uint64 `gorm:"index;not null"`
	// SourceTenantID is the tenant owning the data source; differs from
	// TenantID for collaboration runs.
	SourceTenantID string          `gorm:"size:64;not null"`
	Status         SyncTaskStatus  `gorm:"type:varchar(16);index;not null"`
	Trigger        SyncTaskTrigger `gorm:"type:varchar(16);not null"`
	Operator       string          `gorm:"size:128"`
	StartAt        time.Time
	Duration       time.Duration
	Logs           string `gorm:"type:text"`
	HasWarning     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
