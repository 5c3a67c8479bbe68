package config

import (
	"github.com/TencentBlueKing/bk-user-sub004/internal/logger"
)

// Config overall data structure.
type Config struct {
	DevMode bool // enable dev mode for development
	DB      DB
	Log     logger.Log
	Title   string
	Lock    Lock
	Sync    Sync
}

// Lock implements the sync lock backend settings.
type Lock struct {
	Backend       string // "redis" or "memory"
	RedisAddr     string // host:port, required for the redis backend
	RedisPassword string
	RedisDB       int
	Prefix        string // key prefix, empty means the built-in default
}

// Sync implements the sync engine timing settings.
type Sync struct {
	SchedulerIntervalSeconds int // how often the scheduler scans for due sources
	ReapIntervalSeconds      int // how often the stale task reaper runs
	TaskCeilingHours         int // tasks older than this are force-failed
	LockTTLMinutes           int // sync lock expiry
}
