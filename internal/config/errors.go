package config

import (
	"errors"
)

var (
	// ErrEmptyRedisAddr error if the redis lock backend has no address.
	ErrEmptyRedisAddr = errors.New("toml config lock.redisaddr can not be empty when the redis backend is selected")

	// ErrUnknownLockBackend error if config lock.backend is not redis or memory.
	ErrUnknownLockBackend = errors.New("toml config lock.backend must be redis or memory")
)
