// Package locker provides named, time-bounded, non-blocking mutual
// exclusion leases. The production backend is Redis (SET NX EX / DEL); an
// in-process backend serves tests and single-node deployments. The TTL is a
// safety net for crashed holders, not a fencing mechanism: tasks outliving
// their lease are handled by the stale-task reaper.
package locker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is the conditional-set-with-expiry store behind the locker.
type Backend interface {
	// SetNX sets key to value with the given TTL if the key does not
	// exist, reporting whether the set happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Del removes the key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error
}

// Locker hands out non-blocking leases on top of a Backend.
type Locker struct {
	backend Backend
	prefix  string
}

// New creates a Locker. The prefix namespaces lock keys in a shared store.
func New(backend Backend, prefix string) *Locker {
	if prefix == "" {
		prefix = "bkuser:lock:"
	}

	return &Locker{backend: backend, prefix: prefix}
}

// Acquire attempts to take the named lease without blocking. It returns
// false when another holder owns it.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return l.backend.SetNX(ctx, l.prefix+name, "1", ttl)
}

// Release gives the named lease back. Releasing an unheld or expired lease
// is a no-op.
func (l *Locker) Release(ctx context.Context, name string) error {
	return l.backend.Del(ctx, l.prefix+name)
}

// DataSourceLockName scopes a lease to one data source sync.
func DataSourceLockName(sourceID uint64) string {
	return "source:" + strconv.FormatUint(sourceID, 10)
}

// TenantLockName scopes a lease to one (tenant, source) projection.
func TenantLockName(tenantID string, sourceID uint64) string {
	return fmt.Sprintf("tenant:%s:%d", tenantID, sourceID)
}

// RedisBackend implements Backend on a Redis connection.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects a backend to the given Redis server.
func NewRedisBackend(addr, password string, db int) *RedisBackend {
	return &RedisBackend{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// SetNX issues SET key value NX EX.
func (b *RedisBackend) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return b.client.SetNX(ctx, key, value, ttl).Result()
}

// Del issues DEL key.
func (b *RedisBackend) Del(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// MemoryBackend implements Backend with an in-process map. Expired entries
// are treated as absent on the next SetNX.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]time.Time)}
}

// SetNX takes the key unless a non-expired holder exists.
func (b *MemoryBackend) SetNX(_ context.Context, key, _ string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if deadline, held := b.entries[key]; held && time.Now().Before(deadline) {
		return false, nil
	}

	b.entries[key] = time.Now().Add(ttl)

	return true, nil
}

// Del removes the key.
func (b *MemoryBackend) Del(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, key)

	return nil
}
