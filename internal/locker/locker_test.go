package locker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	lk := New(NewMemoryBackend(), "")
	ctx := context.Background()

	acquired, err := lk.Acquire(ctx, "source:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Second acquire on the same name must fail without blocking.
	acquired, err = lk.Acquire(ctx, "source:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	// A different name is independent.
	acquired, err = lk.Acquire(ctx, "source:2", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	require.NoError(t, lk.Release(ctx, "source:1"))

	acquired, err = lk.Acquire(ctx, "source:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestAcquireAfterExpiry(t *testing.T) {
	lk := New(NewMemoryBackend(), "")
	ctx := context.Background()

	acquired, err := lk.Acquire(ctx, "source:1", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(20 * time.Millisecond)

	acquired, err = lk.Acquire(ctx, "source:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "an expired lease must be reacquirable")
}

func TestReleaseUnheldIsNoop(t *testing.T) {
	lk := New(NewMemoryBackend(), "")

	assert.NoError(t, lk.Release(context.Background(), "never-held"))
}

func TestPrefixIsolation(t *testing.T) {
	backend := NewMemoryBackend()
	a := New(backend, "a:")
	b := New(backend, "b:")
	ctx := context.Background()

	acquired, err := a.Acquire(ctx, "source:1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = b.Acquire(ctx, "source:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "different prefixes must not collide")
}

func TestLockNames(t *testing.T) {
	assert.Equal(t, "source:42", DataSourceLockName(42))
	assert.Equal(t, "tenant:acme:42", TenantLockName("acme", 42))
}
