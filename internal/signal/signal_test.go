package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()

	first, cancelFirst := bus.Subscribe(1)
	defer cancelFirst()

	second, cancelSecond := bus.Subscribe(1)
	defer cancelSecond()

	completion := Completion{
		TenantID: "acme",
		SourceID: 1,
		TaskID:   7,
		Status:   models.SyncTaskStatusSuccess,
	}
	bus.Publish(completion)

	assert.Equal(t, completion, <-first)
	assert.Equal(t, completion, <-second)
}

func TestPublishNeverBlocksOnFullBuffer(t *testing.T) {
	bus := NewBus()

	slow, cancel := bus.Subscribe(1)
	defer cancel()

	// Fill the buffer, then publish again; the second event is dropped
	// instead of blocking the publisher.
	bus.Publish(Completion{TaskID: 1})
	bus.Publish(Completion{TaskID: 2})

	got := <-slow
	assert.Equal(t, uint64(1), got.TaskID)

	select {
	case extra := <-slow:
		t.Fatalf("expected the second event to be dropped, got task %d", extra.TaskID)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe(1)
	cancel()

	_, open := <-ch
	require.False(t, open, "cancel must close the subscription channel")

	// Cancel is idempotent and publishing after cancel is safe.
	cancel()
	bus.Publish(Completion{TaskID: 3})
}
