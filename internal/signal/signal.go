// Package signal carries sync completion events to in-process consumers
// such as notification senders and cache invalidation. Delivery is
// at-least-once at best: publishing never blocks, and a subscriber with a
// full buffer misses the event and is expected to reconcile by re-reading
// task state.
package signal

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
)

// Completion describes one finished orchestrator run.
type Completion struct {
	// TenantID is the tenant the run belonged to; for data-source syncs it
	// is the source's owning tenant.
	TenantID string
	// SourceID is the synced data source.
	SourceID uint64
	// TaskID is the bookkeeping record of the run.
	TaskID uint64
	// Status is the terminal task status.
	Status models.SyncTaskStatus
}

// Bus fans completion events out to subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Completion
	next int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Completion)}
}

// Subscribe registers a consumer with the given channel buffer. The
// returned cancel function removes the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Completion, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++

	ch := make(chan Completion, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// Publish delivers the completion to every subscriber without blocking.
// Slow subscribers are skipped with a warning.
func (b *Bus) Publish(completion Completion) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- completion:
		default:
			log.Warn().
				Int("subscriber", id).
				Uint64("task_id", completion.TaskID).
				Msg("completion signal dropped for slow subscriber")
		}
	}
}
