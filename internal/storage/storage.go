package storage

import (
	"context"
	"sync"

	"swapCore/internal/model"
)

// Journal defines a sink for committed pool events.
type Journal interface {
	PutEventBatch(ctx context.Context, events []model.PoolEvent) error
}

// MultiJournal fans a batch out to every journal in order.
type MultiJournal []Journal

func (m MultiJournal) PutEventBatch(ctx context.Context, events []model.PoolEvent) error {
	for _, j := range m {
		if j == nil {
			continue
		}
		if err := j.PutEventBatch(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

// NopJournal discards events.
type NopJournal struct{}

func (NopJournal) PutEventBatch(context.Context, []model.PoolEvent) error { return nil }

// MemoryJournal buffers events until they can be forwarded elsewhere.
type MemoryJournal struct {
	mu     sync.Mutex
	events []model.PoolEvent
}

func (m *MemoryJournal) PutEventBatch(_ context.Context, events []model.PoolEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

// Events returns a copy of the buffered events.
func (m *MemoryJournal) Events() []model.PoolEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.PoolEvent(nil), m.events...)
}
