package store

import (
	"context"
	"sync"

	"github.com/discordwell/cliaas/pkg/models"
)

// MemoryStore keeps everything in process. It is used by tests and dry runs.
type MemoryStore struct {
	mu       sync.RWMutex
	cursors  map[string]models.Cursor
	tickets  *keyed[models.Ticket]
	messages *keyed[models.Message]
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cursors:  make(map[string]models.Cursor),
		tickets:  newKeyed[models.Ticket](),
		messages: newKeyed[models.Message](),
	}
}

// LoadCursor implements Store
func (m *MemoryStore) LoadCursor(_ context.Context, connector string) (models.Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursors[connector], nil
}

// SaveCursor implements Store
func (m *MemoryStore) SaveCursor(_ context.Context, connector string, cursor models.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[connector] = cursor
	return nil
}

// UpsertTickets implements Store
func (m *MemoryStore) UpsertTickets(_ context.Context, tickets []models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tickets {
		m.tickets.put(t.Key(), t)
	}
	return nil
}

// UpsertMessages implements Store
func (m *MemoryStore) UpsertMessages(_ context.Context, messages []models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		m.messages.put(msg.Key(), msg)
	}
	return nil
}

// Tickets returns stored tickets in first-insert order
func (m *MemoryStore) Tickets() []models.Ticket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tickets.values()
}

// Messages returns stored messages in first-insert order
func (m *MemoryStore) Messages() []models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.messages.values()
}

// Close implements Store
func (m *MemoryStore) Close() error { return nil }

// keyed is an insertion-ordered map
type keyed[T any] struct {
	index map[string]int
	items []T
}

func newKeyed[T any]() *keyed[T] {
	return &keyed[T]{index: make(map[string]int)}
}

func (k *keyed[T]) put(key string, v T) {
	if i, ok := k.index[key]; ok {
		k.items[i] = v
		return
	}
	k.index[key] = len(k.items)
	k.items = append(k.items, v)
}

func (k *keyed[T]) values() []T {
	out := make([]T, len(k.items))
	copy(out, k.items)
	return out
}
