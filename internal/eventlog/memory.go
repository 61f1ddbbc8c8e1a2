package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/ashita-ai/memoryd/internal/model"
)

// MemoryStore is an in-memory Store for tests and for running without a
// configured database.
type MemoryStore struct {
	mu     sync.Mutex
	events []model.Event
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(_ context.Context, e model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *MemoryStore) ListByTimeRange(_ context.Context, from, to time.Time) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Event
	for _, e := range m.events {
		if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}
