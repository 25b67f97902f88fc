package history

import (
	"context"
	"sync"

	"github.com/pricepilot/pricepilot/internal/models"
)

// MemStore keeps the history blob in process memory. Used in tests
// and when Redis is unavailable at startup.
type MemStore struct {
	mu    sync.RWMutex
	items []models.HistoryItem
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) Load(_ context.Context) ([]models.HistoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.HistoryItem, len(m.items))
	copy(out, m.items)
	return out, nil
}

func (m *MemStore) Save(_ context.Context, items []models.HistoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make([]models.HistoryItem, len(items))
	copy(m.items, items)
	return nil
}

func (m *MemStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	return nil
}
