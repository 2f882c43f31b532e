// internal/storage/memory.go
package storage

import (
	"context"
	"sync"

	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
)

// memory implements the Store interface using in-memory storage.
// It's intended for development and testing purposes.
type memory struct {
	mu    sync.RWMutex               // Protects concurrent access to items
	items map[string]model.MediaItem // Map of item ID to item
}

// NewMemory creates a new in-memory storage implementation.
func NewMemory() Store {
	return &memory{items: make(map[string]model.MediaItem)}
}

func (m *memory) Name() string { return "memory" }

func (m *memory) GetAllItems(ctx context.Context) ([]model.MediaItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.MediaItem, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, cloneItem(item))
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *memory) SaveItem(ctx context.Context, item model.MediaItem) (model.MediaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[item.ID] = cloneItem(item)
	return cloneItem(item), nil
}

func (m *memory) DeleteItem(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, id)
	return nil
}

func (m *memory) Close() error { return nil }
