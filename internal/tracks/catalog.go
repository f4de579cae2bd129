package tracks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/scythe504/whosetrack-backend/internal"
)

var ErrUnknownTrack = errors.New("track not in catalog")

// Catalog resolves an item id to its full metadata.
type Catalog interface {
	Track(ctx context.Context, id string) (internal.Item, error)
}

// MemoryCatalog holds every item players have contributed to a session.
type MemoryCatalog struct {
	mu    sync.RWMutex
	items map[string]internal.Item
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{items: make(map[string]internal.Item)}
}

// Add stores valid items. Items lacking an id or name are skipped.
func (c *MemoryCatalog) Add(items ...internal.Item) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, item := range items {
		if !item.Valid() {
			continue
		}
		if _, ok := c.items[item.ID]; !ok {
			added++
		}
		c.items[item.ID] = item
	}
	return added
}

func (c *MemoryCatalog) Track(_ context.Context, id string) (internal.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[id]
	if !ok {
		return internal.Item{}, fmt.Errorf("%w: %s", ErrUnknownTrack, id)
	}
	return item, nil
}

func (c *MemoryCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *MemoryCatalog) Reset() {
	c.mu.Lock()
	c.items = make(map[string]internal.Item)
	c.mu.Unlock()
}
