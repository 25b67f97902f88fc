package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pricepilot/pricepilot/internal/models"
	"github.com/pricepilot/pricepilot/internal/observability"
)

// Capacity is the fixed size of the recent-search list. It is a
// product constant, not a tunable.
const Capacity = 4

// Store is the durable keyed store behind the cache. The whole list
// is read and written as one value per mutation.
type Store interface {
	Load(ctx context.Context) ([]models.HistoryItem, error)
	Save(ctx context.Context, items []models.HistoryItem) error
	Clear(ctx context.Context) error
}

// Cache is a most-recently-used list of prior searches, deduplicated
// by URL and capped at Capacity. The persisted invariant is
// newest-first ordering. A mutex serializes the read-modify-write
// against the store; cross-process writers are out of scope.
type Cache struct {
	store  Store
	logger *zap.Logger
	mu     sync.Mutex
}

func NewCache(store Store, logger *zap.Logger) *Cache {
	return &Cache{store: store, logger: logger}
}

// Record inserts the item at the front, removing any existing entry
// with the same URL first so a re-search moves the product to the
// front instead of duplicating it. Items without a usable title are
// ignored, keeping failed lookups out of history.
func (c *Cache) Record(ctx context.Context, item models.HistoryItem) error {
	if item.Title == "" || item.Title == "Unavailable" {
		return nil
	}
	if item.Date.IsZero() {
		item.Date = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	items, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("history load failed, starting fresh", zap.Error(err))
		items = nil
	}

	kept := make([]models.HistoryItem, 0, len(items)+1)
	kept = append(kept, item)
	for _, existing := range items {
		if existing.URL == item.URL {
			continue
		}
		kept = append(kept, existing)
	}

	if len(kept) > Capacity {
		kept = kept[:Capacity]
	}

	if err := c.store.Save(ctx, kept); err != nil {
		observability.HistoryRecordsTotal.WithLabelValues("record", "error").Inc()
		return err
	}
	observability.HistoryRecordsTotal.WithLabelValues("record", "success").Inc()
	return nil
}

// List returns the remembered searches newest-first, at most Capacity
// entries. A load failure degrades to an empty list.
func (c *Cache) List(ctx context.Context) []models.HistoryItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	items, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("history load failed", zap.Error(err))
		return nil
	}
	if len(items) > Capacity {
		items = items[:Capacity]
	}
	return items
}

// Titles returns the remembered titles newest-first, for the
// suggestion pool.
func (c *Cache) Titles(ctx context.Context) []string {
	items := c.List(ctx)
	titles := make([]string, 0, len(items))
	for _, it := range items {
		titles = append(titles, it.Title)
	}
	return titles
}

// Clear drops the whole list.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Clear(ctx); err != nil {
		observability.HistoryRecordsTotal.WithLabelValues("clear", "error").Inc()
		return err
	}
	observability.HistoryRecordsTotal.WithLabelValues("clear", "success").Inc()
	return nil
}
