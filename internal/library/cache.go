package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scythe504/whosetrack-backend/internal"
)

const DefaultRefreshInterval = 14 * 24 * time.Hour

// FetchFunc retrieves a fresh copy of one origin from the music service.
type FetchFunc func(ctx context.Context, key string) ([]internal.Item, error)

// Cache stores one JSON file per origin next to a .fetched file holding the
// RFC3339 time of the last successful fetch.
type Cache struct {
	dir     string
	refresh time.Duration
	now     func() time.Time
}

func NewCache(dir string, refresh time.Duration) *Cache {
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	return &Cache{dir: dir, refresh: refresh, now: time.Now}
}

// Retrieve returns the cached items for key, fetching and re-saving them
// when the entry is stale, missing, empty or unreadable.
func (c *Cache) Retrieve(ctx context.Context, key string, fetch FetchFunc) ([]internal.Item, error) {
	if !c.stale(key) {
		items, err := c.Load(key)
		if err == nil && len(items) > 0 {
			return items, nil
		}
		log.Printf("[Cache.Retrieve] key=%s: cached copy unusable (err=%v, items=%d), refetching", key, err, len(items))
	}

	items, err := fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	if err := c.Save(key, items); err != nil {
		// Still serve the fresh items; the next Retrieve refetches.
		log.Printf("ERROR: [Cache.Retrieve] key=%s: save failed: %v", key, err)
	}
	return items, nil
}

func (c *Cache) stale(key string) bool {
	raw, err := os.ReadFile(c.stampPath(key))
	if err != nil {
		return true
	}
	fetched, err := time.Parse(time.RFC3339, strings.TrimSpace(string(raw)))
	if err != nil {
		return true
	}
	return c.now().Sub(fetched) >= c.refresh
}

func (c *Cache) Load(key string) ([]internal.Item, error) {
	raw, err := os.ReadFile(c.dataPath(key))
	if err != nil {
		return nil, err
	}
	var items []internal.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return items, nil
}

func (c *Cache) Save(key string, items []internal.Item) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	if err := writeAtomic(c.dataPath(key), raw); err != nil {
		return err
	}
	return writeAtomic(c.stampPath(key), []byte(c.now().UTC().Format(time.RFC3339)))
}

// Invalidate removes both files for key so the next Retrieve fetches.
func (c *Cache) Invalidate(key string) error {
	var errs []error
	for _, p := range []string{c.dataPath(key), c.stampPath(key)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) dataPath(key string) string  { return filepath.Join(c.dir, key+".json") }
func (c *Cache) stampPath(key string) string { return filepath.Join(c.dir, key+".fetched") }

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Build assembles a library for cfg, pulling each enabled origin through
// the cache.
func (c *Cache) Build(ctx context.Context, cfg internal.GameConfig, fetch FetchFunc) (internal.Library, error) {
	var lib internal.Library
	var err error

	if cfg.UseLikedItems {
		if lib.Liked, err = c.Retrieve(ctx, CacheKey(OriginLiked, ""), fetch); err != nil {
			return lib, err
		}
	}
	if cfg.UseTopItems {
		top, err := c.Retrieve(ctx, CacheKey(OriginTop, cfg.TopItemsTimeRange), fetch)
		if err != nil {
			return lib, err
		}
		lib.Top = map[internal.TimeRange][]internal.Item{cfg.TopItemsTimeRange: top}
	}
	if cfg.UseItemsFromCollections {
		if lib.Collections, err = c.Retrieve(ctx, CacheKey(OriginCollections, ""), fetch); err != nil {
			return lib, err
		}
	}
	return lib, nil
}
