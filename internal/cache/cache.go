// Package cache provides caching for rendered tiles and query results.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/SiggyF/ais-shader/internal/tile"
)

// Config contains cache configuration.
type Config struct {
	TileCacheSizeMB int
	TileTTL         time.Duration
	QueryCacheSize  int
}

// Manager manages tile and query caches.
type Manager struct {
	tileCache  *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TileTTL <= 0 {
		cfg.TileTTL = 10 * time.Minute
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 128
	}

	// Configure tile cache
	tileCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.TileTTL,
		CleanWindow:        cfg.TileTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       100 * 1024, // 100KB per tile
		HardMaxCacheSize:   cfg.TileCacheSizeMB,
		Verbose:            false,
	}

	tileCache, err := bigcache.New(context.Background(), tileCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	// Create query cache
	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		tileCache:  tileCache,
		queryCache: queryCache,
	}, nil
}

// GetTile retrieves a tile from cache.
func (m *Manager) GetTile(key string) ([]byte, bool) {
	data, err := m.tileCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetTile stores a tile in cache.
func (m *Manager) SetTile(key string, data []byte) error {
	return m.tileCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// Reset drops every cached entry.
func (m *Manager) Reset() error {
	m.queryCache.Purge()
	return m.tileCache.Reset()
}

// TileKey generates a cache key for a tile rendered with bound. Tiles read
// from disk use a zero bound.
func TileKey(a tile.Address, bound float64) string {
	if bound == 0 {
		return "tile:" + a.Path()
	}
	return fmt.Sprintf("tile:%s:b=%.6g", a.Path(), bound)
}

// ScaleKey generates a cache key for the scale bound of a zoom level.
func ScaleKey(zoom uint32) string {
	return fmt.Sprintf("scale:%d", zoom)
}

// LegendKey generates a cache key for a legend image.
func LegendKey(zoom uint32, width, height int) string {
	return fmt.Sprintf("legend:%d:%dx%d", zoom, width, height)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"tile_cache_len":  m.tileCache.Len(),
		"tile_cache_cap":  m.tileCache.Capacity(),
		"tile_hits":       m.tileCache.Stats().Hits,
		"tile_misses":     m.tileCache.Stats().Misses,
		"query_cache_len": m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.tileCache.Close()
}
