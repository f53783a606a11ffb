// Package cache provides caching for rendered frames and exported snapshots.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	FrameCacheSizeMB  int
	FrameTTL          time.Duration
	SnapshotCacheSize int
}

// Manager manages the frame and snapshot caches. Frames are rendered PNG
// composites, snapshots are exported measure and settings payloads. Both are
// keyed by the workspace revision, so a stale entry is never served; it just
// ages out.
type Manager struct {
	frameCache    *bigcache.BigCache
	snapshotCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	frameCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.FrameTTL,
		CleanWindow:        cfg.FrameTTL / 2,
		MaxEntriesInWindow: 1000,
		MaxEntrySize:       4 * 1024 * 1024, // full-frame PNGs
		HardMaxCacheSize:   cfg.FrameCacheSizeMB,
		Verbose:            false,
	}

	frameCache, err := bigcache.New(context.Background(), frameCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame cache: %w", err)
	}

	snapshotCache, err := lru.New[string, []byte](cfg.SnapshotCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}

	return &Manager{
		frameCache:    frameCache,
		snapshotCache: snapshotCache,
	}, nil
}

// GetFrame retrieves a rendered frame from cache.
func (m *Manager) GetFrame(key string) ([]byte, bool) {
	data, err := m.frameCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetFrame stores a rendered frame in cache.
func (m *Manager) SetFrame(key string, data []byte) error {
	return m.frameCache.Set(key, data)
}

// GetSnapshot retrieves an exported snapshot from cache.
func (m *Manager) GetSnapshot(key string) ([]byte, bool) {
	return m.snapshotCache.Get(key)
}

// SetSnapshot stores an exported snapshot in cache.
func (m *Manager) SetSnapshot(key string, data []byte) {
	m.snapshotCache.Add(key, data)
}

// FrameKey generates a cache key for a rendered frame. The revision changes
// whenever workspace state that affects rendering changes, so keys from
// superseded states simply stop being asked for.
func FrameKey(revision uint64, mode string, params map[string]string) string {
	base := fmt.Sprintf("frame:%d:%s", revision, mode)
	if len(params) == 0 {
		return base
	}

	h := sha256.New()
	h.Write([]byte(base))
	for k, v := range params {
		h.Write([]byte(fmt.Sprintf("%s=%s", k, v)))
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// SnapshotKey generates a cache key for an exported artifact, such as a
// measure CSV or the settings document.
func SnapshotKey(revision uint64, name string) string {
	return fmt.Sprintf("snapshot:%d:%s", revision, name)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"frame_cache_len":    m.frameCache.Len(),
		"frame_cache_cap":    m.frameCache.Capacity(),
		"snapshot_cache_len": m.snapshotCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.frameCache.Close()
}
