// Package cache provides a TTL'd, versioned in-memory cache used by the
// Trend Analyzer and Anomaly Detector model caches: per-repository,
// refreshed under a per-key mutex to avoid thundering-herd rebuilds.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value      interface{}
	expiration time.Time
	version    int64
}

// Config controls a Cache's defaults and background sweep cadence.
type Config struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig uses a 30-minute trend cache ttl as a sane default.
func DefaultConfig() Config {
	return Config{DefaultTTL: 30 * time.Minute, CleanupInterval: 10 * time.Minute}
}

// Cache is a TTL'd map with a monotonic version counter for bulk invalidation.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	cfg     Config
	version int64

	keyMu sync.Map // per-key *sync.Mutex, guarding single-flight rebuilds
}

// New constructs a Cache and starts its background cleanup sweep.
func New(cfg Config) *Cache {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 30 * time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	c := &Cache{entries: make(map[string]*entry), cfg: cfg}
	go c.sweep()
	return c
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expiration) {
				delete(c.entries, k)
			}
		}
		c.mu.Unlock()
	}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiration) {
		return nil, false
	}
	return e.value, true
}

// GetVersioned returns the cached value and its version, for callers that
// need to detect a bulk invalidation (InvalidateAll) racing a read.
func (c *Cache) GetVersioned(key string) (interface{}, int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiration) {
		return nil, 0, false
	}
	return e.value, e.version, true
}

// Set stores value under key with ttl (or the cache's DefaultTTL if zero).
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.cfg.DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: value, expiration: time.Now().Add(ttl), version: c.version}
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll bumps the version and clears all entries, e.g. on baseline refresh.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	c.entries = make(map[string]*entry)
}

// Size returns the current entry count, including not-yet-swept expired entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// KeyLock returns the mutex dedicated to key, creating it on first use. Callers
// rebuilding an expensive per-repository model should hold this around the
// Get-miss -> rebuild -> Set sequence so concurrent callers coalesce into one
// rebuild instead of a thundering herd.
func (c *Cache) KeyLock(key string) *sync.Mutex {
	m, _ := c.keyMu.LoadOrStore(key, &sync.Mutex{})
	return m.(*sync.Mutex)
}
