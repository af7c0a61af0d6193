// Package fallback implements the degraded-mode cache of last-known-good
// step outputs. When a critical step fails, the orchestrator consults this
// cache under the step's own name instead of aborting the cycle.
package fallback

import (
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	value     any
	createdAt time.Time
	ttl       time.Duration // 0 = never expires
	hits      int
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) > e.ttl
}

// Cache is a named-key store of {value, created-at, TTL, hit count}.
// Expired entries survive until CleanupExpired so degraded-mode reads can
// still return stale values.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	defaults map[string]any
	logger   *slog.Logger
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries:  make(map[string]*entry),
		defaults: make(map[string]any),
		logger:   slog.Default().With("component", "fallback"),
	}
}

// Set stores value under key, replacing any prior entry. A zero ttl means
// the entry never expires.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = &entry{value: value, createdAt: time.Now(), ttl: ttl}
	c.mu.Unlock()
}

// SetDefault pre-registers the value returned when neither a fresh nor a
// stale entry exists for key.
func (c *Cache) SetDefault(key string, value any) {
	c.mu.Lock()
	c.defaults[key] = value
	c.mu.Unlock()
}

// Get returns the value for key. A hit before expiry bumps the hit count.
// A hit after expiry returns the stale value with a warning when
// allowExpired is true; otherwise the registered default (then def) is
// returned with ok=false.
func (c *Cache) Get(key string, def any, allowExpired bool) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok {
		if !e.expired(time.Now()) {
			e.hits++
			return e.value, true
		}
		if allowExpired {
			e.hits++
			c.logger.Warn("Serving stale fallback entry",
				"key", key,
				"age", time.Since(e.createdAt).Round(time.Second).String())
			return e.value, true
		}
	}

	if d, ok := c.defaults[key]; ok {
		return d, false
	}
	return def, false
}

// CleanupExpired prunes all entries past their TTL and returns how many
// were removed. Registered defaults are never pruned.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// EntryInfo is the introspection view of one cache entry.
type EntryInfo struct {
	CreatedAt time.Time `json:"created_at"`
	TTLSec    float64   `json:"ttl_sec"`
	Hits      int       `json:"hits"`
	Expired   bool      `json:"expired"`
}

// Snapshot returns per-key entry metadata for the introspection surface.
// Values themselves are not exposed.
func (c *Cache) Snapshot() map[string]EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	out := make(map[string]EntryInfo, len(c.entries))
	for key, e := range c.entries {
		out[key] = EntryInfo{
			CreatedAt: e.createdAt,
			TTLSec:    e.ttl.Seconds(),
			Hits:      e.hits,
			Expired:   e.expired(now),
		}
	}
	return out
}
