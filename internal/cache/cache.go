// Package cache keeps rendered API responses in memory with their ETags.
//
// Keys embed the schedule version and resolver generation, so an entry never
// goes stale before its TTL. Because match lookups accept any schedule index,
// the number of keys is capped: when full, expired entries go first and then
// the entry closest to expiry.
package cache

import (
	"crypto/md5"
	"fmt"
	"sync"
	"time"
)

// Matches and final outcomes are immutable under a given key.
const (
	TTLMatch   = 24 * time.Hour
	TTLOutcome = 24 * time.Hour

	DefaultMaxEntries = 10_000
	evictInterval     = 5 * time.Minute
)

type entry struct {
	data      []byte
	etag      string
	expiresAt time.Time
}

// Cache is safe for concurrent use. A disabled Cache stores nothing but
// still computes ETags.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	enabled    bool
	maxEntries int
	evictions  int
	now        func() time.Time
}

// New returns a cache holding at most maxEntries keys (DefaultMaxEntries when
// maxEntries < 1).
func New(enabled bool, maxEntries int) *Cache {
	if maxEntries < 1 {
		maxEntries = DefaultMaxEntries
	}
	c := &Cache{
		entries:    make(map[string]entry),
		enabled:    enabled,
		maxEntries: maxEntries,
		now:        time.Now,
	}
	if enabled {
		go c.evictLoop()
	}
	return c
}

// Get returns the body and ETag stored under key, if still live.
func (c *Cache) Get(key string) (data []byte, etag string, ok bool) {
	if !c.enabled {
		return nil, "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, exists := c.entries[key]
	if !exists || c.now().After(e.expiresAt) {
		return nil, "", false
	}
	return e.data, e.etag, true
}

// Set stores data under key for ttl and returns its ETag.
func (c *Cache) Set(key string, data []byte, ttl time.Duration) string {
	etag := ComputeETag(data)
	if !c.enabled {
		return etag
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.makeRoomLocked()
	}
	c.entries[key] = entry{data: data, etag: etag, expiresAt: c.now().Add(ttl)}
	return etag
}

// makeRoomLocked frees at least one slot. Caller holds mu.
func (c *Cache) makeRoomLocked() {
	if c.evictExpiredLocked() > 0 {
		return
	}
	var (
		victim string
		soonest time.Time
	)
	for key, e := range c.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim, soonest = key, e.expiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
		c.evictions++
	}
}

// Stats reports key counts for the health endpoint.
func (c *Cache) Stats() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	active := 0
	now := c.now()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			active++
		}
	}
	return map[string]any{
		"enabled":      c.enabled,
		"total_keys":   len(c.entries),
		"active_keys":  active,
		"expired_keys": len(c.entries) - active,
		"max_keys":     c.maxEntries,
		"evictions":    c.evictions,
	}
}

func (c *Cache) evictLoop() {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.evict()
	}
}

func (c *Cache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpiredLocked()
}

func (c *Cache) evictExpiredLocked() int {
	now := c.now()
	n := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// ComputeETag is a weak ETag over the first 8 bytes of the body's MD5.
func ComputeETag(data []byte) string {
	hash := md5.Sum(data)
	return fmt.Sprintf(`W/"%x"`, hash[:8])
}

// CheckETagMatch reports whether an If-None-Match header value matches etag.
func CheckETagMatch(ifNoneMatch, etag string) bool {
	switch ifNoneMatch {
	case "":
		return false
	case "*":
		return true
	}
	return ifNoneMatch == etag
}
