package clients

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a resolution result is served before the next
// read triggers a new pass.
const DefaultCacheTTL = 5 * time.Minute

// Cache holds the last published snapshot. Store must replace the whole
// snapshot in one step so readers never see a partial result.
type Cache interface {
	Load(ctx context.Context) (Snapshot, bool, error)
	Store(ctx context.Context, snap Snapshot) error
	Invalidate(ctx context.Context) error
}

// MemoryCache keeps the snapshot in process with its own expiry timestamp.
type MemoryCache struct {
	mu        sync.RWMutex
	snap      Snapshot
	expiresAt time.Time
	has       bool
	ttl       time.Duration
	now       func() time.Time
}

// NewMemoryCache builds a cache with the given TTL and clock. A nil clock uses
// time.Now; a non-positive TTL uses DefaultCacheTTL.
func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{ttl: ttl, now: now}
}

func (c *MemoryCache) Load(context.Context) (Snapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.has || !c.now().Before(c.expiresAt) {
		return Snapshot{}, false, nil
	}
	return c.snap, true, nil
}

func (c *MemoryCache) Store(_ context.Context, snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = snap
	c.has = true
	c.expiresAt = c.now().Add(c.ttl)
	return nil
}

func (c *MemoryCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = Snapshot{}
	c.has = false
	c.expiresAt = time.Time{}
	return nil
}

// ExpiresAt reports when the current snapshot stops being served.
func (c *MemoryCache) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiresAt
}
