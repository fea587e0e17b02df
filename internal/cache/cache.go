// Package cache holds the write-through stock cache that fronts the ledger.
// The cache is advisory only: a hit may short-circuit the "insufficient
// stock, reject fast" path, but every accept decision re-verifies against the
// ledger. Every successful ledger mutation updates or invalidates the cache in
// the same logical step, so staleness is bounded by ledger read latency rather
// than the TTL window.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/drluca/shopstream/ordercore/internal/models"
)

// StockCache is what the reservation manager and the order state machine talk
// to. GetAvailable returns (0, false) on a miss or expired entry.
type StockCache interface {
	GetAvailable(ctx context.Context, productID string) (qty int64, fresh bool)
	Update(ctx context.Context, productID string, qty, version int64)
	Invalidate(ctx context.Context, productID string)
}

// StockReader is the slice of the ledger the cache needs for fallthrough
// repopulation.
type StockReader interface {
	ReadStock(ctx context.Context, productID string) (models.StockRecord, error)
}

type entry struct {
	qty       int64
	version   int64
	expiresAt time.Time
}

// MemoryCache is a TTL map cache with singleflight-deduplicated fallthrough to
// the ledger on miss.
type MemoryCache struct {
	mu     sync.RWMutex
	items  map[string]entry
	ttl    time.Duration
	ledger StockReader
	group  singleflight.Group
}

func NewMemoryCache(ledger StockReader, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		items:  make(map[string]entry),
		ttl:    ttl,
		ledger: ledger,
	}
}

func (c *MemoryCache) GetAvailable(ctx context.Context, productID string) (int64, bool) {
	c.mu.RLock()
	e, ok := c.items[productID]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		return e.qty, true
	}

	// Miss or expired: fall through to the ledger and repopulate. Concurrent
	// misses for the same product share one ledger read.
	v, err, _ := c.group.Do(productID, func() (interface{}, error) {
		rec, err := c.ledger.ReadStock(ctx, productID)
		if err != nil {
			return nil, err
		}
		c.Update(ctx, productID, rec.AvailableQty, rec.Version)
		return rec.AvailableQty, nil
	})
	if err != nil {
		return 0, false
	}
	return v.(int64), true
}

// Update installs a value unless the cache already holds a newer version. The
// version guard keeps a slow writer from resurrecting an older counter over a
// fresher one.
func (c *MemoryCache) Update(_ context.Context, productID string, qty, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.items[productID]; ok && existing.version > version {
		return
	}
	c.items[productID] = entry{qty: qty, version: version, expiresAt: time.Now().Add(c.ttl)}
}

func (c *MemoryCache) Invalidate(_ context.Context, productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, productID)
}

// Noop satisfies StockCache for callers that run without a cache.
type Noop struct{}

func (Noop) GetAvailable(context.Context, string) (int64, bool) { return 0, false }
func (Noop) Update(context.Context, string, int64, int64)       {}
func (Noop) Invalidate(context.Context, string)                 {}
