package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Wikid82/memoryorgan/internal/logger"
	"github.com/Wikid82/memoryorgan/internal/metrics"
	"github.com/Wikid82/memoryorgan/internal/models"
)

// CacheBackend is the local read cache. Upsert must keep the entry with the
// higher version when both are present.
type CacheBackend interface {
	Upsert(ctx context.Context, entry models.CacheEntry) error
	Fetch(ctx context.Context, id string) (*models.CacheEntry, bool, error)
}

// RecordSource resolves the authoritative current version of a record.
type RecordSource interface {
	Get(ctx context.Context, id string) (models.Record, error)
	Reload(ctx context.Context, id string) (models.Record, bool, error)
}

// CacheSynchronizer keeps the cache a last-write-wins projection of the
// record log. Mutations for one id are serialized, and reads never return a
// version older than one already returned for that id.
type CacheSynchronizer struct {
	cache   CacheBackend
	source  RecordSource
	timeout time.Duration
	keys    *keyLocks

	// served holds the highest version written or returned per id. It is
	// the read floor when both the cache and the log are behind.
	mu     sync.Mutex
	served map[string]models.Record
}

// NewCacheSynchronizer returns a synchronizer over cache backed by source.
func NewCacheSynchronizer(cache CacheBackend, source RecordSource, timeout time.Duration) *CacheSynchronizer {
	return &CacheSynchronizer{
		cache:   cache,
		source:  source,
		timeout: timeout,
		keys:    newKeyLocks(64),
		served:  make(map[string]models.Record),
	}
}

func (c *CacheSynchronizer) highWater(id string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.served[id].Version
}

func (c *CacheSynchronizer) floor(id string) (models.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.served[id]
	return r.Clone(), ok
}

// settle raises the floor for r.ID to r when r is not older, in one critical
// section. It returns the record to serve and whether that is r itself.
func (c *CacheSynchronizer) settle(r models.Record) (models.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.served[r.ID]; ok && cur.Version > r.Version {
		return cur.Clone(), false
	}
	c.served[r.ID] = r.Clone()
	return r, true
}

// WriteThrough stores r in the cache unless a newer version is already
// there. A failed write still raises the high-water mark so later reads
// go to the log instead of a stale entry.
func (c *CacheSynchronizer) WriteThrough(ctx context.Context, r models.Record) error {
	unlock := c.keys.lock(r.ID)
	defer unlock()

	c.settle(r)

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.cache.Upsert(ctx, models.NewCacheEntry(r)); err != nil {
		return ioError(ctx, err, ErrWriteError)
	}
	return nil
}

// Read serves id from the cache, falling back to the log on a miss or when
// the cached entry is older than a version this node already served.
func (c *CacheSynchronizer) Read(ctx context.Context, id string) (models.Record, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	entry, ok, err := c.cache.Fetch(ctx, id)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.Record{}, ioError(ctx, err, ErrReadError)
		}
		logger.Log().WithError(err).WithField("record_id", id).Warn("Cache fetch failed, reading from log")
		ok = false
	}
	if ok {
		if r, fresh := c.settle(entry.Record()); fresh {
			metrics.IncCacheHit()
			return r, nil
		}
	}
	metrics.IncCacheMiss()

	r, err := c.source.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		if floor, ok := c.floor(id); ok {
			return floor, nil
		}
	}
	if err != nil {
		return models.Record{}, err
	}
	if r.Version < c.highWater(id) {
		// Another node sharing the cache served a version this node's log
		// has not replicated yet.
		if r, _, err = c.source.Reload(ctx, id); err != nil {
			return models.Record{}, err
		}
	}
	out, fresh := c.settle(r)
	if !fresh {
		// The log is still behind and the cache lost the newer entry.
		logger.Log().WithField("record_id", id).Debug("Serving last returned version, log not caught up")
		return out, nil
	}
	if err := c.WriteThrough(ctx, out); err != nil {
		logger.Log().WithError(err).WithField("record_id", id).Warn("Cache refill failed")
	}
	return out, nil
}

// Reconcile re-reads id from the log and pushes the current version into the
// cache. It is a no-op when the cache already holds that version or newer.
func (c *CacheSynchronizer) Reconcile(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	r, _, err := c.source.Reload(ctx, id)
	if err != nil {
		return err
	}
	return c.WriteThrough(ctx, r)
}
