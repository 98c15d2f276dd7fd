package tenant

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrInvalidCapacity is returned by NewCache for a capacity below one.
	ErrInvalidCapacity = errors.New("tenant cache capacity must be positive")
	// ErrRemoved is returned by GetOrCreate when the key was removed while its
	// pool was being built. The fresh pool is released, not cached.
	ErrRemoved = errors.New("tenant pool removed during build")
)

// buildTimeout bounds a shared build, which outlives the caller that started it.
const buildTimeout = 15 * time.Second

// ReleaseFunc disposes a connection pool that left the cache.
type ReleaseFunc func(key string, db *sql.DB)

// CloseDB is the release function used in production.
func CloseDB(logger zerolog.Logger) ReleaseFunc {
	return func(key string, db *sql.DB) {
		if err := db.Close(); err != nil {
			logger.Warn().Err(err).Str("database", key).Msg("close tenant pool")
		}
	}
}

type evicted struct {
	key string
	db  *sql.DB
}

// Cache holds at most capacity tenant connection pools and evicts the least
// recently used one when full. Every pool that leaves the cache, by eviction,
// replacement, Remove or Close, is handed to the release function exactly once.
type Cache struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[string, *sql.DB]
	pending []evicted // filled by the eviction callback while mu is held
	// building has an entry per key with a build in flight; the value is set
	// when the key is removed before the build finishes.
	building map[string]bool

	release ReleaseFunc
	builds  singleflight.Group
	metrics *CacheMetrics
	logger  zerolog.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheLogger sets the logger used for release panics.
func WithCacheLogger(l zerolog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// WithCacheMetrics uses m instead of an unregistered metrics set.
func WithCacheMetrics(m *CacheMetrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// NewCache returns an empty cache holding at most capacity pools. release may
// be nil.
func NewCache(capacity int, release ReleaseFunc, opts ...CacheOption) (*Cache, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if release == nil {
		release = func(string, *sql.DB) {}
	}
	c := &Cache{release: release, building: map[string]bool{}, logger: zerolog.Nop()}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = NewCacheMetrics(nil)
	}
	l, err := simplelru.NewLRU[string, *sql.DB](capacity, func(key string, db *sql.DB) {
		c.pending = append(c.pending, evicted{key, db})
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// unlock drops the mutex and then releases whatever the LRU pushed out.
func (c *Cache) unlock() {
	out := c.pending
	c.pending = nil
	c.metrics.size.Set(float64(c.lru.Len()))
	c.mu.Unlock()
	for _, e := range out {
		c.dispose(e.key, e.db)
	}
}

func (c *Cache) dispose(key string, db *sql.DB) {
	if db == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("database", key).Msg("release tenant pool")
		}
	}()
	c.release(key, db)
}

// Get returns the pool for key and marks it most recently used.
func (c *Cache) Get(key string) (*sql.DB, bool) {
	c.mu.Lock()
	defer c.unlock()
	db, ok := c.lru.Get(key)
	if ok {
		c.metrics.hits.Inc()
	} else {
		c.metrics.misses.Inc()
	}
	return db, ok
}

// Put stores db under key as most recently used. A replaced value is released
// unless it is the same pool; a full cache evicts its oldest entry.
func (c *Cache) Put(key string, db *sql.DB) {
	c.mu.Lock()
	defer c.unlock()
	c.put(key, db)
}

func (c *Cache) put(key string, db *sql.DB) {
	if old, ok := c.lru.Peek(key); ok && old != db {
		c.pending = append(c.pending, evicted{key, old})
	}
	before := len(c.pending)
	c.lru.Add(key, db)
	c.metrics.evictions.Add(float64(len(c.pending) - before))
}

// GetOrCreate returns the cached pool for key or builds one. Concurrent misses
// for the same key share a single build, which runs without the cache lock and
// is not cancelled with ctx; each caller stops waiting when its own ctx ends.
// If another caller stored a pool for key meanwhile, the fresh pool is released
// and the stored one returned. If key was removed meanwhile, the fresh pool is
// released and ErrRemoved returned.
func (c *Cache) GetOrCreate(ctx context.Context, key string, build func(ctx context.Context) (*sql.DB, error)) (*sql.DB, error) {
	if db, ok := c.Get(key); ok {
		return db, nil
	}
	ch := c.builds.DoChan(key, func() (interface{}, error) {
		c.mu.Lock()
		if db, ok := c.lru.Get(key); ok {
			c.unlock()
			return db, nil
		}
		c.building[key] = false
		c.mu.Unlock()

		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), buildTimeout)
		defer cancel()
		fresh, err := build(bctx)

		c.mu.Lock()
		defer c.unlock()
		removed := c.building[key]
		delete(c.building, key)
		if err != nil {
			return nil, err
		}
		if removed {
			c.pending = append(c.pending, evicted{key, fresh})
			return nil, ErrRemoved
		}
		if cur, ok := c.lru.Get(key); ok {
			if cur != fresh {
				c.pending = append(c.pending, evicted{key, fresh})
			}
			return cur, nil
		}
		c.put(key, fresh)
		return fresh, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sql.DB), nil
	}
}

// Remove drops key and releases its pool. A build for key still in flight is
// released when it finishes instead of being cached. It reports whether key
// was present.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.unlock()
	if _, ok := c.building[key]; ok {
		c.building[key] = true
	}
	return c.lru.Remove(key)
}

// Len is the number of cached pools.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys lists the cached keys from least to most recently used.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Close releases every cached pool, including those of builds still in flight.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.unlock()
	for key := range c.building {
		c.building[key] = true
	}
	c.lru.Purge()
}
