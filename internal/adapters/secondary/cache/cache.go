// Package cache implements a generic TTL- and capacity-bounded cache with
// background expiry sweeps, deduplicated miss computation and an optional
// on-disk snapshot.
package cache

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

// entry is one stored value. The zero expiresAt means the entry never
// expires by time.
type entry[K comparable, V any] struct {
	key        K
	value      V
	insertedAt time.Time
	expiresAt  time.Time
}

func (e *entry[K, V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is a bounded key/value store. Eviction under capacity pressure
// removes expired entries first, then the oldest insertions.
type Cache[K comparable, V any] struct {
	name string

	mu     sync.RWMutex
	config entities.CacheConfig
	items  map[K]*list.Element // key -> element holding *entry
	order  *list.List          // insertion order, oldest at Front

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	dirty     atomic.Bool

	flight flightGroup[K, V]

	// cleanup lifecycle, guarded by runMu
	runMu      sync.Mutex
	stop       chan struct{}
	done       chan struct{}
	reschedule chan struct{}
	loaded     bool

	clock   ports.Clock
	logger  *slog.Logger
	metrics *cacheMetrics
}

// New creates a cache. A structurally invalid config is rejected.
func New[K comparable, V any](name string, config entities.CacheConfig, opts ...Option) (*Cache[K, V], error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("cache %s: %w", name, err)
	}

	o := applyOptions(opts...)

	c := &Cache[K, V]{
		name:       name,
		config:     config,
		items:      make(map[K]*list.Element),
		order:      list.New(),
		flight:     flightGroup[K, V]{calls: make(map[K]*call[V])},
		reschedule: make(chan struct{}, 1),
		clock:      o.clock,
		logger:     o.logger.With(slog.String("cache", name)),
	}

	if o.registerer != nil {
		metrics, err := newCacheMetrics(o.registerer, name)
		if err != nil {
			return nil, fmt.Errorf("registering metrics for cache %s: %w", name, err)
		}
		c.metrics = metrics
	}

	return c, nil
}

// Name returns the cache name
func (c *Cache[K, V]) Name() string {
	return c.name
}

// Put inserts or overwrites a value. Overwriting counts as a fresh insertion.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.config.Enabled {
		return
	}

	c.insertLocked(key, value)
}

// insertLocked stores the entry and restores the capacity bound.
// Must be called with mu held.
func (c *Cache[K, V]) insertLocked(key K, value V) {
	now := c.clock.Now()

	var expiresAt time.Time
	if ttl := c.config.TTL(); ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	if element, exists := c.items[key]; exists {
		c.order.Remove(element)
		delete(c.items, key)
	}

	c.items[key] = c.order.PushBack(&entry[K, V]{
		key:        key,
		value:      value,
		insertedAt: now,
		expiresAt:  expiresAt,
	})
	c.dirty.Store(true)

	c.enforceCapacityLocked(now)
}

// enforceCapacityLocked evicts expired entries, then the oldest ones,
// until the cache holds at most MaxEntries. Must be called with mu held.
func (c *Cache[K, V]) enforceCapacityLocked(now time.Time) {
	evicted := 0

	if len(c.items) > c.config.MaxEntries {
		for element := c.order.Front(); element != nil && len(c.items) > c.config.MaxEntries; {
			next := element.Next()
			if element.Value.(*entry[K, V]).expired(now) {
				c.removeElementLocked(element)
				evicted++
			}
			element = next
		}
	}

	for len(c.items) > c.config.MaxEntries {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.removeElementLocked(oldest)
		evicted++
	}

	c.recordEvictions(evicted)
	c.metrics.updateSize(len(c.items))
}

// removeElementLocked removes an element from both the list and map.
// Must be called with mu held.
func (c *Cache[K, V]) removeElementLocked(element *list.Element) {
	e := element.Value.(*entry[K, V])
	delete(c.items, e.key)
	c.order.Remove(element)
	c.dirty.Store(true)
}

func (c *Cache[K, V]) recordEvictions(n int) {
	if n == 0 {
		return
	}
	c.evictions.Add(int64(n))
	c.metrics.recordEvictions(n)
}

// Get returns a live value. An expired entry is removed and reported as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	if value, ok := c.lookup(key); ok {
		c.hits.Add(1)
		c.metrics.recordHit()
		return value, true
	}

	c.misses.Add(1)
	c.metrics.recordMiss()
	var zero V
	return zero, false
}

// lookup finds a live entry without touching the hit/miss counters.
// Expired entries found on the way are removed.
func (c *Cache[K, V]) lookup(key K) (V, bool) {
	var zero V
	now := c.clock.Now()

	c.mu.RLock()
	if !c.config.Enabled {
		c.mu.RUnlock()
		return zero, false
	}
	element, exists := c.items[key]
	if !exists {
		c.mu.RUnlock()
		return zero, false
	}
	e := element.Value.(*entry[K, V])
	if !e.expired(now) {
		value := e.value
		c.mu.RUnlock()
		return value, true
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// The entry may have been replaced while the read lock was released.
	if current, ok := c.items[key]; ok && current == element {
		c.removeElementLocked(element)
		c.recordEvictions(1)
		c.metrics.updateSize(len(c.items))
	}

	return zero, false
}

// Remove deletes a key if present. Explicit removal is not an eviction.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, exists := c.items[key]; exists {
		c.removeElementLocked(element)
		c.metrics.updateSize(len(c.items))
	}
}

// Keys returns the keys of live entries, oldest first
func (c *Cache[K, V]) Keys() []K {
	now := c.clock.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]K, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		e := element.Value.(*entry[K, V])
		if !e.expired(now) {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Clear removes all entries. Every removed entry counts as an eviction;
// hits and misses are left untouched.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := len(c.items)
	c.items = make(map[K]*list.Element)
	c.order.Init()
	if removed > 0 {
		c.dirty.Store(true)
	}

	c.recordEvictions(removed)
	c.metrics.updateSize(0)
}

// PurgeExpired removes every expired entry and returns how many were removed
func (c *Cache[K, V]) PurgeExpired() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for element := c.order.Front(); element != nil; {
		next := element.Next()
		if element.Value.(*entry[K, V]).expired(now) {
			c.removeElementLocked(element)
			removed++
		}
		element = next
	}

	c.recordEvictions(removed)
	c.metrics.updateSize(len(c.items))
	return removed
}

// Config returns the active policy
func (c *Cache[K, V]) Config() entities.CacheConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// UpdateConfig applies a policy live. Existing expiry times are kept; a
// smaller MaxEntries evicts immediately.
func (c *Cache[K, V]) UpdateConfig(config entities.CacheConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("cache %s: %w", c.name, err)
	}

	c.mu.Lock()
	intervalChanged := c.config.CleanupIntervalSecs != config.CleanupIntervalSecs
	c.config = config
	c.enforceCapacityLocked(c.clock.Now())
	c.mu.Unlock()

	if intervalChanged {
		select {
		case c.reschedule <- struct{}{}:
		default:
		}
	}

	c.logger.Info("Cache config updated",
		slog.Int("max_entries", config.MaxEntries),
		slog.Uint64("ttl_seconds", config.TTLSeconds),
		slog.Bool("enabled", config.Enabled))

	return nil
}

// Len returns the current number of stored entries, expired or not
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns cache statistics
func (c *Cache[K, V]) Stats() entities.CacheStats {
	c.mu.RLock()
	size := len(c.items)
	maxSize := c.config.MaxEntries
	c.mu.RUnlock()

	stats := entities.CacheStats{
		Name:      c.name,
		Size:      size,
		MaxSize:   maxSize,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		InFlight:  c.flight.len(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

var _ ports.ManagedCache = (*Cache[string, []byte])(nil)
