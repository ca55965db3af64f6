// Package memory implements the L1 tier: a byte-bounded in-memory cache with
// strict LRU eviction.
package memory

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/tiercache/pkg/cache/internal/lru"
	"github.com/pario-ai/tiercache/pkg/cache/sizeof"
	"github.com/pario-ai/tiercache/pkg/models"
)

// Evicted describes an entry removed from the tier for a reason other than
// an explicit Clear or an overwrite of the same key.
type Evicted[V any] struct {
	Entry  models.Entry
	Value  V
	Reason models.EvictReason
}

type item[V any] struct {
	entry models.Entry
	value V
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	logger *zap.Logger
	now    func() time.Time
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Cache is the in-memory tier. All state is guarded by a single mutex.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	items    *lru.List[*item[V]]

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
	rejections  int64

	logger  *zap.Logger
	now     func() time.Time
	onEvict func([]Evicted[V])
}

// New creates an in-memory tier holding at most capacityBytes.
func New[V any](capacityBytes int64, opts ...Option) (*Cache[V], error) {
	if capacityBytes <= 0 {
		return nil, fmt.Errorf("l1 capacity must be greater than 0, got %d", capacityBytes)
	}
	o := options{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		capacity: capacityBytes,
		items:    lru.New[*item[V]](),
		logger:   o.logger.With(zap.String("tier", string(models.LevelL1))),
		now:      o.now,
	}, nil
}

// SetEvictHook registers fn to receive evicted entries. fn runs after the
// tier lock is released. It must be set before the cache is shared.
func (c *Cache[V]) SetEvictHook(fn func([]Evicted[V])) {
	c.onEvict = fn
}

// Get returns the value stored under key.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, _, ok := c.GetEntry(key)
	return v, ok
}

// GetEntry returns the value and a copy of its bookkeeping record. Expired
// entries are removed and reported as misses.
func (c *Cache[V]) GetEntry(key string) (V, models.Entry, bool) {
	var zero V
	var evicted []Evicted[V]

	c.mu.Lock()
	it, ok := c.items.Get(key)
	if !ok {
		c.misses++
		c.mu.Unlock()
		return zero, models.Entry{}, false
	}

	now := c.now()
	if it.entry.Expired(now) {
		c.removeLocked(key)
		c.expirations++
		c.misses++
		evicted = append(evicted, Evicted[V]{Entry: it.entry, Value: it.value, Reason: models.ReasonExpired})
		c.mu.Unlock()
		c.notify(evicted)
		return zero, models.Entry{}, false
	}

	it.entry.Touch(now)
	c.items.Touch(key)
	c.hits++
	v, entry := it.value, it.entry
	c.mu.Unlock()
	return v, entry, true
}

// Contains reports whether key is present, without touching it or counters.
func (c *Cache[V]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items.Get(key)
	return ok
}

// Set stores value under key. It returns false without changing the tier when
// the value is larger than the whole tier or its size cannot be estimated.
func (c *Cache[V]) Set(key string, value V, t models.CacheType, ttl time.Duration, metadata map[string]any) bool {
	size, err := sizeof.Estimate(value)
	if err != nil {
		c.logger.Warn("cannot size value", zap.String("key", key), zap.Error(err))
		c.mu.Lock()
		c.rejections++
		c.mu.Unlock()
		return false
	}

	c.mu.Lock()
	if size > c.capacity {
		c.rejections++
		c.mu.Unlock()
		c.logger.Warn("value exceeds tier capacity",
			zap.String("key", key),
			zap.Int64("size_bytes", size),
			zap.Int64("capacity_bytes", c.capacity))
		return false
	}

	c.removeLocked(key)
	evicted := c.makeRoomLocked(size)

	entry := models.NewEntry(key, t, models.LevelL1, size, ttl, metadata, c.now())
	c.items.PushBack(key, &item[V]{entry: entry, value: value})
	c.size += size
	c.mu.Unlock()

	c.notify(evicted)
	return true
}

// Delete removes key. It reports whether an entry was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	it, ok := c.removeLocked(key)
	c.mu.Unlock()
	if ok {
		c.notify([]Evicted[V]{{Entry: it.entry, Value: it.value, Reason: models.ReasonInvalidated}})
	}
	return ok
}

// Drop removes key without reporting it to the evict hook. It is used when a
// newer copy of the value lives in another tier.
func (c *Cache[V]) Drop(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.removeLocked(key)
	return ok
}

// Evict removes the given keys, attributing the removals to reason. It
// returns how many were present.
func (c *Cache[V]) Evict(keys []string, reason models.EvictReason) int {
	var evicted []Evicted[V]

	c.mu.Lock()
	for _, key := range keys {
		if it, ok := c.removeLocked(key); ok {
			c.evictions++
			evicted = append(evicted, Evicted[V]{Entry: it.entry, Value: it.value, Reason: reason})
		}
	}
	c.mu.Unlock()

	c.notify(evicted)
	return len(evicted)
}

// SweepExpired removes every expired entry and returns how many were removed.
func (c *Cache[V]) SweepExpired() int {
	var evicted []Evicted[V]

	c.mu.Lock()
	now := c.now()
	var expired []string
	c.items.Each(func(key string, it *item[V]) bool {
		if it.entry.Expired(now) {
			expired = append(expired, key)
		}
		return true
	})
	for _, key := range expired {
		if it, ok := c.removeLocked(key); ok {
			c.expirations++
			evicted = append(evicted, Evicted[V]{Entry: it.entry, Value: it.value, Reason: models.ReasonExpired})
		}
	}
	c.mu.Unlock()

	c.notify(evicted)
	return len(evicted)
}

// Keys returns all keys from least to most recently used.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Keys()
}

// Snapshot returns copies of all entry records from least to most recently used.
func (c *Cache[V]) Snapshot() []models.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]models.Entry, 0, c.items.Len())
	c.items.Each(func(_ string, it *item[V]) bool {
		entries = append(entries, it.entry)
		return true
	})
	return entries
}

// Clear drops every entry and resets size accounting. Counters are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Reset()
	c.size = 0
}

// Len returns the number of entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// Stats returns a point-in-time view of the tier.
func (c *Cache[V]) Stats() models.TierStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := models.TierStats{
		Level:            models.LevelL1,
		CapacityBytes:    c.capacity,
		CurrentSizeBytes: c.size,
		Entries:          c.items.Len(),
		Hits:             c.hits,
		Misses:           c.misses,
		Evictions:        c.evictions,
		Expirations:      c.expirations,
		Rejections:       c.rejections,
	}
	s.Fill()
	return s
}

// removeLocked drops key from the list and size accounting.
func (c *Cache[V]) removeLocked(key string) (*item[V], bool) {
	it, ok := c.items.Remove(key)
	if !ok {
		return nil, false
	}
	c.size -= it.entry.SizeBytes
	return it, true
}

// makeRoomLocked evicts least recently used entries until size more bytes fit.
func (c *Cache[V]) makeRoomLocked(size int64) []Evicted[V] {
	var evicted []Evicted[V]
	for c.size+size > c.capacity {
		key, it, ok := c.items.Oldest()
		if !ok {
			break
		}
		c.removeLocked(key)
		c.evictions++
		evicted = append(evicted, Evicted[V]{Entry: it.entry, Value: it.value, Reason: models.ReasonCapacity})
	}
	if len(evicted) > 0 {
		c.logger.Debug("evicted entries", zap.Int("count", len(evicted)), zap.Int64("needed_bytes", size))
	}
	return evicted
}

func (c *Cache[V]) notify(evicted []Evicted[V]) {
	if len(evicted) > 0 && c.onEvict != nil {
		c.onEvict(evicted)
	}
}
