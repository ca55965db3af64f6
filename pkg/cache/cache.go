// Package cache provides a two-tier cache: a bounded in-memory L1 in front of
// a bounded on-disk L2. Lookups fall through L1 to L2 and promote small L2
// hits back into L1. A background loop expires entries, trims L1 and persists
// the L2 index.
//
// Failures never surface from Get or Set. A miss and a value that could not
// be cached look the same, so callers must always be able to recompute.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/tiercache/pkg/cache/disk"
	"github.com/pario-ai/tiercache/pkg/cache/memory"
	"github.com/pario-ai/tiercache/pkg/cache/sizeof"
	"github.com/pario-ai/tiercache/pkg/metrics"
	"github.com/pario-ai/tiercache/pkg/models"
)

// ErrInvalidConfig is returned by New for unusable configuration.
var ErrInvalidConfig = errors.New("invalid cache config")

const (
	defaultMaintenanceInterval = 5 * time.Minute
	defaultShutdownTimeout     = 5 * time.Second
)

// DefaultTTLs returns the per-type TTLs applied when Set is not given one.
func DefaultTTLs() map[models.CacheType]time.Duration {
	return map[models.CacheType]time.Duration{
		models.QueryResult: time.Hour,
		models.Embedding:   24 * time.Hour,
		models.ModelOutput: 30 * time.Minute,
		models.Computation: 2 * time.Hour,
		models.Metadata:    time.Hour,
	}
}

// Config holds the cache construction parameters.
type Config struct {
	L1CapacityBytes int64
	L2CapacityBytes int64
	L2Dir           string
	Strategy        models.Strategy
	DefaultTTLs     map[models.CacheType]time.Duration
	// MaintenanceInterval of zero means the default; a negative value
	// disables the background loop.
	MaintenanceInterval time.Duration
	ShutdownTimeout     time.Duration
	// DemoteOnEvict moves values evicted from L1 for space into L2.
	DemoteOnEvict bool
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = models.StrategyAdaptive
	}
	ttls := DefaultTTLs()
	for t, ttl := range c.DefaultTTLs {
		ttls[t] = ttl
	}
	c.DefaultTTLs = ttls
	if c.MaintenanceInterval == 0 {
		c.MaintenanceInterval = defaultMaintenanceInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.L1CapacityBytes <= 0 {
		return fmt.Errorf("%w: l1 capacity must be greater than 0", ErrInvalidConfig)
	}
	if c.L2CapacityBytes <= 0 {
		return fmt.Errorf("%w: l2 capacity must be greater than 0", ErrInvalidConfig)
	}
	if _, err := models.ParseStrategy(string(c.Strategy)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for t := range c.DefaultTTLs {
		if _, err := models.ParseCacheType(string(t)); err != nil {
			return fmt.Errorf("%w: default ttl: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Cache routes reads and writes across L1 and L2. Each tier guards its own
// state; Cache never holds both tier locks at once, so a promotion may race
// with a concurrent invalidation and leave a short-lived stale L1 copy.
type Cache[V any] struct {
	cfg     Config
	l1      *memory.Cache[V]
	l2      *disk.Cache[V]
	policy  EvictionPolicy
	logger  *zap.Logger
	metrics *metrics.Collector
	sink    EventSink
	now     func() time.Time

	requests          atomic.Int64
	l1Hits            atomic.Int64
	l2Hits            atomic.Int64
	misses            atomic.Int64
	promotions        atomic.Int64
	promotionFailures atomic.Int64
	latencyNanos      atomic.Int64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds both tiers, restores the L2 index and starts the maintenance loop.
func New[V any](cfg Config, opts ...Option) (*Cache[V], error) {
	o := options{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if o.fs == nil && cfg.L2Dir == "" {
		return nil, fmt.Errorf("%w: l2 directory is required", ErrInvalidConfig)
	}
	policy, err := PolicyFor(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	l1, err := memory.New[V](cfg.L1CapacityBytes,
		memory.WithLogger(o.logger), memory.WithClock(o.now))
	if err != nil {
		return nil, fmt.Errorf("create l1: %w", err)
	}

	diskOpts := []disk.Option{disk.WithLogger(o.logger), disk.WithClock(o.now)}
	if o.codec != nil {
		diskOpts = append(diskOpts, disk.WithCodec(o.codec))
	}
	var l2 *disk.Cache[V]
	if o.fs != nil {
		l2, err = disk.Open[V](o.fs, cfg.L2CapacityBytes, diskOpts...)
	} else {
		l2, err = disk.OpenDir[V](cfg.L2Dir, cfg.L2CapacityBytes, diskOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("open l2: %w", err)
	}

	c := &Cache[V]{
		cfg:     cfg,
		l1:      l1,
		l2:      l2,
		policy:  policy,
		logger:  o.logger,
		metrics: o.metrics,
		sink:    o.sink,
		now:     o.now,
		done:    make(chan struct{}),
	}
	l1.SetEvictHook(c.onL1Evict)
	l2.SetEvictHook(c.onL2Evict)

	if cfg.MaintenanceInterval > 0 {
		c.wg.Add(1)
		go c.maintenanceLoop(cfg.MaintenanceInterval)
	}

	c.logger.Info("cache ready",
		zap.Int64("l1_capacity_bytes", cfg.L1CapacityBytes),
		zap.Int64("l2_capacity_bytes", cfg.L2CapacityBytes),
		zap.String("strategy", string(cfg.Strategy)),
		zap.Int("l2_entries", l2.Len()))
	return c, nil
}

// Get looks key up in L1 and then L2. An L2 hit is copied into L1 when
// Promotable allows it; a failed promotion still returns the value.
func (c *Cache[V]) Get(key string, t models.CacheType) (V, bool) {
	start := time.Now()
	defer func() {
		c.latencyNanos.Add(int64(time.Since(start)))
	}()
	c.requests.Add(1)

	if v, ok := c.l1.Get(key); ok {
		c.l1Hits.Add(1)
		c.metrics.Request(metrics.ResultL1Hit, time.Since(start))
		return v, true
	}

	v, entry, ok := c.l2.GetEntry(key)
	if !ok {
		c.misses.Add(1)
		c.metrics.Request(metrics.ResultMiss, time.Since(start))
		var zero V
		return zero, false
	}
	c.l2Hits.Add(1)

	if Promotable(entry.SizeBytes, t) {
		c.promote(key, v, entry)
	}
	c.metrics.Request(metrics.ResultL2Hit, time.Since(start))
	return v, true
}

func (c *Cache[V]) promote(key string, v V, entry models.Entry) {
	ttl := entry.Remaining(c.now())
	if !entry.ExpiresAt.IsZero() && ttl <= 0 {
		return
	}
	if c.l1.Set(key, v, entry.Type, ttl, entry.Metadata) {
		c.promotions.Add(1)
		c.metrics.Promotion(true)
		c.record(models.EventPromote, models.LevelL1, entry, "")
		return
	}
	c.promotionFailures.Add(1)
	c.metrics.Promotion(false)
	c.logger.Debug("promotion failed", zap.String("key", key))
}

// Set stores value in L1 when it is promotable and fits, otherwise in L2.
// Any copy left in the other tier is dropped. It returns false when neither
// tier accepted the value.
func (c *Cache[V]) Set(key string, value V, t models.CacheType, opts ...SetOption) bool {
	so := setOptions{promote: true}
	for _, opt := range opts {
		opt(&so)
	}
	ttl := so.ttl
	if !so.ttlSet {
		ttl = c.cfg.DefaultTTLs[t]
	}

	if so.promote {
		size, err := sizeof.Estimate(value)
		if err == nil && Promotable(size, t) {
			if c.l1.Set(key, value, t, ttl, so.metadata) {
				c.l2.Drop(key)
				c.metrics.Set(models.LevelL1, true)
				return true
			}
			c.metrics.Set(models.LevelL1, false)
			c.record(models.EventReject, models.LevelL1,
				models.Entry{Key: key, Type: t, SizeBytes: size}, "l1 rejected value")
		}
	}

	if c.l2.Set(key, value, t, ttl, so.metadata) {
		c.l1.Drop(key)
		c.metrics.Set(models.LevelL2, true)
		return true
	}
	c.metrics.Set(models.LevelL2, false)
	c.record(models.EventReject, models.LevelL2, models.Entry{Key: key, Type: t}, "l2 rejected value")
	return false
}

// Invalidate removes key from both tiers. It reports whether either held it.
func (c *Cache[V]) Invalidate(key string) bool {
	inL1 := c.l1.Delete(key)
	inL2 := c.l2.Delete(key)
	return inL1 || inL2
}

// InvalidatePattern removes every key containing substr, matched literally,
// from both tiers. The count is per tier: a key held by L1 and L2 counts twice.
func (c *Cache[V]) InvalidatePattern(substr string) int {
	removed := 0
	for _, key := range c.l1.Keys() {
		if strings.Contains(key, substr) && c.l1.Delete(key) {
			removed++
		}
	}
	for _, key := range c.l2.Keys() {
		if strings.Contains(key, substr) && c.l2.Delete(key) {
			removed++
		}
	}
	c.logger.Info("invalidated pattern", zap.String("pattern", substr), zap.Int("removed", removed))
	return removed
}

// Clear empties both tiers.
func (c *Cache[V]) Clear() {
	c.l1.Clear()
	if err := c.l2.Clear(); err != nil {
		c.logger.Error("clear l2", zap.Error(err))
	}
	c.record(models.EventClear, models.LevelL1, models.Entry{}, string(models.ReasonCleared))
	c.record(models.EventClear, models.LevelL2, models.Entry{}, string(models.ReasonCleared))
}

// Stats returns request counters and both tiers' state.
func (c *Cache[V]) Stats() models.CacheStats {
	s := models.CacheStats{
		TotalRequests:     c.requests.Load(),
		L1Hits:            c.l1Hits.Load(),
		L2Hits:            c.l2Hits.Load(),
		Misses:            c.misses.Load(),
		Promotions:        c.promotions.Load(),
		PromotionFailures: c.promotionFailures.Load(),
		L1:                c.l1.Stats(),
		L2:                c.l2.Stats(),
	}
	if s.TotalRequests > 0 {
		s.HitRate = float64(s.L1Hits+s.L2Hits) / float64(s.TotalRequests)
		s.AvgLatency = time.Duration(c.latencyNanos.Load() / s.TotalRequests)
	}
	c.metrics.ObserveTier(s.L1)
	c.metrics.ObserveTier(s.L2)
	return s
}

// Shutdown stops the maintenance loop, waiting at most ShutdownTimeout or
// until ctx is done, and then writes the L2 index. It is safe to call more
// than once.
func (c *Cache[V]) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.done) })

	stopped := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(stopped)
	}()

	timer := time.NewTimer(c.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-timer.C:
		c.logger.Warn("maintenance loop did not stop in time", zap.Duration("timeout", c.cfg.ShutdownTimeout))
	case <-ctx.Done():
		c.logger.Warn("shutdown interrupted", zap.Error(ctx.Err()))
	}

	if err := c.l2.PersistIndex(); err != nil {
		return fmt.Errorf("flush l2 index: %w", err)
	}
	return nil
}
