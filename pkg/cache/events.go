package cache

import (
	"go.uber.org/zap"

	"github.com/pario-ai/tiercache/pkg/cache/disk"
	"github.com/pario-ai/tiercache/pkg/cache/memory"
	"github.com/pario-ai/tiercache/pkg/models"
)

// EventSink receives cache lifecycle events. Record must not block.
type EventSink interface {
	Record(models.Event)
}

func kindFor(reason models.EvictReason) models.EventKind {
	switch reason {
	case models.ReasonExpired:
		return models.EventExpire
	case models.ReasonInvalidated:
		return models.EventInvalidate
	case models.ReasonCleared:
		return models.EventClear
	default:
		return models.EventEvict
	}
}

func (c *Cache[V]) record(kind models.EventKind, tier models.Level, e models.Entry, reason string) {
	if c.sink == nil {
		return
	}
	c.sink.Record(models.Event{
		Kind:      kind,
		Key:       e.Key,
		Tier:      tier,
		CacheType: e.Type,
		Reason:    reason,
		SizeBytes: e.SizeBytes,
		CreatedAt: c.now(),
	})
}

// onL1Evict runs after the L1 lock is released, so it may write to L2.
func (c *Cache[V]) onL1Evict(evicted []memory.Evicted[V]) {
	for _, ev := range evicted {
		c.metrics.Evicted(models.LevelL1, ev.Reason, 1)
		c.record(kindFor(ev.Reason), models.LevelL1, ev.Entry, string(ev.Reason))

		if c.cfg.DemoteOnEvict && (ev.Reason == models.ReasonCapacity || ev.Reason == models.ReasonAdaptive) {
			c.demote(ev)
		}
	}
}

func (c *Cache[V]) onL2Evict(evicted []disk.Evicted) {
	for _, ev := range evicted {
		c.metrics.Evicted(models.LevelL2, ev.Reason, 1)
		c.record(kindFor(ev.Reason), models.LevelL2, ev.Entry, string(ev.Reason))
	}
}

// demote moves a value pushed out of L1 into L2 with whatever TTL it had left.
func (c *Cache[V]) demote(ev memory.Evicted[V]) {
	now := c.now()
	ttl := ev.Entry.Remaining(now)
	if !ev.Entry.ExpiresAt.IsZero() && ttl <= 0 {
		return
	}
	if !c.l2.Set(ev.Entry.Key, ev.Value, ev.Entry.Type, ttl, ev.Entry.Metadata) {
		c.logger.Debug("demotion rejected", zap.String("key", ev.Entry.Key))
		return
	}
	c.record(models.EventDemote, models.LevelL2, ev.Entry, string(ev.Reason))
}
