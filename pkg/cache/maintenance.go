package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/tiercache/pkg/models"
)

// RunMaintenance performs one maintenance pass: both tiers are swept for
// expired entries, L1 is trimmed by the eviction policy and the L2 index is
// persisted.
func (c *Cache[V]) RunMaintenance(ctx context.Context) error {
	start := time.Now()

	var expiredL1, expiredL2 int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		expiredL1 = c.l1.SweepExpired()
		return nil
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		expiredL2 = c.l2.SweepExpired()
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("sweep expired: %w", err)
	}

	trimmed := 0
	if keys := c.policy.Trim(c.l1.Stats(), c.l1.Snapshot()); len(keys) > 0 {
		trimmed = c.l1.Evict(keys, models.ReasonAdaptive)
	}

	if err := c.l2.PersistIndex(); err != nil {
		return fmt.Errorf("persist l2 index: %w", err)
	}

	l1, l2 := c.l1.Stats(), c.l2.Stats()
	c.metrics.ObserveTier(l1)
	c.metrics.ObserveTier(l2)

	c.logger.Debug("maintenance pass",
		zap.Int("expired_l1", expiredL1),
		zap.Int("expired_l2", expiredL2),
		zap.Int("trimmed_l1", trimmed),
		zap.Float64("l1_utilization_percent", l1.UtilizationPercent),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (c *Cache[V]) maintenanceLoop(interval time.Duration) {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.RunMaintenance(ctx); err != nil {
				c.logger.Error("maintenance pass failed", zap.Error(err))
			}
		}
	}
}
