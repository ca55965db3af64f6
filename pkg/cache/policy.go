package cache

import (
	"sort"

	"github.com/pario-ai/tiercache/pkg/models"
)

const (
	mib = 1 << 20

	// promoteLimit is the size below which any value may live in L1.
	promoteLimit = 1 * mib
	// promoteLargeLimit applies to types that are cheap to hold and costly to recompute.
	promoteLargeLimit = 10 * mib

	adaptiveThresholdPercent = 90.0
	adaptiveFraction         = 10
)

// Promotable reports whether a value of size bytes and type t may be placed in L1.
func Promotable(size int64, t models.CacheType) bool {
	if size < promoteLimit {
		return true
	}
	switch t {
	case models.Embedding, models.Metadata:
		return size <= promoteLargeLimit
	default:
		return false
	}
}

// EvictionPolicy decides which L1 entries to drop ahead of need during
// maintenance. Insert-time eviction is always LRU.
type EvictionPolicy interface {
	Name() models.Strategy
	// Trim returns the keys to evict given the tier's stats and its entries
	// in LRU order.
	Trim(stats models.TierStats, entries []models.Entry) []string
}

// LRUPolicy never trims proactively.
type LRUPolicy struct{}

func (LRUPolicy) Name() models.Strategy { return models.StrategyLRU }

func (LRUPolicy) Trim(models.TierStats, []models.Entry) []string { return nil }

// AdaptivePolicy evicts the least frequently accessed tenth of L1 once
// utilization passes 90%. Ties go to the entry accessed longest ago.
type AdaptivePolicy struct{}

func (AdaptivePolicy) Name() models.Strategy { return models.StrategyAdaptive }

func (AdaptivePolicy) Trim(stats models.TierStats, entries []models.Entry) []string {
	if stats.UtilizationPercent <= adaptiveThresholdPercent || len(entries) == 0 {
		return nil
	}

	ranked := make([]models.Entry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].AccessCount != ranked[j].AccessCount {
			return ranked[i].AccessCount < ranked[j].AccessCount
		}
		return ranked[i].LastAccessed.Before(ranked[j].LastAccessed)
	})

	n := len(ranked) / adaptiveFraction
	if n < 1 {
		n = 1
	}
	keys := make([]string, 0, n)
	for _, e := range ranked[:n] {
		keys = append(keys, e.Key)
	}
	return keys
}

// PolicyFor returns the policy implementing s.
func PolicyFor(s models.Strategy) (EvictionPolicy, error) {
	if _, err := models.ParseStrategy(string(s)); err != nil {
		return nil, err
	}
	if s == models.StrategyLRU {
		return LRUPolicy{}, nil
	}
	return AdaptivePolicy{}, nil
}
