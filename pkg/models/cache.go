package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownCacheType is returned when a cache type name is not recognised.
var ErrUnknownCacheType = errors.New("unknown cache type")

// CacheType classifies cached values. It drives default TTLs and promotion limits.
type CacheType string

const (
	QueryResult CacheType = "query_result"
	Embedding   CacheType = "embedding"
	ModelOutput CacheType = "model_output"
	Computation CacheType = "computation"
	Metadata    CacheType = "metadata"
)

// CacheTypes lists every supported cache type.
var CacheTypes = []CacheType{QueryResult, Embedding, ModelOutput, Computation, Metadata}

// ParseCacheType converts a name such as "embedding" into a CacheType.
func ParseCacheType(s string) (CacheType, error) {
	for _, t := range CacheTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCacheType, s)
}

// Level identifies the tier holding an entry.
type Level string

const (
	LevelL1          Level = "l1"
	LevelL2          Level = "l2"
	LevelL3          Level = "l3"
	LevelDistributed Level = "distributed"
)

// Entry is the bookkeeping record for one cached value. Values themselves are
// held by the tier that owns the entry.
type Entry struct {
	Key          string         `json:"key"`
	Type         CacheType      `json:"cache_type"`
	Level        Level          `json:"cache_level"`
	SizeBytes    int64          `json:"size_bytes"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed time.Time      `json:"last_accessed"`
	AccessCount  int64          `json:"access_count"`
	TTLSeconds   int64          `json:"ttl_seconds,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewEntry builds an entry created at now. A ttl of zero or less means the
// entry never expires.
func NewEntry(key string, t CacheType, level Level, size int64, ttl time.Duration, metadata map[string]any, now time.Time) Entry {
	e := Entry{
		Key:          key,
		Type:         t,
		Level:        level,
		SizeBytes:    size,
		CreatedAt:    now,
		LastAccessed: now,
		Metadata:     metadata,
	}
	if ttl > 0 {
		e.TTLSeconds = int64(ttl / time.Second)
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

// Expired reports whether the entry's expiry lies strictly before now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Remaining returns the time left before expiry, or zero for entries without a TTL.
func (e *Entry) Remaining(now time.Time) time.Duration {
	if e.ExpiresAt.IsZero() {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}

// Touch records an access at now.
func (e *Entry) Touch(now time.Time) {
	e.LastAccessed = now
	e.AccessCount++
}

// EvictReason explains why an entry left a tier.
type EvictReason string

const (
	ReasonCapacity    EvictReason = "capacity"
	ReasonExpired     EvictReason = "expired"
	ReasonInvalidated EvictReason = "invalidated"
	ReasonAdaptive    EvictReason = "adaptive"
	ReasonCorrupt     EvictReason = "corrupt"
	ReasonCleared     EvictReason = "cleared"
)

// TierStats reports the state of a single cache tier.
type TierStats struct {
	Level              Level   `json:"level"`
	CapacityBytes      int64   `json:"capacity_bytes"`
	CurrentSizeBytes   int64   `json:"current_size_bytes"`
	UtilizationPercent float64 `json:"utilization_percent"`
	Entries            int     `json:"entries"`
	Hits               int64   `json:"hits"`
	Misses             int64   `json:"misses"`
	HitRate            float64 `json:"hit_rate"`
	Evictions          int64   `json:"evictions"`
	Expirations        int64   `json:"expirations"`
	Rejections         int64   `json:"rejections"`
	DiskReads          int64   `json:"disk_reads,omitempty"`
	DiskWrites         int64   `json:"disk_writes,omitempty"`
	DiskErrors         int64   `json:"disk_errors,omitempty"`
}

// Fill derives utilization and hit rate from the raw counters.
func (s *TierStats) Fill() {
	if s.CapacityBytes > 0 {
		s.UtilizationPercent = float64(s.CurrentSizeBytes) / float64(s.CapacityBytes) * 100
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
}

// CacheStats reports orchestrator-level performance across both tiers.
type CacheStats struct {
	TotalRequests     int64         `json:"total_requests"`
	L1Hits            int64         `json:"l1_hits"`
	L2Hits            int64         `json:"l2_hits"`
	Misses            int64         `json:"misses"`
	Promotions        int64         `json:"promotions"`
	PromotionFailures int64         `json:"promotion_failures"`
	HitRate           float64       `json:"hit_rate"`
	AvgLatency        time.Duration `json:"avg_latency"`
	L1                TierStats     `json:"l1"`
	L2                TierStats     `json:"l2"`
}
