package models

import (
	"errors"
	"testing"
	"time"
)

func TestEntryExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := NewEntry("k", QueryResult, LevelL1, 10, time.Minute, nil, now)

	if e.TTLSeconds != 60 {
		t.Errorf("expected ttl 60s, got %d", e.TTLSeconds)
	}
	if e.Expired(now.Add(time.Minute - time.Nanosecond)) {
		t.Error("expected entry alive just before deadline")
	}
	if e.Expired(now.Add(time.Minute)) {
		t.Error("expected entry alive exactly at deadline")
	}
	if !e.Expired(now.Add(time.Minute + time.Nanosecond)) {
		t.Error("expected entry expired after deadline")
	}
	if got := e.Remaining(now.Add(15 * time.Second)); got != 45*time.Second {
		t.Errorf("expected 45s remaining, got %v", got)
	}
}

func TestEntryWithoutTTL(t *testing.T) {
	now := time.Now()
	e := NewEntry("k", Embedding, LevelL2, 10, 0, nil, now)

	if !e.ExpiresAt.IsZero() {
		t.Errorf("expected no expiry, got %v", e.ExpiresAt)
	}
	if e.Expired(now.Add(100 * 365 * 24 * time.Hour)) {
		t.Error("entry without ttl must never expire")
	}
	if e.Remaining(now) != 0 {
		t.Error("expected zero remaining for entry without ttl")
	}
}

func TestEntryTouch(t *testing.T) {
	now := time.Now()
	e := NewEntry("k", Metadata, LevelL1, 1, 0, nil, now)
	later := now.Add(time.Second)
	e.Touch(later)
	e.Touch(later)

	if e.AccessCount != 2 {
		t.Errorf("expected 2 accesses, got %d", e.AccessCount)
	}
	if !e.LastAccessed.Equal(later) {
		t.Errorf("expected last access %v, got %v", later, e.LastAccessed)
	}
}

func TestParseCacheType(t *testing.T) {
	for _, ct := range CacheTypes {
		got, err := ParseCacheType(string(ct))
		if err != nil || got != ct {
			t.Errorf("ParseCacheType(%q) = %q, %v", ct, got, err)
		}
	}
	if _, err := ParseCacheType("blob"); !errors.Is(err, ErrUnknownCacheType) {
		t.Errorf("expected ErrUnknownCacheType, got %v", err)
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy("adaptive"); err != nil || s != StrategyAdaptive {
		t.Errorf("unexpected result: %q, %v", s, err)
	}
	for _, name := range []string{"lfu", "ttl", "predictive", ""} {
		if _, err := ParseStrategy(name); !errors.Is(err, ErrUnknownStrategy) {
			t.Errorf("ParseStrategy(%q): expected ErrUnknownStrategy, got %v", name, err)
		}
	}
}

func TestTierStatsFill(t *testing.T) {
	s := TierStats{CapacityBytes: 200, CurrentSizeBytes: 50, Hits: 3, Misses: 1}
	s.Fill()
	if s.UtilizationPercent != 25 {
		t.Errorf("expected 25%% utilization, got %v", s.UtilizationPercent)
	}
	if s.HitRate != 0.75 {
		t.Errorf("expected 0.75 hit rate, got %v", s.HitRate)
	}

	var empty TierStats
	empty.Fill()
	if empty.UtilizationPercent != 0 || empty.HitRate != 0 {
		t.Errorf("expected zero stats, got %+v", empty)
	}
}
