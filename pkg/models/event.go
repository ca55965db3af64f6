package models

import "time"

// EventKind names a cache lifecycle transition recorded in the journal.
type EventKind string

const (
	EventEvict      EventKind = "evict"
	EventExpire     EventKind = "expire"
	EventInvalidate EventKind = "invalidate"
	EventPromote    EventKind = "promote"
	EventDemote     EventKind = "demote"
	EventReject     EventKind = "reject"
	EventClear      EventKind = "clear"
)

// Event is one journal record.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Key       string    `json:"key"`
	Tier      Level     `json:"tier"`
	CacheType CacheType `json:"cache_type,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// JournalConfig controls the SQLite event journal.
type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
	BufferSize    int    `yaml:"buffer_size"`
}

// EventQueryOpts specifies filters for querying journal events.
type EventQueryOpts struct {
	Kind  EventKind
	Tier  Level
	Key   string
	Since time.Time
	Limit int
}

// EventStat holds aggregate event counts for a kind/tier combination.
type EventStat struct {
	Kind  EventKind
	Tier  Level
	Count int
}
