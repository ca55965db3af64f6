// Package journal keeps a queryable SQLite record of cache lifecycle events.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/tiercache/pkg/models"
)

// ErrClosed is returned by operations on a closed Journal.
var ErrClosed = errors.New("journal closed")

const (
	defaultBufferSize = 1024
	defaultQueryLimit = 100
)

// Journal records cache events asynchronously. Record never blocks: events
// that do not fit in the buffer are dropped and counted.
type Journal struct {
	db      *sql.DB
	cfg     models.JournalConfig
	logger  *zap.Logger
	events  chan models.Event
	flush   chan chan struct{}
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// New opens the journal database, creates the schema and starts the writer
// and retention goroutines.
func New(cfg models.JournalConfig, logger *zap.Logger) (*Journal, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("journal db path must not be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}

	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}

	j := &Journal{
		db:     db,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "journal")),
		events: make(chan models.Event, cfg.BufferSize),
		flush:  make(chan chan struct{}),
		done:   make(chan struct{}),
	}

	j.wg.Add(1)
	go j.writeLoop()
	if cfg.RetentionDays > 0 {
		j.wg.Add(1)
		go j.retentionLoop()
	}
	return j, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache_events (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		cache_key   TEXT NOT NULL,
		tier        TEXT NOT NULL,
		cache_type  TEXT,
		reason      TEXT,
		size_bytes  INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_created ON cache_events(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_key ON cache_events(cache_key)`)
	return err
}

// Record queues e for writing. Missing IDs and timestamps are filled in.
func (j *Journal) Record(e models.Event) {
	if j == nil {
		return
	}
	select {
	case <-j.done:
		j.dropped.Add(1)
		return
	default:
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	select {
	case j.events <- e:
	default:
		j.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the buffer was full
// or the journal was closed.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Flush blocks until every event recorded before the call has been written.
func (j *Journal) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case j.flush <- ack:
	case <-j.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query returns events matching opts, newest first.
func (j *Journal) Query(ctx context.Context, opts models.EventQueryOpts) ([]models.Event, error) {
	q := `SELECT id, kind, cache_key, tier, cache_type, reason, size_bytes, created_at
		FROM cache_events WHERE 1=1`
	var args []any

	if opts.Kind != "" {
		q += " AND kind = ?"
		args = append(args, opts.Kind)
	}
	if opts.Tier != "" {
		q += " AND tier = ?"
		args = append(args, opts.Tier)
	}
	if opts.Key != "" {
		q += " AND cache_key = ?"
		args = append(args, opts.Key)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var cacheType, reason sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &e.Key, &e.Tier, &cacheType, &reason, &e.SizeBytes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.CacheType = models.CacheType(cacheType.String)
		e.Reason = reason.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// Stats returns event counts grouped by kind and tier.
func (j *Journal) Stats(ctx context.Context) ([]models.EventStat, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT kind, tier, count(*) FROM cache_events
		 GROUP BY kind, tier ORDER BY kind, tier`)
	if err != nil {
		return nil, fmt.Errorf("event stats: %w", err)
	}
	defer rows.Close()

	var stats []models.EventStat
	for rows.Next() {
		var s models.EventStat
		if err := rows.Scan(&s.Kind, &s.Tier, &s.Count); err != nil {
			return nil, fmt.Errorf("scan event stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes events older than the retention period and returns how
// many were removed. It is a no-op when retention is disabled.
func (j *Journal) Cleanup(ctx context.Context) (int64, error) {
	if j.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -j.cfg.RetentionDays)
	res, err := j.db.ExecContext(ctx, `DELETE FROM cache_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("event cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close writes any buffered events, stops the background goroutines and
// closes the database.
func (j *Journal) Close() error {
	j.once.Do(func() { close(j.done) })
	j.wg.Wait()
	if n := j.dropped.Load(); n > 0 {
		j.logger.Warn("journal dropped events", zap.Int64("dropped", n))
	}
	return j.db.Close()
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case e := <-j.events:
			j.insert(e)
		case ack := <-j.flush:
			j.drain()
			close(ack)
		case <-j.done:
			j.drain()
			return
		}
	}
}

func (j *Journal) drain() {
	for {
		select {
		case e := <-j.events:
			j.insert(e)
		default:
			return
		}
	}
}

func (j *Journal) insert(e models.Event) {
	_, err := j.db.Exec(
		`INSERT OR REPLACE INTO cache_events
		(id, kind, cache_key, tier, cache_type, reason, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Key, e.Tier, e.CacheType, e.Reason, e.SizeBytes, e.CreatedAt,
	)
	if err != nil {
		j.logger.Error("insert event", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

func (j *Journal) retentionLoop() {
	defer j.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			n, err := j.Cleanup(context.Background())
			if err != nil {
				j.logger.Error("retention cleanup", zap.Error(err))
				continue
			}
			if n > 0 {
				j.logger.Info("removed expired events", zap.Int64("removed", n))
			}
		}
	}
}
