// Package disk implements the L2 tier: a byte-bounded cache that keeps one
// file per key and an in-memory index of entry records. The index is
// persisted to index.json so the tier survives restarts; values are read back
// lazily from their files.
package disk

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"go.uber.org/zap"

	"github.com/pario-ai/tiercache/pkg/cache/internal/lru"
	"github.com/pario-ai/tiercache/pkg/models"
)

const (
	// IndexFile is the name of the persisted index inside the cache directory.
	IndexFile = "index.json"

	valueExt   = ".bin"
	tempPrefix = ".tmp-"
)

// Evicted describes an entry removed from the tier.
type Evicted struct {
	Entry  models.Entry
	Reason models.EvictReason
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	logger *zap.Logger
	now    func() time.Time
	codec  Codec
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithCodec sets the value codec. The default is JSONCodec.
func WithCodec(c Codec) Option {
	return func(o *options) { o.codec = c }
}

// Cache is the disk tier. The index, counters and all file operations are
// serialized by a single mutex.
type Cache[V any] struct {
	mu       sync.Mutex
	fs       billy.Filesystem
	codec    Codec
	capacity int64
	size     int64
	index    *lru.List[*models.Entry]

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
	rejections  int64
	diskReads   int64
	diskWrites  int64
	diskErrors  int64

	logger  *zap.Logger
	now     func() time.Time
	onEvict func([]Evicted)
}

// OpenDir opens (creating if needed) a disk tier rooted at dir.
func OpenDir[V any](dir string, capacityBytes int64, opts ...Option) (*Cache[V], error) {
	if dir == "" {
		return nil, fmt.Errorf("l2 directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create l2 directory: %w", err)
	}
	return Open[V](osfs.New(dir), capacityBytes, opts...)
}

// Open opens a disk tier on fs and restores any persisted index.
func Open[V any](fs billy.Filesystem, capacityBytes int64, opts ...Option) (*Cache[V], error) {
	if fs == nil {
		return nil, fmt.Errorf("filesystem cannot be nil")
	}
	if capacityBytes <= 0 {
		return nil, fmt.Errorf("l2 capacity must be greater than 0, got %d", capacityBytes)
	}
	o := options{logger: zap.NewNop(), now: time.Now, codec: JSONCodec{}}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache[V]{
		fs:       fs,
		codec:    o.codec,
		capacity: capacityBytes,
		index:    lru.New[*models.Entry](),
		logger:   o.logger.With(zap.String("tier", string(models.LevelL2))),
		now:      o.now,
	}

	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetEvictHook registers fn to receive evicted entries. fn runs after the
// tier lock is released. It must be set before the cache is shared.
func (c *Cache[V]) SetEvictHook(fn func([]Evicted)) {
	c.onEvict = fn
}

// Get returns the value stored under key.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, _, ok := c.GetEntry(key)
	return v, ok
}

// GetEntry decodes the value stored under key and returns it with a copy of
// its record. Expired entries and entries whose file is missing or corrupt
// are dropped from the index and reported as misses.
func (c *Cache[V]) GetEntry(key string) (V, models.Entry, bool) {
	var zero V

	c.mu.Lock()
	e, ok := c.index.Get(key)
	if !ok {
		c.misses++
		c.mu.Unlock()
		return zero, models.Entry{}, false
	}

	now := c.now()
	if e.Expired(now) {
		c.removeLocked(key)
		c.expirations++
		c.misses++
		c.mu.Unlock()
		c.notify([]Evicted{{Entry: *e, Reason: models.ReasonExpired}})
		return zero, models.Entry{}, false
	}

	var v V
	data, err := c.readLocked(fileName(key))
	if err == nil {
		c.diskReads++
		err = c.codec.Unmarshal(data, &v)
	}
	if err != nil {
		c.diskErrors++
		c.removeLocked(key)
		c.misses++
		c.mu.Unlock()
		c.logger.Error("dropping unreadable entry", zap.String("key", key), zap.Error(err))
		c.notify([]Evicted{{Entry: *e, Reason: models.ReasonCorrupt}})
		return zero, models.Entry{}, false
	}

	e.Touch(now)
	c.index.Touch(key)
	c.hits++
	entry := *e
	c.mu.Unlock()
	return v, entry, true
}

// Contains reports whether key is indexed, without touching it or counters.
func (c *Cache[V]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index.Get(key)
	return ok
}

// Set serializes value to its file and then registers it in the index. If
// serialization or the write fails, or the value is larger than the tier, Set
// returns false and the index, size accounting and any previous value under
// key are left as they were.
func (c *Cache[V]) Set(key string, value V, t models.CacheType, ttl time.Duration, metadata map[string]any) bool {
	data, err := c.codec.Marshal(value)
	if err != nil {
		c.logger.Warn("cannot serialize value", zap.String("key", key), zap.Error(err))
		c.mu.Lock()
		c.rejections++
		c.mu.Unlock()
		return false
	}
	size := int64(len(data))

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

	if err := c.writeLocked(fileName(key), data); err != nil {
		c.diskErrors++
		c.mu.Unlock()
		c.logger.Error("write value file", zap.String("key", key), zap.Error(err))
		return false
	}
	c.diskWrites++

	// The new file already replaced the old one, so only drop the record.
	if old, ok := c.index.Remove(key); ok {
		c.size -= old.SizeBytes
	}
	evicted := c.makeRoomLocked(size)

	entry := models.NewEntry(key, t, models.LevelL2, size, ttl, metadata, c.now())
	c.index.PushBack(key, &entry)
	c.size += size
	c.mu.Unlock()

	c.notify(evicted)
	return true
}

// Delete removes key and its file. It reports whether an entry was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	e, ok := c.removeLocked(key)
	c.mu.Unlock()
	if ok {
		c.notify([]Evicted{{Entry: *e, Reason: models.ReasonInvalidated}})
	}
	return ok
}

// Drop removes key and its file without reporting it to the evict hook.
func (c *Cache[V]) Drop(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.removeLocked(key)
	return ok
}

// SweepExpired removes every expired entry and returns how many were removed.
func (c *Cache[V]) SweepExpired() int {
	var evicted []Evicted

	c.mu.Lock()
	now := c.now()
	var expired []string
	c.index.Each(func(key string, e *models.Entry) bool {
		if e.Expired(now) {
			expired = append(expired, key)
		}
		return true
	})
	for _, key := range expired {
		if e, ok := c.removeLocked(key); ok {
			c.expirations++
			evicted = append(evicted, Evicted{Entry: *e, Reason: models.ReasonExpired})
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
	return c.index.Keys()
}

// Snapshot returns copies of all entry records from least to most recently used.
func (c *Cache[V]) Snapshot() []models.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]models.Entry, 0, c.index.Len())
	c.index.Each(func(_ string, e *models.Entry) bool {
		entries = append(entries, *e)
		return true
	})
	return entries
}

// Clear deletes every value file, empties the index and persists the empty index.
func (c *Cache[V]) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.index.Keys() {
		c.removeFileLocked(fileName(key))
	}
	c.index.Reset()
	c.size = 0
	c.removeStrayLocked(nil)

	return c.persistLocked()
}

// PersistIndex writes the current index to index.json.
func (c *Cache[V]) PersistIndex() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistLocked()
}

// Len returns the number of indexed entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

// Stats returns a point-in-time view of the tier.
func (c *Cache[V]) Stats() models.TierStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := models.TierStats{
		Level:            models.LevelL2,
		CapacityBytes:    c.capacity,
		CurrentSizeBytes: c.size,
		Entries:          c.index.Len(),
		Hits:             c.hits,
		Misses:           c.misses,
		Evictions:        c.evictions,
		Expirations:      c.expirations,
		Rejections:       c.rejections,
		DiskReads:        c.diskReads,
		DiskWrites:       c.diskWrites,
		DiskErrors:       c.diskErrors,
	}
	s.Fill()
	return s
}

// load restores the index from index.json, dropping anything that no longer
// fits and removing files the index does not reference.
func (c *Cache[V]) load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.readLocked(IndexFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read l2 index: %w", err)
	}

	var stored map[string]models.Entry
	if err := json.Unmarshal(data, &stored); err != nil {
		c.logger.Warn("ignoring corrupt index", zap.Error(err))
		stored = nil
	}

	entries := make([]models.Entry, 0, len(stored))
	for key, e := range stored {
		e.Key = key
		e.Level = models.LevelL2
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].LastAccessed.Equal(entries[j].LastAccessed) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].LastAccessed.Before(entries[j].LastAccessed)
	})

	for i := range entries {
		e := entries[i]
		c.index.PushBack(e.Key, &e)
		c.size += e.SizeBytes
	}
	if evicted := c.makeRoomLocked(0); len(evicted) > 0 {
		c.logger.Info("trimmed restored index to capacity", zap.Int("evicted", len(evicted)))
	}

	keep := make(map[string]bool, c.index.Len())
	for _, key := range c.index.Keys() {
		keep[fileName(key)] = true
	}
	c.removeStrayLocked(keep)

	c.logger.Info("restored l2 index",
		zap.Int("entries", c.index.Len()),
		zap.Int64("size_bytes", c.size))
	return nil
}

// removeLocked drops key from the index and size accounting and deletes its file.
func (c *Cache[V]) removeLocked(key string) (*models.Entry, bool) {
	e, ok := c.index.Remove(key)
	if !ok {
		return nil, false
	}
	c.size -= e.SizeBytes
	c.removeFileLocked(fileName(key))
	return e, true
}

// makeRoomLocked evicts least recently used entries until size more bytes fit.
func (c *Cache[V]) makeRoomLocked(size int64) []Evicted {
	var evicted []Evicted
	for c.size+size > c.capacity {
		key, _, ok := c.index.Oldest()
		if !ok {
			break
		}
		e, _ := c.removeLocked(key)
		c.evictions++
		evicted = append(evicted, Evicted{Entry: *e, Reason: models.ReasonCapacity})
	}
	if len(evicted) > 0 {
		c.logger.Debug("evicted entries", zap.Int("count", len(evicted)), zap.Int64("needed_bytes", size))
	}
	return evicted
}

func (c *Cache[V]) persistLocked() error {
	stored := make(map[string]models.Entry, c.index.Len())
	c.index.Each(func(key string, e *models.Entry) bool {
		stored[key] = *e
		return true
	})

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal l2 index: %w", err)
	}
	if err := c.writeLocked(IndexFile, data); err != nil {
		c.diskErrors++
		return fmt.Errorf("write l2 index: %w", err)
	}
	c.diskWrites++
	return nil
}

// writeLocked writes data to a temporary file and renames it over name so a
// failed write never leaves a partial file behind.
func (c *Cache[V]) writeLocked(name string, data []byte) error {
	f, err := c.fs.TempFile(".", tempPrefix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = c.fs.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = c.fs.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := c.fs.Rename(tmp, name); err != nil {
		_ = c.fs.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (c *Cache[V]) readLocked(name string) ([]byte, error) {
	f, err := c.fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (c *Cache[V]) removeFileLocked(name string) {
	if err := c.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.diskErrors++
		c.logger.Warn("remove value file", zap.String("file", name), zap.Error(err))
	}
}

// removeStrayLocked deletes value and temp files not present in keep.
func (c *Cache[V]) removeStrayLocked(keep map[string]bool) {
	infos, err := c.fs.ReadDir(".")
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		c.logger.Warn("list l2 directory", zap.Error(err))
		return
	}
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || keep[name] {
			continue
		}
		if strings.HasSuffix(name, valueExt) || strings.HasPrefix(name, tempPrefix) {
			c.removeFileLocked(name)
		}
	}
}

func (c *Cache[V]) notify(evicted []Evicted) {
	if len(evicted) > 0 && c.onEvict != nil {
		c.onEvict(evicted)
	}
}

// fileName maps a key to its value file. Keys are hashed so arbitrary
// strings are safe as file names.
func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + valueExt
}
