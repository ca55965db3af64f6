package disk

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pario-ai/tiercache/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// failingFS fails temp file creation on demand, which makes every write fail.
type failingFS struct {
	billy.Filesystem
	mu   sync.Mutex
	fail bool
}

func (f *failingFS) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *failingFS) TempFile(dir, prefix string) (billy.File, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("no space left on device")
	}
	return f.Filesystem.TempFile(dir, prefix)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func openTestCache(t *testing.T, fs billy.Filesystem, capacity int64, clock *fakeClock) *Cache[string] {
	t.Helper()
	c, err := Open[string](fs, capacity, WithLogger(zaptest.NewLogger(t)), WithClock(clock.Now))
	require.NoError(t, err)
	return c
}

// sized returns a string whose JSON encoding is exactly n bytes.
func sized(n int) string {
	b := make([]byte, n-2)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}

func TestOpenValidatesArguments(t *testing.T) {
	_, err := Open[string](nil, 10)
	assert.Error(t, err)
	_, err = Open[string](memfs.New(), 0)
	assert.Error(t, err)
	_, err = OpenDir[string]("", 10)
	assert.Error(t, err)
}

func TestSetAndGetRoundTrip(t *testing.T) {
	fs := memfs.New()
	c := openTestCache(t, fs, 1024, newClock())

	require.True(t, c.Set("k", "hello", models.QueryResult, time.Hour, map[string]any{"model": "llama3"}))

	v, entry, ok := c.GetEntry("k")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
	assert.Equal(t, models.LevelL2, entry.Level)
	assert.Equal(t, int64(len(`"hello"`)), entry.SizeBytes)
	assert.Equal(t, int64(1), entry.AccessCount)
	assert.Equal(t, "llama3", entry.Metadata["model"])

	_, err := fs.Stat(fileName("k"))
	assert.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.DiskWrites)
	assert.Equal(t, int64(1), stats.DiskReads)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestStructRoundTrip(t *testing.T) {
	type answer struct {
		Text   string    `json:"text"`
		Scores []float64 `json:"scores"`
	}
	c, err := Open[answer](memfs.New(), 1024)
	require.NoError(t, err)

	want := answer{Text: "42", Scores: []float64{0.5, 0.25}}
	require.True(t, c.Set("q", want, models.ModelOutput, 0, nil))

	got, ok := c.Get("q")
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestOversizedValueRejected(t *testing.T) {
	fs := memfs.New()
	c := openTestCache(t, fs, 10, newClock())

	assert.False(t, c.Set("big", sized(11), models.QueryResult, 0, nil))

	stats := c.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, int64(0), stats.CurrentSizeBytes)
	assert.Equal(t, int64(1), stats.Rejections)
	_, err := fs.Stat(fileName("big"))
	assert.Error(t, err)
}

func TestFailedWriteLeavesStateUnchanged(t *testing.T) {
	fs := &failingFS{Filesystem: memfs.New()}
	c := openTestCache(t, fs, 1024, newClock())
	require.True(t, c.Set("k", "old", models.QueryResult, 0, nil))
	before := c.Stats()

	fs.setFail(true)
	assert.False(t, c.Set("k", "new", models.QueryResult, 0, nil))
	assert.False(t, c.Set("other", "value", models.QueryResult, 0, nil))
	fs.setFail(false)

	after := c.Stats()
	assert.Equal(t, before.CurrentSizeBytes, after.CurrentSizeBytes)
	assert.Equal(t, before.Entries, after.Entries)
	assert.Equal(t, int64(2), after.DiskErrors)
	assert.False(t, c.Contains("other"))

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "old", v)
}

func TestLRUEvictionDeletesFiles(t *testing.T) {
	fs := memfs.New()
	c := openTestCache(t, fs, 30, newClock())

	require.True(t, c.Set("a", sized(10), models.QueryResult, 0, nil))
	require.True(t, c.Set("b", sized(10), models.QueryResult, 0, nil))
	require.True(t, c.Set("c", sized(10), models.QueryResult, 0, nil))
	_, ok := c.Get("a")
	require.True(t, ok)

	require.True(t, c.Set("d", sized(10), models.QueryResult, 0, nil))

	assert.Equal(t, []string{"c", "a", "d"}, c.Keys())
	_, err := fs.Stat(fileName("b"))
	assert.Error(t, err, "evicted value file should be deleted")

	stats := c.Stats()
	assert.Equal(t, int64(30), stats.CurrentSizeBytes)
	assert.Equal(t, int64(1), stats.Evictions)
}

func TestOverwriteAdjustsSize(t *testing.T) {
	c := openTestCache(t, memfs.New(), 100, newClock())

	require.True(t, c.Set("k", sized(10), models.QueryResult, 0, nil))
	require.True(t, c.Set("k", sized(20), models.QueryResult, 0, nil))

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(20), stats.CurrentSizeBytes)
}

func TestTTLExpiry(t *testing.T) {
	fs := memfs.New()
	clock := newClock()
	c := openTestCache(t, fs, 1024, clock)
	require.True(t, c.Set("k", "v", models.QueryResult, 5*time.Second, nil))

	clock.Advance(5*time.Second - time.Millisecond)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock.Advance(2 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)

	_, err := fs.Stat(fileName("k"))
	assert.Error(t, err)
	assert.Equal(t, int64(1), c.Stats().Expirations)
}

func TestMissingFileIsMissAndCleansIndex(t *testing.T) {
	fs := memfs.New()
	c := openTestCache(t, fs, 1024, newClock())
	require.True(t, c.Set("k", "v", models.QueryResult, 0, nil))

	require.NoError(t, fs.Remove(fileName("k")))

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.False(t, c.Contains("k"))
	assert.Equal(t, int64(0), c.Stats().CurrentSizeBytes)
}

func TestCorruptFileIsMiss(t *testing.T) {
	fs := memfs.New()
	c := openTestCache(t, fs, 1024, newClock())
	var evicted []Evicted
	c.SetEvictHook(func(ev []Evicted) { evicted = append(evicted, ev...) })
	require.True(t, c.Set("k", "v", models.QueryResult, 0, nil))

	require.NoError(t, util.WriteFile(fs, fileName("k"), []byte("{not json"), 0o644))

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.False(t, c.Contains("k"))
	require.Len(t, evicted, 1)
	assert.Equal(t, models.ReasonCorrupt, evicted[0].Reason)
}

func TestPersistAndReload(t *testing.T) {
	fs := memfs.New()
	clock := newClock()
	c := openTestCache(t, fs, 1024, clock)

	require.True(t, c.Set("a", "alpha", models.Embedding, time.Hour, map[string]any{"dim": 3}))
	clock.Advance(time.Second)
	require.True(t, c.Set("b", "beta", models.QueryResult, 0, nil))
	clock.Advance(time.Second)
	_, ok := c.Get("a")
	require.True(t, ok)
	require.NoError(t, c.PersistIndex())

	data, err := util.ReadFile(fs, IndexFile)
	require.NoError(t, err)
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "a")
	assert.Equal(t, "embedding", raw["a"]["cache_type"])
	assert.EqualValues(t, 3600, raw["a"]["ttl_seconds"])
	assert.Contains(t, raw["a"], "expires_at")
	assert.Contains(t, raw["a"], "access_count")

	reopened := openTestCache(t, fs, 1024, clock)
	assert.Equal(t, []string{"b", "a"}, reopened.Keys())
	assert.Equal(t, c.Stats().CurrentSizeBytes, reopened.Stats().CurrentSizeBytes)

	v, entry, ok := reopened.GetEntry("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", v)
	assert.Equal(t, models.Embedding, entry.Type)
	assert.Equal(t, int64(2), entry.AccessCount)
}

func TestReloadTrimsToSmallerCapacity(t *testing.T) {
	fs := memfs.New()
	clock := newClock()
	c := openTestCache(t, fs, 100, clock)
	for _, k := range []string{"a", "b", "c"} {
		require.True(t, c.Set(k, sized(20), models.QueryResult, 0, nil))
		clock.Advance(time.Second)
	}
	require.NoError(t, c.PersistIndex())

	smaller := openTestCache(t, fs, 45, clock)
	assert.Equal(t, []string{"b", "c"}, smaller.Keys())
	_, err := fs.Stat(fileName("a"))
	assert.Error(t, err)
}

func TestReloadIgnoresCorruptIndex(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, IndexFile, []byte("garbage"), 0o644))
	require.NoError(t, util.WriteFile(fs, "deadbeef.bin", []byte(`"orphan"`), 0o644))

	c := openTestCache(t, fs, 1024, newClock())
	assert.Equal(t, 0, c.Len())
	_, err := fs.Stat("deadbeef.bin")
	assert.Error(t, err, "orphaned value files are removed on open")
}

func TestSweepExpired(t *testing.T) {
	clock := newClock()
	c := openTestCache(t, memfs.New(), 1024, clock)
	require.True(t, c.Set("short", "v", models.QueryResult, time.Second, nil))
	require.True(t, c.Set("long", "v", models.QueryResult, time.Hour, nil))

	clock.Advance(time.Minute)
	assert.Equal(t, 1, c.SweepExpired())
	assert.Equal(t, []string{"long"}, c.Keys())
}

func TestDeleteAndClear(t *testing.T) {
	fs := memfs.New()
	c := openTestCache(t, fs, 1024, newClock())
	require.True(t, c.Set("a", "x", models.QueryResult, 0, nil))
	require.True(t, c.Set("b", "y", models.QueryResult, 0, nil))

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	_, err := fs.Stat(fileName("a"))
	assert.Error(t, err)

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Stats().CurrentSizeBytes)
	_, err = fs.Stat(fileName("b"))
	assert.Error(t, err)

	reopened := openTestCache(t, fs, 1024, newClock())
	assert.Equal(t, 0, reopened.Len())
}

func TestDropRemovesFileWithoutHook(t *testing.T) {
	fs := memfs.New()
	c := openTestCache(t, fs, 1024, newClock())
	called := false
	c.SetEvictHook(func([]Evicted) { called = true })
	require.True(t, c.Set("k", "v", models.QueryResult, 0, nil))

	assert.True(t, c.Drop("k"))
	assert.False(t, c.Drop("k"))
	assert.False(t, called)
	_, err := fs.Stat(fileName("k"))
	assert.Error(t, err)
}

func TestOpenDirUsesOSFilesystem(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenDir[string](dir, 1024)
	require.NoError(t, err)
	require.True(t, c.Set("k", "v", models.QueryResult, 0, nil))
	require.NoError(t, c.PersistIndex())

	reopened, err := OpenDir[string](dir, 1024)
	require.NoError(t, err)
	v, ok := reopened.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}
