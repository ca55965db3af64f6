package cache

import (
	"time"

	"github.com/go-git/go-billy/v5"
	"go.uber.org/zap"

	"github.com/pario-ai/tiercache/pkg/cache/disk"
	"github.com/pario-ai/tiercache/pkg/metrics"
)

// Option configures a Cache.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *metrics.Collector
	sink    EventSink
	now     func() time.Time
	fs      billy.Filesystem
	codec   disk.Codec
}

// WithLogger sets the logger shared by the cache and both tiers.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records cache activity on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithEventSink forwards lifecycle events to s.
func WithEventSink(s EventSink) Option {
	return func(o *options) { o.sink = s }
}

// WithClock replaces time.Now for expiry decisions, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithFilesystem places L2 on fs instead of Config.L2Dir.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(o *options) { o.fs = fs }
}

// WithCodec sets how L2 serializes values.
func WithCodec(c disk.Codec) Option {
	return func(o *options) { o.codec = c }
}

// SetOption adjusts a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl      time.Duration
	ttlSet   bool
	metadata map[string]any
	promote  bool
}

// WithTTL overrides the per-type default TTL. A ttl of zero or less stores
// the value without expiry.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
		o.ttlSet = true
	}
}

// WithMetadata attaches free-form metadata to the entry.
func WithMetadata(m map[string]any) SetOption {
	return func(o *setOptions) { o.metadata = m }
}

// WithoutPromotion writes the value straight to L2.
func WithoutPromotion() SetOption {
	return func(o *setOptions) { o.promote = false }
}
