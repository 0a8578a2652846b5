// Package cache implements the tiered chunk cache: a memory tier, a
// persistent tier over kv.Store, and their composition. Every tier shares
// one contract: TTL expiry checked lazily on touch, eviction of the
// oldest-written entries once MaxEntries is exceeded, and stale fallback
// when the fetcher fails.
package cache

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Defaults applied when neither the constructor nor the call sets a value.
const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 256
	DefaultPrefix     = "datapack:cache:"
)

// Options controls expiry and size. Zero fields fall back to the cache's
// constructor defaults. MaxEntries < 0 disables the bound.
type Options struct {
	TTL        time.Duration
	MaxEntries int
}

func (o Options) withDefaults(d Options) Options {
	if o.TTL <= 0 {
		o.TTL = d.TTL
	}
	if o.MaxEntries == 0 {
		o.MaxEntries = d.MaxEntries
	}
	return o
}

func normalizeDefaults(o Options) Options {
	return o.withDefaults(Options{TTL: DefaultTTL, MaxEntries: DefaultMaxEntries})
}

// Fetcher produces the value for a missing or expired key.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Cache is the contract shared by Memory, Persistent and Tiered.
type Cache[T any] interface {
	// Get returns the cached value for key when present and unexpired.
	// Otherwise it calls fetch and stores the result. When fetch fails and
	// any entry (fresh or stale) exists, the stale value is returned.
	Get(ctx context.Context, key string, fetch Fetcher[T], opts Options) (T, error)

	// IsCached applies the same expiry check as Get without fetching. An
	// expired entry is purged.
	IsCached(ctx context.Context, key string) bool

	Invalidate(ctx context.Context, key string) error
	InvalidateAll(ctx context.Context) error
}

// entry is owned by the cache; callers only ever see data.
type entry[T any] struct {
	data      T
	writtenAt time.Time
	expiresAt time.Time
}

func (e entry[T]) fresh(now time.Time) bool {
	return !now.After(e.expiresAt)
}

type settings struct {
	name    string
	clock   clock.Clock
	logger  *zap.Logger
	metrics *Metrics
}

// Option configures a cache.
type Option func(*settings)

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics shares a Metrics instance, e.g. one registered with a
// prometheus collector.
func WithMetrics(m *Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithName labels log lines.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

func newSettings(opts []Option) settings {
	s := settings{name: "cache", clock: clock.New(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}
	if s.metrics == nil {
		s.metrics = &Metrics{}
	}
	return s
}
