package cache

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	dperrors "github.com/neetlogiq/datapack/internal/errors"
)

// backend is one storage tier. load returns expired entries too; the core
// decides freshness.
type backend[T any] interface {
	load(ctx context.Context, key string) (entry[T], bool, error)
	save(ctx context.Context, key string, e entry[T], maxEntries int) (evicted int, err error)
	drop(ctx context.Context, key string) error
	dropAll(ctx context.Context) error
	size(ctx context.Context) int
}

// core runs the Get/IsCached contract over an ordered list of backends,
// fastest first.
type core[T any] struct {
	backends []backend[T]
	defaults Options
	group    singleflight.Group
	settings
}

func newCore[T any](defaults Options, opts []Option, backends ...backend[T]) *core[T] {
	c := &core[T]{backends: backends, defaults: normalizeDefaults(defaults), settings: newSettings(opts)}
	c.metrics.entries = c.size
	return c
}

func (c *core[T]) Get(ctx context.Context, key string, fetch Fetcher[T], opts Options) (T, error) {
	opts = opts.withDefaults(c.defaults)
	now := c.clock.Now()

	var (
		stale    entry[T]
		hasStale bool
	)
	for i, b := range c.backends {
		e, ok, err := b.load(ctx, key)
		if err != nil {
			c.logger.Warn("cache: load failed", zap.String("cache", c.name), zap.String("key", key), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if e.fresh(now) {
			c.metrics.Hits.Add(1)
			c.promote(ctx, key, e, i, opts.MaxEntries)
			return e.data, nil
		}
		if !hasStale {
			stale, hasStale = e, true
		}
	}
	c.metrics.Misses.Add(1)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		written := c.clock.Now()
		c.storeAll(ctx, key, entry[T]{data: data, writtenAt: written, expiresAt: written.Add(opts.TTL)}, len(c.backends), opts.MaxEntries)
		return data, nil
	})
	if err == nil {
		data, _ := v.(T)
		return data, nil
	}

	c.metrics.FetchErrors.Add(1)
	if hasStale {
		c.metrics.StaleServes.Add(1)
		c.logger.Warn("cache: fetch failed, serving stale entry",
			zap.String("cache", c.name), zap.String("key", key),
			zap.Time("expired_at", stale.expiresAt), zap.Error(err))
		return stale.data, nil
	}

	var zero T
	return zero, dperrors.NewCacheError(dperrors.CodeCacheFetchFailed, "fetch "+key, err)
}

// promote copies a hit from a slower tier into the faster ones, keeping the
// original timestamps so expiry does not move.
func (c *core[T]) promote(ctx context.Context, key string, e entry[T], hitTier, maxEntries int) {
	c.storeAll(ctx, key, e, hitTier, maxEntries)
}

func (c *core[T]) storeAll(ctx context.Context, key string, e entry[T], upTo, maxEntries int) {
	for _, b := range c.backends[:upTo] {
		evicted, err := b.save(ctx, key, e, maxEntries)
		if err != nil {
			c.logger.Warn("cache: store failed", zap.String("cache", c.name), zap.String("key", key), zap.Error(err))
			continue
		}
		if evicted > 0 {
			c.metrics.Evictions.Add(int64(evicted))
			c.logger.Debug("cache: evicted oldest entries", zap.String("cache", c.name), zap.Int("count", evicted))
		}
	}
}

func (c *core[T]) IsCached(ctx context.Context, key string) bool {
	now := c.clock.Now()
	for _, b := range c.backends {
		e, ok, err := b.load(ctx, key)
		if err != nil || !ok {
			continue
		}
		if e.fresh(now) {
			return true
		}
		if err := b.drop(ctx, key); err != nil {
			c.logger.Warn("cache: purge failed", zap.String("cache", c.name), zap.String("key", key), zap.Error(err))
		}
	}
	return false
}

func (c *core[T]) Invalidate(ctx context.Context, key string) error {
	for _, b := range c.backends {
		if err := b.drop(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (c *core[T]) InvalidateAll(ctx context.Context) error {
	for _, b := range c.backends {
		if err := b.dropAll(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of entries in the fastest tier, expired ones
// included.
func (c *core[T]) Len() int {
	return c.size(context.Background())
}

func (c *core[T]) size(ctx context.Context) int {
	if len(c.backends) == 0 {
		return 0
	}
	return c.backends[0].size(ctx)
}

// Metrics returns the counters of this cache.
func (c *core[T]) Metrics() *Metrics {
	return c.metrics
}
