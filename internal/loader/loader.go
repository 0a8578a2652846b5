// Package loader resolves category requests against a published manifest.
// It fetches the manifest once, fetches chunks through the chunk cache and
// hands back expanded domain records in manifest file order.
package loader

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/neetlogiq/datapack/internal/cache"
	"github.com/neetlogiq/datapack/internal/category"
	"github.com/neetlogiq/datapack/internal/codec"
	dperrors "github.com/neetlogiq/datapack/internal/errors"
	"github.com/neetlogiq/datapack/internal/manifest"
	"github.com/neetlogiq/datapack/internal/naming"
	"github.com/neetlogiq/datapack/internal/storage"
	"github.com/neetlogiq/datapack/internal/wire"
	"github.com/neetlogiq/datapack/pkg/types"
)

// DefaultConcurrency bounds chunk fetches per load.
const DefaultConcurrency = 4

// Config controls fetch behaviour. Zero values select defaults.
type Config struct {
	// Concurrency is the number of chunks fetched at once for one load.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// FetchTimeout bounds each fetch. Zero means no per-fetch timeout.
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`

	// Cache is passed to every chunk cache lookup. Zero fields use the
	// cache's own defaults.
	Cache cache.Options `json:"-" yaml:"-"`
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// WithPolicy replaces the default category policy used by Filter.
func WithPolicy(p *category.Policy) Option {
	return func(ld *Loader) { ld.policy = p }
}

// WithMetrics shares a Metrics instance.
func WithMetrics(m *Metrics) Option {
	return func(ld *Loader) { ld.metrics = m }
}

// Loader is safe for concurrent use. The manifest it holds is never mutated
// after Initialize.
type Loader struct {
	fetcher storage.Fetcher
	chunks  cache.Cache[wire.Chunk]
	cfg     Config
	policy  *category.Policy
	logger  *zap.Logger
	metrics *Metrics

	initGroup      singleflight.Group
	immediateGroup singleflight.Group

	mu        sync.Mutex
	manifest  *manifest.Manifest
	codec     codec.Codec
	immediate map[types.Category]bool
}

// New creates a loader reading from fetcher. A nil chunk cache selects an
// in-memory cache with default options.
func New(fetcher storage.Fetcher, chunks cache.Cache[wire.Chunk], cfg Config, opts ...Option) *Loader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	l := &Loader{
		fetcher:   fetcher,
		chunks:    chunks,
		cfg:       cfg,
		immediate: make(map[types.Category]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.policy == nil {
		l.policy = category.Default()
	}
	if l.metrics == nil {
		l.metrics = NewMetrics()
	}
	if l.chunks == nil {
		l.chunks = cache.NewMemory[wire.Chunk](cache.Options{}, cache.WithLogger(l.logger), cache.WithName("chunks"))
	}
	return l
}

// Metrics returns the loader's metrics.
func (l *Loader) Metrics() *Metrics {
	return l.metrics
}

// Manifest returns the memoized manifest, or nil before a successful
// Initialize.
func (l *Loader) Manifest() *manifest.Manifest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.manifest
}

// Initialize fetches and validates the manifest once. Concurrent callers
// share one fetch. A failure is not memoized, so a later call retries.
func (l *Loader) Initialize(ctx context.Context) (*manifest.Manifest, error) {
	if m := l.Manifest(); m != nil {
		return m, nil
	}

	v, err, _ := l.initGroup.Do(naming.ManifestName, func() (interface{}, error) {
		if m := l.Manifest(); m != nil {
			return m, nil
		}
		l.metrics.inits.Inc()

		fctx, cancel := l.fetchContext(ctx)
		defer cancel()
		data, err := l.fetcher.Fetch(fctx, naming.ManifestName)
		if err != nil {
			return nil, err
		}
		m, err := manifest.Parse(data)
		if err != nil {
			return nil, err
		}
		c, err := codec.Lookup(m.Codec)
		if err != nil {
			return nil, dperrors.NewManifestError(dperrors.CodeInvalidManifest, "manifest codec", err)
		}

		l.mu.Lock()
		l.manifest, l.codec = m, c
		l.mu.Unlock()

		l.logger.Info("loader: manifest loaded",
			zap.String("version", m.Version),
			zap.String("codec", m.Codec),
			zap.Int("partitions", len(m.Partitions)),
			zap.Int("precomputed", len(m.Precomputed)))
		return m, nil
	})
	if err != nil {
		l.logger.Warn("loader: manifest unavailable", zap.Error(err))
		return nil, dperrors.NewManifestError(dperrors.CodeManifestUnavailable, "initialize", err)
	}
	return v.(*manifest.Manifest), nil
}

// LoadImmediate loads every immediate chunk of the category. Per-chunk
// failures are reported in the result, not as an error.
func (l *Loader) LoadImmediate(ctx context.Context, cat types.Category) (*Result, error) {
	if !cat.Valid() {
		return nil, types.ErrUnknownCategory
	}
	m, err := l.Initialize(ctx)
	if err != nil {
		return nil, err
	}

	v, _, _ := l.immediateGroup.Do(string(cat), func() (interface{}, error) {
		res := l.loadSet(ctx, m, cat, m.Select(cat, types.PriorityImmediate))
		l.mu.Lock()
		l.immediate[cat] = true
		l.mu.Unlock()
		return res, nil
	})
	return v.(*Result).clone(), ctx.Err()
}

// LoadOnDemand loads the on-demand chunks of the category. The immediate
// set is loaded first if it has not resolved yet.
func (l *Loader) LoadOnDemand(ctx context.Context, cat types.Category) (*Result, error) {
	m, err := l.awaitImmediate(ctx, cat)
	if err != nil {
		return nil, err
	}
	return l.loadSet(ctx, m, cat, m.Select(cat, types.PriorityOnDemand)), ctx.Err()
}

// LoadAll loads the immediate set followed by the on-demand set as one
// result.
func (l *Loader) LoadAll(ctx context.Context, cat types.Category) (*Result, error) {
	res, err := l.LoadImmediate(ctx, cat)
	if err != nil {
		return nil, err
	}
	more, err := l.LoadOnDemand(ctx, cat)
	if err != nil {
		return nil, err
	}
	res.Records = append(res.Records, more.Records...)
	res.Failures = append(res.Failures, more.Failures...)
	res.Chunks += more.Chunks
	return res, nil
}

// LoadAllYears yields one batch per year of the category, newest first.
// Each batch holds both classes of that year. Breaking out of the range
// stops further fetches; ranging again starts over.
func (l *Loader) LoadAllYears(ctx context.Context, cat types.Category) iter.Seq2[YearBatch, error] {
	return func(yield func(YearBatch, error) bool) {
		m, err := l.awaitImmediate(ctx, cat)
		if err != nil {
			yield(YearBatch{}, err)
			return
		}
		for _, year := range m.Years(cat) {
			if err := ctx.Err(); err != nil {
				yield(YearBatch{Year: year}, err)
				return
			}
			descs := yearPartitions(m, cat, year)
			if !yield(YearBatch{Year: year, Result: l.loadSet(ctx, m, cat, descs)}, nil) {
				return
			}
		}
	}
}

// LoadYear loads both classes of a single year of the category, after the
// immediate set. A year without partitions yields an empty result.
func (l *Loader) LoadYear(ctx context.Context, cat types.Category, year int) (*Result, error) {
	m, err := l.awaitImmediate(ctx, cat)
	if err != nil {
		return nil, err
	}
	return l.loadSet(ctx, m, cat, yearPartitions(m, cat, year)), ctx.Err()
}

// yearPartitions returns one year's partitions, immediate before on-demand,
// otherwise in manifest order.
func yearPartitions(m *manifest.Manifest, cat types.Category, year int) []manifest.PartitionDescriptor {
	var descs []manifest.PartitionDescriptor
	for _, p := range m.Partitions {
		if p.Category == cat && p.Year == year {
			descs = append(descs, p)
		}
	}
	slices.SortStableFunc(descs, func(a, b manifest.PartitionDescriptor) int {
		return classRank(a.PriorityClass) - classRank(b.PriorityClass)
	})
	return descs
}

func classRank(c types.PriorityClass) int {
	if c == types.PriorityImmediate {
		return 0
	}
	return 1
}

// LoadPrecomputedFilter returns the records of a precomputed filter chunk.
// The boolean is false when the filter is not listed or its object is
// missing; absence is never an error.
func (l *Loader) LoadPrecomputedFilter(ctx context.Context, cat types.Category, key naming.FilterKey) ([]types.Record, bool, error) {
	m, err := l.Initialize(ctx)
	if err != nil {
		return nil, false, err
	}

	var (
		f     manifest.PrecomputedFilter
		found bool
	)
	for _, kind := range types.RecordKinds() {
		if f, found = m.FindFilter(kind, cat, key); found {
			break
		}
	}
	if !found {
		return nil, false, nil
	}

	chunk, err := l.chunk(ctx, f.Filename, f.Checksum, f.RecordKind)
	if errors.Is(err, storage.ErrObjectNotFound) {
		l.logger.Debug("loader: listed filter missing from store", zap.String("filename", f.Filename))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	l.metrics.records.WithLabelValues(string(cat)).Add(float64(len(chunk.Records)))
	return slices.Clone(chunk.Records), true, nil
}

// Filter narrows already loaded records to a category.
func (l *Loader) Filter(records []types.Record, cat types.Category) []types.Record {
	return l.policy.Filter(records, cat)
}

func (l *Loader) awaitImmediate(ctx context.Context, cat types.Category) (*manifest.Manifest, error) {
	if !cat.Valid() {
		return nil, types.ErrUnknownCategory
	}
	m, err := l.Initialize(ctx)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	resolved := l.immediate[cat]
	l.mu.Unlock()
	if !resolved {
		if _, err := l.LoadImmediate(ctx, cat); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// loadSet fetches descs concurrently and assembles records in descs order.
func (l *Loader) loadSet(ctx context.Context, m *manifest.Manifest, cat types.Category, descs []manifest.PartitionDescriptor) *Result {
	chunks := make([]wire.Chunk, len(descs))
	errs := make([]error, len(descs))

	var g errgroup.Group
	g.SetLimit(l.cfg.Concurrency)
	for i, d := range descs {
		g.Go(func() error {
			chunks[i], errs[i] = l.chunk(ctx, d.Filename, d.Checksum, d.RecordKind)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Category: cat, Chunks: len(descs)}
	for i, d := range descs {
		if errs[i] != nil {
			res.Failures = append(res.Failures, ChunkFailure{Filename: d.Filename, Err: errs[i]})
			l.metrics.chunks.WithLabelValues(string(d.PriorityClass), "failed").Inc()
			l.logger.Warn("loader: chunk unavailable",
				zap.String("filename", d.Filename),
				zap.String("category", string(cat)),
				zap.Error(errs[i]))
			continue
		}
		res.Records = append(res.Records, chunks[i].Records...)
		l.metrics.chunks.WithLabelValues(string(d.PriorityClass), "loaded").Inc()
	}
	l.metrics.records.WithLabelValues(string(cat)).Add(float64(len(res.Records)))

	l.logger.Debug("loader: loaded chunk set",
		zap.String("category", string(cat)),
		zap.String("manifest", m.Version),
		zap.Int("chunks", len(descs)),
		zap.Int("failures", len(res.Failures)),
		zap.Int("records", len(res.Records)))
	return res
}

// chunk returns one decoded chunk through the cache.
func (l *Loader) chunk(ctx context.Context, name, checksum string, kind types.RecordKind) (wire.Chunk, error) {
	l.mu.Lock()
	c := l.codec
	l.mu.Unlock()

	return l.chunks.Get(ctx, name, func(ctx context.Context) (wire.Chunk, error) {
		fctx, cancel := l.fetchContext(ctx)
		defer cancel()

		data, err := l.fetcher.Fetch(fctx, name)
		if err != nil {
			return wire.Chunk{}, dperrors.NewChunkError(dperrors.CodeChunkFetchFailed, "fetch "+name, err)
		}
		if checksum != "" && manifest.Checksum(data) != checksum {
			return wire.Chunk{}, dperrors.NewChunkError(dperrors.CodeChecksumMismatch, name, nil).
				WithDetails(map[string]interface{}{"expected": checksum, "actual": manifest.Checksum(data)})
		}
		raw, err := codec.Decompress(c, data)
		if err != nil {
			return wire.Chunk{}, dperrors.NewChunkError(dperrors.CodeChunkDecodeFailed, "decompress "+name, err)
		}
		chunk, err := wire.DecodeChunk(raw)
		if err != nil {
			return wire.Chunk{}, dperrors.NewChunkError(dperrors.CodeChunkDecodeFailed, "decode "+name, err)
		}
		if chunk.Kind != kind {
			return wire.Chunk{}, dperrors.NewChunkError(dperrors.CodeChunkDecodeFailed,
				name+": holds "+string(chunk.Kind)+", manifest lists "+string(kind), nil)
		}
		return chunk, nil
	}, l.cfg.Cache)
}

func (l *Loader) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.cfg.FetchTimeout > 0 {
		return context.WithTimeout(ctx, l.cfg.FetchTimeout)
	}
	return context.WithCancel(ctx)
}
