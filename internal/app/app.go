// Package app wires configuration, storage, the chunk cache and the loader
// into the datapack serve process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	grpcapi "github.com/neetlogiq/datapack/internal/api/grpc"
	httpapi "github.com/neetlogiq/datapack/internal/api/http"
	"github.com/neetlogiq/datapack/internal/cache"
	"github.com/neetlogiq/datapack/internal/config"
	"github.com/neetlogiq/datapack/internal/kv"
	"github.com/neetlogiq/datapack/internal/loader"
	"github.com/neetlogiq/datapack/internal/server"
	"github.com/neetlogiq/datapack/internal/storage"
	"github.com/neetlogiq/datapack/internal/wire"
)

// App owns the serve-mode resources.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	fetcher  storage.Fetcher
	store    kv.Store
	chunks   *cache.Tiered[wire.Chunk]
	loader   *loader.Loader
	registry *prometheus.Registry
	handler  http.Handler
	grpc     *grpcapi.Server
	shutdown *server.ShutdownManager

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New validates cfg and opens storage and the chunk cache. Nothing listens
// until Run.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fetcher, err := OpenFetcher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := OpenKV(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		fetcher:  fetcher,
		store:    store,
		registry: prometheus.NewRegistry(),
		shutdown: server.NewShutdownManager(server.ShutdownConfig{
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
			DrainTimeout:    cfg.HTTP.ShutdownTimeout / 2,
			Logger:          logger,
		}),
	}
	a.chunks = NewChunkCache(store, cfg, logger)
	a.loader = loader.New(fetcher, a.chunks, cfg.LoaderConfig(),
		loader.WithLogger(logger.Named("loader")),
		loader.WithPolicy(cfg.Policy()))

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		cache.NewCollector(map[string]*cache.Metrics{"chunks": a.chunks.Metrics()}),
	)
	a.registry.MustRegister(a.loader.Metrics().Collectors()...)

	api := httpapi.NewHandler(a.loader, fetcher,
		httpapi.WithLogger(logger.Named("http")),
		httpapi.WithGatherer(a.registry))
	a.handler = server.ShutdownMiddleware(a.shutdown)(api)

	if store != nil {
		a.shutdown.RegisterCloser("cache store", store)
	}
	if cfg.GRPC.Enabled {
		a.grpc = grpcapi.NewServer(a.loader, logger.Named("grpc"), 0)
	}
	return a, nil
}

// OpenFetcher opens the configured chunk source for reading.
func OpenFetcher(ctx context.Context, cfg *config.Config) (storage.Fetcher, error) {
	if cfg.Storage.Type == config.StorageHTTP {
		return storage.NewHTTPFetcher(cfg.Storage.BaseURL,
			storage.WithRateLimit(cfg.Storage.RateLimit, cfg.Storage.Burst))
	}
	return OpenChunkStore(ctx, cfg)
}

// OpenChunkStore opens the configured chunk store for writing. An HTTP
// source is read-only.
func OpenChunkStore(ctx context.Context, cfg *config.Config) (storage.ChunkStore, error) {
	switch cfg.Storage.Type {
	case config.StorageLocal:
		return storage.NewLocalStorage(cfg.Storage.Path)
	case config.StorageS3:
		s3Cfg := storage.DefaultS3Config()
		if cfg.Storage.S3.Region != "" {
			s3Cfg.Region = cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = cfg.Storage.S3.Endpoint
		s3Cfg.Prefix = cfg.Storage.S3.Prefix
		s3Cfg.UsePathStyle = cfg.Storage.S3.UsePathStyle
		return storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, s3Cfg)
	case config.StorageHTTP:
		return nil, fmt.Errorf("storage type %s: %w", cfg.Storage.Type, storage.ErrReadOnly)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// OpenKV opens the persistent cache tier. The memory backend has none and
// returns a nil store.
func OpenKV(ctx context.Context, cfg *config.Config, logger *zap.Logger) (kv.Store, error) {
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		return nil, nil
	case config.CacheSQLite:
		return kv.OpenSQLite(ctx, cfg.Cache.Path)
	case config.CacheBolt:
		return kv.OpenBolt(ctx, cfg.Cache.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
}

// NewChunkCache layers the memory tier over store. A nil store yields a
// memory-only cache.
func NewChunkCache(store kv.Store, cfg *config.Config, logger *zap.Logger) *cache.Tiered[wire.Chunk] {
	return cache.NewTiered[wire.Chunk](store, cfg.Cache.Prefix, wire.ChunkSerializer{}, cfg.CacheOptions(),
		cache.WithLogger(logger.Named("cache")),
		cache.WithName("chunks"))
}

// Handler returns the delivery API, wrapped in shutdown tracking.
func (a *App) Handler() http.Handler { return a.handler }

// Loader returns the shared loader.
func (a *App) Loader() *loader.Loader { return a.loader }

// Chunks returns the chunk cache.
func (a *App) Chunks() *cache.Tiered[wire.Chunk] { return a.chunks }

// Run serves HTTP (and gRPC when enabled) until a signal arrives, ctx is
// cancelled or a listener fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var serveErr error
	var errMu sync.Mutex
	fail := func(name string, err error) {
		if err == nil {
			return
		}
		a.logger.Error("app: listener failed", zap.String("listener", name), zap.Error(err))
		errMu.Lock()
		serveErr = multierr.Append(serveErr, fmt.Errorf("%s: %w", name, err))
		errMu.Unlock()
		cancel()
	}

	if a.grpc != nil {
		lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		a.shutdown.RegisterCloser("grpc", a.grpc)
		a.wg.Add(2)
		go func() {
			defer a.wg.Done()
			a.logger.Info("app: grpc listening", zap.String("addr", a.cfg.GRPC.Addr))
			fail("grpc", a.grpc.Serve(lis))
		}()
		go func() {
			defer a.wg.Done()
			a.grpc.Watch(ctx)
		}()
	}

	srv := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      a.handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("app: http listening", zap.String("addr", a.cfg.HTTP.Addr))
		fail("http", a.shutdown.ServeHTTP("http", srv))
	}()

	// Warm the manifest so the first request does not pay for it.
	go func() {
		if _, err := a.loader.Initialize(ctx); err != nil {
			a.logger.Warn("app: manifest not available yet", zap.Error(err))
		}
	}()

	err := a.shutdown.ListenForSignals(ctx)
	cancel()
	a.wg.Wait()

	errMu.Lock()
	defer errMu.Unlock()
	return multierr.Append(serveErr, err)
}

// Stop begins shutdown; Run returns once it completes.
func (a *App) Stop(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx, "stop requested")
}

// Close releases resources of an App that never ran.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.shutdown.Shutdown(ctx, "closed")
}
