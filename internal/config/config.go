// Package config provides the unified configuration for the datapack
// commands: planning, building, serving and fetching.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/neetlogiq/datapack/internal/cache"
	"github.com/neetlogiq/datapack/internal/category"
	"github.com/neetlogiq/datapack/internal/codec"
	dperrors "github.com/neetlogiq/datapack/internal/errors"
	"github.com/neetlogiq/datapack/internal/loader"
	"github.com/neetlogiq/datapack/internal/logging"
	"github.com/neetlogiq/datapack/internal/partition"
	"github.com/neetlogiq/datapack/pkg/types"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "DATAPACK_"

// Storage types.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
	StorageHTTP  = "http"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheBolt   = "bolt"
)

// Config holds the configuration shared by every datapack command.
type Config struct {
	// DataDir is the base directory for local files
	DataDir string `json:"data_dir" yaml:"data_dir" env:"DATA_DIR"`

	Log logging.Config `json:"log" yaml:"log" envPrefix:"LOG_"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http" envPrefix:"HTTP_"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc" envPrefix:"GRPC_"`

	// Source is the master dataset the builder reads.
	Source SourceConfig `json:"source" yaml:"source" envPrefix:"SOURCE_"`

	Planner PlannerConfig `json:"planner" yaml:"planner" envPrefix:"PLANNER_"`
	Builder BuilderConfig `json:"builder" yaml:"builder" envPrefix:"BUILDER_"`
	Loader  LoaderConfig  `json:"loader" yaml:"loader" envPrefix:"LOADER_"`
	Cache   CacheConfig   `json:"cache" yaml:"cache" envPrefix:"CACHE_"`

	// Storage is the chunk store.
	Storage StorageConfig `json:"storage" yaml:"storage" envPrefix:"STORAGE_"`

	// Categories overrides the default category table when set.
	Categories category.Table `json:"categories,omitempty" yaml:"categories,omitempty"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address of the delivery API
	Addr string `json:"addr" yaml:"addr" env:"ADDR"`

	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC health server address
	Addr string `json:"addr" yaml:"addr" env:"ADDR"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled" env:"ENABLED"`
}

// SourceConfig locates the master dataset.
type SourceConfig struct {
	// Path is the master SQLite database
	Path string `json:"path" yaml:"path" env:"PATH"`

	// StatsFile is an optional YAML or JSON DatasetStats file for planning
	// without the master database.
	StatsFile string `json:"stats_file" yaml:"stats_file" env:"STATS_FILE"`
}

// PlannerConfig mirrors partition.PlannerConfig.
type PlannerConfig struct {
	MaxChunkBytes   int64  `json:"max_chunk_bytes" yaml:"max_chunk_bytes" env:"MAX_CHUNK_BYTES"`
	ImmediateRounds int    `json:"immediate_rounds" yaml:"immediate_rounds" env:"IMMEDIATE_ROUNDS"`
	ImmediateYears  int    `json:"immediate_years" yaml:"immediate_years" env:"IMMEDIATE_YEARS"`
	Codec           string `json:"codec" yaml:"codec" env:"CODEC"`
	PreviousVersion string `json:"previous_version" yaml:"previous_version" env:"PREVIOUS_VERSION"`

	// RecordCost overrides the per-record byte estimate of some kinds.
	RecordCost map[types.RecordKind]int64 `json:"record_cost,omitempty" yaml:"record_cost,omitempty"`
}

// BuilderConfig mirrors partition.BuilderConfig.
type BuilderConfig struct {
	Concurrency       int                    `json:"concurrency" yaml:"concurrency" env:"CONCURRENCY"`
	UploadConcurrency int                    `json:"upload_concurrency" yaml:"upload_concurrency" env:"UPLOAD_CONCURRENCY"`
	Filters           []partition.FilterSpec `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// LoaderConfig mirrors loader.Config.
type LoaderConfig struct {
	Concurrency  int           `json:"concurrency" yaml:"concurrency" env:"CONCURRENCY"`
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`
}

// CacheConfig selects the chunk cache tiers.
type CacheConfig struct {
	// Backend is the persistent tier: memory (none), sqlite or bolt
	Backend string `json:"backend" yaml:"backend" env:"BACKEND"`

	// Path is the persistent tier's database file
	Path string `json:"path" yaml:"path" env:"PATH"`

	// Prefix namespaces this cache's keys in the persistent store
	Prefix string `json:"prefix" yaml:"prefix" env:"PREFIX"`

	TTL        time.Duration `json:"ttl" yaml:"ttl" env:"TTL"`
	MaxEntries int           `json:"max_entries" yaml:"max_entries" env:"MAX_ENTRIES"`
}

// StorageConfig holds chunk store configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3, http
	Type string `json:"type" yaml:"type" env:"TYPE"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path" env:"PATH"`

	// BaseURL is the chunk host (for http type, read-only)
	BaseURL string `json:"base_url" yaml:"base_url" env:"BASE_URL"`

	// RateLimit caps HTTP fetches per second; zero disables the limit
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" env:"RATE_LIMIT"`
	Burst     int     `json:"burst" yaml:"burst" env:"BURST"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3" envPrefix:"S3_"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket" env:"BUCKET"`
	Region       string `json:"region" yaml:"region" env:"REGION"`
	Endpoint     string `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	Prefix       string `json:"prefix" yaml:"prefix" env:"PREFIX"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style" env:"USE_PATH_STYLE"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/datapack",
		Log:     logging.DefaultConfig(),
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Planner: PlannerConfig{
			MaxChunkBytes:   partition.DefaultMaxChunkBytes,
			ImmediateRounds: partition.DefaultImmediateRounds,
			Codec:           codec.NameGzip,
		},
		Builder: BuilderConfig{
			Concurrency:       4,
			UploadConcurrency: 20,
		},
		Loader: LoaderConfig{
			Concurrency:  loader.DefaultConcurrency,
			FetchTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:    CacheSQLite,
			Prefix:     cache.DefaultPrefix,
			TTL:        cache.DefaultTTL,
			MaxEntries: cache.DefaultMaxEntries,
		},
		Storage: StorageConfig{
			Type: StorageLocal,
		},
	}
}

// Resolve fills unset paths relative to DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/datapack"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "chunks")
	}
	if c.Source.Path == "" {
		c.Source.Path = filepath.Join(c.DataDir, "master.sqlite")
	}
	if c.Cache.Path == "" {
		switch c.Cache.Backend {
		case CacheBolt:
			c.Cache.Path = filepath.Join(c.DataDir, "cache.bolt")
		default:
			c.Cache.Path = filepath.Join(c.DataDir, "cache.sqlite")
		}
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = cache.DefaultPrefix
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs error
	add := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if c.DataDir == "" {
		add("data_dir is required")
	}
	if err := c.Log.Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}

	switch c.Storage.Type {
	case StorageLocal:
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			add("storage.s3.bucket is required when storage type is s3")
		}
	case StorageHTTP:
		if c.Storage.BaseURL == "" {
			add("storage.base_url is required when storage type is http")
		}
	default:
		add("invalid storage type: %s (must be local, s3, or http)", c.Storage.Type)
	}

	switch c.Cache.Backend {
	case CacheMemory, CacheSQLite, CacheBolt:
	default:
		add("invalid cache backend: %s (must be memory, sqlite, or bolt)", c.Cache.Backend)
	}
	if c.Cache.TTL < 0 {
		add("cache.ttl must not be negative")
	}

	if c.Planner.MaxChunkBytes <= 0 {
		add("planner.max_chunk_bytes must be positive, got %d", c.Planner.MaxChunkBytes)
	}
	if c.Planner.ImmediateRounds < 0 || c.Planner.ImmediateYears < 0 {
		add("planner.immediate_rounds and planner.immediate_years must not be negative")
	}
	if _, err := codec.Lookup(c.Planner.Codec); err != nil {
		errs = multierr.Append(errs, err)
	}
	for kind, cost := range c.Planner.RecordCost {
		if !kind.Valid() || cost <= 0 {
			add("planner.record_cost: invalid entry %s=%d", kind, cost)
		}
	}
	for i, f := range c.Builder.Filters {
		if !f.Kind.Valid() || !f.Category.Valid() {
			add("builder.filters[%d]: invalid kind or category", i)
		}
	}

	if c.Categories != nil {
		if err := category.NewPolicy(c.Categories).Validate(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if errs != nil {
		return dperrors.NewConfigError("invalid configuration", errs)
	}
	return nil
}

// LoadFromEnv applies DATAPACK_* variables onto cfg. Unset variables leave
// the current values alone.
func LoadFromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return dperrors.NewConfigError("parse environment", err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file over the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// Load layers defaults, the optional file and the environment, then
// resolves and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDirectories creates the local directories the configuration needs.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == StorageLocal {
		dirs = append(dirs, c.Storage.Path)
	}
	if c.Cache.Backend != CacheMemory {
		dirs = append(dirs, filepath.Dir(c.Cache.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// PlannerConfig converts the planner section.
func (c *Config) PlannerConfig() partition.PlannerConfig {
	return partition.PlannerConfig{
		MaxChunkBytes:   c.Planner.MaxChunkBytes,
		ImmediateRounds: c.Planner.ImmediateRounds,
		ImmediateYears:  c.Planner.ImmediateYears,
		Codec:           c.Planner.Codec,
		PreviousVersion: c.Planner.PreviousVersion,
	}
}

// RecordCost returns the default per-record costs with the configured
// overrides applied.
func (c *Config) RecordCost() map[types.RecordKind]int64 {
	cost := partition.DefaultRecordCost()
	for kind, n := range c.Planner.RecordCost {
		cost[kind] = n
	}
	return cost
}

// BuilderConfig converts the builder section.
func (c *Config) BuilderConfig() partition.BuilderConfig {
	return partition.BuilderConfig{
		Concurrency:       c.Builder.Concurrency,
		UploadConcurrency: c.Builder.UploadConcurrency,
		Filters:           c.Builder.Filters,
	}
}

// LoaderConfig converts the loader and cache sections.
func (c *Config) LoaderConfig() loader.Config {
	return loader.Config{
		Concurrency:  c.Loader.Concurrency,
		FetchTimeout: c.Loader.FetchTimeout,
		Cache:        c.CacheOptions(),
	}
}

// CacheOptions returns the chunk cache defaults.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{TTL: c.Cache.TTL, MaxEntries: c.Cache.MaxEntries}
}

// Policy compiles the category table, falling back to the default table.
func (c *Config) Policy() *category.Policy {
	if c.Categories == nil {
		return category.Default()
	}
	return category.NewPolicy(c.Categories)
}
