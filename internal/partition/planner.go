// Package partition plans and builds size-bounded chunks. The planner turns
// aggregate record counts into a manifest; the builder materializes that
// manifest into a chunk store and verifies the real compressed sizes.
package partition

import (
	"fmt"
	"slices"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neetlogiq/datapack/internal/codec"
	dperrors "github.com/neetlogiq/datapack/internal/errors"
	"github.com/neetlogiq/datapack/internal/manifest"
	"github.com/neetlogiq/datapack/internal/naming"
	"github.com/neetlogiq/datapack/pkg/types"
)

const (
	// DefaultMaxChunkBytes is the hard per-chunk ceiling.
	DefaultMaxChunkBytes int64 = 3_800_000

	// DefaultImmediateRounds is the highest round fetched eagerly.
	DefaultImmediateRounds = 2
)

// PlannerConfig controls partitioning.
type PlannerConfig struct {
	MaxChunkBytes   int64
	ImmediateRounds int

	// ImmediateYears limits the immediate class to the newest N known
	// years. Zero means every year.
	ImmediateYears int

	// Codec names the compression applied by the builder; it decides the
	// filename suffix.
	Codec string

	// PreviousVersion is the version of the manifest being superseded.
	PreviousVersion string
}

// DefaultPlannerConfig returns the stock planner settings.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MaxChunkBytes:   DefaultMaxChunkBytes,
		ImmediateRounds: DefaultImmediateRounds,
		Codec:           codec.NameGzip,
	}
}

// Planner computes partition manifests from dataset statistics.
type Planner struct {
	cfg   PlannerConfig
	codec codec.Codec
	settings
}

type settings struct {
	clock  clock.Clock
	logger *zap.Logger
}

// Option configures a Planner or a Builder.
type Option func(*settings)

// WithClock sets the clock used for generatedAt.
func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func newSettings(opts []Option) settings {
	s := settings{clock: clock.New(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// NewPlanner creates a planner. Zero config fields take their defaults.
func NewPlanner(cfg PlannerConfig, opts ...Option) (*Planner, error) {
	def := DefaultPlannerConfig()
	if cfg.MaxChunkBytes == 0 {
		cfg.MaxChunkBytes = def.MaxChunkBytes
	}
	if cfg.ImmediateRounds == 0 {
		cfg.ImmediateRounds = def.ImmediateRounds
	}
	if cfg.Codec == "" {
		cfg.Codec = def.Codec
	}
	if cfg.MaxChunkBytes < 0 || cfg.ImmediateRounds < 0 || cfg.ImmediateYears < 0 {
		return nil, dperrors.NewConfigError(
			fmt.Sprintf("planner: invalid config (maxChunkBytes=%d immediateRounds=%d immediateYears=%d)",
				cfg.MaxChunkBytes, cfg.ImmediateRounds, cfg.ImmediateYears), nil)
	}
	c, err := codec.Lookup(cfg.Codec)
	if err != nil {
		return nil, dperrors.NewConfigError("planner: codec", err)
	}

	return &Planner{cfg: cfg, codec: c, settings: newSettings(opts)}, nil
}

// Config returns the effective configuration.
func (p *Planner) Config() PlannerConfig {
	return p.cfg
}

type groupKey struct {
	kind types.RecordKind
	cat  types.Category
	year int
}

// Plan partitions every (kind, category, year) combination into immediate
// and on-demand chunks. Within a class consecutive rounds are packed while
// the estimate stays within MaxChunkBytes; a round is never split and
// categories are never merged. A round that alone exceeds the ceiling is
// emitted as its own partition with Feasible false.
func (p *Planner) Plan(stats DatasetStats) (*manifest.Manifest, error) {
	if err := stats.Validate(); err != nil {
		return nil, err
	}

	groups := make(map[groupKey]map[int]int64)
	for _, e := range stats.Entries {
		if e.Records == 0 {
			continue
		}
		k := groupKey{e.Kind, e.Category, e.Year}
		if groups[k] == nil {
			groups[k] = make(map[int]int64)
		}
		groups[k][e.Round] += e.Records
	}

	years := stats.KnownYears()
	immediateYears := make(map[int]bool, len(years))
	for i, y := range years {
		if p.cfg.ImmediateYears == 0 || i < p.cfg.ImmediateYears {
			immediateYears[y] = true
		}
	}

	var partitions []manifest.PartitionDescriptor
	for _, kind := range types.RecordKinds() {
		cost := stats.Cost(kind)
		for _, cat := range types.Categories() {
			if !kind.RoundScoped() {
				if rounds := groups[groupKey{kind, cat, types.NoRound}]; len(rounds) > 0 {
					partitions = append(partitions, p.descriptor(kind, cat, types.NoRound, types.PriorityImmediate,
						[]int{types.NoRound}, rounds[types.NoRound], cost))
				}
				continue
			}
			for _, year := range years {
				rounds := groups[groupKey{kind, cat, year}]
				if len(rounds) == 0 {
					continue
				}
				immediate, onDemand := p.splitClasses(rounds, immediateYears[year])
				partitions = append(partitions, p.pack(kind, cat, year, types.PriorityImmediate, immediate, rounds, cost)...)
				partitions = append(partitions, p.pack(kind, cat, year, types.PriorityOnDemand, onDemand, rounds, cost)...)
			}
		}
	}

	m := &manifest.Manifest{
		Version:      manifest.BumpVersion(p.cfg.PreviousVersion),
		GeneratedAt:  p.clock.Now().UTC(),
		BuildID:      uuid.NewString(),
		MaxChunkSize: p.cfg.MaxChunkBytes,
		Codec:        p.codec.Name(),
		Partitions:   partitions,
	}
	m.RecomputeSummaries()
	if err := m.Validate(); err != nil {
		return nil, dperrors.NewInternalError("planner produced an invalid manifest", err)
	}

	infeasible := len(m.Infeasible())
	p.logger.Info("partition: plan complete",
		zap.String("version", m.Version),
		zap.Int("partitions", m.TotalPartitions),
		zap.Int64("estimated_bytes", m.TotalEstimatedSize),
		zap.Int("infeasible", infeasible))
	if infeasible > 0 {
		p.logger.Warn("partition: some rounds exceed the chunk ceiling on their own", zap.Int("count", infeasible))
	}
	return m, nil
}

// splitClasses returns the ascending immediate and on-demand round lists of
// one group.
func (p *Planner) splitClasses(counts map[int]int64, yearIsImmediate bool) (immediate, onDemand []int) {
	rounds := make([]int, 0, len(counts))
	for r := range counts {
		rounds = append(rounds, r)
	}
	sort.Ints(rounds)
	for _, r := range rounds {
		if yearIsImmediate && r <= p.cfg.ImmediateRounds {
			immediate = append(immediate, r)
		} else {
			onDemand = append(onDemand, r)
		}
	}
	return immediate, onDemand
}

// pack greedily groups consecutive rounds.
func (p *Planner) pack(kind types.RecordKind, cat types.Category, year int, class types.PriorityClass,
	rounds []int, counts map[int]int64, cost int64) []manifest.PartitionDescriptor {

	var (
		out     []manifest.PartitionDescriptor
		current []int
		records int64
	)
	flush := func() {
		if len(current) > 0 {
			out = append(out, p.descriptor(kind, cat, year, class, current, records, cost))
		}
		current, records = nil, 0
	}

	for _, r := range rounds {
		n := counts[r]
		if len(current) > 0 && (records+n)*cost > p.cfg.MaxChunkBytes {
			flush()
		}
		current = append(current, r)
		records += n
	}
	flush()
	return out
}

func (p *Planner) descriptor(kind types.RecordKind, cat types.Category, year int, class types.PriorityClass,
	rounds []int, records, cost int64) manifest.PartitionDescriptor {

	d := manifest.PartitionDescriptor{
		RecordKind:          kind,
		Category:            cat,
		Year:                year,
		Rounds:              slices.Clone(rounds),
		PriorityClass:       class,
		EstimatedSizeBytes:  records * cost,
		RecordCount:         records,
		IncludedRecordKinds: []types.RecordKind{kind},
		ExcludedCategories:  otherCategories(cat),
	}
	d.Feasible = d.EstimatedSizeBytes <= p.cfg.MaxChunkBytes
	d.Filename = naming.ChunkName(d.Key(), p.codec.Suffix())
	return d
}

func otherCategories(cat types.Category) []types.Category {
	var out []types.Category
	for _, c := range types.Categories() {
		if c != cat {
			out = append(out, c)
		}
	}
	return out
}

// CheckFeasible converts infeasible partitions into a PLANNING_INFEASIBLE
// error. The build treats it as fatal.
func CheckFeasible(m *manifest.Manifest) error {
	bad := m.Infeasible()
	if len(bad) == 0 {
		return nil
	}
	names := make([]string, len(bad))
	for i, d := range bad {
		names[i] = d.Filename
	}
	return dperrors.NewPlanningError(dperrors.CodePlanningInfeasible,
		fmt.Sprintf("%d partition(s) exceed the %d byte ceiling with a single round", len(bad), m.MaxChunkSize)).
		WithDetails(map[string]interface{}{"partitions": names})
}
