package partition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/neetlogiq/datapack/internal/category"
	"github.com/neetlogiq/datapack/pkg/types"
)

// DefaultRecordCost returns the heuristic per-record byte cost of each kind,
// measured on the uncompressed compact wire form.
func DefaultRecordCost() map[types.RecordKind]int64 {
	return map[types.RecordKind]int64{
		types.KindCollege: 320,
		types.KindCourse:  160,
		types.KindCutoff:  180,
	}
}

// CountEntry is the number of records of one kind admitted to one category
// for one year and round. Reference kinds use year and round zero.
type CountEntry struct {
	Kind     types.RecordKind `json:"kind" yaml:"kind"`
	Category types.Category   `json:"category" yaml:"category"`
	Year     int              `json:"year,omitempty" yaml:"year,omitempty"`
	Round    int              `json:"round,omitempty" yaml:"round,omitempty"`
	Records  int64            `json:"records" yaml:"records"`
}

// DatasetStats is the planner input.
type DatasetStats struct {
	Entries []CountEntry `json:"entries" yaml:"entries"`

	// Years lists known years explicitly; years seen in Entries are always
	// included.
	Years []int `json:"years,omitempty" yaml:"years,omitempty"`

	// RecordCost overrides DefaultRecordCost per kind.
	RecordCost map[types.RecordKind]int64 `json:"recordCost,omitempty" yaml:"record_cost,omitempty"`
}

// Cost returns the per-record byte cost of kind.
func (s DatasetStats) Cost(kind types.RecordKind) int64 {
	if c, ok := s.RecordCost[kind]; ok {
		return c
	}
	return DefaultRecordCost()[kind]
}

// KnownYears returns every year named by Years or by a round-scoped entry,
// newest first.
func (s DatasetStats) KnownYears() []int {
	seen := make(map[int]struct{})
	for _, y := range s.Years {
		seen[y] = struct{}{}
	}
	for _, e := range s.Entries {
		if e.Kind.RoundScoped() && e.Year > 0 {
			seen[e.Year] = struct{}{}
		}
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years
}

// TotalRecords sums every entry.
func (s DatasetStats) TotalRecords() int64 {
	var n int64
	for _, e := range s.Entries {
		n += e.Records
	}
	return n
}

// LoadStatsFile reads stats from a YAML or JSON file, chosen by extension.
func LoadStatsFile(path string) (DatasetStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DatasetStats{}, fmt.Errorf("partition: read stats: %w", err)
	}

	var s DatasetStats
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s)
	default:
		err = json.Unmarshal(data, &s)
	}
	if err != nil {
		return DatasetStats{}, fmt.Errorf("partition: parse stats %s: %w", path, err)
	}
	return s, nil
}

type countKey struct {
	kind  types.RecordKind
	cat   types.Category
	year  int
	round int
}

// StatsTracker accumulates per-(kind, category, year, round) counts from
// records. A record is counted once for every category the policy admits it
// to, matching the chunk membership the builder will produce.
type StatsTracker struct {
	policy *category.Policy
	counts map[countKey]int64
	years  map[int]struct{}
	total  int64
}

// NewStatsTracker creates a new statistics tracker.
func NewStatsTracker(policy *category.Policy) *StatsTracker {
	if policy == nil {
		policy = category.Default()
	}
	return &StatsTracker{
		policy: policy,
		counts: make(map[countKey]int64),
		years:  make(map[int]struct{}),
	}
}

// Update counts a record.
func (s *StatsTracker) Update(record types.Record) {
	s.total++
	year, round := types.YearRound(record)
	if year > 0 {
		s.years[year] = struct{}{}
	}
	for _, cat := range s.policy.CategoriesFor(record) {
		s.counts[countKey{record.Kind(), cat, year, round}]++
	}
}

// Seen returns the number of records passed to Update, admitted or not.
func (s *StatsTracker) Seen() int64 {
	return s.total
}

// Stats returns the accumulated counts in planning order.
func (s *StatsTracker) Stats(cost map[types.RecordKind]int64) DatasetStats {
	out := DatasetStats{RecordCost: cost}
	for k, n := range s.counts {
		out.Entries = append(out.Entries, CountEntry{Kind: k.kind, Category: k.cat, Year: k.year, Round: k.round, Records: n})
	}
	for y := range s.years {
		out.Years = append(out.Years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out.Years)))
	sortEntries(out.Entries)
	return out
}

func sortEntries(entries []CountEntry) {
	kindRank := rank(types.RecordKinds())
	catRank := rank(types.Categories())
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Kind != b.Kind {
			return kindRank[a.Kind] < kindRank[b.Kind]
		}
		if a.Category != b.Category {
			return catRank[a.Category] < catRank[b.Category]
		}
		if a.Year != b.Year {
			return a.Year > b.Year
		}
		return a.Round < b.Round
	})
}

func rank[T comparable](order []T) map[T]int {
	m := make(map[T]int, len(order))
	for i, v := range order {
		m[v] = i
	}
	return m
}
