package partition

import (
	"context"
	"slices"
	"strings"

	"github.com/neetlogiq/datapack/internal/category"
	"github.com/neetlogiq/datapack/internal/naming"
	"github.com/neetlogiq/datapack/pkg/types"
)

// Query selects the records of one chunk. Year zero and nil Rounds select
// every year and round.
type Query struct {
	Kind     types.RecordKind
	Category types.Category
	Year     int
	Rounds   []int
}

// RecordSource supplies the records the builder writes into chunks. Records
// returned for a category must be admitted to it by the category policy.
type RecordSource interface {
	Records(ctx context.Context, q Query) ([]types.Record, error)
}

// FilterSpec names a precomputed filter chunk to build.
type FilterSpec struct {
	Kind     types.RecordKind `json:"kind" yaml:"kind"`
	Category types.Category   `json:"category" yaml:"category"`

	naming.FilterKey `yaml:",inline"`
}

// Matches reports whether a record belongs in the filter's chunk: same
// sub-tag and quota (case-insensitive; empty matches any) and, for cutoffs,
// a closing rank within Boundary when Boundary is positive.
func (f FilterSpec) Matches(r types.Record) bool {
	if r.Kind() != f.Kind {
		return false
	}
	if f.SubCategory != "" && !strings.EqualFold(r.SubTag(), f.SubCategory) {
		return false
	}
	c, ok := r.(types.CutoffRecord)
	if !ok {
		return true
	}
	if f.Quota != "" && !strings.EqualFold(c.Quota, f.Quota) {
		return false
	}
	return f.Boundary <= 0 || c.ClosingRank <= f.Boundary
}

type sourceKey struct {
	kind types.RecordKind
	cat  types.Category
}

// SliceSource serves records held in memory, indexed by the categories the
// policy admits each record to.
type SliceSource struct {
	index   map[sourceKey][]types.Record
	tracker *StatsTracker
}

// NewSliceSource indexes records under policy.
func NewSliceSource(records []types.Record, policy *category.Policy) *SliceSource {
	if policy == nil {
		policy = category.Default()
	}
	s := &SliceSource{index: make(map[sourceKey][]types.Record), tracker: NewStatsTracker(policy)}
	for _, r := range records {
		s.tracker.Update(r)
		for _, cat := range policy.CategoriesFor(r) {
			k := sourceKey{r.Kind(), cat}
			s.index[k] = append(s.index[k], r)
		}
	}
	return s
}

// Records returns matching records in insertion order.
func (s *SliceSource) Records(ctx context.Context, q Query) ([]types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []types.Record
	for _, r := range s.index[sourceKey{q.Kind, q.Category}] {
		year, round := types.YearRound(r)
		if q.Year != 0 && year != q.Year {
			continue
		}
		if q.Rounds != nil && !slices.Contains(q.Rounds, round) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Stats returns planner input for the indexed records.
func (s *SliceSource) Stats(cost map[types.RecordKind]int64) DatasetStats {
	return s.tracker.Stats(cost)
}
