package manifest

import (
	"fmt"
	"slices"

	"go.uber.org/multierr"

	"github.com/neetlogiq/datapack/internal/codec"
	dperrors "github.com/neetlogiq/datapack/internal/errors"
	"github.com/neetlogiq/datapack/internal/naming"
	"github.com/neetlogiq/datapack/pkg/types"
)

type roundSlot struct {
	kind  types.RecordKind
	cat   types.Category
	year  int
	class types.PriorityClass
	round int
}

// Validate checks every structural invariant of the manifest, including
// agreement between the derived summaries and the partitions. All problems
// are reported together.
func (m *Manifest) Validate() error {
	var errs error

	c, err := codec.Lookup(m.Codec)
	if err != nil {
		errs = multierr.Append(errs, err)
		c = codec.Gzip{}
	}
	if m.MaxChunkSize <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("maxChunkSize must be positive, got %d", m.MaxChunkSize))
	}

	names := make(map[string]struct{}, len(m.Partitions))
	slots := make(map[roundSlot]string)
	for i, p := range m.Partitions {
		if err := validatePartition(p, m.MaxChunkSize, c.Suffix()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("partition %d (%s): %w", i, p.Filename, err))
			continue
		}
		if _, dup := names[p.Filename]; dup {
			errs = multierr.Append(errs, fmt.Errorf("partition %d: duplicate filename %s", i, p.Filename))
		}
		names[p.Filename] = struct{}{}

		for _, r := range p.Rounds {
			slot := roundSlot{p.RecordKind, p.Category, p.Year, p.PriorityClass, r}
			if other, taken := slots[slot]; taken {
				errs = multierr.Append(errs, fmt.Errorf("round %d of %s/%s/%d appears in %s and %s",
					r, p.RecordKind, p.Category, p.Year, other, p.Filename))
			}
			slots[slot] = p.Filename
		}
	}

	for i, f := range m.Precomputed {
		if !f.Category.Valid() {
			errs = multierr.Append(errs, fmt.Errorf("filter %d: %w: %q", i, types.ErrUnknownCategory, f.Category))
			continue
		}
		want := naming.FilterName(f.RecordKind, f.Category, f.FilterKey(), c.Suffix())
		if f.Filename != want {
			errs = multierr.Append(errs, fmt.Errorf("filter %d: filename %s, want %s", i, f.Filename, want))
		}
	}

	errs = multierr.Append(errs, m.checkDerived())

	if errs != nil {
		return dperrors.NewManifestError(dperrors.CodeInvalidManifest, "invalid manifest", errs)
	}
	return nil
}

func validatePartition(p PartitionDescriptor, maxChunk int64, suffix string) error {
	if !p.RecordKind.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownRecordKind, p.RecordKind)
	}
	if !p.Category.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownCategory, p.Category)
	}
	if !p.PriorityClass.Valid() {
		return fmt.Errorf("unknown priority class %q", p.PriorityClass)
	}
	if len(p.Rounds) == 0 {
		return fmt.Errorf("rounds must be non-empty")
	}
	if !slices.IsSorted(p.Rounds) || len(slices.Compact(slices.Clone(p.Rounds))) != len(p.Rounds) {
		return fmt.Errorf("rounds must be strictly ascending, got %v", p.Rounds)
	}
	if p.RecordKind.RoundScoped() {
		if p.Year <= 0 || p.Rounds[0] <= 0 {
			return fmt.Errorf("round-scoped partition needs a year and positive rounds")
		}
	} else if p.Year != 0 || len(p.Rounds) != 1 || p.Rounds[0] != types.NoRound {
		return fmt.Errorf("reference partition must have year 0 and rounds [0]")
	}
	if p.Feasible && p.EstimatedSizeBytes > maxChunk {
		return fmt.Errorf("estimated size %d exceeds ceiling %d but partition is not flagged infeasible",
			p.EstimatedSizeBytes, maxChunk)
	}
	if want := naming.ChunkName(p.Key(), suffix); p.Filename != want {
		return fmt.Errorf("filename does not match naming, want %s", want)
	}
	return nil
}

func (m *Manifest) checkDerived() error {
	var errs error
	if m.TotalPartitions != len(m.Partitions) {
		errs = multierr.Append(errs, fmt.Errorf("totalPartitions %d, have %d partitions", m.TotalPartitions, len(m.Partitions)))
	}
	var total int64
	for _, p := range m.Partitions {
		total += p.EstimatedSizeBytes
	}
	if m.TotalEstimatedSize != total {
		errs = multierr.Append(errs, fmt.Errorf("totalEstimatedSize %d, partitions sum to %d", m.TotalEstimatedSize, total))
	}

	want := m.Summaries()
	if len(want) != len(m.Categories) {
		errs = multierr.Append(errs, fmt.Errorf("summaries cover %d categories, partitions cover %d", len(m.Categories), len(want)))
	}
	for cat, w := range want {
		got, ok := m.Categories[cat]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("missing summary for %s", cat))
			continue
		}
		if !summaryEqual(got, w) {
			errs = multierr.Append(errs, fmt.Errorf("summary for %s disagrees with partitions", cat))
		}
	}
	return errs
}

func summaryEqual(a, b CategorySummary) bool {
	return a.TotalPartitions == b.TotalPartitions &&
		a.TotalEstimatedSize == b.TotalEstimatedSize &&
		a.TotalRecords == b.TotalRecords &&
		slices.Equal(a.Immediate, b.Immediate) &&
		slices.Equal(a.OnDemand, b.OnDemand)
}
