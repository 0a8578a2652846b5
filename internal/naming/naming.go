// Package naming is the single source of chunk and precomputed-filter
// object names. The planner, the builder and the loader all go through it.
package naming

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/neetlogiq/datapack/pkg/types"
)

// ManifestName is the well-known manifest object at the chunk-store root.
const ManifestName = "manifest.json"

const (
	baseExt      = ".json"
	roundsPrefix = "rounds_"
)

// ErrMalformedName is returned by ParseChunkName for names that were not
// produced by ChunkName.
var ErrMalformedName = errors.New("malformed chunk name")

// ChunkKey identifies one chunk. Year is zero for reference kinds; RoundLo
// and RoundHi are zero when the chunk is not round-scoped.
type ChunkKey struct {
	Kind     types.RecordKind
	Category types.Category
	Year     int
	RoundLo  int
	RoundHi  int
}

// ChunkName formats <kind>-<category>[-<year>[-rounds_<lo>_<hi>]].json
// followed by the codec suffix (".gz", ".sz", ".zst", ".lz4" or "").
func ChunkName(key ChunkKey, suffix string) string {
	var sb strings.Builder
	sb.WriteString(string(key.Kind))
	sb.WriteByte('-')
	sb.WriteString(key.Category.Slug())
	if key.Year > 0 {
		sb.WriteByte('-')
		sb.WriteString(strconv.Itoa(key.Year))
		if key.RoundLo > 0 {
			fmt.Fprintf(&sb, "-%s%d_%d", roundsPrefix, key.RoundLo, key.RoundHi)
		}
	}
	sb.WriteString(baseExt)
	sb.WriteString(suffix)
	return sb.String()
}

// ParseChunkName is the inverse of ChunkName. It returns the key and the
// codec suffix.
func ParseChunkName(name string) (ChunkKey, string, error) {
	idx := strings.Index(name, baseExt)
	if idx <= 0 {
		return ChunkKey{}, "", fmt.Errorf("%w: %q", ErrMalformedName, name)
	}
	stem, suffix := name[:idx], name[idx+len(baseExt):]

	parts := strings.Split(stem, "-")
	if len(parts) < 2 || len(parts) > 4 {
		return ChunkKey{}, "", fmt.Errorf("%w: %q", ErrMalformedName, name)
	}

	key := ChunkKey{Kind: types.RecordKind(parts[0])}
	if !key.Kind.Valid() {
		return ChunkKey{}, "", fmt.Errorf("%w: %q: %w", ErrMalformedName, name, types.ErrUnknownRecordKind)
	}
	cat, err := types.ParseCategory(parts[1])
	if err != nil {
		return ChunkKey{}, "", fmt.Errorf("%w: %q: %w", ErrMalformedName, name, err)
	}
	key.Category = cat

	if len(parts) >= 3 {
		year, err := strconv.Atoi(parts[2])
		if err != nil || year <= 0 {
			return ChunkKey{}, "", fmt.Errorf("%w: %q: bad year", ErrMalformedName, name)
		}
		key.Year = year
	}
	if len(parts) == 4 {
		lo, hi, ok := parseRounds(parts[3])
		if !ok {
			return ChunkKey{}, "", fmt.Errorf("%w: %q: bad rounds", ErrMalformedName, name)
		}
		key.RoundLo, key.RoundHi = lo, hi
	}
	return key, suffix, nil
}

func parseRounds(s string) (int, int, bool) {
	rest, ok := strings.CutPrefix(s, roundsPrefix)
	if !ok {
		return 0, 0, false
	}
	loStr, hiStr, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, 0, false
	}
	lo, err1 := strconv.Atoi(loStr)
	hi, err2 := strconv.Atoi(hiStr)
	if err1 != nil || err2 != nil || lo <= 0 || hi < lo {
		return 0, 0, false
	}
	return lo, hi, true
}

// FilterKey identifies a precomputed result for a popular filter combination.
type FilterKey struct {
	SubCategory string `json:"subCategory" yaml:"sub_category"`
	Quota       string `json:"quota" yaml:"quota"`
	Boundary    int    `json:"boundary" yaml:"boundary"`
}

// String renders the key as it appears inside a filter name.
func (k FilterKey) String() string {
	return fmt.Sprintf("%s-%s-%d", segment(k.SubCategory), segment(k.Quota), k.Boundary)
}

// FilterName formats <kind>-<category>-<subCategory>-<quota>-<boundary>.json
// followed by the codec suffix.
func FilterName(kind types.RecordKind, cat types.Category, key FilterKey, suffix string) string {
	return fmt.Sprintf("%s-%s-%s%s%s", kind, cat.Slug(), key.String(), baseExt, suffix)
}

// segment lowercases s and replaces separators so that a free-form tag
// cannot introduce extra name segments.
func segment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '/', '.':
			return '_'
		}
		return r
	}, s)
}
