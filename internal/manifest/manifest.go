// Package manifest defines the partition manifest: the versioned, read-only
// description of every chunk in a chunk store.
package manifest

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"

	dperrors "github.com/neetlogiq/datapack/internal/errors"
	"github.com/neetlogiq/datapack/internal/naming"
	"github.com/neetlogiq/datapack/pkg/types"
)

const (
	// SupportedMajor is the only manifest major version this build reads.
	SupportedMajor = 1

	// InitialVersion is assigned by the first planner run.
	InitialVersion = "1.0.0"
)

// Checksum returns the hex murmur3-128 digest recorded for a stored chunk.
func Checksum(data []byte) string {
	h1, h2 := murmur3.Sum128(data)
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// PartitionDescriptor describes one chunk.
type PartitionDescriptor struct {
	Filename            string              `json:"filename"`
	RecordKind          types.RecordKind    `json:"recordKind"`
	Category            types.Category      `json:"category"`
	Year                int                 `json:"year"`
	Rounds              []int               `json:"rounds"`
	PriorityClass       types.PriorityClass `json:"priorityClass"`
	EstimatedSizeBytes  int64               `json:"estimatedSizeBytes"`
	RecordCount         int64               `json:"recordCount"`
	IncludedRecordKinds []types.RecordKind  `json:"includedRecordKinds"`
	ExcludedCategories  []types.Category    `json:"excludedCategories,omitempty"`
	Feasible            bool                `json:"feasible"`
	CompressedSizeBytes int64               `json:"compressedSizeBytes,omitempty"`
	Checksum            string              `json:"checksum,omitempty"`
}

// Key returns the naming key the descriptor's filename is derived from.
func (d PartitionDescriptor) Key() naming.ChunkKey {
	key := naming.ChunkKey{Kind: d.RecordKind, Category: d.Category, Year: d.Year}
	if d.RecordKind.RoundScoped() && len(d.Rounds) > 0 {
		key.RoundLo = d.Rounds[0]
		key.RoundHi = d.Rounds[len(d.Rounds)-1]
	}
	return key
}

// PrecomputedFilter lists a chunk holding the result of a popular filter.
type PrecomputedFilter struct {
	Filename    string           `json:"filename"`
	RecordKind  types.RecordKind `json:"recordKind"`
	Category    types.Category   `json:"category"`
	SubCategory string           `json:"subCategory"`
	Quota       string           `json:"quota"`
	Boundary    int              `json:"boundary"`
	RecordCount int64            `json:"recordCount"`
	Checksum    string           `json:"checksum,omitempty"`
}

// FilterKey returns the naming key of the filter.
func (f PrecomputedFilter) FilterKey() naming.FilterKey {
	return naming.FilterKey{SubCategory: f.SubCategory, Quota: f.Quota, Boundary: f.Boundary}
}

// CategorySummary is derived from the partitions of one category.
type CategorySummary struct {
	TotalPartitions    int      `json:"totalPartitions"`
	TotalEstimatedSize int64    `json:"totalEstimatedSize"`
	TotalRecords       int64    `json:"totalRecords"`
	Immediate          []string `json:"immediate"`
	OnDemand           []string `json:"onDemand"`
}

// Manifest is produced wholesale by one planner run and never mutated once
// published.
type Manifest struct {
	Version            string                             `json:"version"`
	GeneratedAt        time.Time                          `json:"generatedAt"`
	BuildID            string                             `json:"buildId,omitempty"`
	MaxChunkSize       int64                              `json:"maxChunkSize"`
	Codec              string                             `json:"codec"`
	TotalPartitions    int                                `json:"totalPartitions"`
	TotalEstimatedSize int64                              `json:"totalEstimatedSize"`
	Categories         map[types.Category]CategorySummary `json:"categories"`
	Partitions         []PartitionDescriptor              `json:"partitions"`
	Precomputed        []PrecomputedFilter                `json:"precomputed,omitempty"`
}

// Parse decodes, version-checks and validates a manifest. Unknown fields are
// ignored.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, dperrors.NewManifestError(dperrors.CodeInvalidManifest, "decode manifest", err)
	}
	if err := CheckVersion(m.Version); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Marshal encodes the manifest as indented JSON.
func Marshal(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manifest: marshal: %w", err)
	}
	return data, nil
}

// ParseVersion splits a MAJOR.MINOR.PATCH version string.
func ParseVersion(v string) (major, minor, patch int, err error) {
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("manifest: malformed version %q", v)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("manifest: malformed version %q", v)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}

// CheckVersion rejects versions whose major component is not understood.
func CheckVersion(v string) error {
	major, _, _, err := ParseVersion(v)
	if err != nil {
		return dperrors.NewManifestError(dperrors.CodeUnsupportedVersion, "parse version", err)
	}
	if major != SupportedMajor {
		return dperrors.NewManifestError(dperrors.CodeUnsupportedVersion,
			fmt.Sprintf("major version %d not supported (want %d)", major, SupportedMajor), nil).
			WithDetails(map[string]interface{}{"version": v})
	}
	return nil
}

// BumpVersion returns the version a new planner run publishes after prev.
// An empty or unreadable prev starts over at InitialVersion.
func BumpVersion(prev string) string {
	major, minor, _, err := ParseVersion(prev)
	if err != nil || major != SupportedMajor {
		return InitialVersion
	}
	return fmt.Sprintf("%d.%d.0", major, minor+1)
}

// Summaries derives the per-category summaries from the partitions.
func (m *Manifest) Summaries() map[types.Category]CategorySummary {
	out := make(map[types.Category]CategorySummary)
	for _, p := range m.Partitions {
		s := out[p.Category]
		s.TotalPartitions++
		s.TotalEstimatedSize += p.EstimatedSizeBytes
		s.TotalRecords += p.RecordCount
		if p.PriorityClass == types.PriorityImmediate {
			s.Immediate = append(s.Immediate, p.Filename)
		} else {
			s.OnDemand = append(s.OnDemand, p.Filename)
		}
		out[p.Category] = s
	}
	return out
}

// RecomputeSummaries rebuilds every derived field from the partitions.
func (m *Manifest) RecomputeSummaries() {
	m.Categories = m.Summaries()
	m.TotalPartitions = len(m.Partitions)
	m.TotalEstimatedSize = 0
	for _, p := range m.Partitions {
		m.TotalEstimatedSize += p.EstimatedSizeBytes
	}
}

// Infeasible returns the partitions flagged as exceeding the size ceiling.
func (m *Manifest) Infeasible() []PartitionDescriptor {
	var out []PartitionDescriptor
	for _, p := range m.Partitions {
		if !p.Feasible {
			out = append(out, p)
		}
	}
	return out
}

// Select returns the partitions of one category and class in manifest order.
func (m *Manifest) Select(cat types.Category, class types.PriorityClass) []PartitionDescriptor {
	var out []PartitionDescriptor
	for _, p := range m.Partitions {
		if p.Category == cat && p.PriorityClass == class {
			out = append(out, p)
		}
	}
	return out
}

// Years returns the distinct years of a category's round-scoped partitions,
// newest first.
func (m *Manifest) Years(cat types.Category) []int {
	seen := make(map[int]struct{})
	var years []int
	for _, p := range m.Partitions {
		if p.Category != cat || p.Year == 0 {
			continue
		}
		if _, ok := seen[p.Year]; !ok {
			seen[p.Year] = struct{}{}
			years = append(years, p.Year)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years
}

// Lookup finds a partition by filename.
func (m *Manifest) Lookup(filename string) (PartitionDescriptor, bool) {
	for _, p := range m.Partitions {
		if p.Filename == filename {
			return p, true
		}
	}
	return PartitionDescriptor{}, false
}

// FindFilter finds a listed precomputed filter.
func (m *Manifest) FindFilter(kind types.RecordKind, cat types.Category, key naming.FilterKey) (PrecomputedFilter, bool) {
	for _, f := range m.Precomputed {
		if f.RecordKind == kind && f.Category == cat && f.FilterKey().String() == key.String() {
			return f, true
		}
	}
	return PrecomputedFilter{}, false
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	cp := *m
	cp.Partitions = make([]PartitionDescriptor, len(m.Partitions))
	for i, p := range m.Partitions {
		p.Rounds = slices.Clone(p.Rounds)
		p.IncludedRecordKinds = slices.Clone(p.IncludedRecordKinds)
		p.ExcludedCategories = slices.Clone(p.ExcludedCategories)
		cp.Partitions[i] = p
	}
	cp.Precomputed = slices.Clone(m.Precomputed)
	if m.Categories != nil {
		cp.Categories = make(map[types.Category]CategorySummary, len(m.Categories))
		for k, s := range m.Categories {
			s.Immediate = slices.Clone(s.Immediate)
			s.OnDemand = slices.Clone(s.OnDemand)
			cp.Categories[k] = s
		}
	}
	return &cp
}
