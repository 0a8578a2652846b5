package manifest

import (
	"strings"
	"testing"
	"time"

	dperrors "github.com/neetlogiq/datapack/internal/errors"
	"github.com/neetlogiq/datapack/internal/naming"
	"github.com/neetlogiq/datapack/pkg/types"
)

func cutoffPartition(cat types.Category, year int, class types.PriorityClass, rounds ...int) PartitionDescriptor {
	d := PartitionDescriptor{
		RecordKind:          types.KindCutoff,
		Category:            cat,
		Year:                year,
		Rounds:              rounds,
		PriorityClass:       class,
		EstimatedSizeBytes:  1_000_000,
		RecordCount:         5000,
		IncludedRecordKinds: []types.RecordKind{types.KindCutoff},
		Feasible:            true,
	}
	d.Filename = naming.ChunkName(d.Key(), ".gz")
	return d
}

func testManifest() *Manifest {
	colleges := PartitionDescriptor{
		RecordKind:          types.KindCollege,
		Category:            types.CategoryUG,
		Rounds:              []int{types.NoRound},
		PriorityClass:       types.PriorityImmediate,
		EstimatedSizeBytes:  200_000,
		RecordCount:         800,
		IncludedRecordKinds: []types.RecordKind{types.KindCollege},
		Feasible:            true,
	}
	colleges.Filename = naming.ChunkName(colleges.Key(), ".gz")

	m := &Manifest{
		Version:      InitialVersion,
		GeneratedAt:  time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		MaxChunkSize: 3_800_000,
		Codec:        "gzip",
		Partitions: []PartitionDescriptor{
			colleges,
			cutoffPartition(types.CategoryUG, 2024, types.PriorityImmediate, 1, 2),
			cutoffPartition(types.CategoryUG, 2024, types.PriorityOnDemand, 3, 4),
			cutoffPartition(types.CategoryUG, 2023, types.PriorityImmediate, 1, 2),
			cutoffPartition(types.CategoryPGMedical, 2024, types.PriorityImmediate, 1),
		},
	}
	m.RecomputeSummaries()
	return m
}

func TestParseRoundTrip(t *testing.T) {
	m := testManifest()
	data, err := Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.TotalPartitions != 5 {
		t.Errorf("expected 5 partitions, got %d", got.TotalPartitions)
	}
	ug := got.Categories[types.CategoryUG]
	if len(ug.Immediate) != 3 || len(ug.OnDemand) != 1 {
		t.Errorf("unexpected UG summary: %+v", ug)
	}
}

func TestParseToleratesUnknownFields(t *testing.T) {
	data, err := Marshal(testManifest())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	withExtra := strings.Replace(string(data), `"version"`, `"futureField": {"x": 1}, "version"`, 1)

	if _, err := Parse([]byte(withExtra)); err != nil {
		t.Fatalf("unknown fields should be tolerated: %v", err)
	}
}

func TestParseRejectsUnknownMajor(t *testing.T) {
	m := testManifest()
	m.Version = "2.0.0"
	data, _ := Marshal(m)

	_, err := Parse(data)
	if !dperrors.HasCode(err, dperrors.CodeUnsupportedVersion) {
		t.Fatalf("expected UNSUPPORTED_VERSION, got %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("{not json"))
	if !dperrors.HasCode(err, dperrors.CodeInvalidManifest) {
		t.Fatalf("expected INVALID_MANIFEST, got %v", err)
	}
}

func TestValidateDetectsOverlappingRounds(t *testing.T) {
	m := testManifest()
	overlap := cutoffPartition(types.CategoryUG, 2024, types.PriorityImmediate, 2, 3)
	m.Partitions = append(m.Partitions, overlap)
	m.RecomputeSummaries()

	err := m.Validate()
	if err == nil || !strings.Contains(err.Error(), "round 2") {
		t.Fatalf("expected overlap error, got %v", err)
	}
}

func TestValidateCeiling(t *testing.T) {
	m := testManifest()
	m.Partitions[1].EstimatedSizeBytes = 4_000_000
	m.RecomputeSummaries()
	if err := m.Validate(); err == nil {
		t.Fatal("expected ceiling violation")
	}

	m.Partitions[1].Feasible = false
	if err := m.Validate(); err != nil {
		t.Fatalf("flagged partition should validate: %v", err)
	}
	if got := m.Infeasible(); len(got) != 1 || got[0].Filename != m.Partitions[1].Filename {
		t.Errorf("unexpected infeasible set: %v", got)
	}
}

func TestValidateDetectsStaleSummaries(t *testing.T) {
	m := testManifest()
	m.Partitions = m.Partitions[:4]

	err := m.Validate()
	if !dperrors.HasCode(err, dperrors.CodeInvalidManifest) {
		t.Fatalf("expected INVALID_MANIFEST, got %v", err)
	}

	m.RecomputeSummaries()
	if err := m.Validate(); err != nil {
		t.Fatalf("recomputed manifest should validate: %v", err)
	}
}

func TestValidateRejectsBadDescriptors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PartitionDescriptor)
	}{
		{"empty rounds", func(d *PartitionDescriptor) { d.Rounds = nil }},
		{"unordered rounds", func(d *PartitionDescriptor) { d.Rounds = []int{2, 1} }},
		{"unknown category", func(d *PartitionDescriptor) { d.Category = "VET" }},
		{"unknown class", func(d *PartitionDescriptor) { d.PriorityClass = "later" }},
		{"wrong filename", func(d *PartitionDescriptor) { d.Filename = "cutoffs-ug-2024.json.gz" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManifest()
			tt.mutate(&m.Partitions[1])
			m.RecomputeSummaries()
			if err := m.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSelectAndYears(t *testing.T) {
	m := testManifest()

	imm := m.Select(types.CategoryUG, types.PriorityImmediate)
	if len(imm) != 3 || imm[0].RecordKind != types.KindCollege {
		t.Errorf("unexpected immediate selection: %v", imm)
	}
	years := m.Years(types.CategoryUG)
	if len(years) != 2 || years[0] != 2024 || years[1] != 2023 {
		t.Errorf("expected [2024 2023], got %v", years)
	}
	if len(m.Select(types.CategoryPGDental, types.PriorityImmediate)) != 0 {
		t.Error("expected no PG_DENTAL partitions")
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := testManifest()
	cp := m.Clone()
	cp.Partitions[1].Rounds[0] = 99
	s := cp.Categories[types.CategoryUG]
	s.Immediate[0] = "changed"

	if m.Partitions[1].Rounds[0] == 99 {
		t.Error("clone shares rounds with original")
	}
	if m.Categories[types.CategoryUG].Immediate[0] == "changed" {
		t.Error("clone shares summaries with original")
	}
}

func TestVersioning(t *testing.T) {
	if got := BumpVersion(""); got != InitialVersion {
		t.Errorf("BumpVersion(\"\") = %s", got)
	}
	if got := BumpVersion("1.4.2"); got != "1.5.0" {
		t.Errorf("BumpVersion(1.4.2) = %s", got)
	}
	if got := BumpVersion("3.0.0"); got != InitialVersion {
		t.Errorf("BumpVersion(3.0.0) = %s", got)
	}
	if _, _, _, err := ParseVersion("1.2"); err == nil {
		t.Error("expected malformed version error")
	}
}

func TestFindFilter(t *testing.T) {
	m := testManifest()
	key := naming.FilterKey{SubCategory: "DNB", Quota: "AIQ", Boundary: 5000}
	m.Precomputed = []PrecomputedFilter{{
		Filename:    naming.FilterName(types.KindCutoff, types.CategoryPGMedical, key, ".gz"),
		RecordKind:  types.KindCutoff,
		Category:    types.CategoryPGMedical,
		SubCategory: "DNB",
		Quota:       "AIQ",
		Boundary:    5000,
	}}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if _, ok := m.FindFilter(types.KindCutoff, types.CategoryPGMedical, naming.FilterKey{SubCategory: "dnb", Quota: "aiq", Boundary: 5000}); !ok {
		t.Error("filter lookup should be case-insensitive through naming")
	}
	if _, ok := m.FindFilter(types.KindCutoff, types.CategoryPGDental, key); ok {
		t.Error("unexpected filter for PG_DENTAL")
	}
}

func TestChecksum(t *testing.T) {
	a := Checksum([]byte("chunk-a"))
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %q", a)
	}
	if a != Checksum([]byte("chunk-a")) {
		t.Error("checksum must be deterministic")
	}
	if a == Checksum([]byte("chunk-b")) {
		t.Error("different payloads should not collide")
	}
}
