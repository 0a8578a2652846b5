package manifest

import (
	"context"
	"testing"

	"github.com/neetlogiq/datapack/internal/naming"
	"github.com/neetlogiq/datapack/internal/storage"
	"github.com/neetlogiq/datapack/pkg/types"
)

func setupReconciliationTest(t *testing.T) (*Manifest, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	m := testManifest()
	m.Partitions = append(m.Partitions, PartitionDescriptor{
		Filename:    "cutoffs-ug-2022-rounds_1_1.json.gz",
		RecordKind:  types.KindCutoff,
		Category:    types.CategoryUG,
		Year:        2022,
		Rounds:      []int{1},
		Feasible:    false,
		RecordCount: 1,
	})
	m.Precomputed = []PrecomputedFilter{{
		Filename:   "cutoffs-ug-dental-state-5000.json.gz",
		RecordKind: types.KindCutoff,
		Category:   types.CategoryUG,
	}}

	ctx := context.Background()
	for _, name := range m.Files() {
		if err := store.Put(ctx, name, []byte("chunk")); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}
	if err := store.Put(ctx, naming.ManifestName, []byte("{}")); err != nil {
		t.Fatalf("put manifest: %v", err)
	}
	return m, store
}

func TestReconcile_Clean(t *testing.T) {
	m, store := setupReconciliationTest(t)

	report, err := Reconcile(context.Background(), m, store)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.HasIssues() {
		t.Fatalf("expected a clean report, got dangling=%v orphaned=%v", report.Dangling, report.Orphaned)
	}
	// 5 partitions plus one filter; the infeasible partition is not expected.
	if report.Listed != 6 {
		t.Errorf("expected 6 listed files, got %d", report.Listed)
	}
	if report.Stored != 7 {
		t.Errorf("expected 7 stored objects, got %d", report.Stored)
	}
	if report.Version != m.Version {
		t.Errorf("expected version %s, got %s", m.Version, report.Version)
	}
}

func TestReconcile_DanglingAndOrphaned(t *testing.T) {
	m, store := setupReconciliationTest(t)
	ctx := context.Background()

	missing := m.Partitions[1].Filename
	if err := store.Delete(ctx, missing); err != nil {
		t.Fatalf("delete: %v", err)
	}
	stale := []string{"cutoffs-ug-2024-rounds_1_3.json.gz", "courses-ug.json.gz"}
	for _, name := range stale {
		if err := store.Put(ctx, name, []byte("old")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	report, err := Reconcile(ctx, m, store)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(report.Dangling) != 1 || report.Dangling[0] != missing {
		t.Errorf("expected dangling [%s], got %v", missing, report.Dangling)
	}
	if len(report.Orphaned) != 2 || report.Orphaned[0] != stale[1] || report.Orphaned[1] != stale[0] {
		t.Errorf("expected sorted orphans %v, got %v", stale, report.Orphaned)
	}

	removed, err := Prune(ctx, report, store)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	for _, name := range stale {
		if ok, _ := store.Exists(ctx, name); ok {
			t.Errorf("%s should have been pruned", name)
		}
	}
	if ok, _ := store.Exists(ctx, naming.ManifestName); !ok {
		t.Error("manifest must never be pruned")
	}
}

func TestReconcile_CanceledContext(t *testing.T) {
	m, store := setupReconciliationTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Reconcile(ctx, m, store); err == nil {
		t.Fatal("expected an error for a canceled context")
	}
}
