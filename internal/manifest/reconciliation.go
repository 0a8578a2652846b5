package manifest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/neetlogiq/datapack/internal/naming"
	"github.com/neetlogiq/datapack/internal/storage"
)

// ReconciliationReport contains the results of a manifest-storage reconciliation.
type ReconciliationReport struct {
	// Version is the manifest version that was checked.
	Version string
	// Dangling are chunk files the manifest lists but the store does not hold.
	Dangling []string
	// Orphaned are stored objects no longer referenced by the manifest,
	// typically chunks of an earlier build with a different layout.
	Orphaned []string
	// Listed is the number of chunk files the manifest references.
	Listed int
	// Stored is the number of objects scanned in the store.
	Stored int
	RunAt  time.Time
}

// HasIssues returns true if the report contains any dangling or orphaned chunks.
func (r *ReconciliationReport) HasIssues() bool {
	return len(r.Dangling) > 0 || len(r.Orphaned) > 0
}

// Files returns every filename the manifest expects to find in the store.
// Infeasible partitions were never written and are skipped.
func (m *Manifest) Files() []string {
	files := make([]string, 0, len(m.Partitions)+len(m.Precomputed))
	for _, p := range m.Partitions {
		if p.Feasible {
			files = append(files, p.Filename)
		}
	}
	for _, f := range m.Precomputed {
		files = append(files, f.Filename)
	}
	return files
}

// Reconcile checks a published manifest against the store it was published to.
// manifest.json itself is never reported as orphaned.
func Reconcile(ctx context.Context, m *Manifest, store storage.ChunkStore) (*ReconciliationReport, error) {
	report := &ReconciliationReport{
		Version: m.Version,
		RunAt:   time.Now(),
	}

	files := m.Files()
	report.Listed = len(files)
	listed := make(map[string]struct{}, len(files))
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		listed[name] = struct{}{}
		exists, err := store.Exists(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("reconciliation: check %s: %w", name, err)
		}
		if !exists {
			report.Dangling = append(report.Dangling, name)
		}
	}

	objects, err := store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("reconciliation: list store: %w", err)
	}
	report.Stored = len(objects)
	for _, name := range objects {
		if name == naming.ManifestName {
			continue
		}
		if _, ok := listed[name]; !ok {
			report.Orphaned = append(report.Orphaned, name)
		}
	}
	sort.Strings(report.Dangling)
	sort.Strings(report.Orphaned)
	return report, nil
}

// Prune deletes the orphaned objects of a report and returns how many were
// removed.
func Prune(ctx context.Context, report *ReconciliationReport, store storage.ChunkStore) (int, error) {
	removed := 0
	for _, name := range report.Orphaned {
		if err := store.Delete(ctx, name); err != nil {
			return removed, fmt.Errorf("reconciliation: delete %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}
