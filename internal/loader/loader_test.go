package loader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/neetlogiq/datapack/internal/cache"
	"github.com/neetlogiq/datapack/internal/category"
	dperrors "github.com/neetlogiq/datapack/internal/errors"
	"github.com/neetlogiq/datapack/internal/kv"
	"github.com/neetlogiq/datapack/internal/manifest"
	"github.com/neetlogiq/datapack/internal/naming"
	"github.com/neetlogiq/datapack/internal/partition"
	"github.com/neetlogiq/datapack/internal/storage"
	"github.com/neetlogiq/datapack/internal/wire"
	"github.com/neetlogiq/datapack/pkg/types"
)

// recordingFetcher logs every fetch and can fail or delay chosen objects.
type recordingFetcher struct {
	inner storage.Fetcher
	delay time.Duration

	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *recordingFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	err := r.fail[name]
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if err != nil {
		return nil, err
	}
	return r.inner.Fetch(ctx, name)
}

func (r *recordingFetcher) failOn(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail == nil {
		r.fail = make(map[string]error)
	}
	if err == nil {
		delete(r.fail, name)
		return
	}
	r.fail[name] = err
}

func (r *recordingFetcher) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (r *recordingFetcher) trace() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

var testFilter = naming.FilterKey{SubCategory: "MEDICAL", Quota: "AIQ", Boundary: 1010}

const (
	collegesUG     = "colleges-ug.json.gz"
	ug2024Imm      = "cutoffs-ug-2024-rounds_1_2.json.gz"
	ug2024OnDemand = "cutoffs-ug-2024-rounds_3_4.json.gz"
	ug2023Imm      = "cutoffs-ug-2023-rounds_1_2.json.gz"
	ug2023OnDemand = "cutoffs-ug-2023-rounds_3_4.json.gz"
	filterFile     = "cutoffs-ug-medical-aiq-1010.json.gz"
)

type fixture struct {
	store    *storage.LocalStorage
	src      *partition.SliceSource
	manifest *manifest.Manifest
}

func cutoffs(year, rounds int) []types.Record {
	var out []types.Record
	for r := 1; r <= rounds; r++ {
		for i := 0; i < 3; i++ {
			out = append(out, types.CutoffRecord{
				ID:           fmt.Sprintf("k-%d-%d-%d", year, r, i),
				CollegeID:    "c1",
				CourseID:     "mbbs",
				Stream:       "MEDICAL",
				Level:        types.LevelUG,
				Year:         year,
				Round:        r,
				Quota:        "AIQ",
				SeatCategory: "GEN",
				OpeningRank:  1,
				ClosingRank:  1000 + i*10,
			})
		}
	}
	return out
}

// newFixture publishes colleges plus four rounds of UG cutoffs for 2024 and
// 2023, and one precomputed filter.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	records := []types.Record{types.College{ID: "c1", Name: "Alpha Medical College", State: "KA", Stream: "MEDICAL"}}
	records = append(records, cutoffs(2024, 4)...)
	records = append(records, cutoffs(2023, 4)...)
	src := partition.NewSliceSource(records, category.Default())

	planner, err := partition.NewPlanner(partition.DefaultPlannerConfig())
	require.NoError(t, err)
	planned, err := planner.Plan(src.Stats(nil))
	require.NoError(t, err)

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	spec := partition.FilterSpec{Kind: types.KindCutoff, Category: types.CategoryUG, FilterKey: testFilter}
	built, err := partition.NewBuilder(store, partition.BuilderConfig{Filters: []partition.FilterSpec{spec}}).Build(ctx, planned, src)
	require.NoError(t, err)

	return &fixture{store: store, src: src, manifest: built}
}

func (f *fixture) loader(t *testing.T, chunks cache.Cache[wire.Chunk]) (*Loader, *recordingFetcher) {
	t.Helper()
	fetcher := &recordingFetcher{inner: f.store}
	return New(fetcher, chunks, Config{}, WithLogger(zaptest.NewLogger(t))), fetcher
}

// want returns the records of the named chunks, in the given order.
func (f *fixture) want(t *testing.T, names ...string) []string {
	t.Helper()
	var ids []string
	for _, name := range names {
		d, ok := f.manifest.Lookup(name)
		require.True(t, ok, name)
		recs, err := f.src.Records(context.Background(), partition.Query{Kind: d.RecordKind, Category: d.Category, Year: d.Year, Rounds: d.Rounds})
		require.NoError(t, err)
		for _, r := range recs {
			ids = append(ids, r.RecordID())
		}
	}
	return ids
}

func ids(records []types.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.RecordID()
	}
	return out
}

func TestFixtureLayout(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, []string{collegesUG, ug2024Imm, ug2023Imm}, f.manifest.Categories[types.CategoryUG].Immediate)
	require.Equal(t, []string{ug2024OnDemand, ug2023OnDemand}, f.manifest.Categories[types.CategoryUG].OnDemand)
}

func TestLoader_InitializeOnce(t *testing.T) {
	f := newFixture(t)
	l, fetcher := f.loader(t, nil)
	fetcher.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]*manifest.Manifest, 10)
	errs := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = l.Initialize(context.Background())
		}()
	}
	wg.Wait()

	for i, m := range results {
		require.NoError(t, errs[i])
		require.Same(t, results[0], m)
	}
	_, err := l.Initialize(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.count(naming.ManifestName))
	require.Equal(t, f.manifest.Version, l.Manifest().Version)
}

func TestLoader_InitializeFailureNotMemoized(t *testing.T) {
	f := newFixture(t)
	l, fetcher := f.loader(t, nil)

	fetcher.failOn(naming.ManifestName, errors.New("network down"))
	_, err := l.Initialize(context.Background())
	require.True(t, dperrors.HasCode(err, dperrors.CodeManifestUnavailable), "got %v", err)
	require.True(t, dperrors.IsRetryable(err))
	require.Nil(t, l.Manifest())

	_, err = l.LoadImmediate(context.Background(), types.CategoryUG)
	require.True(t, dperrors.HasCode(err, dperrors.CodeManifestUnavailable))

	fetcher.failOn(naming.ManifestName, nil)
	m, err := l.Initialize(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, 3, fetcher.count(naming.ManifestName))
}

func TestLoader_RejectsUnsupportedMajorVersion(t *testing.T) {
	f := newFixture(t)
	future := f.manifest.Clone()
	future.Version = "2.0.0"
	data, err := manifest.Marshal(future)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(context.Background(), naming.ManifestName, data))

	l, _ := f.loader(t, nil)
	_, err = l.Initialize(context.Background())
	require.True(t, dperrors.HasCode(err, dperrors.CodeManifestUnavailable))
	require.True(t, dperrors.HasCode(err, dperrors.CodeUnsupportedVersion))
}

func TestLoader_LoadImmediateFileOrder(t *testing.T) {
	f := newFixture(t)
	l, _ := f.loader(t, nil)

	res, err := l.LoadImmediate(context.Background(), types.CategoryUG)
	require.NoError(t, err)
	require.Equal(t, StateLoaded, res.State())
	require.NoError(t, res.Err())
	require.Equal(t, 3, res.Chunks)
	if diff := cmp.Diff(f.want(t, collegesUG, ug2024Imm, ug2023Imm), ids(res.Records)); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
}

func TestLoader_CacheAvoidsRefetch(t *testing.T) {
	f := newFixture(t)
	l, fetcher := f.loader(t, nil)
	ctx := context.Background()

	first, err := l.LoadImmediate(ctx, types.CategoryUG)
	require.NoError(t, err)
	second, err := l.LoadImmediate(ctx, types.CategoryUG)
	require.NoError(t, err)
	require.Equal(t, ids(first.Records), ids(second.Records))

	for _, name := range []string{collegesUG, ug2024Imm, ug2023Imm} {
		require.Equal(t, 1, fetcher.count(name), name)
	}
}

func TestLoader_OnDemandWaitsForImmediate(t *testing.T) {
	f := newFixture(t)
	l, fetcher := f.loader(t, nil)

	res, err := l.LoadOnDemand(context.Background(), types.CategoryUG)
	require.NoError(t, err)
	if diff := cmp.Diff(f.want(t, ug2024OnDemand, ug2023OnDemand), ids(res.Records)); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}

	trace := fetcher.trace()
	require.Equal(t, naming.ManifestName, trace[0])
	lastImmediate, firstOnDemand := -1, len(trace)
	for i, name := range trace {
		switch name {
		case collegesUG, ug2024Imm, ug2023Imm:
			lastImmediate = max(lastImmediate, i)
		case ug2024OnDemand, ug2023OnDemand:
			firstOnDemand = min(firstOnDemand, i)
		}
	}
	require.Less(t, lastImmediate, firstOnDemand, "trace %v", trace)
	require.Len(t, trace, 6)
}

func TestLoader_ChunkFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("partial", func(t *testing.T) {
		l, fetcher := f.loader(t, nil)
		fetcher.failOn(ug2024Imm, errors.New("timeout"))

		res, err := l.LoadImmediate(ctx, types.CategoryUG)
		require.NoError(t, err)
		require.Equal(t, StatePartial, res.State())
		require.Len(t, res.Failures, 1)
		require.Equal(t, ug2024Imm, res.Failures[0].Filename)
		require.True(t, dperrors.HasCode(res.Failures[0].Err, dperrors.CodeChunkFetchFailed))
		require.Error(t, res.Err())
		require.Equal(t, f.want(t, collegesUG, ug2023Imm), ids(res.Records))
	})

	t.Run("unavailable", func(t *testing.T) {
		l, fetcher := f.loader(t, nil)
		fetcher.failOn("colleges-pg_medical.json.gz", errors.New("timeout"))

		res, err := l.LoadImmediate(ctx, types.CategoryPGMedical)
		require.NoError(t, err)
		require.Equal(t, StateUnavailable, res.State())
		require.Empty(t, res.Records)
	})

	t.Run("no match", func(t *testing.T) {
		l, _ := f.loader(t, nil)
		res, err := l.LoadImmediate(ctx, types.CategoryPGDental)
		require.NoError(t, err)
		require.Equal(t, StateNoMatch, res.State())
		require.Zero(t, res.Chunks)
	})

	t.Run("unknown category", func(t *testing.T) {
		l, _ := f.loader(t, nil)
		_, err := l.LoadOnDemand(ctx, types.Category("NURSING"))
		require.ErrorIs(t, err, types.ErrUnknownCategory)
	})
}

func TestLoader_ChecksumMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Swap in a valid chunk with different content.
	other, err := f.store.Fetch(ctx, ug2023Imm)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(ctx, ug2024Imm, other))

	l, _ := f.loader(t, nil)
	res, err := l.LoadImmediate(ctx, types.CategoryUG)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	require.True(t, dperrors.HasCode(res.Failures[0].Err, dperrors.CodeChecksumMismatch), "got %v", res.Failures[0].Err)
}

func TestLoader_LoadPrecomputedFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("listed", func(t *testing.T) {
		l, _ := f.loader(t, nil)
		records, ok, err := l.LoadPrecomputedFilter(ctx, types.CategoryUG, testFilter)
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, records, 16)
		for _, r := range records {
			require.LessOrEqual(t, r.(types.CutoffRecord).ClosingRank, 1010)
		}
	})

	t.Run("not listed", func(t *testing.T) {
		l, fetcher := f.loader(t, nil)
		records, ok, err := l.LoadPrecomputedFilter(ctx, types.CategoryUG, naming.FilterKey{SubCategory: "DENTAL", Quota: "AIQ", Boundary: 1010})
		require.NoError(t, err)
		require.False(t, ok)
		require.Nil(t, records)
		require.Equal(t, []string{naming.ManifestName}, fetcher.trace())
	})

	t.Run("listed but missing", func(t *testing.T) {
		require.NoError(t, f.store.Delete(ctx, filterFile))
		l, _ := f.loader(t, nil)
		records, ok, err := l.LoadPrecomputedFilter(ctx, types.CategoryUG, testFilter)
		require.NoError(t, err)
		require.False(t, ok)
		require.Nil(t, records)
	})
}

func TestLoader_LoadAllYears(t *testing.T) {
	f := newFixture(t)
	l, fetcher := f.loader(t, nil)
	ctx := context.Background()

	var years []int
	for batch, err := range l.LoadAllYears(ctx, types.CategoryUG) {
		require.NoError(t, err)
		years = append(years, batch.Year)
		require.Equal(t, f.want(t, ug2024Imm, ug2024OnDemand), ids(batch.Result.Records))
		break
	}
	require.Equal(t, []int{2024}, years)
	require.Zero(t, fetcher.count(ug2023OnDemand), "stopping the range must stop fetching")

	years = nil
	for batch, err := range l.LoadAllYears(ctx, types.CategoryUG) {
		require.NoError(t, err)
		require.Equal(t, StateLoaded, batch.Result.State())
		years = append(years, batch.Year)
	}
	require.Equal(t, []int{2024, 2023}, years)
	require.Equal(t, 1, fetcher.count(ug2023Imm))
	require.Equal(t, 1, fetcher.count(ug2023OnDemand))
}

func TestLoader_LoadAll(t *testing.T) {
	f := newFixture(t)
	l, _ := f.loader(t, nil)

	res, err := l.LoadAll(context.Background(), types.CategoryUG)
	require.NoError(t, err)
	require.Equal(t, 5, res.Chunks)
	want := f.want(t, collegesUG, ug2024Imm, ug2023Imm, ug2024OnDemand, ug2023OnDemand)
	if diff := cmp.Diff(want, ids(res.Records)); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
}

func TestLoader_LoadYear(t *testing.T) {
	f := newFixture(t)
	l, fetcher := f.loader(t, nil)
	ctx := context.Background()

	res, err := l.LoadYear(ctx, types.CategoryUG, 2023)
	require.NoError(t, err)
	require.Equal(t, f.want(t, ug2023Imm, ug2023OnDemand), ids(res.Records))
	require.Zero(t, fetcher.count(ug2024OnDemand))

	res, err = l.LoadYear(ctx, types.CategoryUG, 1999)
	require.NoError(t, err)
	require.Equal(t, StateNoMatch, res.State())
}

func TestLoader_LoadAllYearsCancelled(t *testing.T) {
	f := newFixture(t)
	l, _ := f.loader(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var errs []error
	for _, err := range l.LoadAllYears(ctx, types.CategoryUG) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	require.Error(t, errs[0])
}

func TestLoader_PersistentTierSharedAcrossLoaders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := kv.NewMemoryStore()

	newTier := func() cache.Cache[wire.Chunk] {
		return cache.NewTiered[wire.Chunk](store, cache.DefaultPrefix, wire.ChunkSerializer{}, cache.Options{})
	}

	first, _ := f.loader(t, newTier())
	want, err := first.LoadImmediate(ctx, types.CategoryUG)
	require.NoError(t, err)

	second, fetcher := f.loader(t, newTier())
	got, err := second.LoadImmediate(ctx, types.CategoryUG)
	require.NoError(t, err)

	require.Equal(t, []string{naming.ManifestName}, fetcher.trace())
	if diff := cmp.Diff(want.Records, got.Records); diff != "" {
		t.Errorf("records (-first +second):\n%s", diff)
	}
}

func TestLoader_Filter(t *testing.T) {
	f := newFixture(t)
	l, _ := f.loader(t, nil)

	res, err := l.LoadImmediate(context.Background(), types.CategoryUG)
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, ids(l.Filter(res.Records, types.CategoryPGMedical)))
	require.Len(t, l.Filter(res.Records, types.CategoryUG), len(res.Records))
}

func TestResult_State(t *testing.T) {
	rec := []types.Record{types.College{ID: "c1"}}
	fail := []ChunkFailure{{Filename: "x.json.gz", Err: errors.New("boom")}}

	tests := []struct {
		name string
		res  Result
		want State
	}{
		{"loaded", Result{Records: rec}, StateLoaded},
		{"partial", Result{Records: rec, Failures: fail}, StatePartial},
		{"unavailable", Result{Failures: fail}, StateUnavailable},
		{"no match", Result{}, StateNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.State(); got != tt.want {
				t.Errorf("State() = %q, want %q", got, tt.want)
			}
		})
	}

	r := Result{Failures: fail}
	require.ErrorContains(t, r.Err(), "x.json.gz: boom")
}
