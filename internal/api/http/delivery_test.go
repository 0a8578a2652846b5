package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/neetlogiq/datapack/internal/category"
	dperrors "github.com/neetlogiq/datapack/internal/errors"
	"github.com/neetlogiq/datapack/internal/loader"
	"github.com/neetlogiq/datapack/internal/manifest"
	"github.com/neetlogiq/datapack/internal/naming"
	"github.com/neetlogiq/datapack/internal/partition"
	"github.com/neetlogiq/datapack/internal/storage"
	"github.com/neetlogiq/datapack/pkg/types"
)

func publish(t *testing.T) (*storage.LocalStorage, *manifest.Manifest) {
	t.Helper()
	records := []types.Record{
		types.College{ID: "c1", Name: "Alpha Dental College", State: "TN", Stream: "DENTAL"},
		types.Course{ID: "bds", Name: "BDS", Stream: "DENTAL", Level: types.LevelUG, DurationYears: 5},
	}
	for _, year := range []int{2024, 2023} {
		for round := 1; round <= 3; round++ {
			for i := 0; i < 2; i++ {
				records = append(records, types.CutoffRecord{
					ID:          fmt.Sprintf("k-%d-%d-%d", year, round, i),
					CollegeID:   "c1",
					CourseID:    "bds",
					Stream:      "DENTAL",
					Level:       types.LevelUG,
					Year:        year,
					Round:       round,
					Quota:       "STATE",
					ClosingRank: 5000 + i*1000,
				})
			}
		}
	}
	src := partition.NewSliceSource(records, category.Default())
	planner, err := partition.NewPlanner(partition.DefaultPlannerConfig())
	require.NoError(t, err)
	planned, err := planner.Plan(src.Stats(nil))
	require.NoError(t, err)

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	filters := []partition.FilterSpec{{
		Kind:      types.KindCutoff,
		Category:  types.CategoryUG,
		FilterKey: naming.FilterKey{SubCategory: "DENTAL", Quota: "STATE", Boundary: 5000},
	}}
	built, err := partition.NewBuilder(store, partition.BuilderConfig{Filters: filters}).Build(context.Background(), planned, src)
	require.NoError(t, err)
	return store, built
}

func newTestHandler(t *testing.T, store storage.Fetcher) *Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ld := loader.New(store, nil, loader.Config{}, loader.WithLogger(logger))
	reg := prometheus.NewRegistry()
	reg.MustRegister(ld.Metrics().Collectors()...)
	return NewHandler(ld, store, WithLogger(logger), WithGatherer(reg))
}

func get(t *testing.T, h http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// recordsBody decodes a records response; record payloads stay raw.
type recordsBody struct {
	Category types.Category `json:"category"`
	State    loader.State   `json:"state"`
	Chunks   int            `json:"chunks"`
	Count    int            `json:"count"`
	Records  []struct {
		Kind types.RecordKind `json:"kind"`
		Data json.RawMessage  `json:"data"`
	} `json:"records"`
}

func decodeRecords(t *testing.T, rec *httptest.ResponseRecorder) recordsBody {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body recordsBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestManifestEndpoint(t *testing.T) {
	store, built := publish(t)
	h := newTestHandler(t, store)

	rec := get(t, h, "/v1/manifest", "X-Request-ID", "req-1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	var m manifest.Manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	require.Equal(t, built.Version, m.Version)
	require.Len(t, m.Partitions, len(built.Partitions))

	rec = get(t, h, "/v1/manifest", "If-None-Match", rec.Header().Get("ETag"))
	require.Equal(t, http.StatusNotModified, rec.Code)
}

func TestManifestEndpoint_Unavailable(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	h := newTestHandler(t, store)

	rec := get(t, h, "/v1/manifest")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, dperrors.CodeManifestUnavailable, body.Code)
	require.NotEmpty(t, body.RequestID)
}

func TestChunkEndpoint(t *testing.T) {
	store, built := publish(t)
	h := newTestHandler(t, store)
	name := built.Categories[types.CategoryUG].Immediate[0]

	rec := get(t, h, "/v1/chunks/"+name)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	want, err := store.Fetch(context.Background(), name)
	require.NoError(t, err)
	require.Equal(t, want, rec.Body.Bytes())

	rec = get(t, h, "/v1/chunks/"+name, "If-None-Match", rec.Header().Get("ETag"))
	require.Equal(t, http.StatusNotModified, rec.Code)

	rec = get(t, h, "/v1/chunks/cutoffs-ug-1999-rounds_1_1.json.gz")
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Listed but deleted from the store.
	require.NoError(t, store.Delete(context.Background(), name))
	rec = get(t, h, "/v1/chunks/"+name)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordsEndpoint(t *testing.T) {
	store, _ := publish(t)
	h := newTestHandler(t, store)

	tests := []struct {
		target    string
		wantState loader.State
		wantCount int
	}{
		// college + course + rounds 1-2 of two years
		{"/v1/categories/UG/records", loader.StateLoaded, 10},
		{"/v1/categories/ug/records?class=on-demand", loader.StateLoaded, 4},
		{"/v1/categories/UG/records?class=all", loader.StateLoaded, 14},
		{"/v1/categories/UG/records?year=2023", loader.StateLoaded, 6},
		{"/v1/categories/UG/records?year=1999", loader.StateNoMatch, 0},
		{"/v1/categories/PG_MEDICAL/records", loader.StateNoMatch, 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			body := decodeRecords(t, get(t, h, tt.target))
			require.Equal(t, tt.wantState, body.State)
			require.Equal(t, tt.wantCount, body.Count)
			require.Len(t, body.Records, tt.wantCount)
		})
	}

	body := decodeRecords(t, get(t, h, "/v1/categories/UG/records"))
	require.Equal(t, types.KindCollege, body.Records[0].Kind)
	var college types.College
	require.NoError(t, json.Unmarshal(body.Records[0].Data, &college))
	require.Equal(t, "Alpha Dental College", college.Name)
}

func TestRecordsEndpoint_BadRequests(t *testing.T) {
	store, _ := publish(t)
	h := newTestHandler(t, store)

	for _, target := range []string{
		"/v1/categories/NURSING/records",
		"/v1/categories/UG/records?class=someday",
		"/v1/categories/UG/records?year=last",
		"/v1/categories/UG/filters?boundary=high",
	} {
		rec := get(t, h, target)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestFilterEndpoint(t *testing.T) {
	store, _ := publish(t)
	h := newTestHandler(t, store)

	body := decodeRecords(t, get(t, h, "/v1/categories/UG/filters?sub_category=DENTAL&quota=STATE&boundary=5000"))
	require.Equal(t, 6, body.Count, "one record per round for each year")

	rec := get(t, h, "/v1/categories/UG/filters?sub_category=DENTAL&quota=AIQ&boundary=5000")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	store, built := publish(t)
	h := newTestHandler(t, store)

	rec := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	decodeRecords(t, get(t, h, "/v1/categories/UG/records"))

	var health HealthResponse
	require.NoError(t, json.Unmarshal(get(t, h, "/health").Body.Bytes(), &health))
	require.Equal(t, built.Version, health.ManifestVersion)

	rec = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "datapack_loader_chunks_total"), rec.Body.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	h := DefaultMiddleware(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := get(t, h, "/anything")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
