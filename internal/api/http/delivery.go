package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	dperrors "github.com/neetlogiq/datapack/internal/errors"
	"github.com/neetlogiq/datapack/internal/loader"
	"github.com/neetlogiq/datapack/internal/manifest"
	"github.com/neetlogiq/datapack/internal/naming"
	"github.com/neetlogiq/datapack/internal/storage"
	"github.com/neetlogiq/datapack/pkg/types"
)

// Record wraps a domain record with its kind.
type Record struct {
	Kind types.RecordKind `json:"kind"`
	Data types.Record     `json:"data"`
}

// Failure describes a chunk missing from a records response.
type Failure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
}

// RecordsResponse is the body of the records and filter endpoints.
type RecordsResponse struct {
	Category  types.Category `json:"category"`
	State     loader.State   `json:"state"`
	Chunks    int            `json:"chunks"`
	Count     int            `json:"count"`
	Records   []Record       `json:"records"`
	Failures  []Failure      `json:"failures,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status          string `json:"status"`
	ManifestVersion string `json:"manifest_version,omitempty"`
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithGatherer serves g on /metrics. Without it /metrics is not routed.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) { h.gatherer = g }
}

// Handler serves the delivery API:
//
//	GET /v1/manifest
//	GET /v1/chunks/{name}
//	GET /v1/categories/{category}/records?class=immediate|on-demand|all&year=N
//	GET /v1/categories/{category}/filters?sub_category=&quota=&boundary=
//	GET /health
//	GET /metrics
type Handler struct {
	loader   *loader.Loader
	chunks   storage.Fetcher
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	handler  http.Handler
}

// NewHandler serves records through ld and raw chunk bytes from chunks.
func NewHandler(ld *loader.Loader, chunks storage.Fetcher, opts ...Option) *Handler {
	h := &Handler{loader: ld, chunks: chunks, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/manifest", h.serveManifest)
	mux.HandleFunc("GET /v1/chunks/{name}", h.serveChunk)
	mux.HandleFunc("GET /v1/categories/{category}/records", h.serveRecords)
	mux.HandleFunc("GET /v1/categories/{category}/filters", h.serveFilter)
	mux.HandleFunc("GET /health", h.serveHealth)
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	h.handler = DefaultMiddleware(h.logger)(mux)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) serveManifest(w http.ResponseWriter, r *http.Request) {
	m, err := h.loader.Initialize(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	etag := strconv.Quote(m.Version)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) serveChunk(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	name := r.PathValue("name")

	m, err := h.loader.Initialize(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	checksum, listed := listedChunk(m, name)
	if !listed {
		writeError(w, http.StatusNotFound, "unknown chunk: "+name, dperrors.CodeObjectNotFound, requestID)
		return
	}

	var etag string
	if checksum != "" {
		etag = strconv.Quote(checksum)
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	data, err := h.chunks.Fetch(r.Context(), name)
	if errors.Is(err, storage.ErrObjectNotFound) {
		writeError(w, http.StatusNotFound, "chunk missing from store: "+name, dperrors.CodeObjectNotFound, requestID)
		return
	}
	if err != nil {
		h.logger.Warn("http: chunk fetch failed", zap.String("filename", name), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error(), dperrors.CodeDownloadFailed, requestID)
		return
	}

	w.Header().Set("Content-Type", storage.ContentType(name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// listedChunk reports whether name is a partition or precomputed filter of
// m, and its checksum.
func listedChunk(m *manifest.Manifest, name string) (string, bool) {
	if d, ok := m.Lookup(name); ok {
		return d.Checksum, true
	}
	for _, f := range m.Precomputed {
		if f.Filename == name {
			return f.Checksum, true
		}
	}
	return "", false
}

func (h *Handler) serveRecords(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	cat, err := types.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "", requestID)
		return
	}

	q := r.URL.Query()
	var res *loader.Result
	if y := q.Get("year"); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid year: "+y, "", requestID)
			return
		}
		res, err = h.loader.LoadYear(r.Context(), cat, year)
		if err != nil {
			h.fail(w, r, err)
			return
		}
	} else {
		switch class := q.Get("class"); class {
		case "", string(types.PriorityImmediate):
			res, err = h.loader.LoadImmediate(r.Context(), cat)
		case string(types.PriorityOnDemand):
			res, err = h.loader.LoadOnDemand(r.Context(), cat)
		case "all":
			res, err = h.loader.LoadAll(r.Context(), cat)
		default:
			writeError(w, http.StatusBadRequest, "invalid class: "+class, "", requestID)
			return
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, newRecordsResponse(res, requestID))
}

func (h *Handler) serveFilter(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	cat, err := types.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "", requestID)
		return
	}

	q := r.URL.Query()
	key := naming.FilterKey{SubCategory: q.Get("sub_category"), Quota: q.Get("quota")}
	if b := q.Get("boundary"); b != "" {
		if key.Boundary, err = strconv.Atoi(b); err != nil {
			writeError(w, http.StatusBadRequest, "invalid boundary: "+b, "", requestID)
			return
		}
	}

	records, found, err := h.loader.LoadPrecomputedFilter(r.Context(), cat, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no precomputed filter "+key.String(), dperrors.CodeObjectNotFound, requestID)
		return
	}
	writeJSON(w, http.StatusOK, newRecordsResponse(&loader.Result{Category: cat, Records: records, Chunks: 1}, requestID))
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if m := h.loader.Manifest(); m != nil {
		resp.ManifestVersion = m.Version
	}
	writeJSON(w, http.StatusOK, resp)
}

func newRecordsResponse(res *loader.Result, requestID string) RecordsResponse {
	resp := RecordsResponse{
		Category:  res.Category,
		State:     res.State(),
		Chunks:    res.Chunks,
		Count:     len(res.Records),
		Records:   make([]Record, len(res.Records)),
		RequestID: requestID,
	}
	for i, rec := range res.Records {
		resp.Records[i] = Record{Kind: rec.Kind(), Data: rec}
	}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, Failure{Filename: f.Filename, Error: f.Err.Error(), Code: dperrors.GetCode(f.Err)})
	}
	return resp
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrUnknownCategory):
		status = http.StatusBadRequest
	case dperrors.HasCode(err, dperrors.CodeManifestUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		h.logger.Warn("http: request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error(), dperrors.GetCode(err), GetRequestID(r.Context()))
}
