package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPFetcher fetches chunks from a base URL, e.g. a CDN in front of the
// chunk bucket or another datapack serve instance.
type HTTPFetcher struct {
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	maxSize int64
}

// HTTPFetcherOption configures an HTTPFetcher.
type HTTPFetcherOption func(*HTTPFetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithRateLimit caps outbound requests per second. Zero disables the limit.
func WithRateLimit(perSecond float64, burst int) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		if perSecond <= 0 {
			f.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMaxObjectSize rejects responses larger than n bytes.
func WithMaxObjectSize(n int64) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.maxSize = n }
}

// NewHTTPFetcher creates a fetcher rooted at baseURL.
func NewHTTPFetcher(baseURL string, opts ...HTTPFetcherOption) (*HTTPFetcher, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("storage: base url must be http or https, got %q", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	f := &HTTPFetcher{
		base:    u,
		client:  &http.Client{Timeout: 30 * time.Second},
		maxSize: 64 << 20,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch GETs base/name.
func (f *HTTPFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	target := f.base.ResolveReference(&url.URL{Path: name})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, name)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s: status %d", ErrDownloadFailed, name, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrDownloadFailed, name, f.maxSize)
	}
	return data, nil
}

// ContentType picks the stored content type from the chunk suffix.
func ContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(name, ".sz"):
		return "application/x-snappy-framed"
	case strings.HasSuffix(name, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(name, ".lz4"):
		return "application/x-lz4"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
