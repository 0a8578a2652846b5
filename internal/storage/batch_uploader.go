package storage

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/neetlogiq/datapack/internal/naming"
)

// UploadItem is one object queued for upload.
type UploadItem struct {
	Name string
	Data []byte
}

// BatchResult contains the outcome of a batch upload.
type BatchResult struct {
	Uploaded []string
	Errors   map[string]error
	Bytes    int64
}

// BatchUploader pushes many objects to a store in parallel.
type BatchUploader struct {
	store       ChunkStore
	concurrency int
}

// NewBatchUploader creates a new batch uploader. concurrency bounds the
// number of in-flight uploads (default 20).
func NewBatchUploader(store ChunkStore, concurrency int) *BatchUploader {
	if concurrency <= 0 {
		concurrency = 20
	}
	return &BatchUploader{store: store, concurrency: concurrency}
}

// Upload stores every item. Per-item failures are collected in the result;
// the returned error is non-nil only when the context ends first.
func (b *BatchUploader) Upload(ctx context.Context, items []UploadItem) (*BatchResult, error) {
	result := &BatchResult{Errors: make(map[string]error)}
	if len(items) == 0 {
		return result, nil
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	var ctxErr error
	for _, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			ctxErr = fmt.Errorf("storage: batch upload interrupted: %w", err)
			break
		}

		wg.Add(1)
		go func(item UploadItem) {
			defer sem.Release(1)
			defer wg.Done()

			err := b.store.Put(ctx, item.Name, item.Data)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[item.Name] = err
				return
			}
			result.Uploaded = append(result.Uploaded, item.Name)
			result.Bytes += int64(len(item.Data))
		}(item)
	}

	wg.Wait()
	return result, ctxErr
}

// Copy re-uploads every object listed under prefix in src to dst. It is how
// a locally built chunk directory is published to a remote bucket. The
// manifest goes last and only when every chunk made it, so readers never see
// a manifest that points at missing chunks.
func Copy(ctx context.Context, src, dst ChunkStore, prefix string, concurrency int) (*BatchResult, error) {
	names, err := src.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var manifest *UploadItem
	items := make([]UploadItem, 0, len(names))
	for _, name := range names {
		data, err := src.Fetch(ctx, name)
		if err != nil {
			return nil, err
		}
		if name == naming.ManifestName {
			manifest = &UploadItem{Name: name, Data: data}
			continue
		}
		items = append(items, UploadItem{Name: name, Data: data})
	}

	result, err := NewBatchUploader(dst, concurrency).Upload(ctx, items)
	if err != nil || manifest == nil || len(result.Errors) > 0 {
		return result, err
	}
	if err := dst.Put(ctx, manifest.Name, manifest.Data); err != nil {
		result.Errors[manifest.Name] = err
		return result, nil
	}
	result.Uploaded = append(result.Uploaded, manifest.Name)
	result.Bytes += int64(len(manifest.Data))
	return result, nil
}
