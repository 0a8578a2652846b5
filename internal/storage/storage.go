// Package storage provides the chunk store: byte-addressable objects named by
// the naming package, served from the local filesystem, S3-compatible object
// storage, or a plain HTTP base URL.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
	ErrReadOnly       = errors.New("store is read-only")
)

// Fetcher is the whole-object byte fetch primitive the loader consumes.
// A missing object is reported as ErrObjectNotFound.
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, name string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, name string) ([]byte, error) {
	return f(ctx, name)
}

// ChunkStore is a writable chunk store used by the builder and the serve mode.
type ChunkStore interface {
	Fetcher

	// Put stores data under name, replacing any existing object.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error

	// Exists reports whether an object exists.
	Exists(ctx context.Context, name string) (bool, error)

	// List returns all object names under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
