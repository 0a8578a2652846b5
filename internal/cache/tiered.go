package cache

import (
	"github.com/neetlogiq/datapack/internal/kv"
)

// Tiered composes the memory tier in front of the persistent tier. Reads
// try memory, then the persistent store, then the fetcher. Fetched values
// are written through to both tiers; persistent hits are promoted into
// memory with their original expiry.
type Tiered[T any] struct {
	*core[T]
}

// NewTiered creates a tiered cache. A nil store yields a memory-only cache
// with the same contract.
func NewTiered[T any](store kv.Store, prefix string, ser Serializer[T], defaults Options, opts ...Option) *Tiered[T] {
	backends := []backend[T]{newMemoryBackend[T]()}
	if store != nil {
		backends = append(backends, newPersistentBackend(store, prefix, ser))
	}
	return &Tiered[T]{core: newCore[T](defaults, opts, backends...)}
}

var (
	_ Cache[int] = (*Memory[int])(nil)
	_ Cache[int] = (*Persistent[int])(nil)
	_ Cache[int] = (*Tiered[int])(nil)
)
