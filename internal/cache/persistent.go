package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/neetlogiq/datapack/internal/kv"
)

// Serializer converts cached values to and from JSON bytes. The persistent
// tier embeds its output verbatim under "data".
type Serializer[T any] interface {
	Marshal(T) ([]byte, error)
	Unmarshal([]byte) (T, error)
}

// JSONSerializer serializes with encoding/json.
type JSONSerializer[T any] struct{}

func (JSONSerializer[T]) Marshal(v T) ([]byte, error) { return json.Marshal(v) }

func (JSONSerializer[T]) Unmarshal(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// envelope is the stored form of one entry.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	WrittenAt time.Time       `json:"writtenAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// persistentBackend stores entries in a kv.Store under a fixed prefix so
// that an external process can clear the whole namespace.
type persistentBackend[T any] struct {
	store  kv.Store
	prefix string
	ser    Serializer[T]
}

func (p *persistentBackend[T]) load(ctx context.Context, key string) (entry[T], bool, error) {
	raw, err := p.store.Get(ctx, p.prefix+key)
	if errors.Is(err, kv.ErrNotFound) {
		return entry[T]{}, false, nil
	}
	if err != nil {
		return entry[T]{}, false, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.store.Delete(ctx, p.prefix+key)
		return entry[T]{}, false, fmt.Errorf("cache: corrupt entry %s dropped: %w", key, err)
	}
	data, err := p.ser.Unmarshal(env.Data)
	if err != nil {
		p.store.Delete(ctx, p.prefix+key)
		return entry[T]{}, false, fmt.Errorf("cache: undecodable entry %s dropped: %w", key, err)
	}
	return entry[T]{data: data, writtenAt: env.WrittenAt, expiresAt: env.ExpiresAt}, true, nil
}

func (p *persistentBackend[T]) save(ctx context.Context, key string, e entry[T], maxEntries int) (int, error) {
	data, err := p.ser.Marshal(e.data)
	if err != nil {
		return 0, fmt.Errorf("cache: serialize %s: %w", key, err)
	}
	raw, err := json.Marshal(envelope{Data: data, WrittenAt: e.writtenAt, ExpiresAt: e.expiresAt})
	if err != nil {
		return 0, fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := p.store.Put(ctx, p.prefix+key, raw); err != nil {
		return 0, err
	}
	if maxEntries <= 0 {
		return 0, nil
	}
	return p.evict(ctx, maxEntries)
}

// evict removes the oldest-written entries until at most maxEntries remain.
func (p *persistentBackend[T]) evict(ctx context.Context, maxEntries int) (int, error) {
	keys, err := p.store.Keys(ctx, p.prefix)
	if err != nil || len(keys) <= maxEntries {
		return 0, err
	}

	type stamped struct {
		key       string
		writtenAt time.Time
	}
	all := make([]stamped, 0, len(keys))
	for _, k := range keys {
		raw, err := p.store.Get(ctx, k)
		if err != nil {
			continue
		}
		var env struct {
			WrittenAt time.Time `json:"writtenAt"`
		}
		// Unreadable envelopes sort first and go out with the oldest.
		_ = json.Unmarshal(raw, &env)
		all = append(all, stamped{key: k, writtenAt: env.WrittenAt})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].writtenAt.Equal(all[j].writtenAt) {
			return all[i].key < all[j].key
		}
		return all[i].writtenAt.Before(all[j].writtenAt)
	})

	evicted := 0
	for _, s := range all[:max(0, len(all)-maxEntries)] {
		if err := p.store.Delete(ctx, s.key); err != nil {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}

func (p *persistentBackend[T]) drop(ctx context.Context, key string) error {
	return p.store.Delete(ctx, p.prefix+key)
}

func (p *persistentBackend[T]) dropAll(ctx context.Context) error {
	_, err := p.store.DeletePrefix(ctx, p.prefix)
	return err
}

func (p *persistentBackend[T]) size(ctx context.Context) int {
	keys, err := p.store.Keys(ctx, p.prefix)
	if err != nil {
		return 0
	}
	return len(keys)
}

// Persistent is the cache tier that survives process restarts.
type Persistent[T any] struct {
	*core[T]
}

// NewPersistent creates a persistent cache over store. An empty prefix
// selects DefaultPrefix.
func NewPersistent[T any](store kv.Store, prefix string, ser Serializer[T], defaults Options, opts ...Option) *Persistent[T] {
	return &Persistent[T]{core: newCore[T](defaults, opts, newPersistentBackend(store, prefix, ser))}
}

func newPersistentBackend[T any](store kv.Store, prefix string, ser Serializer[T]) *persistentBackend[T] {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &persistentBackend[T]{store: store, prefix: prefix, ser: ser}
}
