package cache

import (
	"container/list"
	"context"
	"sync"
)

// memoryBackend keeps entries in a map plus a write-order list. The list
// front is the oldest write; a rewrite moves the key to the back.
type memoryBackend[T any] struct {
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List
}

type memoryItem[T any] struct {
	key string
	e   entry[T]
}

func newMemoryBackend[T any]() *memoryBackend[T] {
	return &memoryBackend[T]{items: make(map[string]*list.Element), order: list.New()}
}

func (m *memoryBackend[T]) load(_ context.Context, key string) (entry[T], bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	elem, ok := m.items[key]
	if !ok {
		return entry[T]{}, false, nil
	}
	return elem.Value.(*memoryItem[T]).e, true, nil
}

func (m *memoryBackend[T]) save(_ context.Context, key string, e entry[T], maxEntries int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		elem.Value.(*memoryItem[T]).e = e
		m.order.MoveToBack(elem)
	} else {
		m.items[key] = m.order.PushBack(&memoryItem[T]{key: key, e: e})
	}

	evicted := 0
	for maxEntries > 0 && m.order.Len() > maxEntries {
		m.removeLocked(m.order.Front())
		evicted++
	}
	return evicted, nil
}

func (m *memoryBackend[T]) drop(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.items[key]; ok {
		m.removeLocked(elem)
	}
	return nil
}

func (m *memoryBackend[T]) dropAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.order.Init()
	return nil
}

func (m *memoryBackend[T]) size(context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *memoryBackend[T]) removeLocked(elem *list.Element) {
	item := m.order.Remove(elem).(*memoryItem[T])
	delete(m.items, item.key)
}

// Memory is the process-lifetime cache tier.
type Memory[T any] struct {
	*core[T]
}

// NewMemory creates a memory cache with the given defaults.
func NewMemory[T any](defaults Options, opts ...Option) *Memory[T] {
	return &Memory[T]{core: newCore[T](defaults, opts, newMemoryBackend[T]())}
}
