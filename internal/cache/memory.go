package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a byte-bounded in-process LRU store. Eviction happens on
// write when the budget is exceeded, oldest access first.
type MemoryStore struct {
	mu       sync.Mutex
	order    *list.List // front = most recent
	index    map[string]*list.Element
	size     int
	maxBytes int
	now      func() time.Time
}

// NewMemoryStore bounds the store to maxBytes of cached values.
func NewMemoryStore(maxBytes int) *MemoryStore {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	return &MemoryStore{
		order:    list.New(),
		index:    make(map[string]*list.Element),
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.index[key]
	if !ok {
		return nil, ErrNotFound
	}
	e := el.Value.(*memoryEntry)
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		m.removeLocked(el)
		return nil, ErrNotFound
	}
	m.order.MoveToFront(el)
	return e.value, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	if el, ok := m.index[key]; ok {
		e := el.Value.(*memoryEntry)
		m.size += len(value) - len(e.value)
		e.value = value
		e.expiresAt = expires
		m.order.MoveToFront(el)
	} else {
		el := m.order.PushFront(&memoryEntry{key: key, value: value, expiresAt: expires})
		m.index[key] = el
		m.size += len(value)
	}
	for m.size > m.maxBytes && m.order.Len() > 1 {
		m.removeLocked(m.order.Back())
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.index[key]; ok {
		m.removeLocked(el)
	}
	return nil
}

func (m *MemoryStore) removeLocked(el *list.Element) {
	e := el.Value.(*memoryEntry)
	m.order.Remove(el)
	delete(m.index, e.key)
	m.size -= len(e.value)
}

// Len reports the live entry count, expired entries included until touched.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
