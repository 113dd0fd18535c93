package cache

import (
	"container/list"
	"context"
	"sync"
)

// Memory is a bounded in-process LRU cache for single-instance deployments.
type Memory struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

type memoryEntry struct {
	key string
	val []byte
}

// NewMemory builds an LRU cache holding at most capacity entries.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1
	}
	return &Memory{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Get returns a copy of the cached bytes; callers own the result.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	m.order.MoveToFront(el)
	entry := el.Value.(*memoryEntry)
	out := make([]byte, len(entry.val))
	copy(out, entry.val)
	return out, true, nil
}

// Put stores a copy of val under key, evicting the least recently used
// entry once the cache is full.
func (m *Memory) Put(ctx context.Context, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(val))
	copy(stored, val)

	if el, ok := m.entries[key]; ok {
		m.order.MoveToFront(el)
		el.Value.(*memoryEntry).val = stored
		return nil
	}

	m.entries[key] = m.order.PushFront(&memoryEntry{key: key, val: stored})
	if m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memoryEntry).key)
	}
	return nil
}

// Len returns the number of cached entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
