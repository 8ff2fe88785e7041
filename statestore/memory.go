package statestore

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds a memory store created without WithMaxEntries.
const DefaultMaxEntries = 10000

type memoryOptions struct {
	maxEntries int
	onEvict    func(key string, e *Entry)
	now        func() time.Time
}

// MemoryOption configures a memory store.
type MemoryOption func(*memoryOptions)

// WithMaxEntries sets the maximum number of entries. The least recently
// used entry is evicted when the limit is reached.
func WithMaxEntries(n int) MemoryOption {
	return func(o *memoryOptions) {
		o.maxEntries = n
	}
}

// WithEvictionCallback sets a callback for evicted entries.
func WithEvictionCallback(fn func(key string, e *Entry)) MemoryOption {
	return func(o *memoryOptions) {
		o.onEvict = fn
	}
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) {
		o.now = now
	}
}

// memoryData is shared by a store and all its scopes.
type memoryData struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *Entry]
	now     func() time.Time
}

// Memory is an in-process store.
type Memory struct {
	data   *memoryData
	prefix string
}

// NewMemory creates an empty memory store.
func NewMemory(opts ...MemoryOption) (*Memory, error) {
	o := &memoryOptions{maxEntries: DefaultMaxEntries, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	var (
		cache *lru.Cache[string, *Entry]
		err   error
	)
	if o.onEvict != nil {
		cache, err = lru.NewWithEvict(o.maxEntries, o.onEvict)
	} else {
		cache, err = lru.New[string, *Entry](o.maxEntries)
	}
	if err != nil {
		return nil, err
	}

	return &Memory{data: &memoryData{entries: cache, now: o.now}}, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (*Entry, error) {
	m.data.mu.Lock()
	defer m.data.mu.Unlock()

	e, ok := m.data.entries.Get(m.fullKey(key))
	if !ok {
		return nil, nil
	}
	return e.Clone(), nil
}

// Update implements Store.
func (m *Memory) Update(ctx context.Context, key string, fn UpdateFunc) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.data.mu.Lock()
	defer m.data.mu.Unlock()

	fullKey := m.fullKey(key)
	cur, _ := m.data.entries.Get(fullKey)

	next, err := fn(cur.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur.Clone(), nil
	}

	stored := next.Clone()
	stored.UpdatedAt = m.data.now()
	m.data.entries.Add(fullKey, stored)
	return stored.Clone(), nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.data.mu.Lock()
	defer m.data.mu.Unlock()

	m.data.entries.Remove(m.fullKey(key))
	return nil
}

// Len returns the number of entries across all scopes.
func (m *Memory) Len() int {
	return m.data.entries.Len()
}

// Scope returns a view of the store whose keys are prefixed. Scopes share
// storage and locking with their parent.
func (m *Memory) Scope(prefix string) *Memory {
	return &Memory{data: m.data, prefix: m.fullKey(prefix)}
}

func (m *Memory) fullKey(key string) string {
	if m.prefix == "" {
		return key
	}
	return m.prefix + ":" + key
}
