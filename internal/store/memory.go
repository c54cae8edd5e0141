package store

import (
	"context"
	"math/rand"
	"sync"
)

// MemoryStore implements Store with an in-process map, guarded by a
// mutex held only across O(1) mutations (spec §5). It is grounded on
// the teacher's modules/cache/memory.go map+mutex cache engine, reused
// here for set/hash semantics instead of a TTL cache. It backs unit
// tests for the Engine and the HTTP handlers that don't want a Redis
// dependency, and is not used in production wiring.
type MemoryStore struct {
	mu       sync.Mutex
	freelist map[string]struct{}
	borrowed map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		freelist: make(map[string]struct{}),
		borrowed: make(map[string]string),
	}
}

func (m *MemoryStore) Name() string                        { return "store.memory" }
func (m *MemoryStore) Start(ctx context.Context) error      { return nil }
func (m *MemoryStore) Stop(ctx context.Context) error       { return nil }
func (m *MemoryStore) Ping(ctx context.Context) error       { return nil }

func (m *MemoryStore) FreelistAdd(ctx context.Context, item Item) error {
	canon, err := Canonicalize(item)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freelist[string(canon)] = struct{}{}
	return nil
}

func (m *MemoryStore) FreelistPopOne(ctx context.Context) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.freelist) == 0 {
		return nil, ErrEmpty
	}
	// Map iteration order is randomized by the runtime already; an
	// explicit pick keeps the "arbitrary item" contract obvious and
	// avoids relying on that implementation detail.
	idx := rand.Intn(len(m.freelist))
	var chosen string
	i := 0
	for k := range m.freelist {
		if i == idx {
			chosen = k
			break
		}
		i++
	}
	delete(m.freelist, chosen)
	return Item(chosen), nil
}

func (m *MemoryStore) FreelistContains(ctx context.Context, item Item) (bool, error) {
	canon, err := Canonicalize(item)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.freelist[string(canon)]
	return ok, nil
}

func (m *MemoryStore) FreelistList(ctx context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]Item, 0, len(m.freelist))
	for k := range m.freelist {
		items = append(items, Item(k))
	}
	return items, nil
}

func (m *MemoryStore) FreelistCount(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.freelist)), nil
}

func (m *MemoryStore) BorrowRecord(ctx context.Context, item Item, token string) error {
	canon, err := Canonicalize(item)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(canon)
	if _, ok := m.freelist[key]; ok {
		return ErrAlreadyPresent
	}
	if _, ok := m.borrowed[key]; ok {
		return ErrAlreadyPresent
	}
	m.borrowed[key] = token
	return nil
}

func (m *MemoryStore) BorrowRemove(ctx context.Context, item Item, token string) error {
	canon, err := Canonicalize(item)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(canon)
	current, ok := m.borrowed[key]
	if !ok || current != token {
		return ErrUnknownToken
	}
	delete(m.borrowed, key)
	return nil
}

func (m *MemoryStore) BorrowRemoveAny(ctx context.Context, item Item) error {
	canon, err := Canonicalize(item)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(canon)
	if _, ok := m.borrowed[key]; !ok {
		return ErrUnknownToken
	}
	delete(m.borrowed, key)
	return nil
}

func (m *MemoryStore) BorrowCount(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.borrowed)), nil
}
