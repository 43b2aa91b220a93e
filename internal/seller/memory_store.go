package seller

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory seller store for demo/development mode.
type MemoryStore struct {
	sellers map[string]*Seller
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory seller store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sellers: make(map[string]*Seller),
	}
}

func (m *MemoryStore) Create(ctx context.Context, s *Seller) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.sellers[s.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Seller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sellers[id]
	if !ok {
		return nil, ErrSellerNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetByAccountID(ctx context.Context, accountID string) (*Seller, error) {
	if accountID == "" {
		return nil, ErrSellerNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sellers {
		if s.AccountID == accountID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSellerNotFound
}

func (m *MemoryStore) Update(ctx context.Context, s *Seller) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sellers[s.ID]; !ok {
		return ErrSellerNotFound
	}
	cp := *s
	m.sellers[s.ID] = &cp
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
