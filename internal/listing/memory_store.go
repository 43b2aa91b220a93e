package listing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory listing store for demo/development mode.
// CAS transitions hold the write lock for the whole check-and-set, which
// gives the same linearizability the Postgres store gets from single-
// statement guarded UPDATEs.
type MemoryStore struct {
	listings map[string]*Listing
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory listing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[string]*Listing),
	}
}

func (m *MemoryStore) Create(ctx context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.listings[l.ID]; !ok {
		return ErrListingNotFound
	}
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context, filter Filter, limit, offset int) ([]*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*Listing
	for _, l := range m.listings {
		if filter.SellerID != "" && l.SellerID != filter.SellerID {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		if filter.Event != "" && l.EventName != filter.Event {
			continue
		}
		cp := *l
		all = append(all, &cp)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) Reserve(ctx context.Context, id, orderID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[id]
	if !ok {
		return ErrListingNotFound
	}
	if !l.AvailableAt(time.Now()) {
		return ErrNotAvailable
	}

	l.Status = StatusReserved
	l.ReservedBy = orderID
	u := until
	l.ReservedUntil = &u
	l.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Release(ctx context.Context, id, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[id]
	if !ok {
		return ErrListingNotFound
	}
	if l.Status != StatusReserved || l.ReservedBy != orderID {
		return ErrNotReserved
	}

	l.Status = StatusActive
	l.ReservedBy = ""
	l.ReservedUntil = nil
	l.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Finalize(ctx context.Context, id, orderID string, soldAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[id]
	if !ok {
		return ErrListingNotFound
	}
	if l.Status != StatusReserved || l.ReservedBy != orderID {
		return ErrNotReserved
	}

	l.Status = StatusSold
	l.ReservedBy = ""
	l.ReservedUntil = nil
	t := soldAt
	l.SoldAt = &t
	l.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Reopen(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[id]
	if !ok {
		return ErrListingNotFound
	}
	if l.Status != StatusSold {
		return ErrNotSold
	}

	l.Status = StatusActive
	l.SoldAt = nil
	l.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListLapsedReservations(ctx context.Context, before time.Time, limit int) ([]*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Listing
	for _, l := range m.listings {
		if l.Status == StatusReserved && l.ReservedUntil != nil && l.ReservedUntil.Before(before) {
			cp := *l
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
