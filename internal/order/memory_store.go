package order

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory order store for demo/development mode.
type MemoryStore struct {
	orders   map[string]*Order
	payments map[string]*Payment
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*Order),
		payments: make(map[string]*Payment),
	}
}

func (m *MemoryStore) CreateOrderWithPayment(ctx context.Context, o *Order, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.orders {
		if existing.ListingID == o.ListingID && existing.Status == StatusPaymentPending {
			return ErrDuplicateOrder
		}
	}

	oc, pc := *o, *p
	m.orders[o.ID] = &oc
	m.payments[p.ID] = &pc
	return nil
}

func (m *MemoryStore) DeleteOrderAndPayment(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[orderID]; !ok {
		return ErrOrderNotFound
	}
	delete(m.orders, orderID)
	for id, p := range m.payments {
		if p.OrderID == orderID {
			delete(m.payments, id)
		}
	}
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetPaymentByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.payments {
		if p.OrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

// GetPaymentByIntentID ignores the IntentPending sentinel: many drafts may
// carry it at once, so it never identifies a payment.
func (m *MemoryStore) GetPaymentByIntentID(ctx context.Context, intentID string) (*Payment, error) {
	if intentID == IntentPending || intentID == "" {
		return nil, ErrPaymentNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.payments {
		if p.IntentID == intentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *MemoryStore) GetPaymentByChargeID(ctx context.Context, chargeID string) (*Payment, error) {
	if chargeID == "" {
		return nil, ErrPaymentNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.payments {
		if p.ChargeID == chargeID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *MemoryStore) UpdateOrder(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[o.ID]; !ok {
		return ErrOrderNotFound
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdatePayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *MemoryStore) ActiveOrderForListing(ctx context.Context, listingID string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, o := range m.orders {
		if o.ListingID == listingID && o.Status == StatusPaymentPending {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (m *MemoryStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Order, error) {
	return m.listOrders(func(o *Order) bool { return o.BuyerID == buyerID }, limit)
}

func (m *MemoryStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Order, error) {
	return m.listOrders(func(o *Order) bool { return o.SellerID == sellerID }, limit)
}

func (m *MemoryStore) listOrders(match func(*Order) bool, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if match(o) {
			cp := *o
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListStaleCreating(ctx context.Context, before time.Time, limit int) ([]*Payment, error) {
	return m.listPayments(func(p *Payment) bool {
		return p.Status == PaymentCreating && p.IntentID == IntentPending && p.CreatedAt.Before(before)
	}, limit)
}

func (m *MemoryStore) ListStuckPending(ctx context.Context, before time.Time, limit int) ([]*Payment, error) {
	return m.listPayments(func(p *Payment) bool {
		return p.Status == PaymentPending && p.IntentID != IntentPending && p.CreatedAt.Before(before)
	}, limit)
}

func (m *MemoryStore) listPayments(match func(*Payment) bool, limit int) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Payment
	for _, p := range m.payments {
		if match(p) {
			cp := *p
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
