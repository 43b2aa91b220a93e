// Package listing manages collectible ticket-stub listings and the
// reservation state machine that guards checkout.
//
// Lifecycle:
//
//	active → reserved → sold        (happy path)
//	reserved → active               (payment failed/cancelled, or TTL lapsed)
//	sold → active                   (refund reopens the listing)
//
// Reservations are advisory: a reserved listing whose reserved_until has
// passed is treated as available again. Nothing wakes up at the deadline;
// the next buyer's reserve attempt or the reconciliation sweep releases it.
package listing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stubcollector/stubmarket/internal/idgen"
)

var (
	ErrListingNotFound = errors.New("listing: not found")
	ErrNotAvailable    = errors.New("listing: not available for purchase")
	ErrNotReserved     = errors.New("listing: not reserved by this order")
	ErrNotSold         = errors.New("listing: not sold")
	ErrSelfPurchase    = errors.New("listing: seller cannot buy their own listing")
)

// Status represents the state of a listing.
type Status string

const (
	StatusActive   Status = "active"   // Visible and purchasable
	StatusReserved Status = "reserved" // Held for a buyer during checkout
	StatusSold     Status = "sold"     // Payment completed
	StatusRemoved  Status = "removed"  // Taken down by the seller
)

// Listing represents a single collectible ticket stub for sale.
type Listing struct {
	ID          string     `json:"id"`
	SellerID    string     `json:"seller_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	EventName   string     `json:"event_name"`
	EventDate   *time.Time `json:"event_date,omitempty"`
	PriceCents  int64      `json:"price_cents"`
	Currency    string     `json:"currency"`
	Status      Status     `json:"status"`

	// PaymentRequired is false only for legacy listings settled off-platform;
	// the checkout path refuses them.
	PaymentRequired bool `json:"payment_required"`

	// ReservedBy holds the order ID that owns the current reservation.
	ReservedBy    string     `json:"reserved_by,omitempty"`
	ReservedUntil *time.Time `json:"reserved_until,omitempty"`
	SoldAt        *time.Time `json:"sold_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AvailableAt reports whether the listing can be purchased at the given
// instant. A reserved listing with a lapsed hold counts as available.
func (l *Listing) AvailableAt(now time.Time) bool {
	switch l.Status {
	case StatusActive:
		return true
	case StatusReserved:
		return l.ReservedUntil != nil && l.ReservedUntil.Before(now)
	}
	return false
}

// ReservationLapsed reports whether the listing is reserved but its hold
// has expired.
func (l *Listing) ReservationLapsed(now time.Time) bool {
	return l.Status == StatusReserved && l.ReservedUntil != nil && l.ReservedUntil.Before(now)
}

// Store persists listings. Reserve, Release, Finalize, and Reopen are
// compare-and-set transitions: they succeed only when the listing is in
// the expected prior state, so two concurrent buyers cannot both win.
type Store interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	Update(ctx context.Context, l *Listing) error
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Listing, error)

	// Reserve transitions active→reserved (or steals a lapsed reservation)
	// and records the owning order. Returns ErrNotAvailable on CAS conflict.
	Reserve(ctx context.Context, id, orderID string, until time.Time) error

	// Release transitions reserved→active, but only for the owning order.
	Release(ctx context.Context, id, orderID string) error

	// Finalize transitions reserved→sold for the owning order.
	Finalize(ctx context.Context, id, orderID string, soldAt time.Time) error

	// Reopen transitions sold→active and clears sold_at (refund path).
	Reopen(ctx context.Context, id string) error

	// ListLapsedReservations returns reserved listings whose hold expired
	// before the given instant.
	ListLapsedReservations(ctx context.Context, before time.Time, limit int) ([]*Listing, error)
}

// Filter narrows List results.
type Filter struct {
	SellerID string
	Status   Status
	Event    string
}

// CreateRequest contains the parameters for creating a listing.
type CreateRequest struct {
	SellerID    string `json:"seller_id" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	EventName   string `json:"event_name" binding:"required"`
	EventDate   string `json:"event_date"` // RFC 3339, optional
	PriceCents  int64  `json:"price_cents" binding:"required"`
	Currency    string `json:"currency"`
}

// Service implements listing business logic.
type Service struct {
	store    Store
	currency string
}

// NewService creates a new listing service. currency is the single
// supported settlement currency.
func NewService(store Store, currency string) *Service {
	return &Service{store: store, currency: currency}
}

// Create validates and persists a new listing in active status.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Listing, error) {
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.currency
	}
	if currency != s.currency {
		return nil, errors.New("listing: unsupported currency")
	}
	if req.PriceCents <= 0 {
		return nil, errors.New("listing: price must be positive")
	}

	var eventDate *time.Time
	if req.EventDate != "" {
		t, err := time.Parse(time.RFC3339, req.EventDate)
		if err != nil {
			return nil, errors.New("listing: event_date must be RFC 3339")
		}
		eventDate = &t
	}

	now := time.Now()
	l := &Listing{
		ID:              idgen.WithPrefix(idgen.Listing),
		SellerID:        req.SellerID,
		Title:           strings.TrimSpace(req.Title),
		Description:     strings.TrimSpace(req.Description),
		EventName:       strings.TrimSpace(req.EventName),
		EventDate:       eventDate,
		PriceCents:      req.PriceCents,
		Currency:        currency,
		Status:          StatusActive,
		PaymentRequired: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.Create(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Get returns a listing by ID.
func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.Get(ctx, id)
}

// List returns listings matching the filter.
func (s *Service) List(ctx context.Context, filter Filter, limit, offset int) ([]*Listing, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, filter, limit, offset)
}

// Reserve places a hold on the listing for the given order. The buyer must
// not be the seller, and the listing must be available (active, or reserved
// with a lapsed hold).
func (s *Service) Reserve(ctx context.Context, id, buyerID, orderID string, until time.Time) (*Listing, error) {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if l.SellerID == buyerID {
		return nil, ErrSelfPurchase
	}
	if !l.AvailableAt(time.Now()) {
		return nil, ErrNotAvailable
	}

	// The store-level CAS is what actually arbitrates concurrent buyers;
	// the checks above just give better errors for the common cases.
	if err := s.store.Reserve(ctx, id, orderID, until); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// Release returns a reserved listing to active. Releasing a listing the
// order no longer holds (lapsed and stolen, or already released) is a
// no-op: the hold being gone is the outcome the caller wanted.
func (s *Service) Release(ctx context.Context, id, orderID string) error {
	err := s.store.Release(ctx, id, orderID)
	if errors.Is(err, ErrNotReserved) {
		return nil
	}
	return err
}

// Finalize marks a reserved listing sold. Only the owning order may finalize.
func (s *Service) Finalize(ctx context.Context, id, orderID string, soldAt time.Time) error {
	return s.store.Finalize(ctx, id, orderID, soldAt)
}

// Reopen returns a sold listing to active after a refund.
func (s *Service) Reopen(ctx context.Context, id string) error {
	return s.store.Reopen(ctx, id)
}

// Remove takes a listing off the market. Reserved and sold listings cannot
// be removed while an order depends on them.
func (s *Service) Remove(ctx context.Context, id, sellerID string) error {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if l.SellerID != sellerID {
		return errors.New("listing: only the seller can remove a listing")
	}
	if l.Status != StatusActive && !l.ReservationLapsed(time.Now()) {
		return ErrNotAvailable
	}
	l.Status = StatusRemoved
	l.ReservedBy = ""
	l.ReservedUntil = nil
	l.UpdatedAt = time.Now()
	return s.store.Update(ctx, l)
}
