// Package order holds the order and payment records that track a purchase
// from reservation through settlement or refund.
//
// An order and its payment row are created together in one local
// transaction before any gateway call is made. The payment starts with the
// IntentPending sentinel so a crash between the local commit and the
// gateway call leaves an identifiable draft for the reconciliation sweep.
package order

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/stubcollector/stubmarket/internal/idgen"
)

var (
	ErrOrderNotFound   = errors.New("order: not found")
	ErrPaymentNotFound = errors.New("order: payment not found")
	ErrDuplicateOrder  = errors.New("order: listing already has an active order")
)

// IntentPending is the sentinel stored as a payment's intent ID between
// the local commit and the gateway call. No real gateway intent ID can
// collide with it.
const IntentPending = "pending"

// Status represents the state of an order.
type Status string

const (
	StatusPaymentPending   Status = "payment_pending"
	StatusPaymentCompleted Status = "payment_completed" // Charge settled, awaiting buyer confirmation
	StatusCompleted        Status = "completed"         // Buyer confirmed receipt
	StatusCancelled        Status = "cancelled"
	StatusRefunded         Status = "refunded"
)

// PaymentStatus represents the state of a payment.
type PaymentStatus string

const (
	PaymentCreating  PaymentStatus = "creating" // Local rows committed, no gateway intent yet
	PaymentPending   PaymentStatus = "pending"  // Gateway intent created, awaiting confirmation
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentFailed    PaymentStatus = "failed"
)

// LiabilityStatus records who carries chargeback liability for a payment.
type LiabilityStatus string

const (
	// LiabilityPending: no gateway intent yet, liability undetermined.
	LiabilityPending LiabilityStatus = "pending"
	// LiabilityShiftedToSeller: charge settled on the seller's account;
	// disputes come out of their balance.
	LiabilityShiftedToSeller LiabilityStatus = "shifted_to_seller"
	// LiabilityPlatform: the platform carries disputes for this charge.
	LiabilityPlatform LiabilityStatus = "platform_liable"
	// LiabilityShiftFailed: a shift was requested but the gateway did not
	// apply it; the platform carries the charge.
	LiabilityShiftFailed LiabilityStatus = "failed_to_shift"
)

// Order represents a buyer's purchase of a single listing.
type Order struct {
	ID                string     `json:"id"`
	ListingID         string     `json:"listing_id"`
	BuyerID           string     `json:"buyer_id"`
	SellerID          string     `json:"seller_id"`
	AmountCents       int64      `json:"amount_cents"`
	PlatformFeeCents  int64      `json:"platform_fee_cents"`
	SellerAmountCents int64      `json:"seller_amount_cents"`
	Currency          string     `json:"currency"`
	Status            Status     `json:"status"`
	PayoutDelayDays   int        `json:"payout_delay_days"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"` // Payment settled
	CompletedAt       *time.Time `json:"completed_at,omitempty"` // Buyer confirmed receipt
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	RefundedAt        *time.Time `json:"refunded_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Payment tracks the gateway side of an order.
type Payment struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	IntentID         string          `json:"intent_id"` // IntentPending until the gateway call returns
	ChargeID         string          `json:"charge_id,omitempty"`
	RefundID         string          `json:"refund_id,omitempty"`
	Status           PaymentStatus   `json:"status"`
	AmountCents      int64           `json:"amount_cents"`
	PlatformFeeCents int64           `json:"platform_fee_cents"`
	GatewayFeeCents  int64           `json:"gateway_fee_cents,omitempty"` // From the balance transaction, known after settlement
	LiabilityStatus  LiabilityStatus `json:"liability_status"`
	SellerAccountID  string          `json:"seller_account_id,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	RefundedAt       *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SellerLiable reports whether the seller carries disputes for this payment.
func (p *Payment) SellerLiable() bool {
	return p.LiabilityStatus == LiabilityShiftedToSeller
}

// SplitFee computes the platform's cut of an amount. The fee is floored so
// the platform never rounds up at the seller's expense; the seller share is
// the exact remainder, so fee + seller always equals the total.
func SplitFee(amountCents int64, feePercent float64) (platformCents, sellerCents int64) {
	platformCents = int64(math.Floor(float64(amountCents) * feePercent))
	sellerCents = amountCents - platformCents
	return platformCents, sellerCents
}

// New creates an order and its draft payment for a listing purchase.
// Both start in their pre-gateway states.
func New(listingID, buyerID, sellerID string, amountCents int64, currency string, feePercent float64) (*Order, *Payment) {
	platform, seller := SplitFee(amountCents, feePercent)
	now := time.Now()

	o := &Order{
		ID:                idgen.WithPrefix(idgen.Order),
		ListingID:         listingID,
		BuyerID:           buyerID,
		SellerID:          sellerID,
		AmountCents:       amountCents,
		PlatformFeeCents:  platform,
		SellerAmountCents: seller,
		Currency:          currency,
		Status:            StatusPaymentPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	p := &Payment{
		ID:               idgen.WithPrefix(idgen.Payment),
		OrderID:          o.ID,
		IntentID:         IntentPending,
		Status:           PaymentCreating,
		AmountCents:      amountCents,
		PlatformFeeCents: platform,
		LiabilityStatus:  LiabilityPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	return o, p
}

// IsTerminal returns true if the order is in a final state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// ListingSyncer is the subset of listing transitions the order lifecycle
// drives. Declared here so order does not import the listing package.
type ListingSyncer interface {
	Finalize(ctx context.Context, listingID, orderID string, soldAt time.Time) error
	Release(ctx context.Context, listingID, orderID string) error
	Reopen(ctx context.Context, listingID string) error
}

// SyncListingStatus applies the listing transition implied by the order's
// current status. This is the single place the order→listing mapping
// lives:
//
//	payment_completed → listing sold
//	cancelled         → reservation released, listing active
//	refunded          → listing reopened, sold_at cleared
//
// completed (buyer confirmation) changes nothing: the listing was already
// finalized at settlement.
func SyncListingStatus(ctx context.Context, ls ListingSyncer, o *Order) error {
	switch o.Status {
	case StatusPaymentCompleted:
		soldAt := time.Now()
		if o.ConfirmedAt != nil {
			soldAt = *o.ConfirmedAt
		}
		return ls.Finalize(ctx, o.ListingID, o.ID, soldAt)
	case StatusCancelled:
		return ls.Release(ctx, o.ListingID, o.ID)
	case StatusRefunded:
		return ls.Reopen(ctx, o.ListingID)
	}
	return nil
}

// Store persists orders and payments.
type Store interface {
	// CreateOrderWithPayment inserts the order and its draft payment
	// atomically. Returns ErrDuplicateOrder if the listing already has a
	// payment_pending order.
	CreateOrderWithPayment(ctx context.Context, o *Order, p *Payment) error

	// DeleteOrderAndPayment removes both rows. Compensation path only:
	// called when the gateway rejected the intent and nothing external
	// references the order.
	DeleteOrderAndPayment(ctx context.Context, orderID string) error

	GetOrder(ctx context.Context, id string) (*Order, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID string) (*Payment, error)
	GetPaymentByIntentID(ctx context.Context, intentID string) (*Payment, error)
	GetPaymentByChargeID(ctx context.Context, chargeID string) (*Payment, error)

	UpdateOrder(ctx context.Context, o *Order) error
	UpdatePayment(ctx context.Context, p *Payment) error

	// ActiveOrderForListing returns the payment_pending order holding the
	// listing, if any.
	ActiveOrderForListing(ctx context.Context, listingID string) (*Order, error)

	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Order, error)
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Order, error)

	// ListStaleCreating returns draft payments (intent still the sentinel)
	// created before the given instant: the trail a crash between the
	// local commit and the gateway call leaves behind.
	ListStaleCreating(ctx context.Context, before time.Time, limit int) ([]*Payment, error)

	// ListStuckPending returns payments with a real intent that have been
	// pending since before the given instant.
	ListStuckPending(ctx context.Context, before time.Time, limit int) ([]*Payment, error)
}
