// Package payments orchestrates the purchase saga: reserve the listing,
// commit the order and draft payment locally, then open the gateway
// intent — with compensation when the gateway says no.
//
// No database lock is ever held across the gateway call. The local commit
// happens first; if the gateway rejects the intent, the saga deletes the
// draft rows and releases the reservation. A crash between the two phases
// leaves a draft payment carrying the IntentPending sentinel, which the
// reconciliation sweep cleans up.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stubcollector/stubmarket/internal/circuitbreaker"
	"github.com/stubcollector/stubmarket/internal/listing"
	"github.com/stubcollector/stubmarket/internal/logging"
	"github.com/stubcollector/stubmarket/internal/metrics"
	"github.com/stubcollector/stubmarket/internal/order"
	"github.com/stubcollector/stubmarket/internal/retry"
	"github.com/stubcollector/stubmarket/internal/seller"
	"github.com/stubcollector/stubmarket/internal/traces"
)

// breakerKey is the circuit-breaker key for the payment gateway.
const breakerKey = "stripe"

// Config holds the payment policy knobs.
type Config struct {
	FeePercent     float64
	Currency       string
	ReservationTTL time.Duration
	LiabilityShift bool
	// PayoutHoldDays caps the per-country payout delay recorded on each
	// order.
	PayoutHoldDays int
}

// Service implements the purchase, completion, and refund flows.
type Service struct {
	orders   order.Store
	listings *listing.Service
	sellers  *seller.Service
	gateway  Gateway
	breaker  *circuitbreaker.Breaker
	cfg      Config
}

// NewService creates a new payments service.
func NewService(orders order.Store, listings *listing.Service, sellers *seller.Service, gateway Gateway, cfg Config) *Service {
	return &Service{
		orders:   orders,
		listings: listings,
		sellers:  sellers,
		gateway:  gateway,
		cfg:      cfg,
	}
}

// WithBreaker adds a circuit breaker guarding gateway calls.
func (s *Service) WithBreaker(b *circuitbreaker.Breaker) *Service {
	s.breaker = b
	return s
}

// PurchaseRequest contains the parameters for starting a purchase.
type PurchaseRequest struct {
	ListingID string `json:"listing_id" binding:"required"`
	BuyerID   string `json:"buyer_id" binding:"required"`
}

// CheckoutSession is returned to the buyer to confirm the payment
// client-side.
type CheckoutSession struct {
	Order        *order.Order   `json:"order"`
	Payment      *order.Payment `json:"payment"`
	ClientSecret string         `json:"client_secret"`
}

// CreatePurchaseIntent runs the purchase saga:
//
//  1. Validate the listing, the seller's eligibility, and reserve the
//     listing for a new order ID.
//  2. Commit the order and draft payment locally (intent = sentinel).
//  3. Call the gateway. On success, record the real intent ID. On
//     failure, delete the draft rows and release the reservation.
func (s *Service) CreatePurchaseIntent(ctx context.Context, req PurchaseRequest) (*CheckoutSession, error) {
	ctx, span := traces.StartSpan(ctx, "payments.CreatePurchaseIntent",
		traces.ListingID(req.ListingID), traces.BuyerID(req.BuyerID))
	defer span.End()
	log := logging.L(ctx)

	if s.breaker != nil && !s.breaker.Allow(breakerKey) {
		metrics.PaymentIntentsTotal.WithLabelValues("gateway_error").Inc()
		return nil, ErrGatewayUnavailable
	}

	l, err := s.listings.Get(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if !l.PaymentRequired {
		return nil, ErrPaymentNotRequired
	}
	if !strings.EqualFold(l.Currency, s.cfg.Currency) {
		return nil, ErrCurrencyMismatch
	}

	sl, err := s.sellers.RequireEligible(ctx, l.SellerID)
	if err != nil {
		return nil, err
	}

	o, p := order.New(l.ID, req.BuyerID, l.SellerID, l.PriceCents, l.Currency, s.cfg.FeePercent)
	o.PayoutDelayDays = seller.PayoutDelayDays(sl.Country, s.cfg.PayoutHoldDays)
	p.SellerAccountID = sl.AccountID

	until := time.Now().Add(s.cfg.ReservationTTL)
	if _, err := s.listings.Reserve(ctx, l.ID, req.BuyerID, o.ID, until); err != nil {
		return nil, err
	}

	// Phase 1: local commit. The reservation and these rows are the only
	// state so far; both are cheap to unwind.
	if err := s.orders.CreateOrderWithPayment(ctx, o, p); err != nil {
		if relErr := s.listings.Release(ctx, l.ID, o.ID); relErr != nil {
			log.Error("failed to release reservation after order create failure",
				"listing_id", l.ID, "order_id", o.ID, "error", relErr)
		}
		return nil, err
	}

	// Phase 2: gateway call, no DB transaction open. The payment ID keys
	// idempotency so a retried create cannot double-charge.
	intent, err := s.createIntentWithRetry(ctx, CreateIntentRequest{
		AmountCents:         o.AmountCents,
		Currency:            strings.ToLower(o.Currency),
		SellerAccountID:     sl.AccountID,
		ApplicationFeeCents: o.PlatformFeeCents,
		LiabilityShift:      s.cfg.LiabilityShift,
		TransferGroup:       "order_" + o.ID,
		OrderID:             o.ID,
		ListingID:           l.ID,
		BuyerID:             req.BuyerID,
		IdempotencyKey:      p.ID,
	})
	if err != nil {
		s.compensate(ctx, o, l.ID)
		metrics.PaymentIntentsTotal.WithLabelValues("gateway_error").Inc()
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	p.IntentID = intent.ID
	p.Status = order.PaymentPending
	p.LiabilityStatus = liabilityFor(s.cfg.LiabilityShift, intent.LiabilityShifted)
	p.UpdatedAt = time.Now()
	if err := s.orders.UpdatePayment(ctx, p); err != nil {
		// The intent exists at the gateway but the local row still says
		// creating. The sweep will find the draft and reconcile; don't
		// hand the buyer a client secret for an order we can't track.
		log.Error("failed to record intent on payment", "payment_id", p.ID, "intent_id", intent.ID, "error", err)
		return nil, err
	}

	metrics.PaymentIntentsTotal.WithLabelValues("created").Inc()
	metrics.ReservationsTotal.WithLabelValues("reserved").Inc()
	log.Info("payment intent created",
		"order_id", o.ID, "listing_id", l.ID, "intent_id", intent.ID,
		"amount_cents", o.AmountCents, "platform_fee_cents", o.PlatformFeeCents)

	return &CheckoutSession{Order: o, Payment: p, ClientSecret: intent.ClientSecret}, nil
}

// liabilityFor maps the configured policy and the gateway's answer to the
// recorded liability status. Requesting a shift the gateway did not apply
// leaves the platform holding the charge, and we record that explicitly.
func liabilityFor(requested, applied bool) order.LiabilityStatus {
	switch {
	case requested && applied:
		return order.LiabilityShiftedToSeller
	case requested && !applied:
		return order.LiabilityShiftFailed
	default:
		return order.LiabilityPlatform
	}
}

// createIntentWithRetry retries transient gateway failures with the same
// idempotency key and feeds the circuit breaker.
func (s *Service) createIntentWithRetry(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	var intent *Intent
	err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		var callErr error
		intent, callErr = s.gateway.CreateIntent(ctx, req)
		if callErr == nil {
			if s.breaker != nil {
				s.breaker.RecordSuccess(breakerKey)
			}
			return nil
		}
		if s.breaker != nil {
			s.breaker.RecordFailure(breakerKey)
		}
		var ge *GatewayError
		if errors.As(callErr, &ge) && !ge.Retryable {
			return retry.Permanent(callErr)
		}
		return callErr
	})
	return intent, err
}

// compensate unwinds phase 1 after a gateway failure: delete the draft
// rows, then release the reservation. Order matters — the reservation is
// keyed by order ID, so releasing it last means a crash mid-compensation
// still leaves the sweep a consistent trail.
func (s *Service) compensate(ctx context.Context, o *order.Order, listingID string) {
	log := logging.L(ctx)

	if err := s.orders.DeleteOrderAndPayment(ctx, o.ID); err != nil {
		log.Error("compensation: failed to delete draft order", "order_id", o.ID, "error", err)
	}
	if err := s.listings.Release(ctx, listingID, o.ID); err != nil {
		log.Error("compensation: failed to release reservation", "listing_id", listingID, "order_id", o.ID, "error", err)
	}
	metrics.PaymentIntentsTotal.WithLabelValues("compensated").Inc()
	metrics.ReservationsTotal.WithLabelValues("released").Inc()
}

// HandleIntentSucceeded settles a payment after the gateway confirms the
// charge. Safe to call repeatedly for the same intent: a payment already
// completed is a no-op, and a payment already refunded or failed is logged
// and left alone (a stale success arriving after a refund or cancellation
// must not resurrect the order).
func (s *Service) HandleIntentSucceeded(ctx context.Context, intentID string) error {
	ctx, span := traces.StartSpan(ctx, "payments.HandleIntentSucceeded", traces.IntentID(intentID))
	defer span.End()
	log := logging.L(ctx)

	p, err := s.orders.GetPaymentByIntentID(ctx, intentID)
	if err != nil {
		return err
	}

	switch p.Status {
	case order.PaymentCompleted:
		return nil // Duplicate delivery
	case order.PaymentRefunded:
		log.Warn("ignoring stale success for refunded payment",
			"payment_id", p.ID, "intent_id", intentID)
		return nil
	case order.PaymentFailed:
		// The order was cancelled and its reservation released; another
		// buyer may already hold the listing. Settling now would put two
		// settled orders on one listing.
		log.Warn("ignoring stale success for cancelled order",
			"payment_id", p.ID, "order_id", p.OrderID, "intent_id", intentID)
		return nil
	}

	// Re-fetch from the gateway rather than trusting the event payload:
	// the charge ID and settled fee come from the expanded intent.
	intent, err := s.gateway.GetIntent(ctx, intentID)
	if err != nil {
		return fmt.Errorf("failed to retrieve intent: %w", err)
	}
	if !intent.Succeeded() {
		return fmt.Errorf("intent %s is %s, not succeeded", intentID, intent.Status)
	}

	now := time.Now()
	p.ChargeID = intent.ChargeID
	p.GatewayFeeCents = intent.GatewayFeeCents
	p.Status = order.PaymentCompleted
	p.CompletedAt = &now
	p.UpdatedAt = now
	if err := s.orders.UpdatePayment(ctx, p); err != nil {
		return err
	}

	o, err := s.orders.GetOrder(ctx, p.OrderID)
	if err != nil {
		return err
	}
	o.Status = order.StatusPaymentCompleted
	o.ConfirmedAt = &now
	o.UpdatedAt = now
	if err := s.orders.UpdateOrder(ctx, o); err != nil {
		return err
	}

	if err := order.SyncListingStatus(ctx, s.listings, o); err != nil {
		// The order is settled; a listing already finalized (or released
		// by the sweep and re-reserved) is an anomaly to investigate, not
		// a reason to fail the settlement.
		log.Error("failed to finalize listing after settlement",
			"order_id", o.ID, "listing_id", o.ListingID, "error", err)
	}

	metrics.OrdersTotal.WithLabelValues(string(order.StatusPaymentCompleted)).Inc()
	metrics.ReservationsTotal.WithLabelValues("finalized").Inc()
	metrics.PlatformFeeCents.Add(float64(o.PlatformFeeCents))
	metrics.CheckoutDuration.Observe(now.Sub(p.CreatedAt).Seconds())
	log.Info("payment completed",
		"order_id", o.ID, "intent_id", intentID, "charge_id", p.ChargeID,
		"gateway_fee_cents", p.GatewayFeeCents)
	return nil
}

// HandleIntentFailed cancels the order behind a failed payment attempt so
// the listing does not sit reserved until the TTL lapses. Payments that
// already left pending are left alone.
func (s *Service) HandleIntentFailed(ctx context.Context, intentID, reason string) error {
	p, err := s.orders.GetPaymentByIntentID(ctx, intentID)
	if err != nil {
		return err
	}
	if p.Status != order.PaymentPending {
		return nil
	}
	_, err = s.Cancel(ctx, p.OrderID, reason)
	if errors.Is(err, ErrNotCancellable) {
		return nil
	}
	return err
}

// HandleChargeDisputed records who carries a disputed charge: the seller
// when the charge settled on their account, the platform otherwise. The
// payment keeps its status; disputes resolve out of band.
func (s *Service) HandleChargeDisputed(ctx context.Context, chargeID, reason string) error {
	log := logging.L(ctx)

	p, err := s.orders.GetPaymentByChargeID(ctx, chargeID)
	if err != nil {
		return err
	}

	liable := "platform"
	if p.SellerLiable() {
		liable = "seller"
	}
	p.FailureReason = "disputed: " + reason
	p.UpdatedAt = time.Now()
	if err := s.orders.UpdatePayment(ctx, p); err != nil {
		return err
	}

	log.Warn("charge disputed",
		"payment_id", p.ID, "order_id", p.OrderID, "charge_id", chargeID,
		"liable_party", liable, "reason", reason)
	return nil
}

// CompleteOrder records the buyer's confirmation that the stub arrived.
// Only the buyer may confirm, and only once the payment has settled; the
// payout hold clock keeps running from ConfirmedAt regardless.
func (s *Service) CompleteOrder(ctx context.Context, orderID, buyerID string) (*order.Order, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != buyerID {
		return nil, ErrNotYourOrder
	}
	if o.Status != order.StatusPaymentCompleted {
		return nil, ErrNotCompletable
	}

	now := time.Now()
	o.Status = order.StatusCompleted
	o.CompletedAt = &now
	o.UpdatedAt = now
	if err := s.orders.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}

	metrics.OrdersTotal.WithLabelValues(string(order.StatusCompleted)).Inc()
	logging.L(ctx).Info("order completed", "order_id", o.ID, "buyer_id", buyerID)
	return o, nil
}

// Refund refunds a completed order and reopens its listing.
func (s *Service) Refund(ctx context.Context, orderID, reason string) (*order.Order, error) {
	ctx, span := traces.StartSpan(ctx, "payments.Refund", traces.OrderID(orderID))
	defer span.End()
	log := logging.L(ctx)

	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusPaymentCompleted && o.Status != order.StatusCompleted {
		return nil, ErrNotRefundable
	}

	p, err := s.orders.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p.Status != order.PaymentCompleted {
		return nil, ErrNotRefundable
	}

	// A liability-shifted charge settled on the seller's account; pulling
	// the money back requires reversing the transfer and returning the
	// platform's application fee.
	refund, err := s.gateway.CreateRefund(ctx, RefundRequest{
		IntentID:             p.IntentID,
		Reason:               reason,
		ReverseTransfer:      p.SellerLiable(),
		RefundApplicationFee: p.SellerLiable(),
		IdempotencyKey:       "refund_" + p.ID,
	})
	if err != nil {
		metrics.RefundsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}

	now := time.Now()
	p.RefundID = refund.ID
	p.Status = order.PaymentRefunded
	p.RefundedAt = &now
	p.UpdatedAt = now
	if err := s.orders.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}

	o.Status = order.StatusRefunded
	o.RefundedAt = &now
	o.UpdatedAt = now
	if err := s.orders.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}

	if err := order.SyncListingStatus(ctx, s.listings, o); err != nil {
		log.Error("failed to reopen listing after refund",
			"order_id", o.ID, "listing_id", o.ListingID, "error", err)
	}

	metrics.RefundsTotal.WithLabelValues("succeeded").Inc()
	metrics.OrdersTotal.WithLabelValues(string(order.StatusRefunded)).Inc()
	log.Info("order refunded", "order_id", o.ID, "refund_id", refund.ID, "reason", reason)
	return o, nil
}

// Cancel abandons a pending order: the payment is marked failed, the
// order cancelled, and the reservation released.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (*order.Order, error) {
	log := logging.L(ctx)

	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusPaymentPending {
		return nil, ErrNotCancellable
	}

	p, err := s.orders.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p.Status = order.PaymentFailed
	p.FailureReason = reason
	p.UpdatedAt = now
	if err := s.orders.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}

	o.Status = order.StatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	if err := s.orders.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}

	if err := order.SyncListingStatus(ctx, s.listings, o); err != nil {
		log.Error("failed to release reservation after cancel",
			"order_id", o.ID, "listing_id", o.ListingID, "error", err)
	}

	metrics.OrdersTotal.WithLabelValues(string(order.StatusCancelled)).Inc()
	metrics.ReservationsTotal.WithLabelValues("released").Inc()
	log.Info("order cancelled", "order_id", o.ID, "reason", reason)
	return o, nil
}

// GetOrder returns an order with its payment.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*order.Order, *order.Payment, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.orders.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return o, p, nil
}

// ListOrders returns a user's orders as buyer or seller.
func (s *Service) ListOrders(ctx context.Context, userID, role string, limit int) ([]*order.Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if role == "seller" {
		return s.orders.ListBySeller(ctx, userID, limit)
	}
	return s.orders.ListByBuyer(ctx, userID, limit)
}
