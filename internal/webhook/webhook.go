// Package webhook ingests payment-gateway events. Every event passes a
// four-step gate (source IP, signature, freshness, durable idempotency)
// before it is dispatched, and the endpoint only acknowledges with a 2xx
// after the effect has been durably applied so the gateway retries
// anything we lost.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v81"

	"github.com/stubcollector/stubmarket/internal/logging"
	"github.com/stubcollector/stubmarket/internal/metrics"
	"github.com/stubcollector/stubmarket/internal/order"
	"github.com/stubcollector/stubmarket/internal/seller"
	"github.com/stubcollector/stubmarket/internal/traces"
)

var (
	ErrDuplicateEvent = errors.New("webhook: event already processed")
	ErrStaleEvent     = errors.New("webhook: event outside freshness window")
	ErrBadSignature   = errors.New("webhook: signature verification failed")
	ErrSourceRejected = errors.New("webhook: source address not allowed")
)

// Verifier checks a raw payload's signature and returns the parsed event.
type Verifier interface {
	VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// PaymentApplier is the slice of the payments service the dispatcher needs.
type PaymentApplier interface {
	HandleIntentSucceeded(ctx context.Context, intentID string) error
	HandleIntentFailed(ctx context.Context, intentID, reason string) error
	HandleChargeDisputed(ctx context.Context, chargeID, reason string) error
}

// SellerApplier is the slice of the seller service the dispatcher needs.
type SellerApplier interface {
	ApplySnapshot(ctx context.Context, accountID string, snap *seller.AccountSnapshot) (*seller.Seller, error)
}

// Record is a durably stored webhook event, kept for idempotency and audit.
type Record struct {
	EventID    string
	Type       string
	ReceivedAt time.Time
}

// EventStore persists processed event IDs. Insert must fail with
// ErrDuplicateEvent when the ID was already recorded.
type EventStore interface {
	Insert(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, eventID string) error
}

// Processor runs the gate and dispatches verified events.
type Processor struct {
	verifier  Verifier
	events    EventStore
	payments  PaymentApplier
	sellers   SellerApplier
	freshness time.Duration
	now       func() time.Time
}

// NewProcessor creates a webhook processor. freshness bounds how old an
// event's signed timestamp may be before it is rejected.
func NewProcessor(verifier Verifier, events EventStore, payments PaymentApplier, sellers SellerApplier, freshness time.Duration) *Processor {
	return &Processor{
		verifier:  verifier,
		events:    events,
		payments:  payments,
		sellers:   sellers,
		freshness: freshness,
		now:       time.Now,
	}
}

// Process verifies and applies one raw webhook delivery. A nil return
// means the event's effect is durably applied (or was already applied)
// and the delivery can be acknowledged.
func (p *Processor) Process(ctx context.Context, payload []byte, sigHeader string) error {
	log := logging.L(ctx)

	event, err := p.verifier.VerifyEvent(payload, sigHeader)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected_signature").Inc()
		log.Warn("webhook signature rejected", "error", err)
		return ErrBadSignature
	}

	eventType := string(event.Type)
	ctx, span := traces.StartSpan(ctx, "webhook.Process", traces.EventType(eventType))
	defer span.End()

	// The signature covers the timestamp, so a stale-but-valid event is a
	// replay of an old delivery.
	created := time.Unix(event.Created, 0)
	if p.freshness > 0 && p.now().Sub(created) > p.freshness {
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "rejected_stale").Inc()
		log.Warn("stale webhook event rejected",
			"event_id", event.ID,
			"event_type", eventType,
			"created", created)
		return ErrStaleEvent
	}

	// Record the event ID before applying. The unique constraint makes
	// concurrent duplicate deliveries collapse to one apply.
	rec := &Record{EventID: event.ID, Type: eventType, ReceivedAt: p.now()}
	if err := p.events.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			metrics.WebhookEventsTotal.WithLabelValues(eventType, "duplicate").Inc()
			log.Info("duplicate webhook event ignored", "event_id", event.ID, "event_type", eventType)
			return nil
		}
		return err
	}

	if err := p.dispatch(ctx, event); err != nil {
		// Forget the ID so the gateway's retry gets another attempt.
		if delErr := p.events.Delete(ctx, event.ID); delErr != nil {
			log.Error("failed to unrecord webhook event after apply error",
				"event_id", event.ID, "error", delErr)
		}
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "error").Inc()
		return err
	}

	metrics.WebhookEventsTotal.WithLabelValues(eventType, "applied").Inc()
	return nil
}

func (p *Processor) dispatch(ctx context.Context, event stripe.Event) error {
	log := logging.L(ctx)

	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return err
		}
		err := p.payments.HandleIntentSucceeded(ctx, pi.ID)
		if errors.Is(err, order.ErrPaymentNotFound) {
			// Intent from another environment or a purchase whose draft
			// was already compensated. Nothing to apply.
			log.Warn("webhook intent matches no payment", "intent_id", pi.ID)
			return nil
		}
		return err

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return err
		}
		reason := "payment attempt failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
		err := p.payments.HandleIntentFailed(ctx, pi.ID, reason)
		if errors.Is(err, order.ErrPaymentNotFound) {
			log.Warn("failed intent matches no payment", "intent_id", pi.ID)
			return nil
		}
		return err

	case "account.updated":
		var acct stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
			return err
		}
		snap := &seller.AccountSnapshot{
			AccountID:        acct.ID,
			ChargesEnabled:   acct.ChargesEnabled,
			PayoutsEnabled:   acct.PayoutsEnabled,
			DetailsSubmitted: acct.DetailsSubmitted,
			Country:          acct.Country,
			DefaultCurrency:  string(acct.DefaultCurrency),
		}
		if acct.Requirements != nil {
			snap.DisabledReason = string(acct.Requirements.DisabledReason)
		}
		_, err := p.sellers.ApplySnapshot(ctx, acct.ID, snap)
		if errors.Is(err, seller.ErrSellerNotFound) {
			log.Warn("account update for unknown seller", "account_id", acct.ID)
			return nil
		}
		return err

	case "payout.paid", "payout.failed":
		var payout stripe.Payout
		if err := json.Unmarshal(event.Data.Raw, &payout); err != nil {
			return err
		}
		log.Info("seller payout update",
			"payout_id", payout.ID,
			"account_id", event.Account,
			"status", string(payout.Status),
			"amount_cents", payout.Amount)
		return nil

	case "charge.dispute.created":
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			return err
		}
		if dispute.Charge == nil {
			log.Warn("dispute without charge", "dispute_id", dispute.ID)
			return nil
		}
		err := p.payments.HandleChargeDisputed(ctx, dispute.Charge.ID, string(dispute.Reason))
		if errors.Is(err, order.ErrPaymentNotFound) {
			log.Warn("dispute matches no payment",
				"dispute_id", dispute.ID, "charge_id", dispute.Charge.ID)
			return nil
		}
		return err

	default:
		log.Debug("unhandled webhook event type", "event_type", string(event.Type))
		return nil
	}
}
