// Package reconciliation sweeps up the debris the purchase saga can leave
// behind: lapsed listing reservations, draft payments orphaned by a crash
// between the local commit and the gateway call, and pending payments
// whose webhook never arrived.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stubcollector/stubmarket/internal/listing"
	"github.com/stubcollector/stubmarket/internal/metrics"
	"github.com/stubcollector/stubmarket/internal/order"
	"github.com/stubcollector/stubmarket/internal/payments"
)

// Settler is the slice of the payments service the sweeper drives when a
// stuck payment turns out to have settled or died at the gateway.
type Settler interface {
	HandleIntentSucceeded(ctx context.Context, intentID string) error
	Cancel(ctx context.Context, orderID, reason string) (*order.Order, error)
}

// Report summarizes one sweep run.
type Report struct {
	ReservationsReleased int `json:"reservations_released"`
	DraftsDeleted        int `json:"drafts_deleted"`
	PendingsSettled      int `json:"pendings_settled"`
	PendingsCancelled    int `json:"pendings_cancelled"`
	Errors               int `json:"errors"`
}

// Sweeper runs the reconciliation passes.
type Sweeper struct {
	listings listing.Store
	orders   order.Store
	gateway  payments.Gateway
	settler  Settler

	// draftAge is how long a sentinel draft may sit before it is treated
	// as a crash artifact rather than an in-flight gateway call.
	draftAge time.Duration
	// pendingAge is how long a real intent may stay pending before we ask
	// the gateway directly instead of waiting for the webhook.
	pendingAge time.Duration
	batchLimit int
	now        func() time.Time
}

// NewSweeper creates a sweeper with production defaults.
func NewSweeper(listings listing.Store, orders order.Store, gateway payments.Gateway, settler Settler) *Sweeper {
	return &Sweeper{
		listings:   listings,
		orders:     orders,
		gateway:    gateway,
		settler:    settler,
		draftAge:   15 * time.Minute,
		pendingAge: 15 * time.Minute,
		batchLimit: 100,
		now:        time.Now,
	}
}

// Run executes all three passes and returns a combined report. Individual
// item failures are counted, not fatal; the next run retries them.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	metrics.SweepRunsTotal.Inc()
	report := &Report{}

	if err := s.releaseLapsed(ctx, report); err != nil {
		return report, fmt.Errorf("release lapsed reservations: %w", err)
	}
	if err := s.deleteStaleDrafts(ctx, report); err != nil {
		return report, fmt.Errorf("delete stale drafts: %w", err)
	}
	if err := s.resolveStuckPendings(ctx, report); err != nil {
		return report, fmt.Errorf("resolve stuck pendings: %w", err)
	}
	return report, nil
}

// releaseLapsed frees reservations whose hold expired. The hold is
// advisory, so a buyer may have already stolen it; a conflict here just
// means someone else resolved the listing first.
func (s *Sweeper) releaseLapsed(ctx context.Context, report *Report) error {
	lapsed, err := s.listings.ListLapsedReservations(ctx, s.now(), s.batchLimit)
	if err != nil {
		return err
	}
	for _, l := range lapsed {
		if err := s.listings.Release(ctx, l.ID, l.ReservedBy); err != nil {
			if errors.Is(err, listing.ErrNotReserved) || errors.Is(err, listing.ErrListingNotFound) {
				continue
			}
			report.Errors++
			continue
		}
		report.ReservationsReleased++
		metrics.SweepReleasedTotal.Inc()
		metrics.ReservationsTotal.WithLabelValues("expired").Inc()
	}
	return nil
}

// deleteStaleDrafts removes order/payment pairs whose intent is still the
// creation sentinel long after the purchase started. No real intent was
// ever recorded, so no money can be in flight; deleting the rows and
// releasing the hold restores the listing.
func (s *Sweeper) deleteStaleDrafts(ctx context.Context, report *Report) error {
	drafts, err := s.orders.ListStaleCreating(ctx, s.now().Add(-s.draftAge), s.batchLimit)
	if err != nil {
		return err
	}
	for _, p := range drafts {
		o, err := s.orders.GetOrder(ctx, p.OrderID)
		if err != nil {
			if errors.Is(err, order.ErrOrderNotFound) {
				continue
			}
			report.Errors++
			continue
		}
		if err := s.orders.DeleteOrderAndPayment(ctx, o.ID); err != nil {
			report.Errors++
			continue
		}
		if err := s.listings.Release(ctx, o.ListingID, o.ID); err != nil &&
			!errors.Is(err, listing.ErrNotReserved) && !errors.Is(err, listing.ErrListingNotFound) {
			report.Errors++
		}
		report.DraftsDeleted++
		metrics.SweepStaleDraftsTotal.Inc()
	}
	return nil
}

// resolveStuckPendings asks the gateway about payments that have a real
// intent but never saw a webhook. Succeeded intents settle the order;
// canceled intents cancel it; anything else is left for the next run.
func (s *Sweeper) resolveStuckPendings(ctx context.Context, report *Report) error {
	stuck, err := s.orders.ListStuckPending(ctx, s.now().Add(-s.pendingAge), s.batchLimit)
	if err != nil {
		return err
	}
	for _, p := range stuck {
		intent, err := s.gateway.GetIntent(ctx, p.IntentID)
		if err != nil {
			report.Errors++
			continue
		}
		switch {
		case intent.Succeeded():
			if err := s.settler.HandleIntentSucceeded(ctx, intent.ID); err != nil {
				report.Errors++
				continue
			}
			report.PendingsSettled++
		case intent.Status == "canceled":
			if _, err := s.settler.Cancel(ctx, p.OrderID, "intent canceled at gateway"); err != nil {
				report.Errors++
				continue
			}
			report.PendingsCancelled++
		}
	}
	return nil
}
