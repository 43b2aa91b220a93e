package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFee(t *testing.T) {
	tests := []struct {
		name         string
		amount       int64
		pct          float64
		wantPlatform int64
		wantSeller   int64
	}{
		{"ten percent of 5000", 5000, 0.10, 500, 4500},
		{"floor on odd amounts", 999, 0.10, 99, 900},
		{"zero fee", 5000, 0, 0, 5000},
		{"fifteen percent", 12345, 0.15, 1851, 10494},
		{"one cent", 1, 0.10, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform, seller := SplitFee(tt.amount, tt.pct)
			assert.Equal(t, tt.wantPlatform, platform)
			assert.Equal(t, tt.wantSeller, seller)
			assert.Equal(t, tt.amount, platform+seller, "split must preserve the total")
		})
	}
}

func TestNew_DraftState(t *testing.T) {
	o, p := New("lst_1", "usr_buyer", "usr_seller", 5000, "USD", 0.10)

	assert.Equal(t, StatusPaymentPending, o.Status)
	assert.Equal(t, int64(500), o.PlatformFeeCents)
	assert.Equal(t, int64(4500), o.SellerAmountCents)

	assert.Equal(t, o.ID, p.OrderID)
	assert.Equal(t, PaymentCreating, p.Status)
	assert.Equal(t, IntentPending, p.IntentID)
	assert.Equal(t, LiabilityPending, p.LiabilityStatus)
	assert.False(t, p.SellerLiable())
	assert.Contains(t, o.ID, "ord_")
	assert.Contains(t, p.ID, "pay_")
}

type fakeSyncer struct {
	finalized string
	released  string
	reopened  string
}

func (f *fakeSyncer) Finalize(_ context.Context, listingID, _ string, _ time.Time) error {
	f.finalized = listingID
	return nil
}
func (f *fakeSyncer) Release(_ context.Context, listingID, _ string) error {
	f.released = listingID
	return nil
}
func (f *fakeSyncer) Reopen(_ context.Context, listingID string) error {
	f.reopened = listingID
	return nil
}

func TestSyncListingStatus_Mapping(t *testing.T) {
	ctx := context.Background()

	t.Run("completed finalizes", func(t *testing.T) {
		s := &fakeSyncer{}
		o := &Order{ID: "ord_1", ListingID: "lst_1", Status: StatusPaymentCompleted}
		require.NoError(t, SyncListingStatus(ctx, s, o))
		assert.Equal(t, "lst_1", s.finalized)
	})

	t.Run("cancelled releases", func(t *testing.T) {
		s := &fakeSyncer{}
		o := &Order{ID: "ord_1", ListingID: "lst_1", Status: StatusCancelled}
		require.NoError(t, SyncListingStatus(ctx, s, o))
		assert.Equal(t, "lst_1", s.released)
	})

	t.Run("refunded reopens", func(t *testing.T) {
		s := &fakeSyncer{}
		o := &Order{ID: "ord_1", ListingID: "lst_1", Status: StatusRefunded}
		require.NoError(t, SyncListingStatus(ctx, s, o))
		assert.Equal(t, "lst_1", s.reopened)
	})

	t.Run("pending is a no-op", func(t *testing.T) {
		s := &fakeSyncer{}
		o := &Order{ID: "ord_1", ListingID: "lst_1", Status: StatusPaymentPending}
		require.NoError(t, SyncListingStatus(ctx, s, o))
		assert.Empty(t, s.finalized)
		assert.Empty(t, s.released)
		assert.Empty(t, s.reopened)
	})
}

func TestMemoryStore_CreateAndLookups(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	o, p := New("lst_1", "usr_buyer", "usr_seller", 5000, "USD", 0.10)
	require.NoError(t, store.CreateOrderWithPayment(ctx, o, p))

	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ListingID, got.ListingID)

	gotPay, err := store.GetPaymentByOrderID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, gotPay.ID)

	active, err := store.ActiveOrderForListing(ctx, "lst_1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, active.ID)
}

func TestMemoryStore_DuplicateActiveOrderRejected(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	o1, p1 := New("lst_1", "usr_b1", "usr_seller", 5000, "USD", 0.10)
	require.NoError(t, store.CreateOrderWithPayment(ctx, o1, p1))

	o2, p2 := New("lst_1", "usr_b2", "usr_seller", 5000, "USD", 0.10)
	assert.ErrorIs(t, store.CreateOrderWithPayment(ctx, o2, p2), ErrDuplicateOrder)

	// Once the first order leaves payment_pending, a new order is allowed.
	o1.Status = StatusCancelled
	require.NoError(t, store.UpdateOrder(ctx, o1))
	require.NoError(t, store.CreateOrderWithPayment(ctx, o2, p2))
}

func TestMemoryStore_IntentSentinelNeverMatches(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	o, p := New("lst_1", "usr_buyer", "usr_seller", 5000, "USD", 0.10)
	require.NoError(t, store.CreateOrderWithPayment(ctx, o, p))

	_, err := store.GetPaymentByIntentID(ctx, IntentPending)
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	p.IntentID = "pi_real123456"
	p.Status = PaymentPending
	require.NoError(t, store.UpdatePayment(ctx, p))

	got, err := store.GetPaymentByIntentID(ctx, "pi_real123456")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestMemoryStore_DeleteOrderAndPayment(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	o, p := New("lst_1", "usr_buyer", "usr_seller", 5000, "USD", 0.10)
	require.NoError(t, store.CreateOrderWithPayment(ctx, o, p))

	require.NoError(t, store.DeleteOrderAndPayment(ctx, o.ID))

	_, err := store.GetOrder(ctx, o.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = store.GetPayment(ctx, p.ID)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestMemoryStore_ListStaleCreating(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	o, p := New("lst_1", "usr_buyer", "usr_seller", 5000, "USD", 0.10)
	p.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateOrderWithPayment(ctx, o, p))

	// A payment with a real intent is not a stale draft.
	o2, p2 := New("lst_2", "usr_buyer", "usr_seller", 5000, "USD", 0.10)
	p2.IntentID = "pi_real123456"
	p2.Status = PaymentPending
	p2.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateOrderWithPayment(ctx, o2, p2))

	stale, err := store.ListStaleCreating(ctx, time.Now().Add(-15*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, p.ID, stale[0].ID)

	stuck, err := store.ListStuckPending(ctx, time.Now().Add(-15*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, p2.ID, stuck[0].ID)
}
