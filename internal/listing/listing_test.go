package listing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewService(store, "USD"), store
}

func createActive(t *testing.T, svc *Service, sellerID string) *Listing {
	t.Helper()
	l, err := svc.Create(context.Background(), CreateRequest{
		SellerID:   sellerID,
		Title:      "1994 World Cup Final stub",
		EventName:  "1994 FIFA World Cup Final",
		PriceCents: 5000,
	})
	require.NoError(t, err)
	return l
}

func TestCreate_Defaults(t *testing.T) {
	svc, _ := newTestService(t)

	l := createActive(t, svc, "usr_aaaaaaaaaaaaaaaaaaaaaaaa")
	assert.Equal(t, StatusActive, l.Status)
	assert.Equal(t, "USD", l.Currency)
	assert.NotEmpty(t, l.ID)
	assert.Contains(t, l.ID, "lst_")
}

func TestCreate_RejectsUnsupportedCurrency(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreateRequest{
		SellerID:   "usr_aaaaaaaaaaaaaaaaaaaaaaaa",
		Title:      "stub",
		EventName:  "event",
		PriceCents: 5000,
		Currency:   "EUR",
	})
	assert.Error(t, err)
}

func TestReserve_HappyPath(t *testing.T) {
	svc, _ := newTestService(t)
	l := createActive(t, svc, "usr_aaaaaaaaaaaaaaaaaaaaaaaa")

	until := time.Now().Add(15 * time.Minute)
	reserved, err := svc.Reserve(context.Background(), l.ID, "usr_bbbbbbbbbbbbbbbbbbbbbbbb", "ord_1", until)
	require.NoError(t, err)

	assert.Equal(t, StatusReserved, reserved.Status)
	assert.Equal(t, "ord_1", reserved.ReservedBy)
	require.NotNil(t, reserved.ReservedUntil)
}

func TestReserve_SelfPurchaseRejected(t *testing.T) {
	svc, _ := newTestService(t)
	seller := "usr_aaaaaaaaaaaaaaaaaaaaaaaa"
	l := createActive(t, svc, seller)

	_, err := svc.Reserve(context.Background(), l.ID, seller, "ord_1", time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, ErrSelfPurchase)
}

func TestReserve_AlreadyReserved(t *testing.T) {
	svc, _ := newTestService(t)
	l := createActive(t, svc, "usr_aaaaaaaaaaaaaaaaaaaaaaaa")

	until := time.Now().Add(15 * time.Minute)
	_, err := svc.Reserve(context.Background(), l.ID, "usr_b1", "ord_1", until)
	require.NoError(t, err)

	_, err = svc.Reserve(context.Background(), l.ID, "usr_b2", "ord_2", until)
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestReserve_StealsLapsedHold(t *testing.T) {
	svc, _ := newTestService(t)
	l := createActive(t, svc, "usr_aaaaaaaaaaaaaaaaaaaaaaaa")

	// First buyer's hold already lapsed.
	_, err := svc.Reserve(context.Background(), l.ID, "usr_b1", "ord_1", time.Now().Add(-time.Second))
	require.NoError(t, err)

	reserved, err := svc.Reserve(context.Background(), l.ID, "usr_b2", "ord_2", time.Now().Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "ord_2", reserved.ReservedBy)
}

func TestReserve_ConcurrentBuyersOneWins(t *testing.T) {
	svc, _ := newTestService(t)
	l := createActive(t, svc, "usr_aaaaaaaaaaaaaaaaaaaaaaaa")

	const buyers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	until := time.Now().Add(15 * time.Minute)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), l.ID,
				"usr_b", "ord_"+string(rune('a'+n)), until)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one buyer should win the reservation")
}

func TestRelease_OnlyOwnerReleases(t *testing.T) {
	svc, _ := newTestService(t)
	l := createActive(t, svc, "usr_aaaaaaaaaaaaaaaaaaaaaaaa")

	_, err := svc.Reserve(context.Background(), l.ID, "usr_b1", "ord_1", time.Now().Add(time.Minute))
	require.NoError(t, err)

	// A non-owning order's release is a no-op and leaves the hold intact.
	require.NoError(t, svc.Release(context.Background(), l.ID, "ord_other"))
	held, err := svc.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReserved, held.Status)
	assert.Equal(t, "ord_1", held.ReservedBy)

	require.NoError(t, svc.Release(context.Background(), l.ID, "ord_1"))

	got, err := svc.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Empty(t, got.ReservedBy)

	// Releasing an already-released hold is also a no-op.
	require.NoError(t, svc.Release(context.Background(), l.ID, "ord_1"))
}

func TestFinalize_ThenReopen(t *testing.T) {
	svc, _ := newTestService(t)
	l := createActive(t, svc, "usr_aaaaaaaaaaaaaaaaaaaaaaaa")

	_, err := svc.Reserve(context.Background(), l.ID, "usr_b1", "ord_1", time.Now().Add(time.Minute))
	require.NoError(t, err)

	soldAt := time.Now()
	require.NoError(t, svc.Finalize(context.Background(), l.ID, "ord_1", soldAt))

	got, err := svc.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSold, got.Status)
	require.NotNil(t, got.SoldAt)

	// Refund path: sold → active, sold_at cleared.
	require.NoError(t, svc.Reopen(context.Background(), l.ID))
	got, err = svc.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Nil(t, got.SoldAt)
}

func TestFinalize_WrongOrderRejected(t *testing.T) {
	svc, _ := newTestService(t)
	l := createActive(t, svc, "usr_aaaaaaaaaaaaaaaaaaaaaaaa")

	_, err := svc.Reserve(context.Background(), l.ID, "usr_b1", "ord_1", time.Now().Add(time.Minute))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Finalize(context.Background(), l.ID, "ord_2", time.Now()), ErrNotReserved)
}

func TestReopen_RequiresSold(t *testing.T) {
	svc, _ := newTestService(t)
	l := createActive(t, svc, "usr_aaaaaaaaaaaaaaaaaaaaaaaa")

	assert.ErrorIs(t, svc.Reopen(context.Background(), l.ID), ErrNotSold)
}

func TestRemove_BlockedWhileReserved(t *testing.T) {
	svc, _ := newTestService(t)
	seller := "usr_aaaaaaaaaaaaaaaaaaaaaaaa"
	l := createActive(t, svc, seller)

	_, err := svc.Reserve(context.Background(), l.ID, "usr_b1", "ord_1", time.Now().Add(time.Minute))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Remove(context.Background(), l.ID, seller), ErrNotAvailable)
}

func TestListLapsedReservations(t *testing.T) {
	svc, store := newTestService(t)
	l := createActive(t, svc, "usr_aaaaaaaaaaaaaaaaaaaaaaaa")

	_, err := svc.Reserve(context.Background(), l.ID, "usr_b1", "ord_1", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	lapsed, err := store.ListLapsedReservations(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, lapsed, 1)
	assert.Equal(t, l.ID, lapsed[0].ID)
}

func TestAvailableAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	active := &Listing{Status: StatusActive}
	assert.True(t, active.AvailableAt(now))

	lapsed := &Listing{Status: StatusReserved, ReservedUntil: &past}
	assert.True(t, lapsed.AvailableAt(now))

	held := &Listing{Status: StatusReserved, ReservedUntil: &future}
	assert.False(t, held.AvailableAt(now))

	sold := &Listing{Status: StatusSold}
	assert.False(t, sold.AvailableAt(now))
}
