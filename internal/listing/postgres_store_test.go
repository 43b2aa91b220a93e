package listing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stubcollector/stubmarket/internal/testutil"
)

func pgListing(id string) *Listing {
	now := time.Now()
	return &Listing{
		ID:         id,
		SellerID:   "usr_aaaaaaaaaaaaaaaaaaaaaaaa",
		Title:      "Wimbledon 1980 Final",
		EventName:  "Wimbledon",
		PriceCents: 12_000,
		Currency:   "USD",
		Status:     StatusActive,

		PaymentRequired: true,

		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPostgresStoreReserveCAS(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	l := pgListing("lst_000000000000000000000001")
	require.NoError(t, store.Create(ctx, l))

	until := time.Now().Add(15 * time.Minute)
	require.NoError(t, store.Reserve(ctx, l.ID, "ord_first", until))

	// Second reservation loses the CAS while the hold is live.
	err := store.Reserve(ctx, l.ID, "ord_second", until)
	assert.ErrorIs(t, err, ErrNotAvailable)

	got, err := store.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReserved, got.Status)
	assert.Equal(t, "ord_first", got.ReservedBy)
}

func TestPostgresStoreStealsLapsedHold(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	l := pgListing("lst_000000000000000000000002")
	require.NoError(t, store.Create(ctx, l))

	require.NoError(t, store.Reserve(ctx, l.ID, "ord_stale", time.Now().Add(-time.Minute)))
	require.NoError(t, store.Reserve(ctx, l.ID, "ord_fresh", time.Now().Add(15*time.Minute)))

	got, err := store.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "ord_fresh", got.ReservedBy)
}

func TestPostgresStoreReleaseRequiresOwner(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	l := pgListing("lst_000000000000000000000003")
	require.NoError(t, store.Create(ctx, l))
	require.NoError(t, store.Reserve(ctx, l.ID, "ord_owner", time.Now().Add(15*time.Minute)))

	assert.ErrorIs(t, store.Release(ctx, l.ID, "ord_intruder"), ErrNotReserved)
	require.NoError(t, store.Release(ctx, l.ID, "ord_owner"))

	got, err := store.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
}

func TestPostgresStoreFinalizeAndReopen(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	l := pgListing("lst_000000000000000000000004")
	require.NoError(t, store.Create(ctx, l))
	require.NoError(t, store.Reserve(ctx, l.ID, "ord_buy", time.Now().Add(15*time.Minute)))
	require.NoError(t, store.Finalize(ctx, l.ID, "ord_buy", time.Now()))

	got, err := store.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSold, got.Status)
	require.NotNil(t, got.SoldAt)

	require.NoError(t, store.Reopen(ctx, l.ID))
	got, err = store.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Nil(t, got.SoldAt)
}

func TestPostgresStoreListLapsedReservations(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	lapsed := pgListing("lst_000000000000000000000005")
	require.NoError(t, store.Create(ctx, lapsed))
	require.NoError(t, store.Reserve(ctx, lapsed.ID, "ord_a", time.Now().Add(-time.Minute)))

	live := pgListing("lst_000000000000000000000006")
	require.NoError(t, store.Create(ctx, live))
	require.NoError(t, store.Reserve(ctx, live.ID, "ord_b", time.Now().Add(15*time.Minute)))

	got, err := store.ListLapsedReservations(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, lapsed.ID, got[0].ID)
}
