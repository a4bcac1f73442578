package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

func TestListingCreateReservesShares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, 400)
	assert.Equal(t, domain.ListingStatusActive, l.Status)

	b, err := f.store.Balances.Get(ctx, ownerAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(400), b.ReservedWei)
	assert.Equal(t, domain.SharesToWei(600), b.AvailableWei())
}

func TestListingCreateRejectsOverListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The owner holds 1000 shares. A first listing of 700 reserves them, so
	// a second listing of 400 would commit 1100 against 1000 held.
	f.list(t, 700)

	_, err := f.listings.Create(ctx, CreateListingParams{
		AgreementID:   f.agreement.ID,
		SellerAddress: ownerAddr,
		SharesForSale: domain.SharesToWei(400),
		PricePerShare: big.NewInt(1),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientAvailableBalance)

	// The remaining 300 still list fine.
	f.list(t, 300)
}

func TestListingCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.listings.Create(ctx, CreateListingParams{
		AgreementID:   f.agreement.ID,
		SellerAddress: "not-an-address",
		SharesForSale: domain.SharesToWei(1),
		PricePerShare: big.NewInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	_, err = f.listings.Create(ctx, CreateListingParams{
		AgreementID:   f.agreement.ID,
		SellerAddress: ownerAddr,
		SharesForSale: big.NewInt(0),
		PricePerShare: big.NewInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.listings.Create(ctx, CreateListingParams{
		AgreementID:   f.agreement.ID,
		SellerAddress: ownerAddr,
		SharesForSale: domain.SharesToWei(1),
		PricePerShare: big.NewInt(-5),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	// An unknown agreement is rejected as invalid input, not a 404.
	_, err = f.listings.Create(ctx, CreateListingParams{
		AgreementID:   "missing",
		SellerAddress: ownerAddr,
		SharesForSale: domain.SharesToWei(1),
		PricePerShare: big.NewInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAgreement)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestListingCancelReleasesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, 250)

	out, err := f.listings.Cancel(ctx, l.ID, ownerAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusCancelled, out.Status)

	b, err := f.store.Balances.Get(ctx, ownerAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(1000), b.AvailableWei())

	// A terminal listing cannot be cancelled again.
	_, err = f.listings.Cancel(ctx, l.ID, ownerAddr)
	assert.ErrorIs(t, err, domain.ErrListingNotActive)
}

func TestListingCancelRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, 100)

	_, err := f.listings.Cancel(ctx, l.ID, otherAddr)
	require.ErrorIs(t, err, domain.ErrNotOwner)

	got, err := f.listings.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusActive, got.Status)
}

func TestListingExpireDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour)
	l, err := f.listings.Create(ctx, CreateListingParams{
		AgreementID:   f.agreement.ID,
		SellerAddress: ownerAddr,
		SharesForSale: domain.SharesToWei(100),
		PricePerShare: big.NewInt(1),
		ExpiresAt:     &expiry,
	})
	require.NoError(t, err)
	f.list(t, 200) // no expiry, must survive the sweep

	expired, err := f.listings.ExpireDue(ctx, expiry.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, l.ID, expired[0].ID)
	assert.Equal(t, domain.ListingStatusExpired, expired[0].Status)

	// Only the expired listing's reservation was released.
	b, err := f.store.Balances.Get(ctx, ownerAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(200), b.ReservedWei)

	// A second sweep finds nothing.
	expired, err = f.listings.ExpireDue(ctx, expiry.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)
}
