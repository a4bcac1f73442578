package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

func TestRegisterAgreementMintsSupplyToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.ledger.GetBalance(ctx, ownerAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(1000), b.BalanceWei)
	assert.Zero(t, b.ReservedWei.Sign())

	total, err := f.store.Balances.TotalWei(ctx, f.agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, f.agreement.SupplyWei(), total)
}

func TestRegisterAgreementValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := RegisterAgreementParams{
		Name:             "Wind Farm B",
		Symbol:           "WIND",
		TotalTokenSupply: 100,
		TokenStandard:    domain.TokenStandardERC20,
		TokenContract:    tokenAddr,
		OwnerAddress:     ownerAddr,
	}

	p := base
	p.Name = ""
	_, err := f.ledger.RegisterAgreement(ctx, p)
	assert.ErrorIs(t, err, domain.ErrInvalidAgreement)

	p = base
	p.TotalTokenSupply = 0
	_, err = f.ledger.RegisterAgreement(ctx, p)
	assert.ErrorIs(t, err, domain.ErrInvalidAgreement)

	p = base
	p.TokenStandard = "erc721"
	_, err = f.ledger.RegisterAgreement(ctx, p)
	assert.ErrorIs(t, err, domain.ErrInvalidAgreement)

	p = base
	p.OwnerAddress = "nope"
	_, err = f.ledger.RegisterAgreement(ctx, p)
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	// ERC-1155 agreements need a token unit id.
	p = base
	p.TokenStandard = domain.TokenStandardERC1155
	_, err = f.ledger.RegisterAgreement(ctx, p)
	assert.ErrorIs(t, err, domain.ErrInvalidAgreement)

	p.TokenUnitID = big.NewInt(7)
	_, err = f.ledger.RegisterAgreement(ctx, p)
	assert.NoError(t, err)
}

func TestIssueIsOneShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.ledger.Issue(ctx, f.agreement.ID)
	require.ErrorIs(t, err, domain.ErrInvalidAgreement)

	// The supply did not double.
	total, err := f.store.Balances.TotalWei(ctx, f.agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(1000), total)
}

func TestGetBalanceAbsentRowReadsZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.ledger.GetBalance(ctx, otherAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Zero(t, b.BalanceWei.Sign())

	avail, err := f.ledger.GetAvailableBalance(ctx, otherAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Zero(t, avail.Sign())

	_, err = f.ledger.GetBalance(ctx, "junk", f.agreement.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestListHoldersKeepsZeroRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, 1000)
	_, err := f.trades.Buy(ctx, BuyParams{
		ListingID:       l.ID,
		BuyerAddress:    buyerAddr,
		SharesPurchased: domain.SharesToWei(1000),
	})
	require.NoError(t, err)

	holders, err := f.ledger.ListHolders(ctx, f.agreement.ID)
	require.NoError(t, err)
	require.Len(t, holders, 2, "the sold-out owner keeps a zero row")

	byAddr := make(map[string]*big.Int, len(holders))
	for _, h := range holders {
		byAddr[h.HolderAddress] = h.BalanceWei
	}
	assert.Zero(t, byAddr[ownerAddr].Sign())
	assert.Equal(t, domain.SharesToWei(1000), byAddr[buyerAddr])
}
