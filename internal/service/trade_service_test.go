package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

func TestBuyPartialFillKeepsListingActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, 500)

	trade, err := f.trades.Buy(ctx, BuyParams{
		ListingID:       l.ID,
		BuyerAddress:    buyerAddr,
		SharesPurchased: domain.SharesToWei(200),
	})
	require.NoError(t, err)
	assert.Equal(t, buyerAddr, trade.BuyerAddress)
	assert.Equal(t, ownerAddr, trade.SellerAddress)
	assert.Equal(t, "0xaaa111", trade.TxHash)

	got, err := f.listings.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusActive, got.Status)
	assert.Equal(t, domain.SharesToWei(300), got.SharesForSale)

	seller, err := f.store.Balances.Get(ctx, ownerAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(800), seller.BalanceWei)
	assert.Equal(t, domain.SharesToWei(300), seller.ReservedWei)

	buyer, err := f.store.Balances.Get(ctx, buyerAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(200), buyer.BalanceWei)
}

func TestBuyFullFillMarksListingSold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, 300)

	_, err := f.trades.Buy(ctx, BuyParams{
		ListingID:       l.ID,
		BuyerAddress:    buyerAddr,
		SharesPurchased: domain.SharesToWei(300),
	})
	require.NoError(t, err)

	got, err := f.listings.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusSold, got.Status)

	// Buying from a sold listing fails before any chain call.
	calls := f.chain.transferCalls
	_, err = f.trades.Buy(ctx, BuyParams{
		ListingID:       l.ID,
		BuyerAddress:    buyerAddr,
		SharesPurchased: domain.SharesToWei(1),
	})
	require.ErrorIs(t, err, domain.ErrListingNotActive)
	assert.Equal(t, calls, f.chain.transferCalls)
}

func TestBuyValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, 100)

	_, err := f.trades.Buy(ctx, BuyParams{ListingID: l.ID, BuyerAddress: "bogus", SharesPurchased: domain.SharesToWei(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	_, err = f.trades.Buy(ctx, BuyParams{ListingID: l.ID, BuyerAddress: buyerAddr, SharesPurchased: nil})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	// The seller cannot buy their own listing.
	_, err = f.trades.Buy(ctx, BuyParams{ListingID: l.ID, BuyerAddress: ownerAddr, SharesPurchased: domain.SharesToWei(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	_, err = f.trades.Buy(ctx, BuyParams{ListingID: l.ID, BuyerAddress: buyerAddr, SharesPurchased: domain.SharesToWei(101)})
	assert.ErrorIs(t, err, domain.ErrInsufficientSharesAvailable)

	assert.Equal(t, 0, f.chain.transferCalls, "validation failures must not reach the chain")
}

func TestBuyChainTimeoutLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, 100)
	f.chain.transferErr = domain.ErrChainTimeout

	_, err := f.trades.Buy(ctx, BuyParams{
		ListingID:       l.ID,
		BuyerAddress:    buyerAddr,
		SharesPurchased: domain.SharesToWei(50),
	})
	require.ErrorIs(t, err, domain.ErrChainTimeout)

	// The error hands the caller the submitted hash for ResolvePending.
	var pending *domain.PendingSettlementError
	require.ErrorAs(t, err, &pending)
	assert.Equal(t, "0xaaa111", pending.TxHash)

	// Nothing moved locally and the undetermined outcome was recorded.
	got, err := f.listings.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(100), got.SharesForSale)
	buyer, err := f.store.Balances.Get(ctx, buyerAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Zero(t, buyer.BalanceWei.Sign())
	assert.Equal(t, 1, f.auditEvents(t, "chain_transfer_undetermined"))
	assert.Equal(t, 1, f.chain.transferCalls, "no automatic resubmission")
}

func TestBuyChainRevertedLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, 100)
	f.chain.transferErr = domain.ErrChainReverted

	_, err := f.trades.Buy(ctx, BuyParams{
		ListingID:       l.ID,
		BuyerAddress:    buyerAddr,
		SharesPurchased: domain.SharesToWei(50),
	})
	require.ErrorIs(t, err, domain.ErrChainReverted)

	buyer, err := f.store.Balances.Get(ctx, buyerAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Zero(t, buyer.BalanceWei.Sign())
}

func TestBuySettlementDivergenceIsSurfaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, 600)

	// Drain part of the seller's balance behind the listing's back so the
	// local settlement fails after the transfer confirms.
	require.NoError(t, f.store.Balances.Debit(ctx, ownerAddr, f.agreement.ID, domain.SharesToWei(500)))

	_, err := f.trades.Buy(ctx, BuyParams{
		ListingID:       l.ID,
		BuyerAddress:    buyerAddr,
		SharesPurchased: domain.SharesToWei(600),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, 1, f.chain.transferCalls, "the transfer did run")

	assert.Equal(t, 1, f.auditEvents(t, "settlement_divergence"))
	assert.Equal(t, 1, f.bus.count(domain.ChannelAnomalies))
}

func TestResolvePendingSettlesConfirmedTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, 100)
	p := BuyParams{ListingID: l.ID, BuyerAddress: buyerAddr, SharesPurchased: domain.SharesToWei(100)}

	f.chain.transferErr = domain.ErrChainTimeout
	_, err := f.trades.Buy(ctx, p)
	require.ErrorIs(t, err, domain.ErrChainTimeout)

	// The transaction later turns out to have landed.
	f.chain.receipts["0xaaa111"] = domain.TransferReceipt{TxHash: "0xaaa111", GasUsed: 30000}

	trade, err := f.trades.ResolvePending(ctx, "0xaaa111", p)
	require.NoError(t, err)
	assert.Equal(t, "0xaaa111", trade.TxHash)

	got, err := f.listings.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusSold, got.Status)

	// Resolving again returns the same trade without touching the ledger.
	again, err := f.trades.ResolvePending(ctx, "0xaaa111", p)
	require.NoError(t, err)
	assert.Equal(t, trade.ID, again.ID)
	buyer, err := f.store.Balances.Get(ctx, buyerAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(100), buyer.BalanceWei)
}

func TestResolvePendingUnminedTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, 100)

	_, err := f.trades.ResolvePending(ctx, "0xdeadbeef", BuyParams{
		ListingID:       l.ID,
		BuyerAddress:    buyerAddr,
		SharesPurchased: domain.SharesToWei(10),
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := f.listings.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(100), got.SharesForSale)
}

func TestTradeLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, 100)
	trade, err := f.trades.Buy(ctx, BuyParams{
		ListingID:       l.ID,
		BuyerAddress:    buyerAddr,
		SharesPurchased: domain.SharesToWei(40),
	})
	require.NoError(t, err)

	byID, err := f.trades.Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, trade.TxHash, byID.TxHash)

	byTx, err := f.trades.GetByTxHash(ctx, trade.TxHash)
	require.NoError(t, err)
	assert.Equal(t, trade.ID, byTx.ID)

	byListing, err := f.trades.ListByListing(ctx, l.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, byListing, 1)

	for _, wallet := range []string{buyerAddr, ownerAddr} {
		byWallet, err := f.trades.ListByWallet(ctx, wallet, domain.ListOpts{})
		require.NoError(t, err)
		assert.Len(t, byWallet, 1)
	}
}
