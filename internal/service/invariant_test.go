package service

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// sharesOf converts a wei amount back to whole shares.
func sharesOf(wei *big.Int) int64 {
	return new(big.Int).Div(wei, domain.WeiPerShare()).Int64()
}

// assertLedgerInvariants checks, for every agreement, that the ledger still
// sums to the minted supply and that no holder reserves more than they hold.
func assertLedgerInvariants(t *testing.T, f *fixture, agreements []domain.Agreement) {
	t.Helper()
	ctx := context.Background()
	for _, a := range agreements {
		total, err := f.store.Balances.TotalWei(ctx, a.ID)
		require.NoError(t, err)
		require.Zero(t, total.Cmp(a.SupplyWei()),
			"agreement %s: ledger sums to %s, minted supply is %s", a.Symbol, total, a.SupplyWei())

		rows, err := f.store.Balances.ListByAgreement(ctx, a.ID)
		require.NoError(t, err)
		for _, b := range rows {
			require.GreaterOrEqual(t, b.BalanceWei.Sign(), 0, "holder %s went negative", b.HolderAddress)
			require.GreaterOrEqual(t, b.ReservedWei.Sign(), 0, "holder %s reservation went negative", b.HolderAddress)
			require.LessOrEqual(t, b.ReservedWei.Cmp(b.BalanceWei), 0,
				"holder %s reserves %s over balance %s", b.HolderAddress, b.ReservedWei, b.BalanceWei)
		}
	}
}

func randomActiveListing(t *testing.T, f *fixture, rng *rand.Rand, a domain.Agreement) *domain.Listing {
	t.Helper()
	all, err := f.store.Listings.ListByAgreement(context.Background(), a.ID, domain.ListOpts{Limit: 500})
	require.NoError(t, err)
	var active []domain.Listing
	for _, l := range all {
		if l.Status == domain.ListingStatusActive {
			active = append(active, l)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return &active[rng.Intn(len(active))]
}

func randomListing(t *testing.T, f *fixture, rng *rand.Rand, a domain.Agreement, holders []string) {
	t.Helper()
	ctx := context.Background()
	for _, i := range rng.Perm(len(holders)) {
		b, err := f.store.Balances.Get(ctx, holders[i], a.ID)
		require.NoError(t, err)
		avail := sharesOf(b.AvailableWei())
		if avail < 1 {
			continue
		}
		p := CreateListingParams{
			AgreementID:   a.ID,
			SellerAddress: holders[i],
			SharesForSale: domain.SharesToWei(rng.Int63n(avail) + 1),
			PricePerShare: big.NewInt(rng.Int63n(1_000_000) + 1),
		}
		if rng.Intn(3) == 0 {
			exp := time.Now().Add(time.Hour)
			p.ExpiresAt = &exp
		}
		_, err = f.listings.Create(ctx, p)
		require.NoError(t, err)
		return
	}
}

func randomBuy(t *testing.T, f *fixture, rng *rand.Rand, a domain.Agreement, holders []string) {
	t.Helper()
	l := randomActiveListing(t, f, rng, a)
	if l == nil {
		return
	}
	buyer := holders[rng.Intn(len(holders))]
	if buyer == l.SellerAddress {
		return
	}
	_, err := f.trades.Buy(context.Background(), BuyParams{
		ListingID:       l.ID,
		BuyerAddress:    buyer,
		SharesPurchased: domain.SharesToWei(rng.Int63n(sharesOf(l.SharesForSale)) + 1),
	})
	require.NoError(t, err)
}

// driftAndReconcile mirrors the ledger onto the chain except for one transfer
// the ledger missed, then lets a plan/apply round correct both halves. The
// pair nets to zero, so the supply sum must survive the correction.
func driftAndReconcile(t *testing.T, f *fixture, rng *rand.Rand) {
	t.Helper()
	ctx := context.Background()
	rows, err := f.store.Balances.ListByAgreement(ctx, f.agreement.ID)
	require.NoError(t, err)
	if len(rows) < 2 {
		return
	}
	for _, b := range rows {
		f.chain.setBalance(b.HolderAddress, b.BalanceWei)
	}

	var from, to *domain.ShareBalance
	for _, i := range rng.Perm(len(rows)) {
		if from == nil && sharesOf(rows[i].AvailableWei()) >= 1 {
			from = &rows[i]
		}
	}
	if from == nil {
		return
	}
	for _, i := range rng.Perm(len(rows)) {
		if rows[i].HolderAddress != from.HolderAddress {
			to = &rows[i]
			break
		}
	}

	amt := domain.SharesToWei(rng.Int63n(sharesOf(from.AvailableWei())) + 1)
	f.chain.setBalance(from.HolderAddress, new(big.Int).Sub(from.BalanceWei, amt))
	f.chain.setBalance(to.HolderAddress, new(big.Int).Add(to.BalanceWei, amt))

	plan, err := f.reconcile.Plan(ctx, f.agreement.ID)
	require.NoError(t, err)
	require.False(t, plan.Clean())

	_, err = f.reconcile.Apply(ctx, plan.ID, plan.ConfirmToken)
	require.NoError(t, err)
}

// Whatever interleaving of mints, listings, cancellations, expiries, partial
// and full buys, and reconciliation rounds the seed produces, every
// agreement's balances must keep summing to its minted supply and every
// reservation must stay within its holder's balance, after every single step.
func TestLedgerInvariantsHoldAcrossRandomOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	holders := []string{
		ownerAddr,
		buyerAddr,
		otherAddr,
		"0x5555555555555555555555555555555555555555",
		"0x6666666666666666666666666666666666666666",
	}
	agreements := []domain.Agreement{f.agreement}

	const steps = 250
	for i := 0; i < steps; i++ {
		a := agreements[rng.Intn(len(agreements))]
		switch rng.Intn(12) {
		case 0:
			minted, err := f.ledger.RegisterAgreement(ctx, RegisterAgreementParams{
				Name:             fmt.Sprintf("Asset %d", i),
				Symbol:           fmt.Sprintf("AST%d", i),
				TotalTokenSupply: rng.Int63n(900) + 100,
				TokenStandard:    domain.TokenStandardERC20,
				TokenContract:    tokenAddr,
				OwnerAddress:     holders[rng.Intn(len(holders))],
			})
			require.NoError(t, err)
			agreements = append(agreements, minted)
		case 1, 2, 3:
			randomListing(t, f, rng, a, holders)
		case 4:
			if l := randomActiveListing(t, f, rng, a); l != nil {
				_, err := f.listings.Cancel(ctx, l.ID, l.SellerAddress)
				require.NoError(t, err)
			}
		case 5:
			_, err := f.listings.ExpireDue(ctx, time.Now().Add(2*time.Hour))
			require.NoError(t, err)
		case 6, 7, 8, 9:
			randomBuy(t, f, rng, a, holders)
		case 10:
			driftAndReconcile(t, f, rng)
		case 11:
			report, err := f.reconcile.OverListingAudit(ctx, a.ID)
			require.NoError(t, err)
			require.Empty(t, report, "guarded paths must never over-list")
		}
		assertLedgerInvariants(t, f, agreements)
	}
}
