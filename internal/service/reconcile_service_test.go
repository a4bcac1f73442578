package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

func TestPlanCleanWhenChainMatchesLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.chain.setBalance(ownerAddr, domain.SharesToWei(1000))

	plan, err := f.reconcile.Plan(ctx, f.agreement.ID)
	require.NoError(t, err)
	assert.True(t, plan.Clean())

	// Clean plans are not persisted.
	stored, err := f.reconcile.ListPlans(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestPlanRecordsDriftAsPendingPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The chain says the owner holds 900 while the ledger says 1000.
	f.chain.setBalance(ownerAddr, domain.SharesToWei(900))

	plan, err := f.reconcile.Plan(ctx, f.agreement.ID)
	require.NoError(t, err)
	require.Len(t, plan.Diffs, 1)
	assert.Equal(t, domain.PlanStatusPending, plan.Status)
	assert.NotEmpty(t, plan.ConfirmToken)

	d := plan.Diffs[0]
	assert.Equal(t, ownerAddr, d.HolderAddress)
	assert.Equal(t, domain.SharesToWei(100), d.DeltaWei)
	assert.Equal(t, domain.DiffActionChainTransfer, d.Action)

	// Nothing was corrected: Plan is a dry run.
	b, err := f.store.Balances.Get(ctx, ownerAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(1000), b.BalanceWei)
	assert.Equal(t, 1, f.bus.count(domain.ChannelAnomalies))
}

func TestClassifyDiffsPairsSettlementDivergence(t *testing.T) {
	// A seller 100 ahead of the chain mirrored by a buyer 100 behind is the
	// two halves of one missed settlement: both corrected on the ledger.
	diffs := []domain.BalanceDiff{
		{HolderAddress: ownerAddr, DeltaWei: domain.SharesToWei(100)},
		{HolderAddress: buyerAddr, DeltaWei: new(big.Int).Neg(domain.SharesToWei(100))},
		{HolderAddress: otherAddr, DeltaWei: domain.SharesToWei(30)},
	}
	classifyDiffs(diffs)

	assert.Equal(t, domain.DiffActionLedgerDebit, diffs[0].Action)
	assert.Equal(t, domain.DiffActionLedgerCredit, diffs[1].Action)
	assert.Equal(t, domain.DiffActionChainTransfer, diffs[2].Action, "unpaired surplus needs an on-chain transfer")
}

func TestApplyCorrectsMissedSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The buyer already holds 100 on the ledger. A later 200-share transfer
	// confirmed on-chain but never reached the local commit, so the chain
	// shows 800/300 while the ledger still says 1000/100.
	require.NoError(t, f.store.Balances.Credit(ctx, buyerAddr, f.agreement.ID, domain.SharesToWei(100)))
	f.chain.setBalance(ownerAddr, domain.SharesToWei(800))
	f.chain.setBalance(buyerAddr, domain.SharesToWei(300))

	plan, err := f.reconcile.Plan(ctx, f.agreement.ID)
	require.NoError(t, err)
	require.Len(t, plan.Diffs, 2)

	applied, err := f.reconcile.Apply(ctx, plan.ID, plan.ConfirmToken)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusApplied, applied.Status)
	require.NotNil(t, applied.AppliedAt)

	// Both halves were corrected on the ledger; nothing went to the chain.
	seller, err := f.store.Balances.Get(ctx, ownerAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(800), seller.BalanceWei)
	buyer, err := f.store.Balances.Get(ctx, buyerAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(300), buyer.BalanceWei)
	assert.Equal(t, 0, f.chain.transferCalls)
}

func TestApplyRequiresConfirmToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.chain.setBalance(ownerAddr, domain.SharesToWei(900))
	plan, err := f.reconcile.Plan(ctx, f.agreement.ID)
	require.NoError(t, err)

	_, err = f.reconcile.Apply(ctx, plan.ID, "wrong-token")
	require.ErrorIs(t, err, domain.ErrPlanTokenMismatch)

	got, err := f.reconcile.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusPending, got.Status)
}

func TestApplyRejectsNonPendingPlans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.chain.setBalance(ownerAddr, domain.SharesToWei(900))
	plan, err := f.reconcile.Plan(ctx, f.agreement.ID)
	require.NoError(t, err)

	require.NoError(t, f.reconcile.Discard(ctx, plan.ID))

	_, err = f.reconcile.Apply(ctx, plan.ID, plan.ConfirmToken)
	require.ErrorIs(t, err, domain.ErrPlanNotPending)

	got, err := f.reconcile.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusDiscarded, got.Status)
}

func TestApplyDrivesChainTransferForSurplus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Ledger ahead of chain with no mirrored deficit: the chain must catch
	// up via a transfer.
	f.chain.setBalance(ownerAddr, domain.SharesToWei(950))

	plan, err := f.reconcile.Plan(ctx, f.agreement.ID)
	require.NoError(t, err)
	require.Len(t, plan.Diffs, 1)
	require.Equal(t, domain.DiffActionChainTransfer, plan.Diffs[0].Action)

	_, err = f.reconcile.Apply(ctx, plan.ID, plan.ConfirmToken)
	require.NoError(t, err)
	assert.Equal(t, 1, f.chain.transferCalls)

	// The ledger balance itself stays put.
	b, err := f.store.Balances.Get(ctx, ownerAddr, f.agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(1000), b.BalanceWei)
}

func TestReconcileChainCallsAreBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// An unpaired surplus drives an on-chain transfer during apply, so both
	// the balance reads and the transfer go through here.
	f.chain.setBalance(ownerAddr, domain.SharesToWei(700))

	plan, err := f.reconcile.Plan(ctx, f.agreement.ID)
	require.NoError(t, err)
	require.False(t, plan.Clean())

	_, err = f.reconcile.Apply(ctx, plan.ID, plan.ConfirmToken)
	require.NoError(t, err)
	require.Equal(t, 1, f.chain.transferCalls)

	assert.Zero(t, f.chain.deadlineMisses, "every chain call must carry a deadline")
}

func TestOverListingAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.list(t, 800)

	// Drain the seller's balance under their standing listing. The guarded
	// create path cannot produce this state, which is exactly why the audit
	// exists.
	require.NoError(t, f.store.Balances.Debit(ctx, ownerAddr, f.agreement.ID, domain.SharesToWei(400)))

	report, err := f.reconcile.OverListingAudit(ctx, f.agreement.ID)
	require.NoError(t, err)
	require.Len(t, report, 1)

	o := report[0]
	assert.Equal(t, ownerAddr, o.SellerAddress)
	assert.Equal(t, domain.SharesToWei(600), o.BalanceWei)
	assert.Equal(t, domain.SharesToWei(800), o.ListedWei)
	assert.Equal(t, domain.SharesToWei(200), o.ExcessWei)
	assert.Equal(t, []string{l.ID}, o.ListingIDs)
	assert.Equal(t, 1, f.auditEvents(t, "over_listing_detected"))
}

func TestOverListingAuditCleanLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.list(t, 500)

	report, err := f.reconcile.OverListingAudit(ctx, f.agreement.ID)
	require.NoError(t, err)
	assert.Empty(t, report)
}
