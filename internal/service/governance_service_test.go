package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// activeProposal seeds an ACTIVE proposal whose voting window spans now, the
// state CastVote requires. The service itself only opens windows in the
// future, so tests plant the row directly.
func (f *fixture) activeProposal(t *testing.T) domain.Proposal {
	t.Helper()
	now := time.Now().UTC()
	supply := f.agreement.SupplyWei()
	p := domain.Proposal{
		ID:                uuid.NewString(),
		AgreementID:       f.agreement.ID,
		ProposerAddress:   ownerAddr,
		Type:              domain.ProposalTypeRateAdjustment,
		TargetValue:       500,
		VotingStart:       now.Add(-time.Hour),
		VotingEnd:         now.Add(time.Hour),
		QuorumRequired:    domain.BpsOf(supply, domain.QuorumBps),
		ProposalThreshold: domain.BpsOf(supply, domain.ProposalThresholdBps),
		Status:            domain.ProposalStatusActive,
		CreatedAt:         now.Add(-time.Hour),
	}
	require.NoError(t, f.store.Proposals.Create(context.Background(), p))
	return p
}

func TestCreateProposalSnapshotsThresholdAndQuorum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.governance.CreateProposal(ctx, CreateProposalParams{
		AgreementID:     f.agreement.ID,
		ProposerAddress: ownerAddr,
		Type:            domain.ProposalTypeRateAdjustment,
		TargetValue:     800,
		Description:     "raise distribution rate to 8%",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ProposalStatusPending, p.Status)
	assert.Equal(t, domain.SharesToWei(10), p.ProposalThreshold)
	assert.Equal(t, domain.SharesToWei(100), p.QuorumRequired)
	assert.Equal(t, domain.VotingPeriod, p.VotingEnd.Sub(p.VotingStart))
	assert.True(t, p.VotingStart.After(time.Now()), "voting opens after the review delay")
}

func TestCreateProposalBelowThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// buyerAddr holds 5 of 1000 shares, under the 1% threshold.
	require.NoError(t, f.store.Balances.Credit(ctx, buyerAddr, f.agreement.ID, domain.SharesToWei(5)))

	_, err := f.governance.CreateProposal(ctx, CreateProposalParams{
		AgreementID:     f.agreement.ID,
		ProposerAddress: buyerAddr,
		Type:            domain.ProposalTypeRateAdjustment,
		TargetValue:     500,
	})
	require.ErrorIs(t, err, domain.ErrBelowThreshold)
}

func TestCreateProposalRejectsOutOfRangeValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.governance.CreateProposal(ctx, CreateProposalParams{
		AgreementID:     f.agreement.ID,
		ProposerAddress: ownerAddr,
		Type:            domain.ProposalTypeRateAdjustment,
		TargetValue:     5000,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidParameterRange)

	_, err = f.governance.CreateProposal(ctx, CreateProposalParams{
		AgreementID:     f.agreement.ID,
		ProposerAddress: ownerAddr,
		Type:            domain.ProposalTypeParameterUpdate,
		ParameterKey:    "unknown_knob",
		TargetValue:     1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidParameterRange)
}

func TestCastVoteSnapshotsPowerAtCastTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Balances.Credit(ctx, buyerAddr, f.agreement.ID, domain.SharesToWei(200)))
	p := f.activeProposal(t)

	v, err := f.governance.CastVote(ctx, p.ID, buyerAddr, domain.VoteFor)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(200), v.VotingPower)

	// Selling down to 1 share afterwards must not shrink the tally.
	require.NoError(t, f.store.Balances.Debit(ctx, buyerAddr, f.agreement.ID, domain.SharesToWei(199)))

	got, err := f.governance.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(200), got.ForVotes)

	stored, err := f.governance.GetVote(ctx, p.ID, buyerAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(200), stored.VotingPower)
}

// debitAfterRead drains part of the voter's balance right after the proposal
// lookup, standing in for a settlement that lands mid-cast.
type debitAfterRead struct {
	domain.ProposalStore
	balances  domain.BalanceStore
	holder    string
	agreement string
	amountWei *big.Int
}

func (d *debitAfterRead) GetByID(ctx context.Context, id string) (domain.Proposal, error) {
	p, err := d.ProposalStore.GetByID(ctx, id)
	if err == nil && d.amountWei != nil {
		if derr := d.balances.Debit(ctx, d.holder, d.agreement, d.amountWei); derr != nil {
			return domain.Proposal{}, derr
		}
		d.amountWei = nil
	}
	return p, err
}

func TestCastVotePowerReflectsBalanceAtCastCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Balances.Credit(ctx, buyerAddr, f.agreement.ID, domain.SharesToWei(1000)))
	p := f.activeProposal(t)

	// 900 shares settle away between the proposal read and the vote commit.
	proposals := &debitAfterRead{
		ProposalStore: f.store.Proposals,
		balances:      f.store.Balances,
		holder:        buyerAddr,
		agreement:     f.agreement.ID,
		amountWei:     domain.SharesToWei(900),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gov := NewGovernanceService(proposals, f.store.Votes, f.store.Balances, f.store.Agreements,
		f.chain, f.bus, f.store.Audit, nil, logger, time.Minute)

	v, err := gov.CastVote(ctx, p.ID, buyerAddr, domain.VoteFor)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(100), v.VotingPower,
		"power must be the balance held when the cast commits")

	got, err := gov.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(100), got.ForVotes)
}

func TestCastIgnoresCallerSuppliedPower(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.activeProposal(t)

	v, err := f.store.Votes.Cast(ctx, domain.Vote{
		ID:           uuid.NewString(),
		ProposalID:   p.ID,
		VoterAddress: ownerAddr,
		Support:      domain.VoteFor,
		VotingPower:  domain.SharesToWei(999999),
		VotedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(1000), v.VotingPower, "the store snapshots power itself")

	got, err := f.governance.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(1000), got.ForVotes)
}

func TestCastVoteRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.activeProposal(t)

	_, err := f.governance.CastVote(ctx, p.ID, ownerAddr, domain.VoteFor)
	require.NoError(t, err)

	_, err = f.governance.CastVote(ctx, p.ID, ownerAddr, domain.VoteAgainst)
	require.ErrorIs(t, err, domain.ErrAlreadyVoted)

	got, err := f.governance.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SharesToWei(1000), got.ForVotes)
	assert.Zero(t, got.AgainstVotes.Sign(), "rejected ballot must not touch the tally")
}

func TestCastVoteStateChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.governance.CreateProposal(ctx, CreateProposalParams{
		AgreementID:     f.agreement.ID,
		ProposerAddress: ownerAddr,
		Type:            domain.ProposalTypeRateAdjustment,
		TargetValue:     500,
	})
	require.NoError(t, err)

	_, err = f.governance.CastVote(ctx, pending.ID, ownerAddr, domain.VoteFor)
	assert.ErrorIs(t, err, domain.ErrProposalNotActive)

	active := f.activeProposal(t)

	_, err = f.governance.CastVote(ctx, active.ID, ownerAddr, domain.VoteSupport("MAYBE"))
	assert.ErrorIs(t, err, domain.ErrInvalidSupport)

	// otherAddr holds no shares.
	_, err = f.governance.CastVote(ctx, active.ID, otherAddr, domain.VoteFor)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestAdvanceClockActivatesAndFinalizes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.governance.CreateProposal(ctx, CreateProposalParams{
		AgreementID:     f.agreement.ID,
		ProposerAddress: ownerAddr,
		Type:            domain.ProposalTypeRateAdjustment,
		TargetValue:     500,
	})
	require.NoError(t, err)

	// Before the voting start nothing moves.
	require.NoError(t, f.governance.AdvanceClock(ctx, time.Now()))
	got, err := f.governance.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusPending, got.Status)

	require.NoError(t, f.governance.AdvanceClock(ctx, p.VotingStart.Add(time.Minute)))
	got, err = f.governance.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusActive, got.Status)

	// No votes at all: finalized as DEFEATED for lack of quorum.
	require.NoError(t, f.governance.AdvanceClock(ctx, p.VotingEnd.Add(time.Minute)))
	got, err = f.governance.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusDefeated, got.Status)
}

func TestFinalizeMajorityWithoutQuorumIsDefeated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 50 of 1000 shares vote FOR unopposed: a clear majority, but under the
	// 10% quorum.
	require.NoError(t, f.store.Balances.Credit(ctx, buyerAddr, f.agreement.ID, domain.SharesToWei(50)))
	p := f.activeProposal(t)
	_, err := f.governance.CastVote(ctx, p.ID, buyerAddr, domain.VoteFor)
	require.NoError(t, err)

	require.NoError(t, f.governance.AdvanceClock(ctx, p.VotingEnd.Add(time.Minute)))

	got, err := f.governance.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusDefeated, got.Status)
}

func TestFinalizeQuorumAndMajoritySucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.activeProposal(t)
	_, err := f.governance.CastVote(ctx, p.ID, ownerAddr, domain.VoteFor)
	require.NoError(t, err)

	require.NoError(t, f.governance.AdvanceClock(ctx, p.VotingEnd.Add(time.Minute)))

	got, err := f.governance.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusSucceeded, got.Status)
}

func TestExecuteProposalIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.activeProposal(t)
	_, err := f.governance.CastVote(ctx, p.ID, ownerAddr, domain.VoteFor)
	require.NoError(t, err)
	require.NoError(t, f.governance.AdvanceClock(ctx, p.VotingEnd.Add(time.Minute)))

	executed, err := f.governance.ExecuteProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusExecuted, executed.Status)
	assert.Equal(t, "0xexec99", executed.ExecutionTxHash)
	assert.Equal(t, 1, f.chain.execCalls)

	_, err = f.governance.ExecuteProposal(ctx, p.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyExecuted)
	assert.Equal(t, 1, f.chain.execCalls, "a repeat call must not resubmit")
}

func TestExecuteProposalRequiresSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.activeProposal(t)

	_, err := f.governance.ExecuteProposal(ctx, p.ID)
	require.ErrorIs(t, err, domain.ErrNotSucceeded)
	assert.Equal(t, 0, f.chain.execCalls)
}

func TestCancelProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.activeProposal(t)

	_, err := f.governance.CancelProposal(ctx, p.ID, otherAddr)
	require.ErrorIs(t, err, domain.ErrNotOwner)

	out, err := f.governance.CancelProposal(ctx, p.ID, ownerAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusCancelled, out.Status)

	// Terminal proposals cannot be cancelled again.
	_, err = f.governance.CancelProposal(ctx, p.ID, ownerAddr)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
}
