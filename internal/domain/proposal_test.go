package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposalStatusCanTransition(t *testing.T) {
	cases := []struct {
		from, to ProposalStatus
		ok       bool
	}{
		{ProposalStatusPending, ProposalStatusActive, true},
		{ProposalStatusPending, ProposalStatusCancelled, true},
		{ProposalStatusPending, ProposalStatusSucceeded, false},
		{ProposalStatusActive, ProposalStatusSucceeded, true},
		{ProposalStatusActive, ProposalStatusDefeated, true},
		{ProposalStatusActive, ProposalStatusCancelled, true},
		{ProposalStatusActive, ProposalStatusExecuted, false},
		{ProposalStatusSucceeded, ProposalStatusExecuted, true},
		{ProposalStatusSucceeded, ProposalStatusDefeated, false},
		{ProposalStatusDefeated, ProposalStatusExecuted, false},
		{ProposalStatusExecuted, ProposalStatusActive, false},
		{ProposalStatusCancelled, ProposalStatusActive, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestProposalTransitionRejectsIllegalMove(t *testing.T) {
	p := Proposal{ID: "p1", Status: ProposalStatusPending}

	err := p.Transition(ProposalStatusExecuted)
	require.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, ProposalStatusPending, p.Status)

	require.NoError(t, p.Transition(ProposalStatusActive))
	assert.Equal(t, ProposalStatusActive, p.Status)
}

func TestValidateProposalParams(t *testing.T) {
	// Rate adjustments are bounded to [100, 2000] bps.
	require.NoError(t, ValidateProposalParams(ProposalTypeRateAdjustment, "", 100))
	require.NoError(t, ValidateProposalParams(ProposalTypeRateAdjustment, "", 2000))
	assert.ErrorIs(t, ValidateProposalParams(ProposalTypeRateAdjustment, "", 99), ErrInvalidParameterRange)
	assert.ErrorIs(t, ValidateProposalParams(ProposalTypeRateAdjustment, "", 2001), ErrInvalidParameterRange)

	// Parameter updates are bounded per key.
	require.NoError(t, ValidateProposalParams(ProposalTypeParameterUpdate, "listing_fee_bps", 0))
	require.NoError(t, ValidateProposalParams(ProposalTypeParameterUpdate, "listing_fee_bps", 500))
	assert.ErrorIs(t, ValidateProposalParams(ProposalTypeParameterUpdate, "listing_fee_bps", 501), ErrInvalidParameterRange)
	require.NoError(t, ValidateProposalParams(ProposalTypeParameterUpdate, "min_listing_hours", 1))
	assert.ErrorIs(t, ValidateProposalParams(ProposalTypeParameterUpdate, "min_listing_hours", 0), ErrInvalidParameterRange)

	// Unknown keys and types are rejected.
	assert.ErrorIs(t, ValidateProposalParams(ProposalTypeParameterUpdate, "no_such_key", 1), ErrInvalidParameterRange)
	assert.ErrorIs(t, ValidateProposalParams(ProposalType("bogus"), "", 1), ErrInvalidParameterRange)
}

func TestBpsOf(t *testing.T) {
	supply := SharesToWei(1000)

	threshold := BpsOf(supply, ProposalThresholdBps)
	assert.Equal(t, SharesToWei(10), threshold, "1 percent of 1000 shares")

	quorum := BpsOf(supply, QuorumBps)
	assert.Equal(t, SharesToWei(100), quorum, "10 percent of 1000 shares")

	// Truncates toward zero on fractional results.
	assert.Zero(t, BpsOf(big.NewInt(99), 100).Sign())
}

func TestProposalOutcome(t *testing.T) {
	quorum := SharesToWei(100)

	mk := func(forShares, againstShares, abstainShares int64) Proposal {
		return Proposal{
			ForVotes:       SharesToWei(forShares),
			AgainstVotes:   SharesToWei(againstShares),
			AbstainVotes:   SharesToWei(abstainShares),
			QuorumRequired: quorum,
		}
	}

	assert.Equal(t, ProposalStatusSucceeded, mk(80, 30, 0).Outcome())

	// Majority without quorum is still defeated.
	assert.Equal(t, ProposalStatusDefeated, mk(50, 10, 0).Outcome())

	// Abstain counts toward quorum but not toward the majority.
	assert.Equal(t, ProposalStatusSucceeded, mk(40, 30, 40).Outcome())
	assert.Equal(t, ProposalStatusDefeated, mk(30, 30, 50).Outcome())

	// Tie fails even over quorum.
	assert.Equal(t, ProposalStatusDefeated, mk(60, 60, 0).Outcome())
}

func TestProposalInVotingWindow(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	p := Proposal{VotingStart: start, VotingEnd: start.Add(VotingPeriod)}

	assert.False(t, p.InVotingWindow(start.Add(-time.Second)))
	assert.True(t, p.InVotingWindow(start))
	assert.True(t, p.InVotingWindow(start.Add(3*24*time.Hour)))
	assert.True(t, p.InVotingWindow(p.VotingEnd))
	assert.False(t, p.InVotingWindow(p.VotingEnd.Add(time.Second)))
}
