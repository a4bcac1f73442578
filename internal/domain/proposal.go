package domain

import (
	"fmt"
	"math/big"
	"time"
)

// ProposalStatus is the lifecycle state of a governance proposal.
type ProposalStatus string

const (
	ProposalStatusPending   ProposalStatus = "PENDING"
	ProposalStatusActive    ProposalStatus = "ACTIVE"
	ProposalStatusSucceeded ProposalStatus = "SUCCEEDED"
	ProposalStatusDefeated  ProposalStatus = "DEFEATED"
	ProposalStatusExecuted  ProposalStatus = "EXECUTED"
	ProposalStatusCancelled ProposalStatus = "CANCELLED"
)

// CanTransition reports whether s -> to is a legal proposal transition:
//
//	PENDING -> ACTIVE | CANCELLED
//	ACTIVE  -> SUCCEEDED | DEFEATED | CANCELLED
//	SUCCEEDED -> EXECUTED
func (s ProposalStatus) CanTransition(to ProposalStatus) bool {
	switch s {
	case ProposalStatusPending:
		return to == ProposalStatusActive || to == ProposalStatusCancelled
	case ProposalStatusActive:
		return to == ProposalStatusSucceeded || to == ProposalStatusDefeated ||
			to == ProposalStatusCancelled
	case ProposalStatusSucceeded:
		return to == ProposalStatusExecuted
	}
	return false
}

// ProposalType selects which governed action a proposal targets.
type ProposalType string

const (
	// ProposalTypeRateAdjustment changes the agreement's yield distribution
	// rate. TargetValue is the new rate in basis points.
	ProposalTypeRateAdjustment ProposalType = "rate_adjustment"
	// ProposalTypeParameterUpdate changes one bounded marketplace parameter
	// identified by ParameterKey. TargetValue is the new value.
	ProposalTypeParameterUpdate ProposalType = "parameter_update"
)

// Governance timing and weighting constants. Threshold and quorum are
// snapshotted onto each proposal at creation from the agreement supply, so
// later supply changes never move the goalposts of an open proposal.
const (
	VotingDelay  = 24 * time.Hour
	VotingPeriod = 7 * 24 * time.Hour

	ProposalThresholdBps = 100  // 1% of total supply to propose
	QuorumBps            = 1000 // 10% of total supply must vote

	RateAdjustmentMinBps = 100  // 1%
	RateAdjustmentMaxBps = 2000 // 20%
)

// parameterBounds lists the parameter identifiers a parameter-update
// proposal may target, with inclusive value ranges.
var parameterBounds = map[string][2]int64{
	"listing_fee_bps":   {0, 500},
	"protocol_fee_bps":  {0, 300},
	"min_listing_hours": {1, 720},
}

// ValidateProposalParams checks the (type, parameterKey, targetValue)
// triple against the fixed bounds. It returns ErrInvalidParameterRange for
// out-of-range values and unknown parameter keys.
func ValidateProposalParams(ptype ProposalType, parameterKey string, targetValue int64) error {
	switch ptype {
	case ProposalTypeRateAdjustment:
		if targetValue < RateAdjustmentMinBps || targetValue > RateAdjustmentMaxBps {
			return fmt.Errorf("%w: rate %d bps outside [%d, %d]",
				ErrInvalidParameterRange, targetValue, RateAdjustmentMinBps, RateAdjustmentMaxBps)
		}
	case ProposalTypeParameterUpdate:
		bounds, ok := parameterBounds[parameterKey]
		if !ok {
			return fmt.Errorf("%w: unknown parameter %q", ErrInvalidParameterRange, parameterKey)
		}
		if targetValue < bounds[0] || targetValue > bounds[1] {
			return fmt.Errorf("%w: %s=%d outside [%d, %d]",
				ErrInvalidParameterRange, parameterKey, targetValue, bounds[0], bounds[1])
		}
	default:
		return fmt.Errorf("%w: unknown proposal type %q", ErrInvalidParameterRange, ptype)
	}
	return nil
}

// BpsOf returns bps basis points of the given wei amount.
func BpsOf(amountWei *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(amountWei, big.NewInt(bps))
	return out.Quo(out, big.NewInt(10000))
}

// Proposal is a token-weighted governance proposal over one agreement.
// Vote tallies are wei-weighted and only ever incremented together with the
// insertion of the corresponding Vote row.
type Proposal struct {
	ID                string
	AgreementID       string
	ProposerAddress   string
	Type              ProposalType
	ParameterKey      string // set for parameter_update proposals
	TargetValue       int64
	Description       string
	VotingStart       time.Time
	VotingEnd         time.Time
	ForVotes          *big.Int
	AgainstVotes      *big.Int
	AbstainVotes      *big.Int
	QuorumRequired    *big.Int // snapshotted at creation
	ProposalThreshold *big.Int // snapshotted at creation
	Status            ProposalStatus
	ExecutionTxHash   string
	CreatedAt         time.Time
}

// Transition moves the proposal to the given status, rejecting moves the
// state machine does not permit.
func (p *Proposal) Transition(to ProposalStatus) error {
	if !p.Status.CanTransition(to) {
		return fmt.Errorf("%w: proposal %s %s -> %s", ErrIllegalTransition, p.ID, p.Status, to)
	}
	p.Status = to
	return nil
}

// Outcome evaluates the terminal voting result: SUCCEEDED when for-votes
// strictly exceed against-votes and total participation (for + against +
// abstain) meets the snapshotted quorum, DEFEATED otherwise. A majority
// without quorum is still DEFEATED.
func (p Proposal) Outcome() ProposalStatus {
	total := new(big.Int).Add(p.ForVotes, p.AgainstVotes)
	total.Add(total, p.AbstainVotes)

	if p.ForVotes.Cmp(p.AgainstVotes) > 0 && total.Cmp(p.QuorumRequired) >= 0 {
		return ProposalStatusSucceeded
	}
	return ProposalStatusDefeated
}

// InVotingWindow reports whether now falls inside [VotingStart, VotingEnd].
func (p Proposal) InVotingWindow(now time.Time) bool {
	return !now.Before(p.VotingStart) && !now.After(p.VotingEnd)
}
