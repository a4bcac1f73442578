package domain

import (
	"math/big"
	"time"
)

// VoteSupport is the direction of a cast vote.
type VoteSupport string

const (
	VoteAgainst VoteSupport = "AGAINST"
	VoteFor     VoteSupport = "FOR"
	VoteAbstain VoteSupport = "ABSTAIN"
)

// Valid reports whether the support value is one of the three directions.
func (s VoteSupport) Valid() bool {
	return s == VoteAgainst || s == VoteFor || s == VoteAbstain
}

// Vote is one voter's ballot on one proposal. At most one row exists per
// (proposal, voter); VotingPower is the voter's ledger balance at cast time
// and never changes afterwards, regardless of later trades.
type Vote struct {
	ID           string
	ProposalID   string
	VoterAddress string
	Support      VoteSupport
	VotingPower  *big.Int // wei, snapshotted at cast time
	VotedAt      time.Time
}
