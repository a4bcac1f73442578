package domain

import (
	"math/big"
	"time"
)

// PlanStatus is the lifecycle state of a reconciliation plan.
type PlanStatus string

const (
	PlanStatusPending   PlanStatus = "PENDING"
	PlanStatusApplied   PlanStatus = "APPLIED"
	PlanStatusDiscarded PlanStatus = "DISCARDED"
)

// DiffAction is the corrective action a balance diff calls for.
type DiffAction string

const (
	// DiffActionChainTransfer moves tokens on-chain (typically out of the
	// treasury) so on-chain ownership matches the ledger.
	DiffActionChainTransfer DiffAction = "chain_transfer"
	// DiffActionLedgerCredit credits the ledger for a confirmed on-chain
	// transfer that never reached the local commit (settlement divergence).
	DiffActionLedgerCredit DiffAction = "ledger_credit"
	// DiffActionLedgerDebit is the debit side of the same correction.
	DiffActionLedgerDebit DiffAction = "ledger_debit"
)

// BalanceDiff is one (holder, agreement) mismatch between the ledger and the
// authoritative on-chain balance.
type BalanceDiff struct {
	HolderAddress string
	AgreementID   string
	LedgerWei     *big.Int
	ChainWei      *big.Int
	DeltaWei      *big.Int // ledger minus chain
	Action        DiffAction
}

// ReconciliationPlan is the two-phase remediation unit: a dry-run diff is
// computed and stored as a PENDING plan with a confirmation token, and only
// an Apply call quoting that token mutates anything. Plans are never
// auto-applied.
type ReconciliationPlan struct {
	ID           string
	AgreementID  string
	Diffs        []BalanceDiff
	ConfirmToken string
	Status       PlanStatus
	CreatedAt    time.Time
	AppliedAt    *time.Time
}

// Clean reports whether the plan found no drift.
func (p ReconciliationPlan) Clean() bool {
	return len(p.Diffs) == 0
}

// OverListing reports a (seller, agreement) pair whose ACTIVE listings sum
// to more than the seller's ledger balance. Remediation (which listing to
// cancel) is a policy decision left to an operator.
type OverListing struct {
	SellerAddress string
	AgreementID   string
	BalanceWei    *big.Int
	ListedWei     *big.Int
	ExcessWei     *big.Int
	ListingIDs    []string
}
