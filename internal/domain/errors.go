package domain

import "errors"

// Validation errors: malformed input, rejected before any side effect.
var (
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInvalidPrice          = errors.New("price must be positive")
	ErrInvalidAgreement      = errors.New("invalid agreement")
	ErrInvalidAddress        = errors.New("invalid address")
	ErrInvalidSupport        = errors.New("invalid vote support")
	ErrInvalidParameterRange = errors.New("parameter out of range")
)

// State-conflict errors: the request is well-formed but the current state
// forbids it. Callers must change the request; nothing auto-retries these.
var (
	ErrNotFound                     = errors.New("not found")
	ErrInsufficientBalance          = errors.New("insufficient balance")
	ErrInsufficientAvailableBalance = errors.New("insufficient available balance")
	ErrListingNotActive             = errors.New("listing not active")
	ErrInsufficientSharesAvailable  = errors.New("insufficient shares available in listing")
	ErrNotOwner                     = errors.New("requester does not own this resource")
	ErrAlreadyVoted                 = errors.New("already voted on this proposal")
	ErrOutsideVotingWindow          = errors.New("outside voting window")
	ErrProposalNotActive            = errors.New("proposal not active")
	ErrBelowThreshold               = errors.New("voting power below proposal threshold")
	ErrNotSucceeded                 = errors.New("proposal has not succeeded")
	ErrAlreadyExecuted              = errors.New("proposal already executed")
	ErrIllegalTransition            = errors.New("illegal status transition")
	ErrPlanNotPending               = errors.New("reconciliation plan is not pending")
	ErrPlanTokenMismatch            = errors.New("reconciliation confirmation token mismatch")
	ErrLockHeld                     = errors.New("lock already held")
)

// On-chain errors: the settlement-layer call reverted or timed out. These
// are surfaced as-is and never silently retried; a timeout in particular is
// an undetermined outcome, not a failure (see ErrChainTimeout).
var (
	ErrChainReverted = errors.New("on-chain call reverted")
	// ErrChainTimeout means the call's fate is unknown: the transaction may
	// or may not have landed. Resolution goes through a receipt re-check or
	// reconciliation, never an automatic resubmission.
	ErrChainTimeout = errors.New("on-chain call timed out")
)

// PendingSettlementError reports a submitted transfer whose outcome is
// undetermined. It wraps ErrChainTimeout and carries the transaction hash
// the caller needs to resolve the trade once a receipt is available.
type PendingSettlementError struct {
	TxHash string
}

func (e *PendingSettlementError) Error() string {
	return "on-chain call timed out; resolve with tx " + e.TxHash
}

func (e *PendingSettlementError) Unwrap() error { return ErrChainTimeout }

// ErrReconciliationAnomaly marks detected drift between the ledger and
// on-chain state. Remediation requires the explicit plan/apply flow.
var ErrReconciliationAnomaly = errors.New("reconciliation anomaly detected")
