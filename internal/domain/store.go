package domain

import (
	"context"
	"math/big"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AgreementStore persists tokenized agreements.
type AgreementStore interface {
	Create(ctx context.Context, agreement Agreement) error
	GetByID(ctx context.Context, id string) (Agreement, error)
	List(ctx context.Context, opts ListOpts) ([]Agreement, error)
}

// BalanceStore is the authoritative per-holder share ledger. Mutations to
// one (holder, agreement) row are linearized by the implementation (row
// locks or serializable transactions); two concurrent debits must never
// both succeed against a stale balance.
type BalanceStore interface {
	// Get returns the ledger row, or a zero-valued row when none exists.
	Get(ctx context.Context, holder, agreementID string) (ShareBalance, error)
	// Credit increases the balance, creating the row if absent.
	Credit(ctx context.Context, holder, agreementID string, amountWei *big.Int) error
	// Debit decreases the balance, failing with ErrInsufficientBalance if
	// the amount exceeds the current balance.
	Debit(ctx context.Context, holder, agreementID string, amountWei *big.Int) error
	// ListByAgreement returns every ledger row for the agreement, zero
	// balances included.
	ListByAgreement(ctx context.Context, agreementID string) ([]ShareBalance, error)
	// TotalWei sums balance_wei over all holders of the agreement.
	TotalWei(ctx context.Context, agreementID string) (*big.Int, error)
}

// ListingStore persists marketplace listings and the matching reservation
// bookkeeping on the seller's balance row.
type ListingStore interface {
	// CreateReserving atomically checks the seller's available balance,
	// inserts the ACTIVE listing, and adds the listed amount to the
	// seller's reserved counter, all under one lock on the balance row.
	// Fails with ErrInsufficientAvailableBalance when the listing would
	// exceed what is unreserved.
	CreateReserving(ctx context.Context, listing Listing) error
	GetByID(ctx context.Context, id string) (Listing, error)
	// Terminate moves an ACTIVE listing to the given terminal status and
	// releases its remaining reservation in the same transaction. Fails
	// with ErrListingNotActive when the listing is already terminal.
	Terminate(ctx context.Context, id string, to ListingStatus) (Listing, error)
	// ExpireDue terminates every ACTIVE listing whose expiry has passed
	// and returns the listings it expired.
	ExpireDue(ctx context.Context, now time.Time) ([]Listing, error)
	ListByAgreement(ctx context.Context, agreementID string, opts ListOpts) ([]Listing, error)
	ListBySeller(ctx context.Context, seller string, opts ListOpts) ([]Listing, error)
	// ActiveBySellerAgreement returns the seller's ACTIVE listings for one
	// agreement; the over-listing audit recomputes reservations from it.
	ActiveBySellerAgreement(ctx context.Context, seller, agreementID string) ([]Listing, error)
}

// SettleParams carries the local-commit half of a confirmed on-chain
// purchase into TradeStore.Settle.
type SettleParams struct {
	ListingID       string
	BuyerAddress    string
	SharesPurchased *big.Int
	TxHash          string
	GasUsed         uint64
	ExecutedAt      time.Time
}

// TradeStore persists settled trades.
type TradeStore interface {
	// Settle atomically debits the seller, credits the buyer, releases the
	// filled part of the seller's reservation, decrements the listing's
	// remaining shares (marking it SOLD at zero), and inserts the Trade
	// row in one transaction, with balance rows locked in address order. It is
	// called only after the on-chain transfer has confirmed.
	Settle(ctx context.Context, p SettleParams) (Trade, error)
	GetByID(ctx context.Context, id string) (Trade, error)
	GetByTxHash(ctx context.Context, txHash string) (Trade, error)
	ListByListing(ctx context.Context, listingID string, opts ListOpts) ([]Trade, error)
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]Trade, error)
	// ListBefore returns trades executed strictly before the given time,
	// for cold-storage archiving. Trades are copied out, never deleted.
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// ProposalStore persists governance proposals and drives their time-based
// transitions.
type ProposalStore interface {
	Create(ctx context.Context, proposal Proposal) error
	GetByID(ctx context.Context, id string) (Proposal, error)
	ListByAgreement(ctx context.Context, agreementID string, opts ListOpts) ([]Proposal, error)
	// ActivateDue moves PENDING proposals whose voting start has passed to
	// ACTIVE and returns them.
	ActivateDue(ctx context.Context, now time.Time) ([]Proposal, error)
	// FinalizeDue evaluates ACTIVE proposals past their voting end exactly
	// once, moving each to SUCCEEDED or DEFEATED per Proposal.Outcome.
	FinalizeDue(ctx context.Context, now time.Time) ([]Proposal, error)
	// MarkExecuted moves a SUCCEEDED proposal to EXECUTED and records the
	// execution transaction hash. Fails with ErrAlreadyExecuted when the
	// proposal is already EXECUTED and ErrNotSucceeded otherwise.
	MarkExecuted(ctx context.Context, id, txHash string) error
	// Cancel terminates a PENDING or ACTIVE proposal.
	Cancel(ctx context.Context, id string) (Proposal, error)
}

// VoteStore persists votes and keeps proposal tallies consistent with them.
type VoteStore interface {
	// Cast snapshots the voter's ledger balance as the vote's power, inserts
	// the vote, and adds that power to the matching proposal tally, all in
	// one atomic unit, so a settlement cannot slip between the snapshot and
	// the insert. Any VotingPower on the passed vote is ignored; the returned
	// vote carries the snapshotted power. A voter with no shares fails with
	// ErrInsufficientBalance. The (proposal, voter) uniqueness constraint is
	// the backstop; a duplicate fails with ErrAlreadyVoted and leaves the
	// tally untouched.
	Cast(ctx context.Context, vote Vote) (Vote, error)
	Get(ctx context.Context, proposalID, voter string) (Vote, error)
	ListByProposal(ctx context.Context, proposalID string, opts ListOpts) ([]Vote, error)
}

// AuditEntry is a single append-only audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists the append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PlanStore persists reconciliation plans across the dry-run/apply gap.
type PlanStore interface {
	Create(ctx context.Context, plan ReconciliationPlan) error
	GetByID(ctx context.Context, id string) (ReconciliationPlan, error)
	// MarkApplied moves a PENDING plan to APPLIED; fails with
	// ErrPlanNotPending otherwise.
	MarkApplied(ctx context.Context, id string, at time.Time) error
	MarkDiscarded(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOpts) ([]ReconciliationPlan, error)
}
