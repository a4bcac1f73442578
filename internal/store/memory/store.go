// Package memory provides mutex-guarded in-memory implementations of the
// domain store interfaces. It mirrors the transactional semantics of the
// postgres stores closely enough to back service-level tests without a
// database.
package memory

import (
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// Store holds all aggregates behind a single mutex so composite operations
// (reserve-and-list, settle, cast) are atomic the same way their SQL
// counterparts are. Per-aggregate stores share the one Store and are
// reached through its fields.
type Store struct {
	mu sync.Mutex

	agreements map[string]domain.Agreement
	balances   map[balanceKey]domain.ShareBalance
	listings   map[string]domain.Listing
	trades     map[string]domain.Trade
	proposals  map[string]domain.Proposal
	votes      map[voteKey]domain.Vote
	audit      []domain.AuditEntry
	plans      map[string]domain.ReconciliationPlan

	nextAuditID int64

	Agreements *AgreementStore
	Balances   *BalanceStore
	Listings   *ListingStore
	Trades     *TradeStore
	Proposals  *ProposalStore
	Votes      *VoteStore
	Audit      *AuditStore
	Plans      *PlanStore
}

type balanceKey struct {
	holder    string
	agreement string
}

type voteKey struct {
	proposal string
	voter    string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	s := &Store{
		agreements: make(map[string]domain.Agreement),
		balances:   make(map[balanceKey]domain.ShareBalance),
		listings:   make(map[string]domain.Listing),
		trades:     make(map[string]domain.Trade),
		proposals:  make(map[string]domain.Proposal),
		votes:      make(map[voteKey]domain.Vote),
		plans:      make(map[string]domain.ReconciliationPlan),
	}
	s.Agreements = &AgreementStore{s: s}
	s.Balances = &BalanceStore{s: s}
	s.Listings = &ListingStore{s: s}
	s.Trades = &TradeStore{s: s}
	s.Proposals = &ProposalStore{s: s}
	s.Votes = &VoteStore{s: s}
	s.Audit = &AuditStore{s: s}
	s.Plans = &PlanStore{s: s}
	return s
}

func cloneWei(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func cloneAgreement(a domain.Agreement) domain.Agreement {
	if a.TokenUnitID != nil {
		a.TokenUnitID = new(big.Int).Set(a.TokenUnitID)
	}
	return a
}

func cloneBalance(b domain.ShareBalance) domain.ShareBalance {
	b.BalanceWei = cloneWei(b.BalanceWei)
	b.ReservedWei = cloneWei(b.ReservedWei)
	return b
}

func cloneListing(l domain.Listing) domain.Listing {
	l.SharesForSale = cloneWei(l.SharesForSale)
	l.PricePerShare = cloneWei(l.PricePerShare)
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		l.ExpiresAt = &t
	}
	return l
}

func cloneTrade(t domain.Trade) domain.Trade {
	t.SharesPurchased = cloneWei(t.SharesPurchased)
	t.PricePerShare = cloneWei(t.PricePerShare)
	return t
}

func cloneProposal(p domain.Proposal) domain.Proposal {
	p.ForVotes = cloneWei(p.ForVotes)
	p.AgainstVotes = cloneWei(p.AgainstVotes)
	p.AbstainVotes = cloneWei(p.AbstainVotes)
	p.QuorumRequired = cloneWei(p.QuorumRequired)
	p.ProposalThreshold = cloneWei(p.ProposalThreshold)
	return p
}

func cloneVote(v domain.Vote) domain.Vote {
	v.VotingPower = cloneWei(v.VotingPower)
	return v
}

func clonePlan(p domain.ReconciliationPlan) domain.ReconciliationPlan {
	diffs := make([]domain.BalanceDiff, len(p.Diffs))
	for i, d := range p.Diffs {
		d.LedgerWei = cloneWei(d.LedgerWei)
		d.ChainWei = cloneWei(d.ChainWei)
		d.DeltaWei = cloneWei(d.DeltaWei)
		diffs[i] = d
	}
	p.Diffs = diffs
	if p.AppliedAt != nil {
		t := *p.AppliedAt
		p.AppliedAt = &t
	}
	return p
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !t.Before(*opts.Until) {
		return false
	}
	return true
}
