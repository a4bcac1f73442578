package memory

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// ProposalStore implements domain.ProposalStore.
type ProposalStore struct {
	s *Store
}

func (ps *ProposalStore) Create(ctx context.Context, proposal domain.Proposal) error {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	ps.s.proposals[proposal.ID] = cloneProposal(proposal)
	return nil
}

func (ps *ProposalStore) GetByID(ctx context.Context, id string) (domain.Proposal, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	p, ok := ps.s.proposals[id]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	return cloneProposal(p), nil
}

func (ps *ProposalStore) ListByAgreement(ctx context.Context, agreementID string, opts domain.ListOpts) ([]domain.Proposal, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	var out []domain.Proposal
	for _, p := range ps.s.proposals {
		if p.AgreementID == agreementID && inWindow(p.CreatedAt, opts) {
			out = append(out, cloneProposal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

func (ps *ProposalStore) ActivateDue(ctx context.Context, now time.Time) ([]domain.Proposal, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	var out []domain.Proposal
	for id, p := range ps.s.proposals {
		if p.Status == domain.ProposalStatusPending && !p.VotingStart.After(now) {
			p = cloneProposal(p)
			p.Status = domain.ProposalStatusActive
			ps.s.proposals[id] = p
			out = append(out, cloneProposal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (ps *ProposalStore) FinalizeDue(ctx context.Context, now time.Time) ([]domain.Proposal, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	var out []domain.Proposal
	for id, p := range ps.s.proposals {
		if p.Status == domain.ProposalStatusActive && !p.VotingEnd.After(now) {
			p = cloneProposal(p)
			p.Status = p.Outcome()
			ps.s.proposals[id] = p
			out = append(out, cloneProposal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (ps *ProposalStore) MarkExecuted(ctx context.Context, id, txHash string) error {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	p, ok := ps.s.proposals[id]
	if !ok {
		return domain.ErrNotFound
	}
	switch p.Status {
	case domain.ProposalStatusSucceeded:
	case domain.ProposalStatusExecuted:
		return domain.ErrAlreadyExecuted
	default:
		return domain.ErrNotSucceeded
	}
	p = cloneProposal(p)
	p.Status = domain.ProposalStatusExecuted
	p.ExecutionTxHash = txHash
	ps.s.proposals[id] = p
	return nil
}

func (ps *ProposalStore) Cancel(ctx context.Context, id string) (domain.Proposal, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	p, ok := ps.s.proposals[id]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	p = cloneProposal(p)
	if err := p.Transition(domain.ProposalStatusCancelled); err != nil {
		return domain.Proposal{}, err
	}
	ps.s.proposals[id] = p
	return cloneProposal(p), nil
}

var _ domain.ProposalStore = (*ProposalStore)(nil)

// VoteStore implements domain.VoteStore.
type VoteStore struct {
	s *Store
}

// Cast reads the voter's balance and records the vote under the same mutex
// hold, mirroring the row-lock scope of the postgres implementation.
func (vs *VoteStore) Cast(ctx context.Context, vote domain.Vote) (domain.Vote, error) {
	vs.s.mu.Lock()
	defer vs.s.mu.Unlock()

	k := voteKey{proposal: vote.ProposalID, voter: vote.VoterAddress}
	if _, exists := vs.s.votes[k]; exists {
		return domain.Vote{}, domain.ErrAlreadyVoted
	}
	p, ok := vs.s.proposals[vote.ProposalID]
	if !ok {
		return domain.Vote{}, domain.ErrNotFound
	}

	b := vs.s.balances[balanceKey{holder: vote.VoterAddress, agreement: p.AgreementID}]
	if b.BalanceWei == nil || b.BalanceWei.Sign() <= 0 {
		return domain.Vote{}, domain.ErrInsufficientBalance
	}
	vote.VotingPower = new(big.Int).Set(b.BalanceWei)

	p = cloneProposal(p)
	switch vote.Support {
	case domain.VoteFor:
		p.ForVotes.Add(p.ForVotes, vote.VotingPower)
	case domain.VoteAgainst:
		p.AgainstVotes.Add(p.AgainstVotes, vote.VotingPower)
	case domain.VoteAbstain:
		p.AbstainVotes.Add(p.AbstainVotes, vote.VotingPower)
	default:
		return domain.Vote{}, domain.ErrInvalidSupport
	}
	vs.s.proposals[p.ID] = p
	vs.s.votes[k] = cloneVote(vote)
	return cloneVote(vote), nil
}

func (vs *VoteStore) Get(ctx context.Context, proposalID, voter string) (domain.Vote, error) {
	vs.s.mu.Lock()
	defer vs.s.mu.Unlock()
	v, ok := vs.s.votes[voteKey{proposal: proposalID, voter: voter}]
	if !ok {
		return domain.Vote{}, domain.ErrNotFound
	}
	return cloneVote(v), nil
}

func (vs *VoteStore) ListByProposal(ctx context.Context, proposalID string, opts domain.ListOpts) ([]domain.Vote, error) {
	vs.s.mu.Lock()
	defer vs.s.mu.Unlock()
	var out []domain.Vote
	for k, v := range vs.s.votes {
		if k.proposal == proposalID && inWindow(v.VotedAt, opts) {
			out = append(out, cloneVote(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VotedAt.After(out[j].VotedAt) })
	return paginate(out, opts), nil
}

var _ domain.VoteStore = (*VoteStore)(nil)
