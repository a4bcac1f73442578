package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/sharemarket/internal/domain"
	"github.com/alanyoungcy/sharemarket/internal/notify"
)

// GovernanceService runs token-weighted voting over agreements: proposal
// creation gated by a supply threshold, vote casting with power snapshotted
// at cast time, time-driven activation and finalization, and idempotent
// on-chain execution of succeeded proposals.
type GovernanceService struct {
	proposals  domain.ProposalStore
	votes      domain.VoteStore
	balances   domain.BalanceStore
	agreements domain.AgreementStore
	chain      domain.ChainClient
	bus        domain.SignalBus
	audit      domain.AuditStore
	notifier   *notify.Notifier
	logger     *slog.Logger

	chainTimeout time.Duration
}

// NewGovernanceService creates a GovernanceService with all required
// dependencies. A zero chainTimeout falls back to the default.
func NewGovernanceService(
	proposals domain.ProposalStore,
	votes domain.VoteStore,
	balances domain.BalanceStore,
	agreements domain.AgreementStore,
	chain domain.ChainClient,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
	chainTimeout time.Duration,
) *GovernanceService {
	if chainTimeout <= 0 {
		chainTimeout = defaultChainTimeout
	}
	return &GovernanceService{
		proposals:    proposals,
		votes:        votes,
		balances:     balances,
		agreements:   agreements,
		chain:        chain,
		bus:          bus,
		audit:        audit,
		notifier:     notifier,
		logger:       logger,
		chainTimeout: chainTimeout,
	}
}

// CreateProposalParams carries the inputs for CreateProposal.
type CreateProposalParams struct {
	AgreementID     string
	ProposerAddress string
	Type            domain.ProposalType
	ParameterKey    string
	TargetValue     int64
	Description     string
}

// CreateProposal opens a new PENDING proposal. The proposer must hold at
// least the threshold fraction of the agreement's supply; quorum and
// threshold are snapshotted from the supply at creation so later trades
// never move them.
func (s *GovernanceService) CreateProposal(ctx context.Context, p CreateProposalParams) (domain.Proposal, error) {
	if !common.IsHexAddress(p.ProposerAddress) {
		return domain.Proposal{}, fmt.Errorf("governance_service: %w: proposer %q", domain.ErrInvalidAddress, p.ProposerAddress)
	}
	if err := domain.ValidateProposalParams(p.Type, p.ParameterKey, p.TargetValue); err != nil {
		return domain.Proposal{}, fmt.Errorf("governance_service: %w", err)
	}
	agreement, err := s.agreements.GetByID(ctx, p.AgreementID)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("governance_service: get agreement %q: %w", p.AgreementID, err)
	}

	supply := agreement.SupplyWei()
	threshold := domain.BpsOf(supply, domain.ProposalThresholdBps)

	balance, err := s.balances.Get(ctx, p.ProposerAddress, p.AgreementID)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("governance_service: get proposer balance: %w", err)
	}
	if balance.BalanceWei.Cmp(threshold) < 0 {
		return domain.Proposal{}, fmt.Errorf("governance_service: %w: hold %s, need %s",
			domain.ErrBelowThreshold, balance.BalanceWei.String(), threshold.String())
	}

	now := time.Now().UTC()
	start := now.Add(domain.VotingDelay)
	proposal := domain.Proposal{
		ID:                uuid.NewString(),
		AgreementID:       p.AgreementID,
		ProposerAddress:   p.ProposerAddress,
		Type:              p.Type,
		ParameterKey:      p.ParameterKey,
		TargetValue:       p.TargetValue,
		Description:       p.Description,
		VotingStart:       start,
		VotingEnd:         start.Add(domain.VotingPeriod),
		ForVotes:          new(big.Int),
		AgainstVotes:      new(big.Int),
		AbstainVotes:      new(big.Int),
		QuorumRequired:    domain.BpsOf(supply, domain.QuorumBps),
		ProposalThreshold: threshold,
		Status:            domain.ProposalStatusPending,
		CreatedAt:         now,
	}
	if err := s.proposals.Create(ctx, proposal); err != nil {
		return domain.Proposal{}, fmt.Errorf("governance_service: create proposal: %w", err)
	}

	s.publishProposal(ctx, "proposal_created", proposal)
	s.auditLog(ctx, "proposal_created", map[string]any{
		"proposal_id":  proposal.ID,
		"agreement_id": proposal.AgreementID,
		"proposer":     proposal.ProposerAddress,
		"type":         string(proposal.Type),
		"target_value": proposal.TargetValue,
	})
	s.logger.InfoContext(ctx, "governance_service: proposal created",
		slog.String("proposal_id", proposal.ID),
		slog.String("type", string(proposal.Type)),
	)
	return proposal, nil
}

// CastVote records one voter's ballot on an ACTIVE proposal. Voting power
// is the voter's ledger balance, snapshotted by the store in the same
// atomic unit that records the vote, and is immutable afterwards; selling
// shares after voting does not shrink the tally.
func (s *GovernanceService) CastVote(ctx context.Context, proposalID, voter string, support domain.VoteSupport) (domain.Vote, error) {
	if !common.IsHexAddress(voter) {
		return domain.Vote{}, fmt.Errorf("governance_service: %w: voter %q", domain.ErrInvalidAddress, voter)
	}
	if !support.Valid() {
		return domain.Vote{}, fmt.Errorf("governance_service: %w: %q", domain.ErrInvalidSupport, support)
	}

	proposal, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return domain.Vote{}, fmt.Errorf("governance_service: get proposal %q: %w", proposalID, err)
	}
	if proposal.Status != domain.ProposalStatusActive {
		return domain.Vote{}, fmt.Errorf("governance_service: proposal %q: %w", proposalID, domain.ErrProposalNotActive)
	}
	now := time.Now().UTC()
	if !proposal.InVotingWindow(now) {
		return domain.Vote{}, fmt.Errorf("governance_service: proposal %q: %w", proposalID, domain.ErrOutsideVotingWindow)
	}

	vote, err := s.votes.Cast(ctx, domain.Vote{
		ID:           uuid.NewString(),
		ProposalID:   proposalID,
		VoterAddress: voter,
		Support:      support,
		VotedAt:      now,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			return domain.Vote{}, fmt.Errorf("governance_service: voter %s holds no shares: %w", voter, domain.ErrInsufficientBalance)
		}
		return domain.Vote{}, fmt.Errorf("governance_service: cast vote: %w", err)
	}

	s.publishVote(ctx, vote)
	s.auditLog(ctx, "vote_cast", map[string]any{
		"proposal_id": proposalID,
		"voter":       voter,
		"support":     string(support),
		"power_wei":   vote.VotingPower.String(),
	})
	return vote, nil
}

// ExecuteProposal submits the governed action of a SUCCEEDED proposal
// on-chain and marks the proposal EXECUTED. A second call for the same
// proposal fails with ErrAlreadyExecuted and submits nothing.
func (s *GovernanceService) ExecuteProposal(ctx context.Context, proposalID string) (domain.Proposal, error) {
	proposal, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("governance_service: get proposal %q: %w", proposalID, err)
	}
	switch proposal.Status {
	case domain.ProposalStatusSucceeded:
	case domain.ProposalStatusExecuted:
		return domain.Proposal{}, fmt.Errorf("governance_service: proposal %q: %w", proposalID, domain.ErrAlreadyExecuted)
	default:
		return domain.Proposal{}, fmt.Errorf("governance_service: proposal %q is %s: %w",
			proposalID, proposal.Status, domain.ErrNotSucceeded)
	}

	chainCtx, cancel := context.WithTimeout(ctx, s.chainTimeout)
	defer cancel()

	txHash, err := s.chain.ExecuteGovernedAction(chainCtx, proposal)
	if err != nil {
		if errors.Is(err, domain.ErrChainTimeout) {
			s.auditLog(ctx, "governed_action_undetermined", map[string]any{
				"proposal_id": proposalID,
				"tx_hash":     txHash,
			})
			s.notify(ctx, "chain_timeout", "Governed action undetermined",
				fmt.Sprintf("proposal %s: execution timed out (tx %s)", proposalID, txHash))
		}
		return domain.Proposal{}, fmt.Errorf("governance_service: execute on-chain: %w", err)
	}

	if err := s.proposals.MarkExecuted(ctx, proposalID, txHash); err != nil {
		// The governed action landed on-chain but the status update failed;
		// surfacing this loudly is all we can do without double-submitting.
		s.logger.ErrorContext(ctx, "governance_service: execution divergence",
			slog.String("proposal_id", proposalID),
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
		s.auditLog(ctx, "execution_divergence", map[string]any{
			"proposal_id": proposalID,
			"tx_hash":     txHash,
			"error":       err.Error(),
		})
		return domain.Proposal{}, fmt.Errorf("governance_service: mark executed after tx %s: %w", txHash, err)
	}

	proposal.Status = domain.ProposalStatusExecuted
	proposal.ExecutionTxHash = txHash

	s.publishProposal(ctx, "proposal_executed", proposal)
	s.auditLog(ctx, "proposal_executed", map[string]any{
		"proposal_id": proposalID,
		"tx_hash":     txHash,
	})
	s.logger.InfoContext(ctx, "governance_service: proposal executed",
		slog.String("proposal_id", proposalID),
		slog.String("tx_hash", txHash),
	)
	return proposal, nil
}

// CancelProposal terminates the requester's own PENDING or ACTIVE proposal.
func (s *GovernanceService) CancelProposal(ctx context.Context, proposalID, requester string) (domain.Proposal, error) {
	proposal, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("governance_service: get proposal %q: %w", proposalID, err)
	}
	if proposal.ProposerAddress != requester {
		return domain.Proposal{}, fmt.Errorf("governance_service: cancel %q: %w", proposalID, domain.ErrNotOwner)
	}

	out, err := s.proposals.Cancel(ctx, proposalID)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("governance_service: cancel %q: %w", proposalID, err)
	}

	s.publishProposal(ctx, "proposal_cancelled", out)
	s.auditLog(ctx, "proposal_cancelled", map[string]any{"proposal_id": proposalID})
	return out, nil
}

// AdvanceClock runs the two time-driven transitions: PENDING proposals past
// their voting start become ACTIVE, and ACTIVE proposals past their voting
// end are finalized to SUCCEEDED or DEFEATED. It is invoked by the periodic
// sweep.
func (s *GovernanceService) AdvanceClock(ctx context.Context, now time.Time) error {
	activated, err := s.proposals.ActivateDue(ctx, now)
	if err != nil {
		return fmt.Errorf("governance_service: activate due: %w", err)
	}
	for _, p := range activated {
		s.publishProposal(ctx, "proposal_activated", p)
	}

	finalized, err := s.proposals.FinalizeDue(ctx, now)
	if err != nil {
		return fmt.Errorf("governance_service: finalize due: %w", err)
	}
	for _, p := range finalized {
		s.publishProposal(ctx, "proposal_finalized", p)
		s.auditLog(ctx, "proposal_finalized", map[string]any{
			"proposal_id": p.ID,
			"outcome":     string(p.Status),
			"for_wei":     p.ForVotes.String(),
			"against_wei": p.AgainstVotes.String(),
			"abstain_wei": p.AbstainVotes.String(),
		})
	}

	if len(activated) > 0 || len(finalized) > 0 {
		s.logger.InfoContext(ctx, "governance_service: clock advanced",
			slog.Int("activated", len(activated)),
			slog.Int("finalized", len(finalized)),
		)
	}
	return nil
}

// GetProposal returns one proposal by id.
func (s *GovernanceService) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("governance_service: get proposal %q: %w", id, err)
	}
	return p, nil
}

// ListProposals returns an agreement's proposals with pagination.
func (s *GovernanceService) ListProposals(ctx context.Context, agreementID string, opts domain.ListOpts) ([]domain.Proposal, error) {
	out, err := s.proposals.ListByAgreement(ctx, agreementID, opts)
	if err != nil {
		return nil, fmt.Errorf("governance_service: list proposals: %w", err)
	}
	return out, nil
}

// GetVote returns one voter's ballot on a proposal.
func (s *GovernanceService) GetVote(ctx context.Context, proposalID, voter string) (domain.Vote, error) {
	v, err := s.votes.Get(ctx, proposalID, voter)
	if err != nil {
		return domain.Vote{}, fmt.Errorf("governance_service: get vote: %w", err)
	}
	return v, nil
}

// ListVotes returns the ballots cast on a proposal.
func (s *GovernanceService) ListVotes(ctx context.Context, proposalID string, opts domain.ListOpts) ([]domain.Vote, error) {
	out, err := s.votes.ListByProposal(ctx, proposalID, opts)
	if err != nil {
		return nil, fmt.Errorf("governance_service: list votes: %w", err)
	}
	return out, nil
}

func (s *GovernanceService) publishProposal(ctx context.Context, event string, p domain.Proposal) {
	payload := map[string]any{
		"event":        event,
		"proposal_id":  p.ID,
		"agreement_id": p.AgreementID,
		"type":         string(p.Type),
		"status":       string(p.Status),
	}
	if err := domain.PublishJSON(ctx, s.bus, domain.ChannelProposals, payload); err != nil {
		s.logger.WarnContext(ctx, "governance_service: publish event failed",
			slog.String("event", event),
			slog.String("proposal_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *GovernanceService) publishVote(ctx context.Context, v domain.Vote) {
	payload := map[string]any{
		"event":       "vote_cast",
		"proposal_id": v.ProposalID,
		"voter":       v.VoterAddress,
		"support":     string(v.Support),
		"power_wei":   v.VotingPower.String(),
	}
	if err := domain.PublishJSON(ctx, s.bus, domain.ChannelVotes, payload); err != nil {
		s.logger.WarnContext(ctx, "governance_service: publish vote failed",
			slog.String("proposal_id", v.ProposalID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *GovernanceService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "governance_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *GovernanceService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "governance_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
