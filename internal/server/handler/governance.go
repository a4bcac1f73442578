package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sharemarket/internal/domain"
	"github.com/alanyoungcy/sharemarket/internal/service"
)

// GovernanceService defines the methods the governance handler requires
// from the service layer.
type GovernanceService interface {
	CreateProposal(ctx context.Context, p service.CreateProposalParams) (domain.Proposal, error)
	CastVote(ctx context.Context, proposalID, voter string, support domain.VoteSupport) (domain.Vote, error)
	ExecuteProposal(ctx context.Context, proposalID string) (domain.Proposal, error)
	CancelProposal(ctx context.Context, proposalID, requester string) (domain.Proposal, error)
	GetProposal(ctx context.Context, id string) (domain.Proposal, error)
	ListProposals(ctx context.Context, agreementID string, opts domain.ListOpts) ([]domain.Proposal, error)
	GetVote(ctx context.Context, proposalID, voter string) (domain.Vote, error)
	ListVotes(ctx context.Context, proposalID string, opts domain.ListOpts) ([]domain.Vote, error)
}

// GovernanceHandler serves proposal and voting endpoints.
type GovernanceHandler struct {
	governance GovernanceService
	logger     *slog.Logger
}

// NewGovernanceHandler creates a GovernanceHandler with the given service
// and logger.
func NewGovernanceHandler(governance GovernanceService, logger *slog.Logger) *GovernanceHandler {
	return &GovernanceHandler{
		governance: governance,
		logger:     logger,
	}
}

// createProposalRequest is the JSON body for CreateProposal.
type createProposalRequest struct {
	AgreementID     string `json:"agreement_id"`
	ProposerAddress string `json:"proposer_address"`
	Type            string `json:"type"`
	ParameterKey    string `json:"parameter_key,omitempty"`
	TargetValue     int64  `json:"target_value"`
	Description     string `json:"description"`
}

// CreateProposal opens a new proposal.
// POST /api/proposals
func (h *GovernanceHandler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	proposal, err := h.governance.CreateProposal(r.Context(), service.CreateProposalParams{
		AgreementID:     req.AgreementID,
		ProposerAddress: req.ProposerAddress,
		Type:            domain.ProposalType(req.Type),
		ParameterKey:    req.ParameterKey,
		TargetValue:     req.TargetValue,
		Description:     req.Description,
	})
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProposalView(proposal))
}

// GetProposal returns one proposal.
// GET /api/proposals/{id}
func (h *GovernanceHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	proposal, err := h.governance.GetProposal(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalView(proposal))
}

// ListProposals returns an agreement's proposals.
// GET /api/proposals?agreement_id=...&limit=50&offset=0
func (h *GovernanceHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	agreementID := r.URL.Query().Get("agreement_id")
	if agreementID == "" {
		writeError(w, http.StatusBadRequest, "agreement_id query parameter required")
		return
	}

	proposals, err := h.governance.ListProposals(r.Context(), agreementID, parseListOpts(r))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	views := make([]proposalView, 0, len(proposals))
	for _, p := range proposals {
		views = append(views, toProposalView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": views})
}

// castVoteRequest is the JSON body for CastVote.
type castVoteRequest struct {
	VoterAddress string `json:"voter_address"`
	Support      string `json:"support"`
}

// CastVote records a ballot on an active proposal.
// POST /api/proposals/{id}/votes
func (h *GovernanceHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	var req castVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	vote, err := h.governance.CastVote(r.Context(), pathParam(r, "id"),
		req.VoterAddress, domain.VoteSupport(req.Support))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVoteView(vote))
}

// ListVotes returns the ballots cast on a proposal.
// GET /api/proposals/{id}/votes
func (h *GovernanceHandler) ListVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := h.governance.ListVotes(r.Context(), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	views := make([]voteView, 0, len(votes))
	for _, v := range votes {
		views = append(views, toVoteView(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"votes": views})
}

// GetVote returns one voter's ballot.
// GET /api/proposals/{id}/votes/{address}
func (h *GovernanceHandler) GetVote(w http.ResponseWriter, r *http.Request) {
	vote, err := h.governance.GetVote(r.Context(), pathParam(r, "id"), pathParam(r, "address"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoteView(vote))
}

// Execute submits the governed action of a succeeded proposal on-chain.
// POST /api/proposals/{id}/execute
func (h *GovernanceHandler) Execute(w http.ResponseWriter, r *http.Request) {
	proposal, err := h.governance.ExecuteProposal(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalView(proposal))
}

// Cancel terminates the requester's own proposal.
// DELETE /api/proposals/{id}?requester=0x...
func (h *GovernanceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	requester := r.URL.Query().Get("requester")
	if requester == "" {
		writeError(w, http.StatusBadRequest, "requester query parameter required")
		return
	}

	proposal, err := h.governance.CancelProposal(r.Context(), pathParam(r, "id"), requester)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalView(proposal))
}
