package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// ProposalStore implements domain.ProposalStore using PostgreSQL.
type ProposalStore struct {
	pool *pgxpool.Pool
}

// NewProposalStore creates a ProposalStore backed by the given pool.
func NewProposalStore(pool *pgxpool.Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

const proposalSelectCols = `id, agreement_id, proposer_address, proposal_type,
	parameter_key, target_value, description, voting_start, voting_end,
	for_votes::text, against_votes::text, abstain_votes::text,
	quorum_required::text, proposal_threshold::text, status,
	execution_tx_hash, created_at`

func scanProposal(row pgx.Row) (domain.Proposal, error) {
	var p domain.Proposal
	var ptype, status string
	var forVotes, againstVotes, abstainVotes, quorum, threshold string
	if err := row.Scan(
		&p.ID, &p.AgreementID, &p.ProposerAddress, &ptype, &p.ParameterKey,
		&p.TargetValue, &p.Description, &p.VotingStart, &p.VotingEnd,
		&forVotes, &againstVotes, &abstainVotes, &quorum, &threshold,
		&status, &p.ExecutionTxHash, &p.CreatedAt,
	); err != nil {
		return domain.Proposal{}, err
	}
	p.Type = domain.ProposalType(ptype)
	p.Status = domain.ProposalStatus(status)

	var err error
	if p.ForVotes, err = parseWei(forVotes); err != nil {
		return domain.Proposal{}, err
	}
	if p.AgainstVotes, err = parseWei(againstVotes); err != nil {
		return domain.Proposal{}, err
	}
	if p.AbstainVotes, err = parseWei(abstainVotes); err != nil {
		return domain.Proposal{}, err
	}
	if p.QuorumRequired, err = parseWei(quorum); err != nil {
		return domain.Proposal{}, err
	}
	if p.ProposalThreshold, err = parseWei(threshold); err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

// Create inserts a new proposal.
func (s *ProposalStore) Create(ctx context.Context, proposal domain.Proposal) error {
	const query = `
		INSERT INTO proposals (
			id, agreement_id, proposer_address, proposal_type, parameter_key,
			target_value, description, voting_start, voting_end,
			quorum_required, proposal_threshold, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11::numeric, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		proposal.ID, proposal.AgreementID, proposal.ProposerAddress,
		string(proposal.Type), proposal.ParameterKey, proposal.TargetValue,
		proposal.Description, proposal.VotingStart, proposal.VotingEnd,
		weiText(proposal.QuorumRequired), weiText(proposal.ProposalThreshold),
		string(proposal.Status), proposal.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create proposal: %w", err)
	}
	return nil
}

// GetByID returns the proposal with the given id.
func (s *ProposalStore) GetByID(ctx context.Context, id string) (domain.Proposal, error) {
	query := `SELECT ` + proposalSelectCols + ` FROM proposals WHERE id = $1`

	p, err := scanProposal(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Proposal{}, domain.ErrNotFound
		}
		return domain.Proposal{}, fmt.Errorf("postgres: get proposal %s: %w", id, err)
	}
	return p, nil
}

// ListByAgreement returns proposals for the agreement, newest first.
func (s *ProposalStore) ListByAgreement(ctx context.Context, agreementID string, opts domain.ListOpts) ([]domain.Proposal, error) {
	query := `SELECT ` + proposalSelectCols + ` FROM proposals
		WHERE agreement_id = $1 ORDER BY created_at DESC`
	args := []any{agreementID}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	defer rows.Close()

	var out []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ActivateDue moves PENDING proposals whose voting start has passed to
// ACTIVE and returns them.
func (s *ProposalStore) ActivateDue(ctx context.Context, now time.Time) ([]domain.Proposal, error) {
	query := `
		UPDATE proposals SET status = 'ACTIVE'
		WHERE status = 'PENDING' AND voting_start <= $1
		RETURNING ` + proposalSelectCols

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: activate due proposals: %w", err)
	}
	defer rows.Close()

	var out []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan activated proposal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FinalizeDue evaluates ACTIVE proposals past their voting end exactly
// once. The outcome condition lives in the UPDATE itself so a proposal can
// never be finalized twice or against tallies it did not end with.
func (s *ProposalStore) FinalizeDue(ctx context.Context, now time.Time) ([]domain.Proposal, error) {
	query := `
		UPDATE proposals SET status = CASE
			WHEN for_votes > against_votes
			 AND (for_votes + against_votes + abstain_votes) >= quorum_required
			THEN 'SUCCEEDED'
			ELSE 'DEFEATED'
		END
		WHERE status = 'ACTIVE' AND voting_end <= $1
		RETURNING ` + proposalSelectCols

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: finalize due proposals: %w", err)
	}
	defer rows.Close()

	var out []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan finalized proposal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkExecuted moves a SUCCEEDED proposal to EXECUTED. The status guard is
// part of the UPDATE, so a second execution attempt reads the current
// status and reports AlreadyExecuted without mutating anything.
func (s *ProposalStore) MarkExecuted(ctx context.Context, id, txHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE proposals SET status = 'EXECUTED', execution_tx_hash = $2
		WHERE id = $1 AND status = 'SUCCEEDED'`,
		id, txHash,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark proposal executed %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	p, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == domain.ProposalStatusExecuted {
		return domain.ErrAlreadyExecuted
	}
	return domain.ErrNotSucceeded
}

// Cancel terminates a PENDING or ACTIVE proposal.
func (s *ProposalStore) Cancel(ctx context.Context, id string) (domain.Proposal, error) {
	query := `
		UPDATE proposals SET status = 'CANCELLED'
		WHERE id = $1 AND status IN ('PENDING', 'ACTIVE')
		RETURNING ` + proposalSelectCols

	p, err := scanProposal(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := s.GetByID(ctx, id); getErr != nil {
				return domain.Proposal{}, getErr
			}
			return domain.Proposal{}, domain.ErrIllegalTransition
		}
		return domain.Proposal{}, fmt.Errorf("postgres: cancel proposal %s: %w", id, err)
	}
	return p, nil
}

// Compile-time interface check.
var _ domain.ProposalStore = (*ProposalStore)(nil)
