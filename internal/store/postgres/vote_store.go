package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

// VoteStore implements domain.VoteStore using PostgreSQL.
type VoteStore struct {
	pool *pgxpool.Pool
}

// NewVoteStore creates a VoteStore backed by the given pool.
func NewVoteStore(pool *pgxpool.Pool) *VoteStore {
	return &VoteStore{pool: pool}
}

const voteSelectCols = `id, proposal_id, voter_address, support,
	voting_power::text, voted_at`

func scanVote(row pgx.Row) (domain.Vote, error) {
	var v domain.Vote
	var support, power string
	if err := row.Scan(
		&v.ID, &v.ProposalID, &v.VoterAddress, &support, &power, &v.VotedAt,
	); err != nil {
		return domain.Vote{}, err
	}
	v.Support = domain.VoteSupport(support)

	var err error
	if v.VotingPower, err = parseWei(power); err != nil {
		return domain.Vote{}, err
	}
	return v, nil
}

// tallyColumn maps a support direction to its proposal tally column. The
// column name is interpolated into SQL, so it must come from this closed
// map, never from input.
func tallyColumn(support domain.VoteSupport) (string, error) {
	switch support {
	case domain.VoteFor:
		return "for_votes", nil
	case domain.VoteAgainst:
		return "against_votes", nil
	case domain.VoteAbstain:
		return "abstain_votes", nil
	}
	return "", domain.ErrInvalidSupport
}

// Cast snapshots the voter's balance, inserts the vote, and increments the
// matching proposal tally in one transaction. The balance row is read with a
// share lock, so a settlement cannot move the balance between the snapshot
// and the commit. The (proposal_id, voter_address) unique constraint is the
// backstop against double voting; a violation rolls the tally back too.
func (s *VoteStore) Cast(ctx context.Context, vote domain.Vote) (domain.Vote, error) {
	column, err := tallyColumn(vote.Support)
	if err != nil {
		return domain.Vote{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Vote{}, fmt.Errorf("postgres: begin cast vote: %w", err)
	}
	defer tx.Rollback(ctx)

	var agreementID string
	err = tx.QueryRow(ctx,
		`SELECT agreement_id FROM proposals WHERE id = $1`, vote.ProposalID,
	).Scan(&agreementID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vote{}, domain.ErrNotFound
		}
		return domain.Vote{}, fmt.Errorf("postgres: cast vote proposal %s: %w", vote.ProposalID, err)
	}

	var power string
	err = tx.QueryRow(ctx, `
		SELECT balance_wei::text FROM share_balances
		WHERE holder_address = $1 AND agreement_id = $2
		FOR SHARE`,
		vote.VoterAddress, agreementID,
	).Scan(&power)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vote{}, domain.ErrInsufficientBalance
		}
		return domain.Vote{}, fmt.Errorf("postgres: snapshot voting power: %w", err)
	}
	if vote.VotingPower, err = parseWei(power); err != nil {
		return domain.Vote{}, err
	}
	if vote.VotingPower.Sign() <= 0 {
		return domain.Vote{}, domain.ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO votes (id, proposal_id, voter_address, support, voting_power, voted_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
		vote.ID, vote.ProposalID, vote.VoterAddress,
		string(vote.Support), weiText(vote.VotingPower), vote.VotedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Vote{}, domain.ErrAlreadyVoted
		}
		return domain.Vote{}, fmt.Errorf("postgres: insert vote: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE proposals SET %s = %s + $2::numeric WHERE id = $1`, column, column)
	if _, err := tx.Exec(ctx, query, vote.ProposalID, weiText(vote.VotingPower)); err != nil {
		return domain.Vote{}, fmt.Errorf("postgres: increment tally: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Vote{}, fmt.Errorf("postgres: commit cast vote: %w", err)
	}
	return vote, nil
}

// Get returns the vote cast by voter on the proposal.
func (s *VoteStore) Get(ctx context.Context, proposalID, voter string) (domain.Vote, error) {
	query := `SELECT ` + voteSelectCols + ` FROM votes
		WHERE proposal_id = $1 AND voter_address = $2`

	v, err := scanVote(s.pool.QueryRow(ctx, query, proposalID, voter))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vote{}, domain.ErrNotFound
		}
		return domain.Vote{}, fmt.Errorf("postgres: get vote %s/%s: %w", proposalID, voter, err)
	}
	return v, nil
}

// ListByProposal returns votes on the proposal, most recent first.
func (s *VoteStore) ListByProposal(ctx context.Context, proposalID string, opts domain.ListOpts) ([]domain.Vote, error) {
	query := `SELECT ` + voteSelectCols + ` FROM votes
		WHERE proposal_id = $1 ORDER BY voted_at DESC`
	args := []any{proposalID}
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
		return nil, fmt.Errorf("postgres: list votes: %w", err)
	}
	defer rows.Close()

	var out []domain.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan vote: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.VoteStore = (*VoteStore)(nil)
