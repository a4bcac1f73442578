package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// AgreementStore implements domain.AgreementStore using PostgreSQL.
type AgreementStore struct {
	pool *pgxpool.Pool
}

// NewAgreementStore creates an AgreementStore backed by the given pool.
func NewAgreementStore(pool *pgxpool.Pool) *AgreementStore {
	return &AgreementStore{pool: pool}
}

const agreementSelectCols = `id, name, symbol, total_token_supply, token_standard,
	token_contract, token_unit_id::text, owner_address, created_at`

func scanAgreement(row pgx.Row) (domain.Agreement, error) {
	var a domain.Agreement
	var standard string
	var unitID *string
	if err := row.Scan(
		&a.ID, &a.Name, &a.Symbol, &a.TotalTokenSupply, &standard,
		&a.TokenContract, &unitID, &a.OwnerAddress, &a.CreatedAt,
	); err != nil {
		return domain.Agreement{}, err
	}
	a.TokenStandard = domain.TokenStandard(standard)

	var err error
	if a.TokenUnitID, err = parseNullableWei(unitID); err != nil {
		return domain.Agreement{}, err
	}
	return a, nil
}

// Create inserts a new agreement.
func (s *AgreementStore) Create(ctx context.Context, agreement domain.Agreement) error {
	const query = `
		INSERT INTO agreements (
			id, name, symbol, total_token_supply, token_standard,
			token_contract, token_unit_id, owner_address, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		agreement.ID, agreement.Name, agreement.Symbol,
		agreement.TotalTokenSupply, string(agreement.TokenStandard),
		agreement.TokenContract, nullableWeiText(agreement.TokenUnitID),
		agreement.OwnerAddress, agreement.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create agreement: %w", err)
	}
	return nil
}

// GetByID returns the agreement with the given id.
func (s *AgreementStore) GetByID(ctx context.Context, id string) (domain.Agreement, error) {
	query := `SELECT ` + agreementSelectCols + ` FROM agreements WHERE id = $1`

	a, err := scanAgreement(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Agreement{}, domain.ErrNotFound
		}
		return domain.Agreement{}, fmt.Errorf("postgres: get agreement %s: %w", id, err)
	}
	return a, nil
}

// List returns agreements ordered by creation time, newest first.
func (s *AgreementStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Agreement, error) {
	query := `SELECT ` + agreementSelectCols + ` FROM agreements ORDER BY created_at DESC`
	args := []any{}
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
		return nil, fmt.Errorf("postgres: list agreements: %w", err)
	}
	defer rows.Close()

	var out []domain.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan agreement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.AgreementStore = (*AgreementStore)(nil)
