package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL. Credit and
// debit are single-statement row updates, so concurrent mutations to the
// same (holder, agreement) pair serialize on the row; a stale-read debit is
// impossible because the balance guard is part of the UPDATE itself.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a BalanceStore backed by the given pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

const balanceSelectCols = `holder_address, agreement_id, balance_wei::text,
	reserved_wei::text, updated_at`

func scanBalance(row pgx.Row) (domain.ShareBalance, error) {
	var b domain.ShareBalance
	var balance, reserved string
	if err := row.Scan(
		&b.HolderAddress, &b.AgreementID, &balance, &reserved, &b.UpdatedAt,
	); err != nil {
		return domain.ShareBalance{}, err
	}

	var err error
	if b.BalanceWei, err = parseWei(balance); err != nil {
		return domain.ShareBalance{}, err
	}
	if b.ReservedWei, err = parseWei(reserved); err != nil {
		return domain.ShareBalance{}, err
	}
	return b, nil
}

// Get returns the ledger row for (holder, agreement), or a zero-valued row
// when none exists.
func (s *BalanceStore) Get(ctx context.Context, holder, agreementID string) (domain.ShareBalance, error) {
	query := `SELECT ` + balanceSelectCols + `
		FROM share_balances WHERE holder_address = $1 AND agreement_id = $2`

	b, err := scanBalance(s.pool.QueryRow(ctx, query, holder, agreementID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ZeroBalance(holder, agreementID), nil
		}
		return domain.ShareBalance{}, fmt.Errorf("postgres: get balance %s/%s: %w", holder, agreementID, err)
	}
	return b, nil
}

// Credit increases the balance, creating the row if absent.
func (s *BalanceStore) Credit(ctx context.Context, holder, agreementID string, amountWei *big.Int) error {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}

	const query = `
		INSERT INTO share_balances (holder_address, agreement_id, balance_wei, updated_at)
		VALUES ($1, $2, $3::numeric, NOW())
		ON CONFLICT (holder_address, agreement_id) DO UPDATE SET
			balance_wei = share_balances.balance_wei + EXCLUDED.balance_wei,
			updated_at  = NOW()`

	if _, err := s.pool.Exec(ctx, query, holder, agreementID, weiText(amountWei)); err != nil {
		return fmt.Errorf("postgres: credit %s/%s: %w", holder, agreementID, err)
	}
	return nil
}

// Debit decreases the balance. The guard is part of the UPDATE, so a debit
// that would overdraw never commits, even under concurrency.
func (s *BalanceStore) Debit(ctx context.Context, holder, agreementID string, amountWei *big.Int) error {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}

	const query = `
		UPDATE share_balances SET
			balance_wei = balance_wei - $3::numeric,
			updated_at  = NOW()
		WHERE holder_address = $1 AND agreement_id = $2
		  AND balance_wei >= $3::numeric`

	tag, err := s.pool.Exec(ctx, query, holder, agreementID, weiText(amountWei))
	if err != nil {
		return fmt.Errorf("postgres: debit %s/%s: %w", holder, agreementID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}

// ListByAgreement returns every ledger row for the agreement.
func (s *BalanceStore) ListByAgreement(ctx context.Context, agreementID string) ([]domain.ShareBalance, error) {
	query := `SELECT ` + balanceSelectCols + `
		FROM share_balances WHERE agreement_id = $1 ORDER BY holder_address`

	rows, err := s.pool.Query(ctx, query, agreementID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances %s: %w", agreementID, err)
	}
	defer rows.Close()

	var out []domain.ShareBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// TotalWei sums balance_wei over all holders of the agreement.
func (s *BalanceStore) TotalWei(ctx context.Context, agreementID string) (*big.Int, error) {
	const query = `
		SELECT COALESCE(SUM(balance_wei), 0)::text
		FROM share_balances WHERE agreement_id = $1`

	var total string
	if err := s.pool.QueryRow(ctx, query, agreementID).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: total balance %s: %w", agreementID, err)
	}
	return parseWei(total)
}

// Compile-time interface check.
var _ domain.BalanceStore = (*BalanceStore)(nil)
