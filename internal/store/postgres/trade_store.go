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

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, listing_id, agreement_id, seller_address,
	buyer_address, shares_purchased::text, price_per_share::text, tx_hash,
	gas_used, executed_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var shares, price string
	var gasUsed int64
	if err := row.Scan(
		&t.ID, &t.ListingID, &t.AgreementID, &t.SellerAddress,
		&t.BuyerAddress, &shares, &price, &t.TxHash, &gasUsed, &t.ExecutedAt,
	); err != nil {
		return domain.Trade{}, err
	}
	t.GasUsed = uint64(gasUsed)

	var err error
	if t.SharesPurchased, err = parseWei(shares); err != nil {
		return domain.Trade{}, err
	}
	if t.PricePerShare, err = parseWei(price); err != nil {
		return domain.Trade{}, err
	}
	return t, nil
}

// settleLockOrder returns the settlement pair in ascending address order.
// Every settle locks its two balance rows in this order, so crossed settles
// between the same holders cannot wait on each other in a cycle.
func settleLockOrder(seller, buyer string) []string {
	if seller <= buyer {
		return []string{seller, buyer}
	}
	return []string{buyer, seller}
}

// Settle commits the local half of a confirmed on-chain purchase in one
// transaction: seller debit, buyer credit, reservation release, listing
// decrement, trade insert. The listing row is locked first; both balance
// rows are then locked in ascending address order (the buyer's row is
// created first when absent), so two crossed settles cannot acquire the
// pair in opposite orders and deadlock after their transfers confirmed.
func (s *TradeStore) Settle(ctx context.Context, p domain.SettleParams) (domain.Trade, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: begin settle: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := scanListing(tx.QueryRow(ctx,
		`SELECT `+listingSelectCols+` FROM listings WHERE id = $1 FOR UPDATE`, p.ListingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: lock listing %s: %w", p.ListingID, err)
	}

	if l.Status != domain.ListingStatusActive {
		return domain.Trade{}, domain.ErrListingNotActive
	}
	if p.SharesPurchased.Sign() <= 0 {
		return domain.Trade{}, domain.ErrInvalidAmount
	}
	if p.SharesPurchased.Cmp(l.SharesForSale) > 0 {
		return domain.Trade{}, domain.ErrInsufficientSharesAvailable
	}

	amount := weiText(p.SharesPurchased)

	if _, err := tx.Exec(ctx, `
		INSERT INTO share_balances (holder_address, agreement_id, balance_wei, updated_at)
		VALUES ($1, $2, 0, NOW())
		ON CONFLICT (holder_address, agreement_id) DO NOTHING`,
		p.BuyerAddress, l.AgreementID,
	); err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: settle ensure buyer row: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		SELECT holder_address FROM share_balances
		WHERE agreement_id = $1 AND holder_address = ANY($2::text[])
		ORDER BY holder_address
		FOR UPDATE`,
		l.AgreementID, settleLockOrder(l.SellerAddress, p.BuyerAddress),
	); err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: settle lock balances: %w", err)
	}

	// Debit the seller and release the filled part of the reservation in
	// one guarded statement.
	tag, err := tx.Exec(ctx, `
		UPDATE share_balances SET
			balance_wei  = balance_wei - $3::numeric,
			reserved_wei = reserved_wei - $3::numeric,
			updated_at   = NOW()
		WHERE holder_address = $1 AND agreement_id = $2
		  AND balance_wei >= $3::numeric AND reserved_wei >= $3::numeric`,
		l.SellerAddress, l.AgreementID, amount,
	)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: settle debit seller: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Trade{}, domain.ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx, `
		UPDATE share_balances SET
			balance_wei = balance_wei + $3::numeric,
			updated_at  = NOW()
		WHERE holder_address = $1 AND agreement_id = $2`,
		p.BuyerAddress, l.AgreementID, amount,
	); err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: settle credit buyer: %w", err)
	}

	newStatus := string(domain.ListingStatusActive)
	if l.SharesForSale.Cmp(p.SharesPurchased) == 0 {
		newStatus = string(domain.ListingStatusSold)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE listings SET
			shares_for_sale = shares_for_sale - $2::numeric,
			status          = $3,
			updated_at      = NOW()
		WHERE id = $1`,
		p.ListingID, amount, newStatus,
	); err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: settle decrement listing: %w", err)
	}

	trade := domain.Trade{
		ListingID:       p.ListingID,
		AgreementID:     l.AgreementID,
		SellerAddress:   l.SellerAddress,
		BuyerAddress:    p.BuyerAddress,
		SharesPurchased: p.SharesPurchased,
		PricePerShare:   l.PricePerShare,
		TxHash:          p.TxHash,
		GasUsed:         p.GasUsed,
		ExecutedAt:      p.ExecutedAt,
	}

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO trades (
			id, listing_id, agreement_id, seller_address, buyer_address,
			shares_purchased, price_per_share, tx_hash, gas_used, executed_at
		) VALUES (gen_random_uuid(), $1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9)
		RETURNING id`,
		trade.ListingID, trade.AgreementID, trade.SellerAddress,
		trade.BuyerAddress, amount, weiText(trade.PricePerShare),
		trade.TxHash, int64(trade.GasUsed), trade.ExecutedAt,
	).Scan(&id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: insert trade: %w", err)
	}
	trade.ID = id

	if err := tx.Commit(ctx); err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: commit settle: %w", err)
	}
	return trade, nil
}

// GetByID returns the trade with the given id.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE id = $1`
	t, err := scanTrade(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// GetByTxHash returns the trade settled by the given transaction hash.
func (s *TradeStore) GetByTxHash(ctx context.Context, txHash string) (domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE tx_hash = $1`
	t, err := scanTrade(s.pool.QueryRow(ctx, query, txHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade by tx %s: %w", txHash, err)
	}
	return t, nil
}

func (s *TradeStore) list(ctx context.Context, where string, key string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE ` + where
	args := []any{key}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListByListing returns trades that filled the given listing.
func (s *TradeStore) ListByListing(ctx context.Context, listingID string, opts domain.ListOpts) ([]domain.Trade, error) {
	return s.list(ctx, "listing_id = $1", listingID, opts)
}

// ListByWallet returns trades where the wallet appears as buyer or seller.
func (s *TradeStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error) {
	return s.list(ctx, "(buyer_address = $1 OR seller_address = $1)", wallet, opts)
}

// ListBefore returns trades executed strictly before the given time, oldest
// first, for archiving.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE executed_at < $1 ORDER BY executed_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
