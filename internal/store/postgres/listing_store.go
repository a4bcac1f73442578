package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL. Admission
// and termination each run as one transaction that locks the seller's
// balance row, so the reserved counter and the set of ACTIVE listings can
// never drift apart.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a ListingStore backed by the given pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingSelectCols = `id, agreement_id, seller_address,
	shares_for_sale::text, price_per_share::text, status, expires_at,
	created_at, updated_at`

func scanListing(row pgx.Row) (domain.Listing, error) {
	var l domain.Listing
	var shares, price, status string
	if err := row.Scan(
		&l.ID, &l.AgreementID, &l.SellerAddress, &shares, &price,
		&status, &l.ExpiresAt, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return domain.Listing{}, err
	}
	l.Status = domain.ListingStatus(status)

	var err error
	if l.SharesForSale, err = parseWei(shares); err != nil {
		return domain.Listing{}, err
	}
	if l.PricePerShare, err = parseWei(price); err != nil {
		return domain.Listing{}, err
	}
	return l, nil
}

// CreateReserving atomically admits a listing: it locks the seller's
// balance row, verifies the available (unreserved) balance covers the
// listed amount, bumps the reserved counter, and inserts the ACTIVE
// listing. Splitting the check from the insert is exactly the race that
// produces over-listing, so both live inside one transaction.
func (s *ListingStore) CreateReserving(ctx context.Context, listing domain.Listing) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create listing: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance, reserved string
	err = tx.QueryRow(ctx, `
		SELECT balance_wei::text, reserved_wei::text
		FROM share_balances
		WHERE holder_address = $1 AND agreement_id = $2
		FOR UPDATE`,
		listing.SellerAddress, listing.AgreementID,
	).Scan(&balance, &reserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrInsufficientAvailableBalance
		}
		return fmt.Errorf("postgres: lock balance for listing: %w", err)
	}

	balanceWei, err := parseWei(balance)
	if err != nil {
		return err
	}
	reservedWei, err := parseWei(reserved)
	if err != nil {
		return err
	}

	available := new(big.Int).Sub(balanceWei, reservedWei)
	if available.Cmp(listing.SharesForSale) < 0 {
		return domain.ErrInsufficientAvailableBalance
	}

	_, err = tx.Exec(ctx, `
		UPDATE share_balances SET
			reserved_wei = reserved_wei + $3::numeric,
			updated_at   = NOW()
		WHERE holder_address = $1 AND agreement_id = $2`,
		listing.SellerAddress, listing.AgreementID, weiText(listing.SharesForSale),
	)
	if err != nil {
		return fmt.Errorf("postgres: reserve shares: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO listings (
			id, agreement_id, seller_address, shares_for_sale,
			price_per_share, status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $8)`,
		listing.ID, listing.AgreementID, listing.SellerAddress,
		weiText(listing.SharesForSale), weiText(listing.PricePerShare),
		string(listing.Status), listing.ExpiresAt, listing.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert listing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create listing: %w", err)
	}
	return nil
}

// GetByID returns the listing with the given id.
func (s *ListingStore) GetByID(ctx context.Context, id string) (domain.Listing, error) {
	query := `SELECT ` + listingSelectCols + ` FROM listings WHERE id = $1`

	l, err := scanListing(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", id, err)
	}
	return l, nil
}

// terminateTx moves an ACTIVE listing to a terminal status inside the
// caller's transaction and releases the remaining reservation.
func terminateTx(ctx context.Context, tx pgx.Tx, id string, to domain.ListingStatus) (domain.Listing, error) {
	l, err := scanListing(tx.QueryRow(ctx,
		`SELECT `+listingSelectCols+` FROM listings WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: lock listing %s: %w", id, err)
	}

	if l.Status != domain.ListingStatusActive {
		return domain.Listing{}, domain.ErrListingNotActive
	}
	if err := l.Transition(to); err != nil {
		return domain.Listing{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE listings SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(to),
	); err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: terminate listing %s: %w", id, err)
	}

	// Listed shares were reserved, never debited; release what is left.
	if l.SharesForSale.Sign() > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE share_balances SET
				reserved_wei = reserved_wei - $3::numeric,
				updated_at   = NOW()
			WHERE holder_address = $1 AND agreement_id = $2`,
			l.SellerAddress, l.AgreementID, weiText(l.SharesForSale),
		); err != nil {
			return domain.Listing{}, fmt.Errorf("postgres: release reservation: %w", err)
		}
	}

	return l, nil
}

// Terminate moves an ACTIVE listing to the given terminal status.
func (s *ListingStore) Terminate(ctx context.Context, id string, to domain.ListingStatus) (domain.Listing, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: begin terminate listing: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := terminateTx(ctx, tx, id, to)
	if err != nil {
		return domain.Listing{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: commit terminate listing: %w", err)
	}
	return l, nil
}

// ExpireDue terminates every ACTIVE listing whose expiry has passed.
// SKIP LOCKED lets concurrent sweeps divide the work instead of queueing.
func (s *ListingStore) ExpireDue(ctx context.Context, now time.Time) ([]domain.Listing, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin expire sweep: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM listings
		WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at < $1
		FOR UPDATE SKIP LOCKED`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: select due listings: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan due listing: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var expired []domain.Listing
	for _, id := range ids {
		l, err := terminateTx(ctx, tx, id, domain.ListingStatusExpired)
		if err != nil {
			return nil, err
		}
		expired = append(expired, l)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit expire sweep: %w", err)
	}
	return expired, nil
}

func (s *ListingStore) list(ctx context.Context, where string, key string, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `SELECT ` + listingSelectCols + ` FROM listings WHERE ` + where
	args := []any{key}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListByAgreement returns listings for the agreement with pagination.
func (s *ListingStore) ListByAgreement(ctx context.Context, agreementID string, opts domain.ListOpts) ([]domain.Listing, error) {
	return s.list(ctx, "agreement_id = $1", agreementID, opts)
}

// ListBySeller returns listings created by the seller with pagination.
func (s *ListingStore) ListBySeller(ctx context.Context, seller string, opts domain.ListOpts) ([]domain.Listing, error) {
	return s.list(ctx, "seller_address = $1", seller, opts)
}

// ActiveBySellerAgreement returns the seller's ACTIVE listings for one
// agreement.
func (s *ListingStore) ActiveBySellerAgreement(ctx context.Context, seller, agreementID string) ([]domain.Listing, error) {
	query := `SELECT ` + listingSelectCols + ` FROM listings
		WHERE seller_address = $1 AND agreement_id = $2 AND status = 'ACTIVE'
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, seller, agreementID)
	if err != nil {
		return nil, fmt.Errorf("postgres: active listings %s/%s: %w", seller, agreementID, err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.ListingStore = (*ListingStore)(nil)
