package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// PlanStore implements domain.PlanStore using PostgreSQL. Diffs are stored
// as a JSONB array with wei amounts serialized as decimal strings.
type PlanStore struct {
	pool *pgxpool.Pool
}

// NewPlanStore creates a PlanStore backed by the given pool.
func NewPlanStore(pool *pgxpool.Pool) *PlanStore {
	return &PlanStore{pool: pool}
}

type planDiffJSON struct {
	Holder      string `json:"holder"`
	AgreementID string `json:"agreement_id"`
	LedgerWei   string `json:"ledger_wei"`
	ChainWei    string `json:"chain_wei"`
	DeltaWei    string `json:"delta_wei"`
	Action      string `json:"action"`
}

func encodeDiffs(diffs []domain.BalanceDiff) ([]byte, error) {
	out := make([]planDiffJSON, 0, len(diffs))
	for _, d := range diffs {
		out = append(out, planDiffJSON{
			Holder:      d.HolderAddress,
			AgreementID: d.AgreementID,
			LedgerWei:   weiText(d.LedgerWei),
			ChainWei:    weiText(d.ChainWei),
			DeltaWei:    weiText(d.DeltaWei),
			Action:      string(d.Action),
		})
	}
	return json.Marshal(out)
}

func decodeDiffs(blob []byte) ([]domain.BalanceDiff, error) {
	var raw []planDiffJSON
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal plan diffs: %w", err)
	}

	out := make([]domain.BalanceDiff, 0, len(raw))
	for _, r := range raw {
		ledger, err := parseWei(r.LedgerWei)
		if err != nil {
			return nil, err
		}
		chain, err := parseWei(r.ChainWei)
		if err != nil {
			return nil, err
		}
		delta, err := parseWei(r.DeltaWei)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.BalanceDiff{
			HolderAddress: r.Holder,
			AgreementID:   r.AgreementID,
			LedgerWei:     ledger,
			ChainWei:      chain,
			DeltaWei:      delta,
			Action:        domain.DiffAction(r.Action),
		})
	}
	return out, nil
}

const planSelectCols = `id, agreement_id, diffs, confirm_token, status,
	created_at, applied_at`

func scanPlan(row pgx.Row) (domain.ReconciliationPlan, error) {
	var p domain.ReconciliationPlan
	var blob []byte
	var status string
	if err := row.Scan(
		&p.ID, &p.AgreementID, &blob, &p.ConfirmToken, &status,
		&p.CreatedAt, &p.AppliedAt,
	); err != nil {
		return domain.ReconciliationPlan{}, err
	}
	p.Status = domain.PlanStatus(status)

	var err error
	if p.Diffs, err = decodeDiffs(blob); err != nil {
		return domain.ReconciliationPlan{}, err
	}
	return p, nil
}

// Create inserts a new PENDING plan.
func (s *PlanStore) Create(ctx context.Context, plan domain.ReconciliationPlan) error {
	blob, err := encodeDiffs(plan.Diffs)
	if err != nil {
		return fmt.Errorf("postgres: marshal plan diffs: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO reconciliation_plans (
			id, agreement_id, diffs, confirm_token, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		plan.ID, plan.AgreementID, blob, plan.ConfirmToken,
		string(plan.Status), plan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create reconciliation plan: %w", err)
	}
	return nil
}

// GetByID returns the plan with the given id.
func (s *PlanStore) GetByID(ctx context.Context, id string) (domain.ReconciliationPlan, error) {
	query := `SELECT ` + planSelectCols + ` FROM reconciliation_plans WHERE id = $1`

	p, err := scanPlan(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ReconciliationPlan{}, domain.ErrNotFound
		}
		return domain.ReconciliationPlan{}, fmt.Errorf("postgres: get plan %s: %w", id, err)
	}
	return p, nil
}

// MarkApplied moves a PENDING plan to APPLIED. The status guard is part of
// the UPDATE so a plan can be applied at most once.
func (s *PlanStore) MarkApplied(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reconciliation_plans SET status = 'APPLIED', applied_at = $2
		WHERE id = $1 AND status = 'PENDING'`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark plan applied %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrPlanNotPending
	}
	return nil
}

// MarkDiscarded moves a PENDING plan to DISCARDED.
func (s *PlanStore) MarkDiscarded(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reconciliation_plans SET status = 'DISCARDED'
		WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark plan discarded %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrPlanNotPending
	}
	return nil
}

// List returns plans, newest first, with pagination.
func (s *PlanStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ReconciliationPlan, error) {
	query := `SELECT ` + planSelectCols + ` FROM reconciliation_plans ORDER BY created_at DESC`
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
		return nil, fmt.Errorf("postgres: list plans: %w", err)
	}
	defer rows.Close()

	var out []domain.ReconciliationPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.PlanStore = (*PlanStore)(nil)
