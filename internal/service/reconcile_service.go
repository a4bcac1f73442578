package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/sharemarket/internal/domain"
	"github.com/alanyoungcy/sharemarket/internal/notify"
)

// ReconcileService detects and corrects drift between the ledger and the
// on-chain token balances. Detection (Plan) is a pure dry run; correction
// (Apply) only happens when an operator quotes the plan's confirmation
// token. Nothing here runs automatically.
type ReconcileService struct {
	balances   domain.BalanceStore
	listings   domain.ListingStore
	agreements domain.AgreementStore
	plans      domain.PlanStore
	chain      domain.ChainClient
	bus        domain.SignalBus
	audit      domain.AuditStore
	notifier   *notify.Notifier
	logger     *slog.Logger

	chainTimeout time.Duration
}

// NewReconcileService creates a ReconcileService with all required
// dependencies. A zero chainTimeout falls back to the default.
func NewReconcileService(
	balances domain.BalanceStore,
	listings domain.ListingStore,
	agreements domain.AgreementStore,
	plans domain.PlanStore,
	chain domain.ChainClient,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
	chainTimeout time.Duration,
) *ReconcileService {
	if chainTimeout <= 0 {
		chainTimeout = defaultChainTimeout
	}
	return &ReconcileService{
		balances:     balances,
		listings:     listings,
		agreements:   agreements,
		plans:        plans,
		chain:        chain,
		bus:          bus,
		audit:        audit,
		notifier:     notifier,
		logger:       logger,
		chainTimeout: chainTimeout,
	}
}

// chainBalance bounds one balance read against a slow or stalled node.
func (s *ReconcileService) chainBalance(ctx context.Context, agreement domain.Agreement, holder string) (*big.Int, error) {
	chainCtx, cancel := context.WithTimeout(ctx, s.chainTimeout)
	defer cancel()
	return s.chain.TokenBalance(chainCtx, agreement, holder)
}

// Plan compares every ledger row of the agreement against the holder's
// on-chain balance and stores the mismatches as a PENDING plan. A clean
// plan (no diffs) is returned without being stored.
func (s *ReconcileService) Plan(ctx context.Context, agreementID string) (domain.ReconciliationPlan, error) {
	agreement, err := s.agreements.GetByID(ctx, agreementID)
	if err != nil {
		return domain.ReconciliationPlan{}, fmt.Errorf("reconcile_service: get agreement %q: %w", agreementID, err)
	}
	rows, err := s.balances.ListByAgreement(ctx, agreementID)
	if err != nil {
		return domain.ReconciliationPlan{}, fmt.Errorf("reconcile_service: list balances: %w", err)
	}

	var diffs []domain.BalanceDiff
	for _, row := range rows {
		chainWei, err := s.chainBalance(ctx, agreement, row.HolderAddress)
		if err != nil {
			return domain.ReconciliationPlan{}, fmt.Errorf("reconcile_service: chain balance of %s: %w", row.HolderAddress, err)
		}
		delta := new(big.Int).Sub(row.BalanceWei, chainWei)
		if delta.Sign() == 0 {
			continue
		}
		diffs = append(diffs, domain.BalanceDiff{
			HolderAddress: row.HolderAddress,
			AgreementID:   agreementID,
			LedgerWei:     new(big.Int).Set(row.BalanceWei),
			ChainWei:      chainWei,
			DeltaWei:      delta,
		})
	}
	classifyDiffs(diffs)

	plan := domain.ReconciliationPlan{
		ID:           uuid.NewString(),
		AgreementID:  agreementID,
		Diffs:        diffs,
		ConfirmToken: uuid.NewString(),
		Status:       domain.PlanStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if plan.Clean() {
		return plan, nil
	}

	if err := s.plans.Create(ctx, plan); err != nil {
		return domain.ReconciliationPlan{}, fmt.Errorf("reconcile_service: store plan: %w", err)
	}

	s.publishAnomaly(ctx, map[string]any{
		"event":        "drift_detected",
		"plan_id":      plan.ID,
		"agreement_id": agreementID,
		"diff_count":   len(diffs),
	})
	s.auditLog(ctx, "reconciliation_plan_created", map[string]any{
		"plan_id":      plan.ID,
		"agreement_id": agreementID,
		"diff_count":   len(diffs),
	})
	s.notify(ctx, "reconciliation", "Ledger drift detected",
		fmt.Sprintf("agreement %s: %d balance mismatch(es), plan %s awaits confirmation", agreementID, len(diffs), plan.ID))
	s.logger.WarnContext(ctx, "reconcile_service: drift detected",
		slog.String("agreement_id", agreementID),
		slog.Int("diff_count", len(diffs)),
	)
	return plan, nil
}

// classifyDiffs assigns a corrective action to each diff. A positive delta
// (ledger ahead of chain) that mirrors a negative delta of equal size is
// the seller half of a settlement divergence, so both sides are corrected
// on the ledger. Unpaired positive deltas need an on-chain transfer to
// catch the chain up; unpaired negative deltas are credited on the ledger.
func classifyDiffs(diffs []domain.BalanceDiff) {
	unmatchedCredits := make(map[string]int)
	for _, d := range diffs {
		if d.DeltaWei.Sign() < 0 {
			unmatchedCredits[new(big.Int).Neg(d.DeltaWei).String()]++
		}
	}
	for i := range diffs {
		switch {
		case diffs[i].DeltaWei.Sign() < 0:
			diffs[i].Action = domain.DiffActionLedgerCredit
		case unmatchedCredits[diffs[i].DeltaWei.String()] > 0:
			unmatchedCredits[diffs[i].DeltaWei.String()]--
			diffs[i].Action = domain.DiffActionLedgerDebit
		default:
			diffs[i].Action = domain.DiffActionChainTransfer
		}
	}
}

// Apply executes a PENDING plan's corrective actions. The caller must quote
// the plan's confirmation token. Diffs run in order and Apply fails fast on
// the first error, leaving the plan PENDING; a fresh Plan then reflects
// whatever drift remains.
func (s *ReconcileService) Apply(ctx context.Context, planID, confirmToken string) (domain.ReconciliationPlan, error) {
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return domain.ReconciliationPlan{}, fmt.Errorf("reconcile_service: get plan %q: %w", planID, err)
	}
	if plan.Status != domain.PlanStatusPending {
		return domain.ReconciliationPlan{}, fmt.Errorf("reconcile_service: plan %q: %w", planID, domain.ErrPlanNotPending)
	}
	if plan.ConfirmToken != confirmToken {
		return domain.ReconciliationPlan{}, fmt.Errorf("reconcile_service: plan %q: %w", planID, domain.ErrPlanTokenMismatch)
	}
	agreement, err := s.agreements.GetByID(ctx, plan.AgreementID)
	if err != nil {
		return domain.ReconciliationPlan{}, fmt.Errorf("reconcile_service: get agreement %q: %w", plan.AgreementID, err)
	}

	for _, d := range plan.Diffs {
		if err := s.applyDiff(ctx, agreement, d); err != nil {
			s.auditLog(ctx, "reconciliation_apply_failed", map[string]any{
				"plan_id": planID,
				"holder":  d.HolderAddress,
				"action":  string(d.Action),
				"error":   err.Error(),
			})
			return domain.ReconciliationPlan{}, fmt.Errorf("reconcile_service: apply %s for %s: %w", d.Action, d.HolderAddress, err)
		}
	}

	now := time.Now().UTC()
	if err := s.plans.MarkApplied(ctx, planID, now); err != nil {
		return domain.ReconciliationPlan{}, fmt.Errorf("reconcile_service: mark applied %q: %w", planID, err)
	}
	plan.Status = domain.PlanStatusApplied
	plan.AppliedAt = &now

	s.auditLog(ctx, "reconciliation_plan_applied", map[string]any{
		"plan_id":      planID,
		"agreement_id": plan.AgreementID,
		"diff_count":   len(plan.Diffs),
	})
	s.logger.InfoContext(ctx, "reconcile_service: plan applied",
		slog.String("plan_id", planID),
		slog.Int("diff_count", len(plan.Diffs)),
	)
	return plan, nil
}

func (s *ReconcileService) applyDiff(ctx context.Context, agreement domain.Agreement, d domain.BalanceDiff) error {
	amount := new(big.Int).Abs(d.DeltaWei)
	switch d.Action {
	case domain.DiffActionChainTransfer:
		chainCtx, cancel := context.WithTimeout(ctx, s.chainTimeout)
		defer cancel()
		_, err := domain.AgreementTransfer(chainCtx, s.chain, agreement, d.HolderAddress, amount)
		return err
	case domain.DiffActionLedgerCredit:
		return s.balances.Credit(ctx, d.HolderAddress, d.AgreementID, amount)
	case domain.DiffActionLedgerDebit:
		return s.balances.Debit(ctx, d.HolderAddress, d.AgreementID, amount)
	default:
		return fmt.Errorf("unknown diff action %q", d.Action)
	}
}

// Discard drops a PENDING plan without applying anything.
func (s *ReconcileService) Discard(ctx context.Context, planID string) error {
	if err := s.plans.MarkDiscarded(ctx, planID); err != nil {
		return fmt.Errorf("reconcile_service: discard plan %q: %w", planID, err)
	}
	s.auditLog(ctx, "reconciliation_plan_discarded", map[string]any{"plan_id": planID})
	return nil
}

// GetPlan returns one plan by id.
func (s *ReconcileService) GetPlan(ctx context.Context, id string) (domain.ReconciliationPlan, error) {
	p, err := s.plans.GetByID(ctx, id)
	if err != nil {
		return domain.ReconciliationPlan{}, fmt.Errorf("reconcile_service: get plan %q: %w", id, err)
	}
	return p, nil
}

// ListPlans returns stored plans with pagination.
func (s *ReconcileService) ListPlans(ctx context.Context, opts domain.ListOpts) ([]domain.ReconciliationPlan, error) {
	out, err := s.plans.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("reconcile_service: list plans: %w", err)
	}
	return out, nil
}

// OverListingAudit recomputes each seller's listed total from their ACTIVE
// listings and reports every seller whose listings exceed their ledger
// balance. It also cross-checks the maintained reserved counter against the
// recomputed sum and logs any drift.
func (s *ReconcileService) OverListingAudit(ctx context.Context, agreementID string) ([]domain.OverListing, error) {
	rows, err := s.balances.ListByAgreement(ctx, agreementID)
	if err != nil {
		return nil, fmt.Errorf("reconcile_service: list balances: %w", err)
	}

	var report []domain.OverListing
	for _, row := range rows {
		active, err := s.listings.ActiveBySellerAgreement(ctx, row.HolderAddress, agreementID)
		if err != nil {
			return nil, fmt.Errorf("reconcile_service: active listings of %s: %w", row.HolderAddress, err)
		}

		listed := new(big.Int)
		ids := make([]string, 0, len(active))
		for _, l := range active {
			listed.Add(listed, l.SharesForSale)
			ids = append(ids, l.ID)
		}

		if listed.Cmp(row.ReservedWei) != 0 {
			s.logger.ErrorContext(ctx, "reconcile_service: reserved counter drift",
				slog.String("holder", row.HolderAddress),
				slog.String("agreement_id", agreementID),
				slog.String("reserved_wei", row.ReservedWei.String()),
				slog.String("recomputed_wei", listed.String()),
			)
			s.publishAnomaly(ctx, map[string]any{
				"event":        "reserved_counter_drift",
				"holder":       row.HolderAddress,
				"agreement_id": agreementID,
			})
		}

		if listed.Cmp(row.BalanceWei) > 0 {
			report = append(report, domain.OverListing{
				SellerAddress: row.HolderAddress,
				AgreementID:   agreementID,
				BalanceWei:    new(big.Int).Set(row.BalanceWei),
				ListedWei:     listed,
				ExcessWei:     new(big.Int).Sub(listed, row.BalanceWei),
				ListingIDs:    ids,
			})
		}
	}

	if len(report) > 0 {
		s.auditLog(ctx, "over_listing_detected", map[string]any{
			"agreement_id": agreementID,
			"seller_count": len(report),
		})
		s.notify(ctx, "reconciliation", "Over-listing detected",
			fmt.Sprintf("agreement %s: %d seller(s) list more than they hold", agreementID, len(report)))
	}
	return report, nil
}

func (s *ReconcileService) publishAnomaly(ctx context.Context, payload map[string]any) {
	if err := domain.PublishJSON(ctx, s.bus, domain.ChannelAnomalies, payload); err != nil {
		s.logger.WarnContext(ctx, "reconcile_service: publish anomaly failed",
			slog.String("error", err.Error()),
		)
	}
}

func (s *ReconcileService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "reconcile_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ReconcileService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "reconcile_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
