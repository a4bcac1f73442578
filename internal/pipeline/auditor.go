package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// AgreementLister is the read side of the ledger the auditor needs.
type AgreementLister interface {
	ListAgreements(ctx context.Context, opts domain.ListOpts) ([]domain.Agreement, error)
}

// OverListingAuditor is the slice of the reconciliation service the auditor
// drives.
type OverListingAuditor interface {
	OverListingAudit(ctx context.Context, agreementID string) ([]domain.OverListing, error)
}

// Auditor periodically checks every agreement for sellers whose active
// listings exceed their ledger balance. The reconciliation service raises
// the anomaly events and notifications; the auditor only schedules the
// passes.
type Auditor struct {
	agreements AgreementLister
	reconcile  OverListingAuditor
	locks      domain.LockManager
	logger     *slog.Logger
}

// NewAuditor creates a new over-listing Auditor.
func NewAuditor(agreements AgreementLister, reconcile OverListingAuditor, locks domain.LockManager, logger *slog.Logger) *Auditor {
	return &Auditor{
		agreements: agreements,
		reconcile:  reconcile,
		locks:      locks,
		logger:     logger,
	}
}

// RunLoop audits on a ticker until ctx is cancelled.
func (a *Auditor) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("over-listing auditor stopped")
			return ctx.Err()
		case <-ticker.C:
			a.audit(ctx)
		}
	}
}

func (a *Auditor) audit(ctx context.Context) {
	unlock, err := a.locks.Acquire(ctx, "lock:overlisting_audit", 2*time.Minute)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return
		}
		a.logger.Warn("over-listing audit lock failed", slog.String("error", err.Error()))
		return
	}
	defer unlock()

	// Page through every agreement; over-listing checks are cheap.
	opts := domain.ListOpts{Limit: 100}
	flagged := 0
	for {
		agreements, err := a.agreements.ListAgreements(ctx, opts)
		if err != nil {
			a.logger.Error("over-listing audit: listing agreements failed", slog.String("error", err.Error()))
			return
		}
		if len(agreements) == 0 {
			break
		}

		for _, ag := range agreements {
			report, err := a.reconcile.OverListingAudit(ctx, ag.ID)
			if err != nil {
				a.logger.Error("over-listing audit failed",
					slog.String("agreement_id", ag.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			flagged += len(report)
		}

		if len(agreements) < opts.Limit {
			break
		}
		opts.Offset += opts.Limit
	}

	if flagged > 0 {
		a.logger.Warn("over-listing audit pass complete", slog.Int("flagged_sellers", flagged))
	}
}
