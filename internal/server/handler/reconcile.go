package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// ReconcileService defines the methods the reconciliation handler requires
// from the service layer.
type ReconcileService interface {
	Plan(ctx context.Context, agreementID string) (domain.ReconciliationPlan, error)
	Apply(ctx context.Context, planID, confirmToken string) (domain.ReconciliationPlan, error)
	Discard(ctx context.Context, planID string) error
	GetPlan(ctx context.Context, id string) (domain.ReconciliationPlan, error)
	ListPlans(ctx context.Context, opts domain.ListOpts) ([]domain.ReconciliationPlan, error)
	OverListingAudit(ctx context.Context, agreementID string) ([]domain.OverListing, error)
}

// ReconcileHandler serves the plan/apply reconciliation endpoints.
type ReconcileHandler struct {
	reconcile ReconcileService
	logger    *slog.Logger
}

// NewReconcileHandler creates a ReconcileHandler with the given service and
// logger.
func NewReconcileHandler(reconcile ReconcileService, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{
		reconcile: reconcile,
		logger:    logger,
	}
}

// Plan computes a dry-run diff of the ledger against on-chain balances.
// The response carries the confirmation token the operator must quote to
// apply the plan.
// POST /api/agreements/{id}/reconcile/plan
func (h *ReconcileHandler) Plan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.reconcile.Plan(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanView(plan, true))
}

// applyRequest is the JSON body for Apply.
type applyRequest struct {
	ConfirmToken string `json:"confirm_token"`
}

// Apply executes a pending plan's corrective actions.
// POST /api/reconcile/plans/{id}/apply
func (h *ReconcileHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ConfirmToken == "" {
		writeError(w, http.StatusBadRequest, "confirm_token is required")
		return
	}

	plan, err := h.reconcile.Apply(r.Context(), pathParam(r, "id"), req.ConfirmToken)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanView(plan, false))
}

// Discard drops a pending plan without applying it.
// POST /api/reconcile/plans/{id}/discard
func (h *ReconcileHandler) Discard(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.reconcile.Discard(r.Context(), id); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "discarded",
		"plan_id": id,
	})
}

// GetPlan returns one stored plan (without its confirmation token).
// GET /api/reconcile/plans/{id}
func (h *ReconcileHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.reconcile.GetPlan(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanView(plan, false))
}

// ListPlans returns stored plans.
// GET /api/reconcile/plans?limit=50&offset=0
func (h *ReconcileHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.reconcile.ListPlans(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		views = append(views, toPlanView(p, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": views})
}

// OverListings reports sellers whose active listings exceed their balance.
// GET /api/agreements/{id}/reconcile/overlistings
func (h *ReconcileHandler) OverListings(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconcile.OverListingAudit(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	views := make([]overListingView, 0, len(report))
	for _, o := range report {
		views = append(views, toOverListingView(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"over_listings": views})
}
