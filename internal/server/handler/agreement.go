package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/sharemarket/internal/domain"
	"github.com/alanyoungcy/sharemarket/internal/service"
)

// LedgerService defines the methods the agreement handler requires from the
// service layer.
type LedgerService interface {
	RegisterAgreement(ctx context.Context, p service.RegisterAgreementParams) (domain.Agreement, error)
	GetAgreement(ctx context.Context, id string) (domain.Agreement, error)
	ListAgreements(ctx context.Context, opts domain.ListOpts) ([]domain.Agreement, error)
	GetBalance(ctx context.Context, holder, agreementID string) (domain.ShareBalance, error)
	ListHolders(ctx context.Context, agreementID string) ([]domain.ShareBalance, error)
}

// AgreementHandler serves agreement and balance endpoints.
type AgreementHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewAgreementHandler creates an AgreementHandler with the given service
// and logger.
func NewAgreementHandler(ledger LedgerService, logger *slog.Logger) *AgreementHandler {
	return &AgreementHandler{
		ledger: ledger,
		logger: logger,
	}
}

// registerAgreementRequest is the JSON body for Register.
type registerAgreementRequest struct {
	Name             string `json:"name"`
	Symbol           string `json:"symbol"`
	TotalTokenSupply int64  `json:"total_token_supply"`
	TokenStandard    string `json:"token_standard"`
	TokenContract    string `json:"token_contract"`
	TokenUnitID      string `json:"token_unit_id,omitempty"`
	OwnerAddress     string `json:"owner_address"`
}

// Register creates a new agreement and mints its supply to the owner.
// POST /api/agreements
func (h *AgreementHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var unitID *big.Int
	if req.TokenUnitID != "" {
		v, ok := new(big.Int).SetString(req.TokenUnitID, 10)
		if !ok {
			writeError(w, http.StatusBadRequest, "token_unit_id must be a decimal integer")
			return
		}
		unitID = v
	}

	agreement, err := h.ledger.RegisterAgreement(r.Context(), service.RegisterAgreementParams{
		Name:             req.Name,
		Symbol:           req.Symbol,
		TotalTokenSupply: req.TotalTokenSupply,
		TokenStandard:    domain.TokenStandard(req.TokenStandard),
		TokenContract:    req.TokenContract,
		TokenUnitID:      unitID,
		OwnerAddress:     req.OwnerAddress,
	})
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAgreementView(agreement))
}

// Get returns one agreement.
// GET /api/agreements/{id}
func (h *AgreementHandler) Get(w http.ResponseWriter, r *http.Request) {
	agreement, err := h.ledger.GetAgreement(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementView(agreement))
}

// List returns registered agreements.
// GET /api/agreements?limit=50&offset=0
func (h *AgreementHandler) List(w http.ResponseWriter, r *http.Request) {
	agreements, err := h.ledger.ListAgreements(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	views := make([]agreementView, 0, len(agreements))
	for _, a := range agreements {
		views = append(views, toAgreementView(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agreements": views})
}

// ListHolders returns every ledger row for an agreement.
// GET /api/agreements/{id}/holders
func (h *AgreementHandler) ListHolders(w http.ResponseWriter, r *http.Request) {
	rows, err := h.ledger.ListHolders(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	views := make([]balanceView, 0, len(rows))
	for _, b := range rows {
		views = append(views, toBalanceView(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"holders": views})
}

// GetBalance returns a holder's ledger row including the available amount.
// GET /api/agreements/{id}/balances/{address}
func (h *AgreementHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.ledger.GetBalance(r.Context(), pathParam(r, "address"), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceView(balance))
}
