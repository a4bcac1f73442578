package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sharemarket/internal/domain"
	"github.com/alanyoungcy/sharemarket/internal/service"
)

// TradeService defines the methods the trade handler requires from the
// service layer.
type TradeService interface {
	Buy(ctx context.Context, p service.BuyParams) (domain.Trade, error)
	ResolvePending(ctx context.Context, txHash string, p service.BuyParams) (domain.Trade, error)
	Get(ctx context.Context, id string) (domain.Trade, error)
	GetByTxHash(ctx context.Context, txHash string) (domain.Trade, error)
	ListByListing(ctx context.Context, listingID string, opts domain.ListOpts) ([]domain.Trade, error)
	ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves trade settlement endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logger,
	}
}

// buyRequest is the JSON body for Buy and ResolvePending.
type buyRequest struct {
	ListingID       string `json:"listing_id"`
	BuyerAddress    string `json:"buyer_address"`
	SharesPurchased string `json:"shares_purchased_wei"`
	TxHash          string `json:"tx_hash,omitempty"` // ResolvePending only
}

func (req buyRequest) toParams() (service.BuyParams, error) {
	shares, err := parseWei(req.SharesPurchased)
	if err != nil {
		return service.BuyParams{}, err
	}
	return service.BuyParams{
		ListingID:       req.ListingID,
		BuyerAddress:    req.BuyerAddress,
		SharesPurchased: shares,
	}, nil
}

// Buy purchases shares from a listing, settling on-chain first.
// POST /api/trades/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	params, err := req.toParams()
	if err != nil {
		writeError(w, http.StatusBadRequest, "shares_purchased_wei must be a decimal integer")
		return
	}

	trade, err := h.trades.Buy(r.Context(), params)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTradeView(trade))
}

// ResolvePending settles a buy whose on-chain transfer previously timed
// out, using the receipt instead of resubmitting.
// POST /api/trades/resolve
func (h *TradeHandler) ResolvePending(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TxHash == "" {
		writeError(w, http.StatusBadRequest, "tx_hash is required")
		return
	}

	params, err := req.toParams()
	if err != nil {
		writeError(w, http.StatusBadRequest, "shares_purchased_wei must be a decimal integer")
		return
	}

	trade, err := h.trades.ResolvePending(r.Context(), req.TxHash, params)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeView(trade))
}

// Get returns one trade.
// GET /api/trades/{id}
func (h *TradeHandler) Get(w http.ResponseWriter, r *http.Request) {
	trade, err := h.trades.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeView(trade))
}

// GetByTxHash returns the trade settled by a transaction.
// GET /api/trades/tx/{hash}
func (h *TradeHandler) GetByTxHash(w http.ResponseWriter, r *http.Request) {
	trade, err := h.trades.GetByTxHash(r.Context(), pathParam(r, "hash"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeView(trade))
}

// List returns trades filtered by listing or wallet.
// GET /api/trades?listing_id=...&wallet=0x...&limit=50&offset=0
func (h *TradeHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	listingID := q.Get("listing_id")
	wallet := q.Get("wallet")

	if listingID == "" && wallet == "" {
		writeError(w, http.StatusBadRequest, "listing_id or wallet query parameter required")
		return
	}

	opts := parseListOpts(r)
	var trades []domain.Trade
	var err error
	if listingID != "" {
		trades, err = h.trades.ListByListing(r.Context(), listingID, opts)
	} else {
		trades, err = h.trades.ListByWallet(r.Context(), wallet, opts)
	}
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, toTradeView(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": views})
}
