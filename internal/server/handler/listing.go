package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/sharemarket/internal/domain"
	"github.com/alanyoungcy/sharemarket/internal/service"
)

// ListingService defines the methods the listing handler requires from the
// service layer.
type ListingService interface {
	Create(ctx context.Context, p service.CreateListingParams) (domain.Listing, error)
	Cancel(ctx context.Context, id, requester string) (domain.Listing, error)
	Get(ctx context.Context, id string) (domain.Listing, error)
	ListByAgreement(ctx context.Context, agreementID string, opts domain.ListOpts) ([]domain.Listing, error)
	ListBySeller(ctx context.Context, seller string, opts domain.ListOpts) ([]domain.Listing, error)
}

// ListingHandler serves listing endpoints.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler with the given service and
// logger.
func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		logger:   logger,
	}
}

// createListingRequest is the JSON body for Create.
type createListingRequest struct {
	AgreementID   string `json:"agreement_id"`
	SellerAddress string `json:"seller_address"`
	SharesForSale string `json:"shares_for_sale_wei"`
	PricePerShare string `json:"price_per_share_wei"`
	ExpiresAt     string `json:"expires_at,omitempty"` // RFC 3339
}

// Create lists shares for sale.
// POST /api/listings
func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	shares, err := parseWei(req.SharesForSale)
	if err != nil {
		writeError(w, http.StatusBadRequest, "shares_for_sale_wei must be a decimal integer")
		return
	}
	price, err := parseWei(req.PricePerShare)
	if err != nil {
		writeError(w, http.StatusBadRequest, "price_per_share_wei must be a decimal integer")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "expires_at must be RFC 3339")
			return
		}
		expiresAt = &t
	}

	listing, err := h.listings.Create(r.Context(), service.CreateListingParams{
		AgreementID:   req.AgreementID,
		SellerAddress: req.SellerAddress,
		SharesForSale: shares,
		PricePerShare: price,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toListingView(listing))
}

// Cancel terminates the requester's own listing.
// DELETE /api/listings/{id}?requester=0x...
func (h *ListingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	requester := r.URL.Query().Get("requester")
	if requester == "" {
		writeError(w, http.StatusBadRequest, "requester query parameter required")
		return
	}

	listing, err := h.listings.Cancel(r.Context(), id, requester)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingView(listing))
}

// Get returns one listing.
// GET /api/listings/{id}
func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	listing, err := h.listings.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingView(listing))
}

// List returns listings filtered by agreement or seller.
// GET /api/listings?agreement_id=...&seller=0x...&limit=50&offset=0
func (h *ListingHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agreementID := q.Get("agreement_id")
	seller := q.Get("seller")

	if agreementID == "" && seller == "" {
		writeError(w, http.StatusBadRequest, "agreement_id or seller query parameter required")
		return
	}

	opts := parseListOpts(r)
	var listings []domain.Listing
	var err error
	if agreementID != "" {
		listings, err = h.listings.ListByAgreement(r.Context(), agreementID, opts)
	} else {
		listings, err = h.listings.ListBySeller(r.Context(), seller, opts)
	}
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	views := make([]listingView, 0, len(listings))
	for _, l := range listings {
		views = append(views, toListingView(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": views})
}
