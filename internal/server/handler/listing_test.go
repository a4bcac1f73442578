package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharemarket/internal/domain"
	"github.com/alanyoungcy/sharemarket/internal/service"
)

// stubListings returns canned results so the handler's request parsing and
// error mapping can be exercised without a real service.
type stubListings struct {
	createErr error
	cancelErr error
	getErr    error
	listing   domain.Listing
	gotParams service.CreateListingParams
}

func (s *stubListings) Create(ctx context.Context, p service.CreateListingParams) (domain.Listing, error) {
	s.gotParams = p
	if s.createErr != nil {
		return domain.Listing{}, s.createErr
	}
	return s.listing, nil
}

func (s *stubListings) Cancel(ctx context.Context, id, requester string) (domain.Listing, error) {
	if s.cancelErr != nil {
		return domain.Listing{}, s.cancelErr
	}
	return s.listing, nil
}

func (s *stubListings) Get(ctx context.Context, id string) (domain.Listing, error) {
	if s.getErr != nil {
		return domain.Listing{}, s.getErr
	}
	return s.listing, nil
}

func (s *stubListings) ListByAgreement(ctx context.Context, agreementID string, opts domain.ListOpts) ([]domain.Listing, error) {
	return []domain.Listing{s.listing}, nil
}

func (s *stubListings) ListBySeller(ctx context.Context, seller string, opts domain.ListOpts) ([]domain.Listing, error) {
	return []domain.Listing{s.listing}, nil
}

func testListing() domain.Listing {
	return domain.Listing{
		ID:            "lst-1",
		AgreementID:   "agr-1",
		SellerAddress: "0x1111111111111111111111111111111111111111",
		SharesForSale: domain.SharesToWei(10),
		PricePerShare: big.NewInt(100),
		Status:        domain.ListingStatusActive,
	}
}

func newListingHandler(stub *stubListings) *ListingHandler {
	return NewListingHandler(stub, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestListingHandlerCreate(t *testing.T) {
	stub := &stubListings{listing: testListing()}
	h := newListingHandler(stub)

	body := `{
		"agreement_id": "agr-1",
		"seller_address": "0x1111111111111111111111111111111111111111",
		"shares_for_sale_wei": "10000000000000000000",
		"price_per_share_wei": "100"
	}`
	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/listings", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, domain.SharesToWei(10), stub.gotParams.SharesForSale)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "lst-1", got["id"])
	assert.Equal(t, "10000000000000000000", got["shares_for_sale_wei"], "wei travels as a decimal string")
}

func TestListingHandlerCreateRejectsBadWei(t *testing.T) {
	h := newListingHandler(&stubListings{listing: testListing()})

	for _, body := range []string{
		`{"shares_for_sale_wei": "ten", "price_per_share_wei": "1"}`,
		`{"shares_for_sale_wei": "-5", "price_per_share_wei": "1"}`,
		`not json`,
	} {
		rec := httptest.NewRecorder()
		h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/listings", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestListingHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInsufficientAvailableBalance, http.StatusConflict},
		{domain.ErrInvalidAddress, http.StatusBadRequest},
		{domain.ErrInvalidAgreement, http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrChainTimeout, http.StatusGatewayTimeout},
		{domain.ErrChainReverted, http.StatusBadGateway},
	}
	body := `{
		"agreement_id": "agr-1",
		"seller_address": "0x1111111111111111111111111111111111111111",
		"shares_for_sale_wei": "1",
		"price_per_share_wei": "1"
	}`
	for _, c := range cases {
		h := newListingHandler(&stubListings{createErr: c.err})
		rec := httptest.NewRecorder()
		h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/listings", strings.NewReader(body)))
		assert.Equal(t, c.want, rec.Code, c.err)
	}
}

func TestListingHandlerCancelRequiresRequester(t *testing.T) {
	h := newListingHandler(&stubListings{listing: testListing()})

	rec := httptest.NewRecorder()
	h.Cancel(rec, httptest.NewRequest(http.MethodDelete, "/api/listings/lst-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	stub := &stubListings{cancelErr: domain.ErrNotOwner}
	h = newListingHandler(stub)
	rec = httptest.NewRecorder()
	h.Cancel(rec, httptest.NewRequest(http.MethodDelete, "/api/listings/lst-1?requester=0xdead", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListingHandlerListRequiresFilter(t *testing.T) {
	h := newListingHandler(&stubListings{listing: testListing()})

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/listings", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/listings?agreement_id=agr-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string][]listingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got["listings"], 1)
}
