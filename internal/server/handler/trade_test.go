package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharemarket/internal/domain"
	"github.com/alanyoungcy/sharemarket/internal/service"
)

// stubTrades returns canned results so the handler's request parsing and
// error mapping can be exercised without a real service.
type stubTrades struct {
	buyErr error
	trade  domain.Trade
}

func (s *stubTrades) Buy(ctx context.Context, p service.BuyParams) (domain.Trade, error) {
	if s.buyErr != nil {
		return domain.Trade{}, s.buyErr
	}
	return s.trade, nil
}

func (s *stubTrades) ResolvePending(ctx context.Context, txHash string, p service.BuyParams) (domain.Trade, error) {
	return s.trade, nil
}

func (s *stubTrades) Get(ctx context.Context, id string) (domain.Trade, error) {
	return s.trade, nil
}

func (s *stubTrades) GetByTxHash(ctx context.Context, txHash string) (domain.Trade, error) {
	return s.trade, nil
}

func (s *stubTrades) ListByListing(ctx context.Context, listingID string, opts domain.ListOpts) ([]domain.Trade, error) {
	return []domain.Trade{s.trade}, nil
}

func (s *stubTrades) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error) {
	return []domain.Trade{s.trade}, nil
}

func newTradeHandler(stub *stubTrades) *TradeHandler {
	return NewTradeHandler(stub, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const buyBody = `{
	"listing_id": "lst-1",
	"buyer_address": "0x2222222222222222222222222222222222222222",
	"shares_purchased_wei": "1000000000000000000"
}`

func TestTradeHandlerBuyTimeoutCarriesTxHash(t *testing.T) {
	stub := &stubTrades{buyErr: fmt.Errorf("trade_service: on-chain transfer: %w",
		&domain.PendingSettlementError{TxHash: "0xaaa111"})}
	h := newTradeHandler(stub)

	rec := httptest.NewRecorder()
	h.Buy(rec, httptest.NewRequest(http.MethodPost, "/api/trades/buy", strings.NewReader(buyBody)))

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "0xaaa111", got["tx_hash"], "callers resolve the pending trade with this hash")
	assert.NotEmpty(t, got["error"])
}

func TestTradeHandlerBuyTimeoutWithoutHash(t *testing.T) {
	// A timeout before submission has no hash to report.
	h := newTradeHandler(&stubTrades{buyErr: domain.ErrChainTimeout})

	rec := httptest.NewRecorder()
	h.Buy(rec, httptest.NewRequest(http.MethodPost, "/api/trades/buy", strings.NewReader(buyBody)))

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	_, hasHash := got["tx_hash"]
	assert.False(t, hasHash)
}

func TestTradeHandlerResolveRequiresTxHash(t *testing.T) {
	h := newTradeHandler(&stubTrades{})

	rec := httptest.NewRecorder()
	h.ResolvePending(rec, httptest.NewRequest(http.MethodPost, "/api/trades/resolve", strings.NewReader(buyBody)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
