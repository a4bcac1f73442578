package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sharemarket/internal/domain"
	"github.com/alanyoungcy/sharemarket/internal/notify"
)

// defaultChainTimeout bounds how long a buy waits for the on-chain transfer
// to confirm before declaring the outcome undetermined.
const defaultChainTimeout = 2 * time.Minute

// TradeService settles purchases blockchain-first: the on-chain transfer
// must confirm before any ledger row moves. A confirmed transfer followed
// by a failed local commit is a divergence; it is surfaced loudly and left
// to reconciliation, never rolled back or retried.
type TradeService struct {
	trades     domain.TradeStore
	listings   domain.ListingStore
	agreements domain.AgreementStore
	chain      domain.ChainClient
	bus        domain.SignalBus
	audit      domain.AuditStore
	notifier   *notify.Notifier
	logger     *slog.Logger

	chainTimeout time.Duration
}

// NewTradeService creates a TradeService with all required dependencies.
// A zero chainTimeout falls back to the default.
func NewTradeService(
	trades domain.TradeStore,
	listings domain.ListingStore,
	agreements domain.AgreementStore,
	chain domain.ChainClient,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
	chainTimeout time.Duration,
) *TradeService {
	if chainTimeout <= 0 {
		chainTimeout = defaultChainTimeout
	}
	return &TradeService{
		trades:       trades,
		listings:     listings,
		agreements:   agreements,
		chain:        chain,
		bus:          bus,
		audit:        audit,
		notifier:     notifier,
		logger:       logger,
		chainTimeout: chainTimeout,
	}
}

// BuyParams carries the inputs for Buy.
type BuyParams struct {
	ListingID       string
	BuyerAddress    string
	SharesPurchased *big.Int // wei
}

// Buy purchases shares from an ACTIVE listing. Order of operations:
//
//  1. Validate the request against the current listing state.
//  2. Submit the on-chain transfer and wait for confirmation.
//  3. Commit the local settlement (debit seller, credit buyer, decrement
//     listing, insert trade) in one transaction.
//
// A timeout in step 2 is an undetermined outcome: the error carries
// ErrChainTimeout and nothing is resubmitted. Callers resolve it later via
// ResolvePending with the transaction hash from the receipt.
func (s *TradeService) Buy(ctx context.Context, p BuyParams) (domain.Trade, error) {
	if !common.IsHexAddress(p.BuyerAddress) {
		return domain.Trade{}, fmt.Errorf("trade_service: %w: buyer %q", domain.ErrInvalidAddress, p.BuyerAddress)
	}
	if p.SharesPurchased == nil || p.SharesPurchased.Sign() <= 0 {
		return domain.Trade{}, fmt.Errorf("trade_service: %w", domain.ErrInvalidAmount)
	}

	l, err := s.listings.GetByID(ctx, p.ListingID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: get listing %q: %w", p.ListingID, err)
	}
	if l.Status != domain.ListingStatusActive || l.Expired(time.Now()) {
		return domain.Trade{}, fmt.Errorf("trade_service: listing %q: %w", p.ListingID, domain.ErrListingNotActive)
	}
	if p.BuyerAddress == l.SellerAddress {
		return domain.Trade{}, fmt.Errorf("trade_service: %w: buyer is the seller", domain.ErrInvalidAddress)
	}
	if p.SharesPurchased.Cmp(l.SharesForSale) > 0 {
		return domain.Trade{}, fmt.Errorf("trade_service: listing %q: %w", p.ListingID, domain.ErrInsufficientSharesAvailable)
	}
	agreement, err := s.agreements.GetByID(ctx, l.AgreementID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: get agreement %q: %w", l.AgreementID, err)
	}

	chainCtx, cancel := context.WithTimeout(ctx, s.chainTimeout)
	defer cancel()

	receipt, err := domain.AgreementTransfer(chainCtx, s.chain, agreement, p.BuyerAddress, p.SharesPurchased)
	if err != nil {
		if errors.Is(err, domain.ErrChainTimeout) {
			s.auditLog(ctx, "chain_transfer_undetermined", map[string]any{
				"listing_id": p.ListingID,
				"buyer":      p.BuyerAddress,
				"tx_hash":    receipt.TxHash,
			})
			s.notify(ctx, "chain_timeout", "On-chain transfer undetermined",
				fmt.Sprintf("listing %s: transfer for buyer %s timed out (tx %s); resolve via receipt re-check",
					p.ListingID, p.BuyerAddress, receipt.TxHash))
			// Surface the hash so the caller can resolve the pending trade
			// instead of fishing it out of the audit log.
			return domain.Trade{}, fmt.Errorf("trade_service: on-chain transfer: %w",
				&domain.PendingSettlementError{TxHash: receipt.TxHash})
		}
		return domain.Trade{}, fmt.Errorf("trade_service: on-chain transfer: %w", err)
	}

	trade, err := s.trades.Settle(ctx, domain.SettleParams{
		ListingID:       p.ListingID,
		BuyerAddress:    p.BuyerAddress,
		SharesPurchased: p.SharesPurchased,
		TxHash:          receipt.TxHash,
		GasUsed:         receipt.GasUsed,
		ExecutedAt:      time.Now().UTC(),
	})
	if err != nil {
		// The transfer confirmed on-chain but the ledger commit failed. The
		// ledger is now behind the chain until reconciliation corrects it.
		s.logger.ErrorContext(ctx, "trade_service: settlement divergence",
			slog.String("listing_id", p.ListingID),
			slog.String("buyer", p.BuyerAddress),
			slog.String("tx_hash", receipt.TxHash),
			slog.String("error", err.Error()),
		)
		s.auditLog(ctx, "settlement_divergence", map[string]any{
			"listing_id": p.ListingID,
			"buyer":      p.BuyerAddress,
			"tx_hash":    receipt.TxHash,
			"error":      err.Error(),
		})
		s.notify(ctx, "settlement_divergence", "Settlement divergence",
			fmt.Sprintf("tx %s confirmed on-chain but local settlement failed: %v", receipt.TxHash, err))
		s.publishAnomaly(ctx, map[string]any{
			"event":      "settlement_divergence",
			"listing_id": p.ListingID,
			"tx_hash":    receipt.TxHash,
		})
		return domain.Trade{}, fmt.Errorf("trade_service: settle after confirmed transfer %s: %w", receipt.TxHash, err)
	}

	s.publishTrade(ctx, "trade_settled", trade)
	s.auditLog(ctx, "trade_settled", map[string]any{
		"trade_id":   trade.ID,
		"listing_id": trade.ListingID,
		"buyer":      trade.BuyerAddress,
		"seller":     trade.SellerAddress,
		"shares_wei": trade.SharesPurchased.String(),
		"tx_hash":    trade.TxHash,
	})
	s.logger.InfoContext(ctx, "trade_service: trade settled",
		slog.String("trade_id", trade.ID),
		slog.String("tx_hash", trade.TxHash),
	)
	return trade, nil
}

// ResolvePending resolves a buy whose on-chain transfer previously timed
// out. It re-checks the receipt instead of resubmitting:
//
//   - already settled locally: returns the existing trade (idempotent)
//   - receipt not found: the transaction never landed, a fresh Buy is safe
//   - receipt reverted: same, the transfer did not happen
//   - receipt confirmed: commits the missing local settlement
func (s *TradeService) ResolvePending(ctx context.Context, txHash string, p BuyParams) (domain.Trade, error) {
	if existing, err := s.trades.GetByTxHash(ctx, txHash); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Trade{}, fmt.Errorf("trade_service: lookup tx %q: %w", txHash, err)
	}

	receipt, found, err := s.chain.ReceiptStatus(ctx, txHash)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: receipt status %q: %w", txHash, err)
	}
	if !found {
		return domain.Trade{}, fmt.Errorf("trade_service: tx %q not mined: %w", txHash, domain.ErrNotFound)
	}

	trade, err := s.trades.Settle(ctx, domain.SettleParams{
		ListingID:       p.ListingID,
		BuyerAddress:    p.BuyerAddress,
		SharesPurchased: p.SharesPurchased,
		TxHash:          receipt.TxHash,
		GasUsed:         receipt.GasUsed,
		ExecutedAt:      time.Now().UTC(),
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: settle resolved tx %s: %w", txHash, err)
	}

	s.publishTrade(ctx, "trade_settled", trade)
	s.auditLog(ctx, "pending_trade_resolved", map[string]any{
		"trade_id": trade.ID,
		"tx_hash":  trade.TxHash,
	})
	return trade, nil
}

// Get returns one trade by id.
func (s *TradeService) Get(ctx context.Context, id string) (domain.Trade, error) {
	t, err := s.trades.GetByID(ctx, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: get trade %q: %w", id, err)
	}
	return t, nil
}

// GetByTxHash returns the trade settled by the given transaction.
func (s *TradeService) GetByTxHash(ctx context.Context, txHash string) (domain.Trade, error) {
	t, err := s.trades.GetByTxHash(ctx, txHash)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: get trade by tx %q: %w", txHash, err)
	}
	return t, nil
}

// ListByListing returns the trades that filled a listing.
func (s *TradeService) ListByListing(ctx context.Context, listingID string, opts domain.ListOpts) ([]domain.Trade, error) {
	out, err := s.trades.ListByListing(ctx, listingID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list by listing %q: %w", listingID, err)
	}
	return out, nil
}

// ListByWallet returns trades where the wallet was buyer or seller.
func (s *TradeService) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error) {
	out, err := s.trades.ListByWallet(ctx, wallet, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list by wallet %q: %w", wallet, err)
	}
	return out, nil
}

func (s *TradeService) publishTrade(ctx context.Context, event string, t domain.Trade) {
	payload := map[string]any{
		"event":        event,
		"trade_id":     t.ID,
		"listing_id":   t.ListingID,
		"agreement_id": t.AgreementID,
		"buyer":        t.BuyerAddress,
		"seller":       t.SellerAddress,
		"shares_wei":   t.SharesPurchased.String(),
		"price_wei":    t.PricePerShare.String(),
		"tx_hash":      t.TxHash,
		"executed_at":  t.ExecutedAt.Format(time.RFC3339),
	}
	if err := domain.PublishJSON(ctx, s.bus, domain.ChannelTrades, payload); err != nil {
		s.logger.WarnContext(ctx, "trade_service: publish event failed",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *TradeService) publishAnomaly(ctx context.Context, payload map[string]any) {
	if err := domain.PublishJSON(ctx, s.bus, domain.ChannelAnomalies, payload); err != nil {
		s.logger.WarnContext(ctx, "trade_service: publish anomaly failed",
			slog.String("error", err.Error()),
		)
	}
}

func (s *TradeService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "trade_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *TradeService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "trade_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
