// Package service implements the marketplace use cases on top of the domain
// stores: the share ledger, listings, blockchain-first trade settlement,
// token-weighted governance, and ledger/chain reconciliation.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// LedgerService owns agreement registration and the per-holder share ledger.
type LedgerService struct {
	agreements domain.AgreementStore
	balances   domain.BalanceStore
	audit      domain.AuditStore
	logger     *slog.Logger
}

// NewLedgerService creates a LedgerService with all required dependencies.
func NewLedgerService(
	agreements domain.AgreementStore,
	balances domain.BalanceStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		agreements: agreements,
		balances:   balances,
		audit:      audit,
		logger:     logger,
	}
}

// RegisterAgreementParams carries the inputs for RegisterAgreement.
type RegisterAgreementParams struct {
	Name             string
	Symbol           string
	TotalTokenSupply int64
	TokenStandard    domain.TokenStandard
	TokenContract    string
	TokenUnitID      *big.Int
	OwnerAddress     string
}

// RegisterAgreement records a new tokenized agreement and mints its full
// supply to the owner's ledger row. There is no implicit default holder:
// the owner's row is written explicitly at registration and trading
// redistributes from there.
func (s *LedgerService) RegisterAgreement(ctx context.Context, p RegisterAgreementParams) (domain.Agreement, error) {
	if p.Name == "" || p.Symbol == "" {
		return domain.Agreement{}, fmt.Errorf("ledger_service: %w: name and symbol required", domain.ErrInvalidAgreement)
	}
	if p.TotalTokenSupply <= 0 {
		return domain.Agreement{}, fmt.Errorf("ledger_service: %w: supply must be positive", domain.ErrInvalidAgreement)
	}
	if !p.TokenStandard.Valid() {
		return domain.Agreement{}, fmt.Errorf("ledger_service: %w: token standard %q", domain.ErrInvalidAgreement, p.TokenStandard)
	}
	if !common.IsHexAddress(p.TokenContract) {
		return domain.Agreement{}, fmt.Errorf("ledger_service: %w: token contract %q", domain.ErrInvalidAddress, p.TokenContract)
	}
	if !common.IsHexAddress(p.OwnerAddress) {
		return domain.Agreement{}, fmt.Errorf("ledger_service: %w: owner %q", domain.ErrInvalidAddress, p.OwnerAddress)
	}
	if p.TokenStandard == domain.TokenStandardERC1155 && p.TokenUnitID == nil {
		return domain.Agreement{}, fmt.Errorf("ledger_service: %w: erc1155 agreement needs a token unit id", domain.ErrInvalidAgreement)
	}

	a := domain.Agreement{
		ID:               uuid.NewString(),
		Name:             p.Name,
		Symbol:           p.Symbol,
		TotalTokenSupply: p.TotalTokenSupply,
		TokenStandard:    p.TokenStandard,
		TokenContract:    p.TokenContract,
		TokenUnitID:      p.TokenUnitID,
		OwnerAddress:     p.OwnerAddress,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.agreements.Create(ctx, a); err != nil {
		return domain.Agreement{}, fmt.Errorf("ledger_service: create agreement: %w", err)
	}
	if err := s.Issue(ctx, a.ID); err != nil {
		return domain.Agreement{}, err
	}

	s.auditLog(ctx, "agreement_registered", map[string]any{
		"agreement_id": a.ID,
		"symbol":       a.Symbol,
		"supply":       a.TotalTokenSupply,
		"owner":        a.OwnerAddress,
	})
	s.logger.InfoContext(ctx, "ledger_service: agreement registered",
		slog.String("agreement_id", a.ID),
		slog.String("symbol", a.Symbol),
		slog.Int64("supply", a.TotalTokenSupply),
	)
	return a, nil
}

// GetAgreement returns one agreement by id.
func (s *LedgerService) GetAgreement(ctx context.Context, id string) (domain.Agreement, error) {
	a, err := s.agreements.GetByID(ctx, id)
	if err != nil {
		return domain.Agreement{}, fmt.Errorf("ledger_service: get agreement %q: %w", id, err)
	}
	return a, nil
}

// ListAgreements returns registered agreements with pagination.
func (s *LedgerService) ListAgreements(ctx context.Context, opts domain.ListOpts) ([]domain.Agreement, error) {
	out, err := s.agreements.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list agreements: %w", err)
	}
	return out, nil
}

// GetBalance returns the holder's ledger row for an agreement. Absent rows
// read as zero.
func (s *LedgerService) GetBalance(ctx context.Context, holder, agreementID string) (domain.ShareBalance, error) {
	if !common.IsHexAddress(holder) {
		return domain.ShareBalance{}, fmt.Errorf("ledger_service: %w: holder %q", domain.ErrInvalidAddress, holder)
	}
	b, err := s.balances.Get(ctx, holder, agreementID)
	if err != nil {
		return domain.ShareBalance{}, fmt.Errorf("ledger_service: get balance: %w", err)
	}
	return b, nil
}

// GetAvailableBalance returns the holder's balance minus outstanding listing
// reservations.
func (s *LedgerService) GetAvailableBalance(ctx context.Context, holder, agreementID string) (*big.Int, error) {
	b, err := s.GetBalance(ctx, holder, agreementID)
	if err != nil {
		return nil, err
	}
	return b.AvailableWei(), nil
}

// ListHolders returns every ledger row for an agreement.
func (s *LedgerService) ListHolders(ctx context.Context, agreementID string) ([]domain.ShareBalance, error) {
	out, err := s.balances.ListByAgreement(ctx, agreementID)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list holders: %w", err)
	}
	return out, nil
}

// Issue mints the agreement's full supply to the owner's ledger row. It is
// a one-shot operation: once anything has been issued for the agreement the
// mint is refused, which keeps the sum of ledger balances bounded by the
// total token supply.
func (s *LedgerService) Issue(ctx context.Context, agreementID string) error {
	a, err := s.agreements.GetByID(ctx, agreementID)
	if err != nil {
		return fmt.Errorf("ledger_service: get agreement %q: %w", agreementID, err)
	}

	issued, err := s.balances.TotalWei(ctx, agreementID)
	if err != nil {
		return fmt.Errorf("ledger_service: total issued: %w", err)
	}
	if issued.Sign() != 0 {
		return fmt.Errorf("ledger_service: %w: agreement %s already minted", domain.ErrInvalidAgreement, agreementID)
	}
	if err := s.balances.Credit(ctx, a.OwnerAddress, agreementID, a.SupplyWei()); err != nil {
		return fmt.Errorf("ledger_service: credit mint: %w", err)
	}

	s.auditLog(ctx, "shares_minted", map[string]any{
		"agreement_id": agreementID,
		"owner":        a.OwnerAddress,
		"amount_wei":   a.SupplyWei().String(),
	})
	return nil
}

func (s *LedgerService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
