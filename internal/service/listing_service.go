package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// ListingService owns the listing lifecycle: creation with over-listing
// prevention, owner-gated cancellation, and expiry sweeps.
type ListingService struct {
	listings   domain.ListingStore
	agreements domain.AgreementStore
	bus        domain.SignalBus
	audit      domain.AuditStore
	logger     *slog.Logger
}

// NewListingService creates a ListingService with all required dependencies.
func NewListingService(
	listings domain.ListingStore,
	agreements domain.AgreementStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ListingService {
	return &ListingService{
		listings:   listings,
		agreements: agreements,
		bus:        bus,
		audit:      audit,
		logger:     logger,
	}
}

// CreateListingParams carries the inputs for Create.
type CreateListingParams struct {
	AgreementID   string
	SellerAddress string
	SharesForSale *big.Int // wei
	PricePerShare *big.Int // payment-token wei per whole share
	ExpiresAt     *time.Time
}

// Create lists shares for sale. The reservation against the seller's
// balance row happens inside the store call, so two concurrent listings can
// never jointly exceed the seller's unreserved balance.
func (s *ListingService) Create(ctx context.Context, p CreateListingParams) (domain.Listing, error) {
	if !common.IsHexAddress(p.SellerAddress) {
		return domain.Listing{}, fmt.Errorf("listing_service: %w: seller %q", domain.ErrInvalidAddress, p.SellerAddress)
	}
	if p.SharesForSale == nil || p.SharesForSale.Sign() <= 0 {
		return domain.Listing{}, fmt.Errorf("listing_service: %w", domain.ErrInvalidAmount)
	}
	if p.PricePerShare == nil || p.PricePerShare.Sign() <= 0 {
		return domain.Listing{}, fmt.Errorf("listing_service: %w", domain.ErrInvalidPrice)
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(time.Now()) {
		return domain.Listing{}, fmt.Errorf("listing_service: %w: expiry is in the past", domain.ErrInvalidAmount)
	}
	if _, err := s.agreements.GetByID(ctx, p.AgreementID); err != nil {
		// An unknown agreement is a malformed request, not a missing listing.
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Listing{}, fmt.Errorf("listing_service: %w: agreement %q", domain.ErrInvalidAgreement, p.AgreementID)
		}
		return domain.Listing{}, fmt.Errorf("listing_service: get agreement %q: %w", p.AgreementID, err)
	}

	now := time.Now().UTC()
	l := domain.Listing{
		ID:            uuid.NewString(),
		AgreementID:   p.AgreementID,
		SellerAddress: p.SellerAddress,
		SharesForSale: new(big.Int).Set(p.SharesForSale),
		PricePerShare: new(big.Int).Set(p.PricePerShare),
		Status:        domain.ListingStatusActive,
		ExpiresAt:     p.ExpiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.listings.CreateReserving(ctx, l); err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: create listing: %w", err)
	}

	s.publish(ctx, "listing_created", l)
	s.auditLog(ctx, "listing_created", map[string]any{
		"listing_id":   l.ID,
		"agreement_id": l.AgreementID,
		"seller":       l.SellerAddress,
		"shares_wei":   l.SharesForSale.String(),
		"price_wei":    l.PricePerShare.String(),
	})
	s.logger.InfoContext(ctx, "listing_service: listing created",
		slog.String("listing_id", l.ID),
		slog.String("seller", l.SellerAddress),
	)
	return l, nil
}

// Cancel terminates the requester's own ACTIVE listing and releases its
// remaining reservation.
func (s *ListingService) Cancel(ctx context.Context, id, requester string) (domain.Listing, error) {
	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: get listing %q: %w", id, err)
	}
	if l.SellerAddress != requester {
		return domain.Listing{}, fmt.Errorf("listing_service: cancel %q: %w", id, domain.ErrNotOwner)
	}

	out, err := s.listings.Terminate(ctx, id, domain.ListingStatusCancelled)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: cancel %q: %w", id, err)
	}

	s.publish(ctx, "listing_cancelled", out)
	s.auditLog(ctx, "listing_cancelled", map[string]any{
		"listing_id": out.ID,
		"seller":     out.SellerAddress,
	})
	return out, nil
}

// ExpireDue terminates every ACTIVE listing past its expiry. It is invoked
// by the periodic sweep and returns the listings it expired.
func (s *ListingService) ExpireDue(ctx context.Context, now time.Time) ([]domain.Listing, error) {
	expired, err := s.listings.ExpireDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("listing_service: expire due: %w", err)
	}
	for _, l := range expired {
		s.publish(ctx, "listing_expired", l)
	}
	if len(expired) > 0 {
		s.auditLog(ctx, "listings_expired", map[string]any{"count": len(expired)})
		s.logger.InfoContext(ctx, "listing_service: expired listings",
			slog.Int("count", len(expired)),
		)
	}
	return expired, nil
}

// Get returns one listing by id.
func (s *ListingService) Get(ctx context.Context, id string) (domain.Listing, error) {
	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: get listing %q: %w", id, err)
	}
	return l, nil
}

// ListByAgreement returns listings for an agreement with pagination.
func (s *ListingService) ListByAgreement(ctx context.Context, agreementID string, opts domain.ListOpts) ([]domain.Listing, error) {
	out, err := s.listings.ListByAgreement(ctx, agreementID, opts)
	if err != nil {
		return nil, fmt.Errorf("listing_service: list by agreement %q: %w", agreementID, err)
	}
	return out, nil
}

// ListBySeller returns a seller's listings with pagination.
func (s *ListingService) ListBySeller(ctx context.Context, seller string, opts domain.ListOpts) ([]domain.Listing, error) {
	out, err := s.listings.ListBySeller(ctx, seller, opts)
	if err != nil {
		return nil, fmt.Errorf("listing_service: list by seller %q: %w", seller, err)
	}
	return out, nil
}

func (s *ListingService) publish(ctx context.Context, event string, l domain.Listing) {
	payload := map[string]any{
		"event":        event,
		"listing_id":   l.ID,
		"agreement_id": l.AgreementID,
		"seller":       l.SellerAddress,
		"shares_wei":   l.SharesForSale.String(),
		"price_wei":    l.PricePerShare.String(),
		"status":       string(l.Status),
	}
	if err := domain.PublishJSON(ctx, s.bus, domain.ChannelListings, payload); err != nil {
		s.logger.WarnContext(ctx, "listing_service: publish event failed",
			slog.String("event", event),
			slog.String("listing_id", l.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ListingService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "listing_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
