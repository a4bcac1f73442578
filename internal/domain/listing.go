package domain

import (
	"fmt"
	"math/big"
	"time"
)

// ListingStatus is the lifecycle state of a marketplace listing.
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "ACTIVE"
	ListingStatusSold      ListingStatus = "SOLD"
	ListingStatusCancelled ListingStatus = "CANCELLED"
	ListingStatusExpired   ListingStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s ListingStatus) Terminal() bool {
	switch s {
	case ListingStatusSold, ListingStatusCancelled, ListingStatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is a legal listing transition. The
// only legal moves are ACTIVE to one of the three terminal states.
func (s ListingStatus) CanTransition(to ListingStatus) bool {
	return s == ListingStatusActive && to.Terminal()
}

// Listing is a seller's standing offer of shares at a price. SharesForSale
// is the remaining unfilled quantity; partial fills decrement it in place
// and the listing stays ACTIVE until it reaches zero.
type Listing struct {
	ID            string
	AgreementID   string
	SellerAddress string
	SharesForSale *big.Int // wei, remaining
	PricePerShare *big.Int // payment-token wei per whole share
	Status        ListingStatus
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transition moves the listing to the given status, rejecting moves the
// state machine does not permit.
func (l *Listing) Transition(to ListingStatus) error {
	if !l.Status.CanTransition(to) {
		return fmt.Errorf("%w: listing %s %s -> %s", ErrIllegalTransition, l.ID, l.Status, to)
	}
	l.Status = to
	return nil
}

// Expired reports whether the listing has an expiry in the past at now.
func (l Listing) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}
