package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingStatusTerminal(t *testing.T) {
	assert.False(t, ListingStatusActive.Terminal())
	assert.True(t, ListingStatusSold.Terminal())
	assert.True(t, ListingStatusCancelled.Terminal())
	assert.True(t, ListingStatusExpired.Terminal())
}

func TestListingStatusCanTransition(t *testing.T) {
	for _, to := range []ListingStatus{ListingStatusSold, ListingStatusCancelled, ListingStatusExpired} {
		assert.True(t, ListingStatusActive.CanTransition(to), "ACTIVE -> %s", to)
	}
	assert.False(t, ListingStatusActive.CanTransition(ListingStatusActive))
	assert.False(t, ListingStatusSold.CanTransition(ListingStatusCancelled))
	assert.False(t, ListingStatusExpired.CanTransition(ListingStatusActive))
}

func TestListingTransition(t *testing.T) {
	l := Listing{ID: "l1", Status: ListingStatusActive}
	require.NoError(t, l.Transition(ListingStatusSold))
	assert.Equal(t, ListingStatusSold, l.Status)

	err := l.Transition(ListingStatusCancelled)
	require.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, ListingStatusSold, l.Status)
}

func TestListingExpired(t *testing.T) {
	now := time.Now()

	assert.False(t, Listing{}.Expired(now), "no expiry set")

	past := now.Add(-time.Minute)
	assert.True(t, Listing{ExpiresAt: &past}.Expired(now))

	future := now.Add(time.Minute)
	assert.False(t, Listing{ExpiresAt: &future}.Expired(now))

	// The boundary instant itself is not yet expired.
	assert.False(t, Listing{ExpiresAt: &now}.Expired(now))
}
