package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// ListingExpirer is the slice of the listing service the sweeper drives.
type ListingExpirer interface {
	ExpireDue(ctx context.Context, now time.Time) ([]domain.Listing, error)
}

// Sweeper expires listings whose deadline has passed. Each pass runs under a
// distributed lock so only one instance sweeps at a time.
type Sweeper struct {
	listings ListingExpirer
	locks    domain.LockManager
	logger   *slog.Logger
}

// NewSweeper creates a new listing-expiry Sweeper.
func NewSweeper(listings ListingExpirer, locks domain.LockManager, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		listings: listings,
		locks:    locks,
		logger:   logger,
	}
}

// RunLoop sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("listing sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	unlock, err := s.locks.Acquire(ctx, "lock:listing_sweep", 30*time.Second)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return // another instance is sweeping
		}
		s.logger.Warn("listing sweep lock failed", slog.String("error", err.Error()))
		return
	}
	defer unlock()

	expired, err := s.listings.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("listing sweep failed", slog.String("error", err.Error()))
		return
	}
	if len(expired) > 0 {
		s.logger.Info("expired listings", slog.Int("count", len(expired)))
	}
}
