package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// ClockAdvancer is the slice of the governance service the clock drives.
type ClockAdvancer interface {
	AdvanceClock(ctx context.Context, now time.Time) error
}

// GovernanceClock activates proposals whose voting delay has elapsed and
// finalizes proposals whose voting period has closed. Like the listing
// sweeper, each pass runs under a distributed lock.
type GovernanceClock struct {
	governance ClockAdvancer
	locks      domain.LockManager
	logger     *slog.Logger
}

// NewGovernanceClock creates a new GovernanceClock.
func NewGovernanceClock(governance ClockAdvancer, locks domain.LockManager, logger *slog.Logger) *GovernanceClock {
	return &GovernanceClock{
		governance: governance,
		locks:      locks,
		logger:     logger,
	}
}

// RunLoop advances the governance clock on a ticker until ctx is cancelled.
func (c *GovernanceClock) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("governance clock stopped")
			return ctx.Err()
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *GovernanceClock) tick(ctx context.Context) {
	unlock, err := c.locks.Acquire(ctx, "lock:governance_clock", 30*time.Second)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return
		}
		c.logger.Warn("governance clock lock failed", slog.String("error", err.Error()))
		return
	}
	defer unlock()

	if err := c.governance.AdvanceClock(ctx, time.Now().UTC()); err != nil {
		c.logger.Error("governance clock tick failed", slog.String("error", err.Error()))
	}
}
