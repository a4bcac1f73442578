package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Intervals configures how often each background loop fires.
type Intervals struct {
	ListingSweep    time.Duration
	GovernanceClock time.Duration
	OverListing     time.Duration
}

// Orchestrator manages all background goroutines: listing expiry, the
// governance clock, the over-listing auditor, and cold-storage archival.
type Orchestrator struct {
	sweeper     *Sweeper
	clock       *GovernanceClock
	auditor     *Auditor
	archiver    *Archiver
	intervals   Intervals
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates a new Orchestrator that coordinates all background
// sub-systems. The archiver may be nil when cold storage is not configured.
func NewOrchestrator(
	sweeper *Sweeper,
	clock *GovernanceClock,
	auditor *Auditor,
	archiver *Archiver,
	intervals Intervals,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		sweeper:     sweeper,
		clock:       clock,
		auditor:     auditor,
		archiver:    archiver,
		intervals:   intervals,
		archiveCron: archiveCron,
		logger:      logger,
	}
}

// Run starts all sub-loops as concurrent goroutines using an errgroup. Each
// goroutine respects ctx cancellation. If any goroutine returns a non-context
// error, the errgroup cancels the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("listing_sweep", o.intervals.ListingSweep),
		slog.Duration("governance_clock", o.intervals.GovernanceClock),
		slog.Duration("overlisting_audit", o.intervals.OverListing),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		o.logger.Info("starting listing sweeper loop")
		err := o.sweeper.RunLoop(ctx, o.intervals.ListingSweep)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("listing sweeper: %w", err)
	})

	g.Go(func() error {
		o.logger.Info("starting governance clock loop")
		err := o.clock.RunLoop(ctx, o.intervals.GovernanceClock)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("governance clock: %w", err)
	})

	g.Go(func() error {
		o.logger.Info("starting over-listing auditor loop")
		err := o.auditor.RunLoop(ctx, o.intervals.OverListing)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("over-listing auditor: %w", err)
	})

	if o.archiver != nil {
		g.Go(func() error {
			o.logger.Info("starting archiver cron")
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
