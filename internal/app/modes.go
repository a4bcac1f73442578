package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sharemarket/internal/pipeline"
	"github.com/alanyoungcy/sharemarket/internal/server"
	"github.com/alanyoungcy/sharemarket/internal/server/handler"
	"github.com/alanyoungcy/sharemarket/internal/server/ws"
	"github.com/alanyoungcy/sharemarket/internal/service"
)

// services bundles the domain services built on top of the wired
// dependencies.
type services struct {
	ledger     *service.LedgerService
	listings   *service.ListingService
	trades     *service.TradeService
	governance *service.GovernanceService
	reconcile  *service.ReconcileService
}

// buildServices constructs the service layer from the wired dependencies.
func (a *App) buildServices(deps *Dependencies) *services {
	txTimeout := a.cfg.Chain.TxTimeout.Duration

	return &services{
		ledger: service.NewLedgerService(
			deps.AgreementStore, deps.BalanceStore, deps.AuditStore, a.logger,
		),
		listings: service.NewListingService(
			deps.ListingStore, deps.AgreementStore, deps.SignalBus, deps.AuditStore, a.logger,
		),
		trades: service.NewTradeService(
			deps.TradeStore, deps.ListingStore, deps.AgreementStore,
			deps.ChainClient, deps.SignalBus, deps.AuditStore,
			deps.Notifier, a.logger, txTimeout,
		),
		governance: service.NewGovernanceService(
			deps.ProposalStore, deps.VoteStore, deps.BalanceStore, deps.AgreementStore,
			deps.ChainClient, deps.SignalBus, deps.AuditStore,
			deps.Notifier, a.logger, txTimeout,
		),
		reconcile: service.NewReconcileService(
			deps.BalanceStore, deps.ListingStore, deps.AgreementStore, deps.PlanStore,
			deps.ChainClient, deps.SignalBus, deps.AuditStore,
			deps.Notifier, a.logger, txTimeout,
		),
	}
}

// ServeMode runs the HTTP + WebSocket API without background loops. Use it
// when a separate instance handles sweeping and archival.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// SweepMode runs only the background loops: listing expiry, the governance
// clock, the over-listing auditor, and archival.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	if err := a.startPipeline(ctx, g, deps, svcs); err != nil {
		return fmt.Errorf("sweep mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs the API server and all background loops in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	if a.cfg.Pipeline.Enabled {
		if err := a.startPipeline(ctx, g, deps, svcs); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	} else {
		a.logger.WarnContext(ctx, "pipeline.enabled is false, listings will not expire and proposals will not advance automatically")
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}

	return g.Wait()
}

// startHTTPServer adds the API server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Agreements: handler.NewAgreementHandler(svcs.ledger, a.logger),
		Listings:   handler.NewListingHandler(svcs.listings, a.logger),
		Trades:     handler.NewTradeHandler(svcs.trades, a.logger),
		Governance: handler.NewGovernanceHandler(svcs.governance, a.logger),
		Reconcile:  handler.NewReconcileHandler(svcs.reconcile, a.logger),
		Audit:      handler.NewAuditHandler(deps.AuditStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startPipeline adds the background loop orchestrator to the given errgroup.
// The archiver is included only when blob storage is wired.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) error {
	sweeper := pipeline.NewSweeper(svcs.listings, deps.LockManager, a.logger)
	clock := pipeline.NewGovernanceClock(svcs.governance, deps.LockManager, a.logger)
	auditor := pipeline.NewAuditor(svcs.ledger, svcs.reconcile, deps.LockManager, a.logger)

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Pipeline.ArchiveRetentionDays, a.logger)
	}

	orch := pipeline.NewOrchestrator(
		sweeper, clock, auditor, archiver,
		pipeline.Intervals{
			ListingSweep:    a.cfg.Pipeline.ListingSweepInterval.Duration,
			GovernanceClock: a.cfg.Pipeline.GovernanceClockTick.Duration,
			OverListing:     a.cfg.Pipeline.OverListingInterval.Duration,
		},
		a.cfg.Pipeline.ArchiveCron,
		a.logger,
	)

	g.Go(func() error {
		err := orch.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	return nil
}
