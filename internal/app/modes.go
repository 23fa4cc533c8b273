package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/escrowd/internal/reconcile"
	"github.com/alanyoungcy/escrowd/internal/server"
	"github.com/alanyoungcy/escrowd/internal/server/handler"
	"github.com/alanyoungcy/escrowd/internal/server/ws"
	"github.com/alanyoungcy/escrowd/internal/service"
)

// services groups the domain services shared by the application modes.
type services struct {
	deals     *service.DealService
	reconcile *service.ReconcileService
	disputes  *service.DisputeService
	tracker   *service.ActionTracker
	tx        *service.TxService
}

// buildServices constructs the service layer on top of the wired
// dependencies. Every mode uses the same service graph; modes differ only in
// which entry points they run against it.
func (a *App) buildServices(deps *Dependencies) *services {
	dealSvc := service.NewDealService(
		deps.DealStore, deps.DealCache, deps.SignalBus, deps.AuditStore,
		a.cfg.Server.BaseURL, a.logger,
	)
	reconcileSvc := service.NewReconcileService(
		deps.DealStore, deps.DealCache, deps.SignalBus, deps.AuditStore,
		deps.Chain, a.logger,
	)
	disputeSvc := service.NewDisputeService(
		deps.DisputeStore, deps.DealStore, deps.Chain, deps.SignalBus,
		deps.AuditStore, deps.Archiver, deps.Notifier, a.logger,
	)
	tracker := service.NewActionTracker(deps.SignalBus, a.logger)
	txSvc := service.NewTxService(deps.Chain, tracker, reconcileSvc, disputeSvc, a.logger)

	return &services{
		deals:     dealSvc,
		reconcile: reconcileSvc,
		disputes:  disputeSvc,
		tracker:   tracker,
		tx:        txSvc,
	}
}

// ServerMode runs the HTTP + WebSocket API without the background
// reconciler. Deals are reconciled lazily on read.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// ReconcileMode runs the background sweep and archival loops without the
// HTTP API.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startReconciler(ctx, g, deps, svcs)
	return g.Wait()
}

// FullMode runs the HTTP API and the background reconciler together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server.enabled is false, but full mode serves the API by design")
	}
	a.startHTTPServer(ctx, g, deps, svcs)

	if !a.cfg.Reconciler.Enabled {
		a.logger.WarnContext(ctx, "reconciler.enabled is false, but full mode runs the sweeper by design")
	}
	a.startReconciler(ctx, g, deps, svcs)

	return g.Wait()
}

// startReconciler adds the reconciliation orchestrator to the given errgroup:
// the periodic chain sweep plus, when object storage is wired, the nightly
// event-history archival cron.
func (a *App) startReconciler(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	sweeper := reconcile.NewSweeper(
		deps.DealStore, svcs.reconcile, deps.LockManager,
		a.cfg.Reconciler.BatchSize, a.logger,
	)

	var archiver *reconcile.HistoryArchiver
	if deps.Archiver != nil {
		archiver = reconcile.NewHistoryArchiver(deps.DealStore, deps.Chain, deps.Archiver, a.logger)
	}

	orch := reconcile.NewOrchestrator(
		sweeper, archiver,
		a.cfg.Reconciler.SweepInterval.Duration,
		a.cfg.Reconciler.ArchiveCron,
		a.logger,
	)
	g.Go(func() error {
		return orch.Run(ctx)
	})
}

// startHTTPServer adds the API server and the WebSocket hub to the given
// errgroup. The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(
			a.cfg.Mode,
			a.cfg.Chain.ContractAddress,
			deps.Chain.OperatorAddress(),
		),
		Deals:    handler.NewDealHandler(svcs.deals, svcs.reconcile, a.logger),
		Disputes: handler.NewDisputeHandler(svcs.disputes, svcs.deals, a.logger),
		Actions:  handler.NewActionHandler(svcs.tx, svcs.tracker, svcs.deals, a.logger),
		Audit:    handler.NewAuditHandler(deps.AuditStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
