package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ordbot/internal/engine"
)

// RunMode starts the bidding engine with live offer placement: connect and
// subscribe the event feed, run the per-collection loops and the reactor,
// and optionally sweep all open offers on shutdown.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	eng := engine.New(
		deps.Market,
		deps.Store,
		deps.Coord,
		deps.Wallet,
		a.cfg.Collections,
		engine.Options{
			Audit:   deps.Audit,
			Cursors: deps.Cursors,
			Notify:  deps.Notify,
		},
		a.logger,
	)

	if err := a.startFeed(ctx, deps, eng); err != nil {
		return err
	}

	err := eng.Run(ctx)

	if a.cfg.CancelOnStop {
		a.sweepOffers(deps)
	}
	return err
}

// MonitorMode runs the engine with a dry-run flag: every decision is logged,
// nothing is placed or cancelled. The feed is still consumed so the logs show
// what the engine would have done.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	eng := engine.New(
		deps.Market,
		deps.Store,
		deps.Coord,
		deps.Wallet,
		a.cfg.Collections,
		engine.Options{
			Cursors: deps.Cursors,
			DryRun:  true,
		},
		a.logger,
	)

	if err := a.startFeed(ctx, deps, eng); err != nil {
		return err
	}
	return eng.Run(ctx)
}

// startFeed connects the live event feed, routes its events into the engine,
// and subscribes every configured collection.
func (a *App) startFeed(ctx context.Context, deps *Dependencies, eng *engine.Engine) error {
	deps.Feed.OnEvent(eng.Enqueue)

	if err := deps.Feed.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect feed: %w", err)
	}
	a.closers = append(a.closers, func() { _ = deps.Feed.Close() })

	for i := range a.cfg.Collections {
		symbol := a.cfg.Collections[i].Symbol
		if err := deps.Feed.Subscribe(ctx, symbol); err != nil {
			return fmt.Errorf("app: subscribe %s: %w", symbol, err)
		}
	}
	return nil
}

// sweepOffers cancels every open offer for the receive address. Runs on a
// fresh context because the run context is already cancelled at shutdown.
func (a *App) sweepOffers(deps *Dependencies) {
	a.logger.Info("cancelling all open offers on shutdown")
	sweepCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := deps.Client.CancelAllOffers(sweepCtx, deps.Wallet); err != nil {
		a.logger.Error("shutdown offer sweep failed", slog.String("error", err.Error()))
	}
}
