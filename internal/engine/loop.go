package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ordbot/internal/bidstate"
	"github.com/alanyoungcy/ordbot/internal/config"
	"github.com/alanyoungcy/ordbot/internal/domain"
)

// runLoop drives the periodic reconciliation for one collection. The first
// cycle runs immediately; failures are logged and the next tick tries again.
func (e *Engine) runLoop(ctx context.Context, cfg *config.CollectionConfig) error {
	log := e.logger.With(slog.String("collection", cfg.Symbol))
	log.Info("reconciliation loop started",
		slog.String("mode", string(cfg.OfferMode())),
		slog.Duration("interval", cfg.LoopInterval.Duration),
	)

	ticker := time.NewTicker(cfg.LoopInterval.Duration)
	defer ticker.Stop()

	for {
		if err := e.Reconcile(ctx, cfg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("reconciliation failed", slog.String("error", err.Error()))
			e.notifyError(ctx, cfg.Symbol, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Reconcile runs one full resynchronization cycle for a collection: prune
// expired bids, refresh the market snapshot, seed state from marketplace
// truth on first run, sweep orphans, then evaluate every tracked subject.
// Per-subject failures are isolated; the cycle always runs to completion.
func (e *Engine) Reconcile(ctx context.Context, cfg *config.CollectionConfig) error {
	release, err := e.coord.Acquire(ctx, cfg.Symbol)
	if err != nil {
		return err
	}
	defer release()

	log := e.logger.With(slog.String("collection", cfg.Symbol))
	h := e.store.Get(cfg.Symbol)
	now := time.Now()

	if evicted := e.store.PruneExpired(cfg.Symbol, now); len(evicted) > 0 {
		log.Debug("expired bids pruned", slog.Int("count", len(evicted)))
	}

	e.checkBalance(ctx, cfg, log)

	stats, err := e.market.FloorStats(ctx, cfg.Symbol)
	if err != nil {
		return fmt.Errorf("engine: floor stats: %w", err)
	}
	h.FloorPrice = stats.FloorPrice

	tokens, err := e.market.CheapestTokens(ctx, cfg.Symbol, cfg.BidCount)
	if err != nil {
		return fmt.Errorf("engine: cheapest tokens: %w", err)
	}
	listings := make([]domain.Listing, 0, len(tokens))
	for i := range tokens {
		listings = append(listings, domain.Listing{TokenID: tokens[i].ID, Price: tokens[i].ListedPrice})
	}
	h.BottomListings = listings

	if !h.Seeded {
		if err := e.seed(ctx, cfg, h); err != nil {
			return err
		}
	}

	e.drainActivity(ctx, cfg, h, log)

	// Orphan sweep: held bids whose token is no longer listed.
	for _, tokenID := range h.Orphans(tokens) {
		if err := e.cancelTokenOffer(ctx, cfg, tokenID, "orphaned bid"); err != nil {
			log.Warn("orphan cancellation failed",
				slog.String("token", tokenID),
				slog.String("error", err.Error()),
			)
			continue
		}
		log.Info("orphaned bid cancelled", slog.String("token", tokenID))
	}

	if h.FulfilledQuantity >= cfg.QuantityCap {
		log.Info("quantity cap reached, placements suppressed",
			slog.Int("fulfilled", h.FulfilledQuantity),
		)
		return nil
	}

	bounds := CombineBounds(cfg.MinBid, cfg.MaxBid, cfg.MinFloorPct, cfg.MaxFloorPct, h.FloorPrice, cfg.OutbidMargin)

	if cfg.OfferMode() == domain.ModeCollection {
		if err := e.evaluateCollection(ctx, cfg, h, bounds); err != nil {
			log.Warn("collection evaluation failed", slog.String("error", err.Error()))
			e.notifyError(ctx, cfg.Symbol, err)
		}
		return nil
	}

	for _, l := range listings {
		if err := e.evaluateToken(ctx, cfg, h, l.TokenID, l.Price, bounds); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("token evaluation failed",
				slog.String("token", l.TokenID),
				slog.String("error", err.Error()),
			)
			e.notifyError(ctx, cfg.Symbol, err)
		}
	}
	return nil
}

// seed initializes ourBids/topBids from the marketplace's record of our open
// offers, and the activity cursor from the cache. Runs once per collection
// per process lifetime.
func (e *Engine) seed(ctx context.Context, cfg *config.CollectionConfig, h *bidstate.History) error {
	offers, err := e.market.OwnerOffers(ctx, e.wallet.ReceiveAddress)
	if err != nil {
		return fmt.Errorf("engine: seed own offers: %w", err)
	}
	for i := range offers {
		o := &offers[i]
		if o.CollectionSymbol != cfg.Symbol || !o.IsValid {
			continue
		}
		h.OurBids[o.TokenID] = domain.OwnBid{Price: o.Price, ExpiresAt: o.ExpiresAt}
		h.TopBids[o.TokenID] = true
	}

	if e.opts.Cursors != nil && h.LastSeenActivity.IsZero() {
		cursor, err := e.opts.Cursors.LoadCursor(ctx, cfg.Symbol)
		if err != nil {
			e.logger.Warn("cursor load failed",
				slog.String("collection", cfg.Symbol),
				slog.String("error", err.Error()),
			)
		} else {
			h.LastSeenActivity = cursor
		}
	}

	h.Seeded = true
	e.logger.Info("bid state seeded from marketplace",
		slog.String("collection", cfg.Symbol),
		slog.Int("open_offers", len(h.OurBids)),
	)
	return nil
}

// drainActivity applies trades we missed while offline or between feed
// events, then advances the cursor. Feed outages therefore cannot lose
// fulfillments.
func (e *Engine) drainActivity(ctx context.Context, cfg *config.CollectionConfig, h *bidstate.History, log *slog.Logger) {
	events, err := e.market.ActivitySince(ctx, cfg.Symbol, h.LastSeenActivity)
	if err != nil {
		log.Warn("activity fetch failed", slog.String("error", err.Error()))
		return
	}
	for i := range events {
		ev := &events[i]
		if ev.IsTrade() && e.tradeIsOurs(ev) {
			e.recordFill(ctx, cfg, h, ev.TokenID, ev.Price)
		}
		if ev.CreatedAt.After(h.LastSeenActivity) {
			h.LastSeenActivity = ev.CreatedAt
		}
	}
	e.saveCursor(ctx, cfg.Symbol, h.LastSeenActivity)
}

// tradeIsOurs reports whether a purchase/sale broadcast settles one of our
// offers.
func (e *Engine) tradeIsOurs(ev *domain.MarketEvent) bool {
	return ev.Counterparty == e.wallet.PaymentAddress ||
		(ev.Receiver != "" && ev.Receiver == e.wallet.ReceiveAddress)
}

func (e *Engine) saveCursor(ctx context.Context, symbol string, cursor time.Time) {
	if e.opts.Cursors == nil || cursor.IsZero() {
		return
	}
	if err := e.opts.Cursors.SaveCursor(ctx, symbol, cursor); err != nil {
		e.logger.Warn("cursor save failed",
			slog.String("collection", symbol),
			slog.String("error", err.Error()),
		)
	}
}

// checkBalance logs the funding balance at cycle start. Informational only;
// an underfunded wallet surfaces as insufficient-funds on placement.
func (e *Engine) checkBalance(ctx context.Context, cfg *config.CollectionConfig, log *slog.Logger) {
	balance, err := e.market.Balance(ctx, e.wallet.PaymentAddress)
	if err != nil {
		log.Warn("balance lookup failed", slog.String("error", err.Error()))
		return
	}
	if balance < cfg.MinBid {
		log.Warn("funding balance below minimum bid",
			slog.Int64("balance", balance),
			slog.Int64("min_bid", cfg.MinBid),
		)
		return
	}
	log.Debug("funding balance", slog.Int64("balance", balance))
}
