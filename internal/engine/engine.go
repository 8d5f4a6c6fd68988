package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/ordbot/internal/bidstate"
	"github.com/alanyoungcy/ordbot/internal/config"
	"github.com/alanyoungcy/ordbot/internal/domain"
	"github.com/alanyoungcy/ordbot/internal/marketplace"
)

// Marketplace is the subset of the REST client the engine drives. Declared
// here so tests can substitute a fake.
type Marketplace interface {
	FloorStats(ctx context.Context, collectionSymbol string) (*domain.FloorStats, error)
	CheapestTokens(ctx context.Context, collectionSymbol string, bidCount int) ([]domain.Token, error)
	BestOffers(ctx context.Context, tokenID string) (best, second *domain.Offer, err error)
	TokenOffers(ctx context.Context, tokenID, buyerAddress string) ([]domain.Offer, error)
	OwnerOffers(ctx context.Context, receiveAddress string) ([]domain.Offer, error)
	BestCollectionOffer(ctx context.Context, collectionSymbol string) (*domain.CollectionOffer, error)
	PlaceItemOffer(ctx context.Context, req marketplace.PlaceRequest) (bool, error)
	CancelItemOffer(ctx context.Context, offerID string, wallet domain.Wallet) error
	PlaceCollectionOffer(ctx context.Context, req marketplace.CollectionPlaceRequest) ([]string, error)
	CancelCollectionOffer(ctx context.Context, offerIDs []string, wallet domain.Wallet) error
	ActivitySince(ctx context.Context, collectionSymbol string, cursor time.Time) ([]domain.MarketEvent, error)
	Balance(ctx context.Context, address string) (int64, error)
}

// Auditor persists bid lifecycle records. Nil disables auditing.
type Auditor interface {
	RecordPlacement(ctx context.Context, collectionSymbol, tokenID string, price int64, expiresAt time.Time) error
	RecordCancellation(ctx context.Context, collectionSymbol, tokenID, reason string) error
	RecordFill(ctx context.Context, collectionSymbol, tokenID string, price int64) error
}

// CursorCache persists the per-collection activity cursor across restarts.
// Nil disables persistence.
type CursorCache interface {
	LoadCursor(ctx context.Context, collectionSymbol string) (time.Time, error)
	SaveCursor(ctx context.Context, collectionSymbol string, cursor time.Time) error
}

// Notifier pushes operator-facing notifications. Nil disables them.
type Notifier interface {
	PurchaseFulfilled(ctx context.Context, collectionSymbol, tokenID string, price int64)
	BiddingError(ctx context.Context, collectionSymbol, message string)
}

// Options carries the optional engine collaborators.
type Options struct {
	Audit   Auditor
	Cursors CursorCache
	Notify  Notifier

	// DryRun logs decided actions without placing or cancelling anything.
	DryRun bool
}

// Engine owns one reconciliation loop per configured collection and a single
// process-wide event reactor, all sharing the bid store, the coordinator, and
// the rate-limited marketplace client.
type Engine struct {
	market      Marketplace
	store       *bidstate.Store
	coord       *bidstate.Coordinator
	wallet      domain.Wallet
	collections []config.CollectionConfig
	bySymbol    map[string]*config.CollectionConfig
	opts        Options
	logger      *slog.Logger

	events   chan domain.MarketEvent
	inflight *inflightSet
}

// New creates an Engine for the given collections.
func New(market Marketplace, store *bidstate.Store, coord *bidstate.Coordinator, wallet domain.Wallet, collections []config.CollectionConfig, opts Options, logger *slog.Logger) *Engine {
	e := &Engine{
		market:      market,
		store:       store,
		coord:       coord,
		wallet:      wallet,
		collections: collections,
		bySymbol:    make(map[string]*config.CollectionConfig, len(collections)),
		opts:        opts,
		logger:      logger.With(slog.String("component", "engine")),
		events:      make(chan domain.MarketEvent, eventQueueSize),
		inflight:    newInflightSet(),
	}
	for i := range e.collections {
		e.bySymbol[e.collections[i].Symbol] = &e.collections[i]
	}
	return e
}

// Run starts one reconciliation loop per collection plus the shared reactor
// and blocks until ctx is cancelled or a goroutine fails fatally.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := range e.collections {
		cfg := &e.collections[i]
		g.Go(func() error {
			return e.runLoop(ctx, cfg)
		})
	}
	g.Go(func() error {
		return e.runReactor(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Shared evaluation and execution. Callers must hold the collection lock.
// ---------------------------------------------------------------------------

// ourOffer reports whether an offer on the books belongs to our wallet.
func (e *Engine) ourOffer(o *domain.Offer) bool {
	if o == nil {
		return false
	}
	return o.PaymentAddress == e.wallet.PaymentAddress ||
		(o.ReceiveAddress != "" && o.ReceiveAddress == e.wallet.ReceiveAddress)
}

// competing converts a book offer to a decision input.
func (e *Engine) competing(o *domain.Offer) *CompetingOffer {
	if o == nil {
		return nil
	}
	return &CompetingOffer{Price: o.Price, Ours: e.ourOffer(o)}
}

// evaluateToken runs the expiry pre-step and the decision table for one token
// and executes the outcome. Caller holds the collection lock.
func (e *Engine) evaluateToken(ctx context.Context, cfg *config.CollectionConfig, h *bidstate.History, tokenID string, listedPrice int64, bounds Bounds) error {
	now := time.Now()

	var ourBid *domain.OwnBid
	if b, ok := h.OurBids[tokenID]; ok {
		if NeedsRefresh(b, now, cfg.OfferDuration.Duration) {
			if err := e.cancelTokenOffer(ctx, cfg, tokenID, "expiry refresh"); err != nil {
				return err
			}
		} else {
			ourBid = &b
		}
	}

	best, second, err := e.market.BestOffers(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("engine: best offers for %s: %w", tokenID, err)
	}

	s := Situation{
		Subject: Subject{Mode: domain.ModeItem, TokenID: tokenID},
		OurBid:  ourBid,
		Best:    e.competing(best),
		Second:  e.competing(second),
		Listed:  listedPrice,
		Bounds:  bounds,
	}
	return e.execute(ctx, cfg, h, s, Decide(s))
}

// evaluateCollection runs the table against the aggregate collection offer.
// The aggregate book exposes only its best offer, so the runner-up input is
// always absent in this mode. Caller holds the collection lock.
func (e *Engine) evaluateCollection(ctx context.Context, cfg *config.CollectionConfig, h *bidstate.History, bounds Bounds) error {
	now := time.Now()

	ourBid := h.CollectionBid
	if ourBid != nil && NeedsRefresh(*ourBid, now, cfg.OfferDuration.Duration) {
		if err := e.cancelCollectionBid(ctx, cfg, h, "expiry refresh"); err != nil {
			return err
		}
		ourBid = nil
	}

	best, err := e.market.BestCollectionOffer(ctx, cfg.Symbol)
	if err != nil {
		return fmt.Errorf("engine: best collection offer: %w", err)
	}

	var comp *CompetingOffer
	if best != nil {
		h.HighestCollectionOffer = best
		comp = &CompetingOffer{
			Price: best.Price,
			Ours:  best.PaymentAddress == e.wallet.PaymentAddress,
		}
	}

	s := Situation{
		Subject: Subject{Mode: domain.ModeCollection},
		OurBid:  ourBid,
		Best:    comp,
		Listed:  h.FloorPrice,
		Bounds:  bounds,
	}
	return e.execute(ctx, cfg, h, s, Decide(s))
}

// execute carries out one decided action. Caller holds the collection lock.
func (e *Engine) execute(ctx context.Context, cfg *config.CollectionConfig, h *bidstate.History, s Situation, act Action) error {
	log := e.logger.With(
		slog.String("collection", cfg.Symbol),
		slog.String("token", s.Subject.TokenID),
		slog.String("action", act.Kind.String()),
		slog.String("reason", act.Reason),
	)
	if act.Kind == ActionNone {
		log.Debug("no action")
		return nil
	}
	if e.opts.DryRun {
		log.Info("dry run, action skipped", slog.Int64("price", act.Price))
		return nil
	}

	if s.Subject.Mode == domain.ModeCollection {
		return e.executeCollection(ctx, cfg, h, act, log)
	}

	tokenID := s.Subject.TokenID
	switch act.Kind {
	case ActionWithdraw:
		return e.cancelTokenOffer(ctx, cfg, tokenID, act.Reason)
	case ActionReplace:
		if err := e.cancelTokenOffer(ctx, cfg, tokenID, act.Reason); err != nil {
			return err
		}
		fallthrough
	case ActionPlace:
		expiresAt := time.Now().Add(cfg.OfferDuration.Duration)
		placed, err := e.market.PlaceItemOffer(ctx, marketplace.PlaceRequest{
			TokenID:   tokenID,
			Price:     act.Price,
			ExpiresAt: expiresAt,
			Wallet:    e.wallet,
		})
		if err != nil {
			return fmt.Errorf("engine: place offer on %s: %w", tokenID, err)
		}
		if !placed {
			log.Warn("placement produced nothing to submit")
			return nil
		}
		e.store.ApplyPlacement(cfg.Symbol, tokenID, act.Price, expiresAt)
		e.recordPlacement(ctx, cfg.Symbol, tokenID, act.Price, expiresAt)
		log.Info("offer placed", slog.Int64("price", act.Price))
	}
	return nil
}

func (e *Engine) executeCollection(ctx context.Context, cfg *config.CollectionConfig, h *bidstate.History, act Action, log *slog.Logger) error {
	switch act.Kind {
	case ActionWithdraw:
		return e.cancelCollectionBid(ctx, cfg, h, act.Reason)
	case ActionReplace:
		if err := e.cancelCollectionBid(ctx, cfg, h, act.Reason); err != nil {
			return err
		}
		fallthrough
	case ActionPlace:
		expiresAt := time.Now().Add(cfg.OfferDuration.Duration)
		ids, err := e.market.PlaceCollectionOffer(ctx, marketplace.CollectionPlaceRequest{
			CollectionSymbol: cfg.Symbol,
			Price:            act.Price,
			ExpiresAt:        expiresAt,
			Wallet:           e.wallet,
		})
		if err != nil {
			return fmt.Errorf("engine: place collection offer: %w", err)
		}
		if len(ids) == 0 {
			log.Warn("collection placement produced nothing to submit")
			return nil
		}
		h.CollectionBid = &domain.OwnBid{Price: act.Price, ExpiresAt: expiresAt}
		h.CollectionBidIDs = ids
		e.recordPlacement(ctx, cfg.Symbol, "", act.Price, expiresAt)
		log.Info("collection offer placed", slog.Int64("price", act.Price))
	}
	return nil
}

// cancelTokenOffer cancels our live offer on a token, looking its ID up on
// the marketplace, and drops it from the store. A vanished offer is treated
// as already cancelled.
func (e *Engine) cancelTokenOffer(ctx context.Context, cfg *config.CollectionConfig, tokenID, reason string) error {
	ours, err := e.market.TokenOffers(ctx, tokenID, e.wallet.ReceiveAddress)
	if err != nil {
		return fmt.Errorf("engine: look up own offer on %s: %w", tokenID, err)
	}
	for i := range ours {
		if err := e.market.CancelItemOffer(ctx, ours[i].ID, e.wallet); err != nil {
			if domain.KindOf(err) == domain.KindOfferNotFound {
				continue
			}
			return fmt.Errorf("engine: cancel offer on %s: %w", tokenID, err)
		}
	}
	e.store.ApplyCancellation(cfg.Symbol, tokenID)
	e.recordCancellation(ctx, cfg.Symbol, tokenID, reason)
	return nil
}

func (e *Engine) cancelCollectionBid(ctx context.Context, cfg *config.CollectionConfig, h *bidstate.History, reason string) error {
	if len(h.CollectionBidIDs) > 0 {
		if err := e.market.CancelCollectionOffer(ctx, h.CollectionBidIDs, e.wallet); err != nil {
			if domain.KindOf(err) != domain.KindOfferNotFound {
				return fmt.Errorf("engine: cancel collection offer: %w", err)
			}
		}
	}
	h.CollectionBid = nil
	h.CollectionBidIDs = nil
	e.recordCancellation(ctx, cfg.Symbol, "", reason)
	return nil
}

// recordFill applies a confirmed purchase: bump the fulfilled counter, evict
// the token, audit, notify. Caller holds the collection lock.
func (e *Engine) recordFill(ctx context.Context, cfg *config.CollectionConfig, h *bidstate.History, tokenID string, price int64) {
	h.FulfilledQuantity++
	if tokenID != "" {
		e.store.ApplyCancellation(cfg.Symbol, tokenID)
	}
	if e.opts.Audit != nil {
		if err := e.opts.Audit.RecordFill(ctx, cfg.Symbol, tokenID, price); err != nil {
			e.logger.Warn("audit fill failed", slog.String("error", err.Error()))
		}
	}
	if e.opts.Notify != nil {
		e.opts.Notify.PurchaseFulfilled(ctx, cfg.Symbol, tokenID, price)
	}
	e.logger.Info("purchase fulfilled",
		slog.String("collection", cfg.Symbol),
		slog.String("token", tokenID),
		slog.Int64("price", price),
		slog.Int("fulfilled", h.FulfilledQuantity),
		slog.Int("cap", cfg.QuantityCap),
	)
}

func (e *Engine) recordPlacement(ctx context.Context, symbol, tokenID string, price int64, expiresAt time.Time) {
	if e.opts.Audit == nil {
		return
	}
	if err := e.opts.Audit.RecordPlacement(ctx, symbol, tokenID, price, expiresAt); err != nil {
		e.logger.Warn("audit placement failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) recordCancellation(ctx context.Context, symbol, tokenID, reason string) {
	if e.opts.Audit == nil {
		return
	}
	if err := e.opts.Audit.RecordCancellation(ctx, symbol, tokenID, reason); err != nil {
		e.logger.Warn("audit cancellation failed", slog.String("error", err.Error()))
	}
}

// notifyError reports a per-item bidding failure without interrupting the
// cycle or the queue.
func (e *Engine) notifyError(ctx context.Context, symbol string, err error) {
	if e.opts.Notify != nil {
		e.opts.Notify.BiddingError(ctx, symbol, err.Error())
	}
}
