package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/ordbot/internal/bidstate"
	"github.com/alanyoungcy/ordbot/internal/config"
	"github.com/alanyoungcy/ordbot/internal/domain"
)

// eventQueueSize bounds the reactor's FIFO queue. The reconciliation loop
// repairs anything dropped under sustained overload.
const eventQueueSize = 256

// reactedKinds is the allow-list of event kinds the reactor processes.
var reactedKinds = map[domain.EventKind]bool{
	domain.EventOfferPlaced:            true,
	domain.EventCollectionOfferCreated: true,
	domain.EventOfferCancelled:         true,
	domain.EventPurchaseBroadcast:      true,
	domain.EventSaleBroadcast:          true,
}

// Enqueue hands a live feed event to the reactor. Events arrive from the feed
// goroutine and are drained strictly in arrival order. Safe for use as a
// marketplace.EventHandler.
func (e *Engine) Enqueue(ev domain.MarketEvent) {
	if !reactedKinds[ev.Kind] {
		return
	}
	if _, ok := e.bySymbol[ev.CollectionSymbol]; !ok {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("event queue full, event dropped",
			slog.String("collection", ev.CollectionSymbol),
			slog.String("kind", string(ev.Kind)),
		)
	}
}

// runReactor drains the event queue one event at a time.
func (e *Engine) runReactor(ctx context.Context) error {
	e.logger.Info("event reactor started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.events:
			if err := e.processEvent(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Warn("event processing failed",
					slog.String("collection", ev.CollectionSymbol),
					slog.String("kind", string(ev.Kind)),
					slog.String("error", err.Error()),
				)
				e.notifyError(ctx, ev.CollectionSymbol, err)
			}
		}
	}
}

// processEvent handles one feed event under the collection lock. Blocking on
// the lock while the loop reconciles preserves arrival order without racing.
func (e *Engine) processEvent(ctx context.Context, ev domain.MarketEvent) error {
	cfg, ok := e.bySymbol[ev.CollectionSymbol]
	if !ok {
		return nil
	}

	release, err := e.coord.Acquire(ctx, cfg.Symbol)
	if err != nil {
		return err
	}
	defer release()

	h := e.store.Get(cfg.Symbol)

	if ev.CreatedAt.After(h.LastSeenActivity) {
		h.LastSeenActivity = ev.CreatedAt
		e.saveCursor(ctx, cfg.Symbol, ev.CreatedAt)
	}

	if ev.IsTrade() {
		if e.tradeIsOurs(&ev) {
			e.recordFill(ctx, cfg, h, ev.TokenID, ev.Price)
		}
		return nil
	}

	if !cfg.CounterBidding {
		return nil
	}
	if h.FulfilledQuantity >= cfg.QuantityCap {
		return nil
	}
	if ev.Counterparty == e.wallet.PaymentAddress {
		return nil
	}

	bounds := CombineBounds(cfg.MinBid, cfg.MaxBid, cfg.MinFloorPct, cfg.MaxFloorPct, h.FloorPrice, cfg.OutbidMargin)

	if cfg.OfferMode() == domain.ModeCollection {
		if ev.Kind != domain.EventCollectionOfferCreated && ev.Kind != domain.EventOfferCancelled {
			return nil
		}
		return e.evaluateCollection(ctx, cfg, h, bounds)
	}

	return e.reactToToken(ctx, cfg, h, ev, bounds)
}

// reactToToken re-evaluates a single token in response to a rival's offer
// event. Only tokens inside the tracked bottom listings are reacted to.
func (e *Engine) reactToToken(ctx context.Context, cfg *config.CollectionConfig, h *bidstate.History, ev domain.MarketEvent, bounds Bounds) error {
	listedPrice, tracked := h.ListingPrice(ev.TokenID)
	if !tracked {
		return nil
	}

	done := e.inflight.begin(ev.TokenID)
	defer done()

	return e.evaluateToken(ctx, cfg, h, ev.TokenID, listedPrice, bounds)
}

// inflightSet serializes reactions per token. A second reaction to a token
// already being worked on waits for the first to finish instead of racing it.
type inflightSet struct {
	mu     sync.Mutex
	tokens map[string]chan struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{tokens: make(map[string]chan struct{})}
}

// begin marks tokenID in flight, waiting for any current holder first. The
// returned func clears the marker.
func (s *inflightSet) begin(tokenID string) func() {
	for {
		s.mu.Lock()
		ch, busy := s.tokens[tokenID]
		if !busy {
			done := make(chan struct{})
			s.tokens[tokenID] = done
			s.mu.Unlock()
			return func() {
				s.mu.Lock()
				delete(s.tokens, tokenID)
				s.mu.Unlock()
				close(done)
			}
		}
		s.mu.Unlock()
		<-ch
	}
}
