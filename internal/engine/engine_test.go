package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/ordbot/internal/bidstate"
	"github.com/alanyoungcy/ordbot/internal/config"
	"github.com/alanyoungcy/ordbot/internal/domain"
	"github.com/alanyoungcy/ordbot/internal/marketplace"
)

const (
	testSymbol     = "test-collection"
	ourPayment     = "bc1-payment-ours"
	ourReceive     = "bc1-receive-ours"
	rivalPayment   = "bc1-payment-rival"
	testFloorPrice = int64(100_000_000)
)

type stubSigner struct{}

func (stubSigner) Sign(*domain.UnsignedTemplate) (string, error) { return "signed", nil }

func testWallet() domain.Wallet {
	return domain.Wallet{
		PaymentAddress: ourPayment,
		ReceiveAddress: ourReceive,
		PublicKey:      "pubkey",
		Signer:         stubSigner{},
	}
}

func testCollection() config.CollectionConfig {
	cfg := config.CollectionConfig{
		Symbol:         testSymbol,
		Mode:           "item",
		MinBid:         0,
		MaxBid:         75_000_000,
		MinFloorPct:    50,
		MaxFloorPct:    75,
		OutbidMargin:   1_000_000,
		BidCount:       5,
		QuantityCap:    1,
		CounterBidding: true,
	}
	cfg.OfferDuration.Duration = 30 * time.Minute
	cfg.LoopInterval.Duration = time.Minute
	return cfg
}

// fakeMarket is an in-memory marketplace. Placements and cancellations are
// reflected in its book so repeated reconciliations see their own effects.
type fakeMarket struct {
	mu sync.Mutex

	floor   *domain.FloorStats
	tokens  []domain.Token
	book    map[string][]domain.Offer // per token, price descending
	coll    *domain.CollectionOffer
	events  []domain.MarketEvent
	balance int64

	placed        []marketplace.PlaceRequest
	cancelled     []string
	collPlaced    []marketplace.CollectionPlaceRequest
	collCancelled [][]string
	nextID        int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		floor:   &domain.FloorStats{Symbol: testSymbol, FloorPrice: testFloorPrice, Supply: 1000, TotalListed: 50},
		book:    make(map[string][]domain.Offer),
		balance: 1_000_000_000,
	}
}

func (m *fakeMarket) listToken(tokenID string, price int64) {
	m.tokens = append(m.tokens, domain.Token{
		ID: tokenID, CollectionSymbol: testSymbol, Listed: true, ListedPrice: price,
	})
}

func (m *fakeMarket) addOffer(tokenID string, price int64, payment, receive string) string {
	m.nextID++
	id := fmt.Sprintf("offer-%d", m.nextID)
	// Expiry stays inside the test policy's 30m offer duration so seeded
	// bids are not immediately refreshed.
	offers := append(m.book[tokenID], domain.Offer{
		ID: id, TokenID: tokenID, Price: price,
		PaymentAddress: payment, ReceiveAddress: receive,
		ExpiresAt: time.Now().Add(20 * time.Minute), IsValid: true,
		CollectionSymbol: testSymbol,
	})
	for i := 1; i < len(offers); i++ {
		for j := i; j > 0 && offers[j].Price > offers[j-1].Price; j-- {
			offers[j], offers[j-1] = offers[j-1], offers[j]
		}
	}
	m.book[tokenID] = offers
	return id
}

func (m *fakeMarket) FloorStats(ctx context.Context, symbol string) (*domain.FloorStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.floor, nil
}

func (m *fakeMarket) CheapestTokens(ctx context.Context, symbol string, bidCount int) ([]domain.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tokens) > bidCount {
		return m.tokens[:bidCount], nil
	}
	return m.tokens, nil
}

func (m *fakeMarket) BestOffers(ctx context.Context, tokenID string) (*domain.Offer, *domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	offers := m.book[tokenID]
	var best, second *domain.Offer
	if len(offers) > 0 {
		o := offers[0]
		best = &o
	}
	if len(offers) > 1 {
		o := offers[1]
		second = &o
	}
	return best, second, nil
}

func (m *fakeMarket) TokenOffers(ctx context.Context, tokenID, buyerAddress string) ([]domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Offer
	for _, o := range m.book[tokenID] {
		if buyerAddress == "" || o.ReceiveAddress == buyerAddress {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *fakeMarket) OwnerOffers(ctx context.Context, receiveAddress string) ([]domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Offer
	for _, offers := range m.book {
		for _, o := range offers {
			if o.ReceiveAddress == receiveAddress {
				out = append(out, o)
			}
		}
	}
	return out, nil
}

func (m *fakeMarket) BestCollectionOffer(ctx context.Context, symbol string) (*domain.CollectionOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coll, nil
}

func (m *fakeMarket) PlaceItemOffer(ctx context.Context, req marketplace.PlaceRequest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed = append(m.placed, req)
	m.addOffer(req.TokenID, req.Price, req.Wallet.PaymentAddress, req.Wallet.ReceiveAddress)
	return true, nil
}

func (m *fakeMarket) CancelItemOffer(ctx context.Context, offerID string, wallet domain.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, offerID)
	for tokenID, offers := range m.book {
		kept := offers[:0]
		for _, o := range offers {
			if o.ID != offerID {
				kept = append(kept, o)
			}
		}
		m.book[tokenID] = kept
	}
	return nil
}

func (m *fakeMarket) PlaceCollectionOffer(ctx context.Context, req marketplace.CollectionPlaceRequest) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collPlaced = append(m.collPlaced, req)
	m.nextID++
	id := fmt.Sprintf("coll-offer-%d", m.nextID)
	m.coll = &domain.CollectionOffer{
		IDs: []string{id}, Price: req.Price,
		PaymentAddress: req.Wallet.PaymentAddress,
		ExpiresAt:      req.ExpiresAt,
	}
	return []string{id}, nil
}

func (m *fakeMarket) CancelCollectionOffer(ctx context.Context, offerIDs []string, wallet domain.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collCancelled = append(m.collCancelled, offerIDs)
	if m.coll != nil && m.coll.PaymentAddress == wallet.PaymentAddress {
		m.coll = nil
	}
	return nil
}

func (m *fakeMarket) ActivitySince(ctx context.Context, symbol string, cursor time.Time) ([]domain.MarketEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MarketEvent
	for _, ev := range m.events {
		if ev.CreatedAt.After(cursor) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *fakeMarket) Balance(ctx context.Context, address string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

func (m *fakeMarket) placedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.placed)
}

func (m *fakeMarket) cancelledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancelled)
}

func newTestEngine(market Marketplace, cols ...config.CollectionConfig) *Engine {
	if len(cols) == 0 {
		cols = []config.CollectionConfig{testCollection()}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(market, bidstate.NewStore(), bidstate.NewCoordinator(), testWallet(), cols, Options{}, logger)
}
