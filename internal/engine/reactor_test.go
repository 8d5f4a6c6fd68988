package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ordbot/internal/domain"
)

// trackToken primes the store the way a reconciliation would: floor known,
// token in the tracked bottom listings.
func trackToken(eng *Engine, tokenID string, listedPrice int64) {
	h := eng.store.Get(testSymbol)
	h.Seeded = true
	h.FloorPrice = testFloorPrice
	h.BottomListings = append(h.BottomListings, domain.Listing{TokenID: tokenID, Price: listedPrice})
}

func rivalOfferEvent(tokenID string, price int64) domain.MarketEvent {
	return domain.MarketEvent{
		Kind:             domain.EventOfferPlaced,
		TokenID:          tokenID,
		CollectionSymbol: testSymbol,
		Counterparty:     rivalPayment,
		Price:            price,
		CreatedAt:        time.Now(),
	}
}

func TestReactorOutbidsRivalOnTrackedToken(t *testing.T) {
	market := newFakeMarket()
	market.listToken("tok1", 60_000_000)
	eng := newTestEngine(market)
	trackToken(eng, "tok1", 60_000_000)

	// We hold 0.55; a rival bids 0.6.
	ourID := market.addOffer("tok1", 55_000_000, ourPayment, ourReceive)
	h := eng.store.Get(testSymbol)
	h.OurBids["tok1"] = domain.OwnBid{Price: 55_000_000, ExpiresAt: time.Now().Add(20 * time.Minute)}
	h.TopBids["tok1"] = true
	market.addOffer("tok1", 60_000_000, rivalPayment, "bc1-receive-rival")

	require.NoError(t, eng.processEvent(context.Background(), rivalOfferEvent("tok1", 60_000_000)))

	assert.Contains(t, market.cancelled, ourID)
	require.Equal(t, 1, market.placedCount())
	assert.Equal(t, int64(61_000_000), market.placed[0].Price)
	assert.Equal(t, int64(61_000_000), h.OurBids["tok1"].Price)
}

func TestReactorIgnoresUntrackedToken(t *testing.T) {
	market := newFakeMarket()
	eng := newTestEngine(market)
	trackToken(eng, "tok1", 60_000_000)

	require.NoError(t, eng.processEvent(context.Background(), rivalOfferEvent("tok-elsewhere", 60_000_000)))
	assert.Equal(t, 0, market.placedCount())
}

func TestReactorIgnoresOwnEvents(t *testing.T) {
	market := newFakeMarket()
	eng := newTestEngine(market)
	trackToken(eng, "tok1", 60_000_000)

	ev := rivalOfferEvent("tok1", 60_000_000)
	ev.Counterparty = ourPayment
	require.NoError(t, eng.processEvent(context.Background(), ev))
	assert.Equal(t, 0, market.placedCount())
}

func TestReactorRespectsCounterBiddingFlag(t *testing.T) {
	market := newFakeMarket()
	col := testCollection()
	col.CounterBidding = false
	eng := newTestEngine(market, col)
	trackToken(eng, "tok1", 60_000_000)

	require.NoError(t, eng.processEvent(context.Background(), rivalOfferEvent("tok1", 60_000_000)))
	assert.Equal(t, 0, market.placedCount())
}

func TestReactorRecordsFillAndSuppressesFurtherBidding(t *testing.T) {
	market := newFakeMarket()
	eng := newTestEngine(market)
	trackToken(eng, "tok1", 60_000_000)

	h := eng.store.Get(testSymbol)
	h.OurBids["tok1"] = domain.OwnBid{Price: 55_000_000, ExpiresAt: time.Now().Add(20 * time.Minute)}
	h.TopBids["tok1"] = true

	sale := domain.MarketEvent{
		Kind:             domain.EventSaleBroadcast,
		TokenID:          "tok1",
		CollectionSymbol: testSymbol,
		Counterparty:     ourPayment,
		Price:            55_000_000,
		CreatedAt:        time.Now(),
	}
	require.NoError(t, eng.processEvent(context.Background(), sale))

	assert.Equal(t, 1, h.FulfilledQuantity)
	assert.NotContains(t, h.OurBids, "tok1")
	assert.NotContains(t, h.TopBids, "tok1")

	// Quantity cap is 1: further rival events must not trigger placements.
	trackToken(eng, "tok2", 60_000_000)
	require.NoError(t, eng.processEvent(context.Background(), rivalOfferEvent("tok2", 60_000_000)))
	assert.Equal(t, 0, market.placedCount())
}

func TestReactorIgnoresForeignTrades(t *testing.T) {
	market := newFakeMarket()
	eng := newTestEngine(market)
	trackToken(eng, "tok1", 60_000_000)

	sale := domain.MarketEvent{
		Kind:             domain.EventSaleBroadcast,
		TokenID:          "tok1",
		CollectionSymbol: testSymbol,
		Counterparty:     rivalPayment,
		CreatedAt:        time.Now(),
	}
	require.NoError(t, eng.processEvent(context.Background(), sale))
	assert.Equal(t, 0, eng.store.Get(testSymbol).FulfilledQuantity)
}

func TestReactorAdvancesActivityCursor(t *testing.T) {
	market := newFakeMarket()
	eng := newTestEngine(market)
	trackToken(eng, "tok1", 60_000_000)

	ts := time.Now()
	ev := rivalOfferEvent("tok-elsewhere", 60_000_000)
	ev.CreatedAt = ts
	require.NoError(t, eng.processEvent(context.Background(), ev))
	assert.Equal(t, ts, eng.store.Get(testSymbol).LastSeenActivity)
}

func TestEnqueueFiltersKindsAndCollections(t *testing.T) {
	market := newFakeMarket()
	eng := newTestEngine(market)

	eng.Enqueue(domain.MarketEvent{Kind: "unrelated_kind", CollectionSymbol: testSymbol})
	eng.Enqueue(domain.MarketEvent{Kind: domain.EventOfferPlaced, CollectionSymbol: "unknown-collection"})
	assert.Empty(t, eng.events)

	eng.Enqueue(rivalOfferEvent("tok1", 60_000_000))
	assert.Len(t, eng.events, 1)
}

func TestInflightSerializesSameToken(t *testing.T) {
	set := newInflightSet()
	release := set.begin("tok1")

	entered := make(chan struct{})
	go func() {
		done := set.begin("tok1")
		close(entered)
		done()
	}()

	select {
	case <-entered:
		t.Fatal("second reaction entered while first still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("second reaction never entered after release")
	}
}
