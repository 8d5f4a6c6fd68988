package bidstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ordbot/internal/domain"
)

func TestStoreGetReturnsStablePointer(t *testing.T) {
	s := NewStore()
	h := s.Get("runestone")
	h.FulfilledQuantity = 2

	again := s.Get("runestone")
	assert.Same(t, h, again)
	assert.Equal(t, 2, again.FulfilledQuantity)

	other := s.Get("bitcoin-frogs")
	assert.NotSame(t, h, other)
	assert.Equal(t, 0, other.FulfilledQuantity)
}

func TestApplyPlacementAndCancellation(t *testing.T) {
	s := NewStore()
	expires := time.Now().Add(30 * time.Minute)

	s.ApplyPlacement("runestone", "tok1", 50_000_000, expires)

	h := s.Get("runestone")
	require.Contains(t, h.OurBids, "tok1")
	assert.Equal(t, int64(50_000_000), h.OurBids["tok1"].Price)
	assert.Equal(t, expires, h.OurBids["tok1"].ExpiresAt)
	assert.True(t, h.TopBids["tok1"])

	s.ApplyCancellation("runestone", "tok1")
	assert.NotContains(t, h.OurBids, "tok1")
	assert.NotContains(t, h.TopBids, "tok1")

	// Cancelling an unknown token is a no-op.
	s.ApplyCancellation("runestone", "tok-unknown")
}

func TestPruneExpired(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.ApplyPlacement("runestone", "live", 50_000_000, now.Add(10*time.Minute))
	s.ApplyPlacement("runestone", "dead-a", 50_000_000, now.Add(-time.Minute))
	s.ApplyPlacement("runestone", "dead-b", 50_000_000, now)

	h := s.Get("runestone")
	h.CollectionBid = &domain.OwnBid{Price: 40_000_000, ExpiresAt: now.Add(-time.Second)}
	h.CollectionBidIDs = []string{"coll-1"}

	evicted := s.PruneExpired("runestone", now)
	assert.Equal(t, []string{"dead-a", "dead-b"}, evicted)

	assert.Contains(t, h.OurBids, "live")
	assert.NotContains(t, h.OurBids, "dead-a")
	assert.NotContains(t, h.TopBids, "dead-b")
	assert.Nil(t, h.CollectionBid)
	assert.Empty(t, h.CollectionBidIDs)
}

func TestHistoryTrackedAndListingPrice(t *testing.T) {
	h := newHistory()
	h.BottomListings = []domain.Listing{
		{TokenID: "tok1", Price: 60_000_000},
		{TokenID: "tok2", Price: 65_000_000},
	}

	assert.True(t, h.Tracked("tok1"))
	assert.False(t, h.Tracked("tok9"))

	price, ok := h.ListingPrice("tok2")
	require.True(t, ok)
	assert.Equal(t, int64(65_000_000), price)

	_, ok = h.ListingPrice("tok9")
	assert.False(t, ok)
}

func TestHistoryOrphans(t *testing.T) {
	h := newHistory()
	h.OurBids["tok1"] = domain.OwnBid{Price: 50_000_000}
	h.OurBids["tok2"] = domain.OwnBid{Price: 50_000_000}
	h.OurBids["tok3"] = domain.OwnBid{Price: 50_000_000}

	listed := []domain.Token{{ID: "tok2"}}
	assert.Equal(t, []string{"tok1", "tok3"}, h.Orphans(listed))

	assert.Empty(t, newHistory().Orphans(listed))
}
