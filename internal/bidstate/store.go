// Package bidstate holds the authoritative in-memory bid state per collection
// and the per-collection mutual-exclusion coordinator that guards it. The
// store performs no network I/O; every mutation must happen while the caller
// holds the collection's lock from the Coordinator.
package bidstate

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/ordbot/internal/domain"
)

// History is the mutable bid state for one collection. It is owned by the
// engine and only ever touched under the collection lock.
type History struct {
	// OurBids maps token ID to the offer we believe we hold on it.
	OurBids map[string]domain.OwnBid

	// TopBids is the set of tokens where we believe our offer leads the
	// books. Every member has a corresponding OurBids entry.
	TopBids map[string]bool

	// BottomListings is the cheapest currently-listed token set, ascending by
	// price, truncated to the configured bid count.
	BottomListings []domain.Listing

	// LastSeenActivity is the activity-feed cursor; zero means no activity
	// has been processed yet.
	LastSeenActivity time.Time

	// HighestCollectionOffer tracks the best aggregate offer seen, collection
	// mode only.
	HighestCollectionOffer *domain.CollectionOffer

	// CollectionBid is the aggregate offer we hold, collection mode only.
	CollectionBid *domain.OwnBid

	// CollectionBidIDs are the marketplace offer IDs backing CollectionBid.
	CollectionBidIDs []string

	// FulfilledQuantity counts confirmed purchases toward the quantity cap.
	FulfilledQuantity int

	// FloorPrice is the floor observed by the last reconciliation; the
	// reactor computes bounds from it between cycles.
	FloorPrice int64

	// Seeded is set once ourBids/topBids have been initialized from the
	// marketplace's view of our open offers.
	Seeded bool
}

func newHistory() *History {
	return &History{
		OurBids: make(map[string]domain.OwnBid),
		TopBids: make(map[string]bool),
	}
}

// Tracked reports whether tokenID is in the bottom-listings set.
func (h *History) Tracked(tokenID string) bool {
	for _, l := range h.BottomListings {
		if l.TokenID == tokenID {
			return true
		}
	}
	return false
}

// ListingPrice returns the listed price for tokenID from the tracked set.
func (h *History) ListingPrice(tokenID string) (int64, bool) {
	for _, l := range h.BottomListings {
		if l.TokenID == tokenID {
			return l.Price, true
		}
	}
	return 0, false
}

// Orphans returns the token IDs we hold bids on that are absent from the
// given live listing set.
func (h *History) Orphans(listed []domain.Token) []string {
	live := make(map[string]bool, len(listed))
	for _, t := range listed {
		live[t.ID] = true
	}
	var orphans []string
	for tokenID := range h.OurBids {
		if !live[tokenID] {
			orphans = append(orphans, tokenID)
		}
	}
	sort.Strings(orphans)
	return orphans
}

// Store owns one History per collection symbol.
type Store struct {
	mu        sync.Mutex
	histories map[string]*History
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{histories: make(map[string]*History)}
}

// Get returns the History for the collection, creating a zero-valued entry on
// first access. The returned pointer is stable for the life of the store.
func (s *Store) Get(collectionSymbol string) *History {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[collectionSymbol]
	if !ok {
		h = newHistory()
		s.histories[collectionSymbol] = h
	}
	return h
}

// ApplyPlacement records a successful offer placement.
func (s *Store) ApplyPlacement(collectionSymbol, tokenID string, price int64, expiresAt time.Time) {
	h := s.Get(collectionSymbol)
	h.OurBids[tokenID] = domain.OwnBid{Price: price, ExpiresAt: expiresAt}
	h.TopBids[tokenID] = true
}

// ApplyCancellation removes a token's bid from both OurBids and TopBids. It
// is also the right call when a bid died on the marketplace side (expiry,
// sale) and we are reconciling our view.
func (s *Store) ApplyCancellation(collectionSymbol, tokenID string) {
	h := s.Get(collectionSymbol)
	delete(h.OurBids, tokenID)
	delete(h.TopBids, tokenID)
}

// PruneExpired evicts every bid whose expiry is at or before now from both
// OurBids and TopBids, returning the evicted token IDs.
func (s *Store) PruneExpired(collectionSymbol string, now time.Time) []string {
	h := s.Get(collectionSymbol)
	var evicted []string
	for tokenID, bid := range h.OurBids {
		if bid.Expired(now) {
			delete(h.OurBids, tokenID)
			delete(h.TopBids, tokenID)
			evicted = append(evicted, tokenID)
		}
	}
	if h.CollectionBid != nil && h.CollectionBid.Expired(now) {
		h.CollectionBid = nil
		h.CollectionBidIDs = nil
	}
	sort.Strings(evicted)
	return evicted
}
