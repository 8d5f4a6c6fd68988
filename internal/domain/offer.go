// Package domain defines the core types shared by the bidding engine: offers,
// tokens, market events, and the error taxonomy used for retry classification.
// All prices are expressed in base currency units (sats).
package domain

import "time"

// OfferMode selects how the engine bids on a collection.
type OfferMode string

const (
	// ModeItem places one offer per tracked token.
	ModeItem OfferMode = "item"

	// ModeCollection maintains a single aggregate offer accepted against any
	// token in the collection.
	ModeCollection OfferMode = "collection"
)

// Offer is a read-only snapshot of a marketplace offer, ours or a
// competitor's.
type Offer struct {
	ID               string
	TokenID          string
	Price            int64
	PaymentAddress   string
	ReceiveAddress   string
	ExpiresAt        time.Time
	IsValid          bool
	CollectionSymbol string
}

// CollectionOffer is a read-only snapshot of an aggregate collection-wide
// offer. A single logical collection offer may be backed by several offer IDs
// on the marketplace side; cancellation needs all of them.
type CollectionOffer struct {
	IDs            []string
	Price          int64
	PaymentAddress string
	ExpiresAt      time.Time
}

// OwnBid is an offer the engine believes it currently holds.
type OwnBid struct {
	Price     int64
	ExpiresAt time.Time
}

// Expired reports whether the bid is logically dead at the given instant.
func (b OwnBid) Expired(now time.Time) bool {
	return !b.ExpiresAt.After(now)
}

// Listing is one entry of a collection's cheapest-listed set, ordered
// ascending by price.
type Listing struct {
	TokenID string
	Price   int64
}

// FloorStats is the collection-level stat snapshot from the marketplace.
type FloorStats struct {
	Symbol      string
	FloorPrice  int64
	Supply      int64
	TotalListed int64
}
