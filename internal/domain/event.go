package domain

import "time"

// EventKind discriminates live market events.
type EventKind string

const (
	EventOfferPlaced            EventKind = "offer_placed"
	EventCollectionOfferCreated EventKind = "coll_offer_created"
	EventOfferCancelled         EventKind = "offer_cancelled"
	EventPurchaseBroadcast      EventKind = "buying_broadcasted"
	EventSaleBroadcast          EventKind = "offer_accepted_broadcasted"
)

// MarketEvent is a single event from the live marketplace feed.
type MarketEvent struct {
	Kind             EventKind
	TokenID          string
	CollectionSymbol string
	// Counterparty is the payment address of the actor behind the event: the
	// bidder for offer events, the buyer for purchase/sale broadcasts.
	Counterparty string
	// Receiver is the token receive address of the actor, when the feed
	// carries it.
	Receiver  string
	Price     int64
	CreatedAt time.Time
}

// IsTrade reports whether the event settles a purchase.
func (e MarketEvent) IsTrade() bool {
	return e.Kind == EventPurchaseBroadcast || e.Kind == EventSaleBroadcast
}

// IsOffer reports whether the event is a competing-offer event.
func (e MarketEvent) IsOffer() bool {
	return e.Kind == EventOfferPlaced || e.Kind == EventCollectionOfferCreated
}
