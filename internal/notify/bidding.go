package notify

import (
	"context"
	"fmt"
)

// Event names used to filter bidding notifications.
const (
	EventPurchaseFulfilled = "purchase_fulfilled"
	EventError             = "error"
)

// BidNotifier adapts a Notifier to the engine's notification surface.
type BidNotifier struct {
	n *Notifier
}

// NewBidNotifier wraps a Notifier for use by the bidding engine.
func NewBidNotifier(n *Notifier) *BidNotifier {
	return &BidNotifier{n: n}
}

// PurchaseFulfilled announces a completed purchase.
func (b *BidNotifier) PurchaseFulfilled(ctx context.Context, collectionSymbol, tokenID string, price int64) {
	title := fmt.Sprintf("Purchase fulfilled: %s", collectionSymbol)
	msg := fmt.Sprintf("Token %s bought for %d sats.", tokenID, price)
	if tokenID == "" {
		msg = fmt.Sprintf("Collection offer accepted for %d sats.", price)
	}
	_ = b.n.Notify(ctx, EventPurchaseFulfilled, title, msg)
}

// BiddingError reports a per-item bidding failure.
func (b *BidNotifier) BiddingError(ctx context.Context, collectionSymbol, message string) {
	title := fmt.Sprintf("Bidding error: %s", collectionSymbol)
	_ = b.n.Notify(ctx, EventError, title, message)
}
