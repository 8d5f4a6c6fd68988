// Package engine runs the bidding core: a periodic reconciliation loop and a
// realtime event reactor per collection, both feeding a shared decision table
// and executing its actions through the marketplace client.
package engine

import (
	"time"

	"github.com/alanyoungcy/ordbot/internal/domain"
)

// ActionKind discriminates decision outcomes.
type ActionKind int

const (
	// ActionNone leaves the current position untouched.
	ActionNone ActionKind = iota

	// ActionPlace places a new offer at Action.Price.
	ActionPlace

	// ActionReplace cancels the held offer and re-places at Action.Price.
	ActionReplace

	// ActionWithdraw cancels the held offer without re-placing.
	ActionWithdraw
)

func (k ActionKind) String() string {
	switch k {
	case ActionPlace:
		return "place"
	case ActionReplace:
		return "replace"
	case ActionWithdraw:
		return "withdraw"
	default:
		return "none"
	}
}

// Action is one decision outcome. Price is meaningful for place and replace.
type Action struct {
	Kind   ActionKind
	Price  int64
	Reason string
}

// Subject identifies what a decision is about: one token in item mode, the
// aggregate collection offer in collection mode.
type Subject struct {
	Mode    domain.OfferMode
	TokenID string
}

// Bounds is the effective per-evaluation price window combined from the
// absolute and floor-relative limits.
type Bounds struct {
	Min          int64
	Max          int64
	OutbidMargin int64
}

// CombineBounds merges the absolute bid limits with the floor-percentage
// limits: the binding minimum is the larger of the two floors, the binding
// maximum the smaller of the two ceilings.
func CombineBounds(minBid, maxBid int64, minFloorPct, maxFloorPct float64, floorPrice, outbidMargin int64) Bounds {
	b := Bounds{Min: minBid, Max: maxBid, OutbidMargin: outbidMargin}
	if floorMin := int64(minFloorPct / 100 * float64(floorPrice)); floorMin > b.Min {
		b.Min = floorMin
	}
	if floorMax := int64(maxFloorPct / 100 * float64(floorPrice)); floorMax < b.Max {
		b.Max = floorMax
	}
	return b
}

// CompetingOffer is a rival (or our own) offer as seen on the books.
type CompetingOffer struct {
	Price int64
	Ours  bool
}

// Situation is the full input to one decision: what we hold, what the books
// show, the token's listed price (the floor price in collection mode), and
// the effective bounds.
type Situation struct {
	Subject Subject
	OurBid  *domain.OwnBid
	Best    *CompetingOffer
	Second  *CompetingOffer
	Listed  int64
	Bounds  Bounds
}

// NeedsRefresh reports whether a held bid's expiry has drifted past the
// configured placement duration, meaning it was placed under a longer policy
// and should be cancelled and re-evaluated as absent.
func NeedsRefresh(bid domain.OwnBid, now time.Time, offerDuration time.Duration) bool {
	return bid.ExpiresAt.Sub(now) > offerDuration
}

// Decide evaluates the outbid table for one subject. It performs no I/O; the
// caller executes the returned action. Rows are evaluated in order, first
// match wins:
//
//  1. nothing held, empty books: open at half the listed price, floored at
//     the minimum bound
//  2. nothing held, rival best: outbid by the margin
//  3. held but outbid: replace above the rival, or withdraw when the rival
//     is already beyond our ceiling
//  4. held and leading with a runner-up: shave down to runner-up + margin
//     when the gap exceeds the margin
//  5. held and leading alone: settle at the opening target, withdraw if the
//     target exceeds the ceiling
func Decide(s Situation) Action {
	if s.OurBid == nil {
		if s.Best == nil || s.Best.Ours {
			return openingAction(s)
		}
		candidate := clampMin(s.Best.Price+s.Bounds.OutbidMargin, s.Bounds.Min)
		if candidate > s.Bounds.Max {
			return Action{Kind: ActionNone, Reason: "outbid candidate above max offer"}
		}
		return Action{Kind: ActionPlace, Price: candidate, Reason: "outbid rival"}
	}

	// We hold an offer.
	if s.Best != nil && !s.Best.Ours {
		candidate := clampMin(s.Best.Price+s.Bounds.OutbidMargin, s.Bounds.Min)
		if candidate > s.Bounds.Max {
			return Action{Kind: ActionWithdraw, Reason: "rival beyond max offer"}
		}
		return Action{Kind: ActionReplace, Price: candidate, Reason: "retake top from rival"}
	}

	// We are the best offer (or the books show nothing at all).
	if s.Second != nil {
		gap := s.OurBid.Price - s.Second.Price
		if gap > s.Bounds.OutbidMargin {
			candidate := clampMin(s.Second.Price+s.Bounds.OutbidMargin, s.Bounds.Min)
			if candidate <= s.Bounds.Max && candidate < s.OurBid.Price {
				return Action{Kind: ActionReplace, Price: candidate, Reason: "shave down to runner-up"}
			}
		}
		return Action{Kind: ActionNone, Reason: "leading within margin of runner-up"}
	}

	target := openingPrice(s)
	if target > s.Bounds.Max {
		return Action{Kind: ActionWithdraw, Reason: "target above max offer"}
	}
	if s.OurBid.Price != target {
		return Action{Kind: ActionReplace, Price: target, Reason: "settle at opening target"}
	}
	return Action{Kind: ActionNone, Reason: "already at target"}
}

// openingPrice is the no-competition target: half the listed price, floored
// at the minimum bound.
func openingPrice(s Situation) int64 {
	return clampMin(s.Listed/2, s.Bounds.Min)
}

func openingAction(s Situation) Action {
	price := openingPrice(s)
	if price > s.Bounds.Max {
		return Action{Kind: ActionNone, Reason: "opening price above max offer"}
	}
	return Action{Kind: ActionPlace, Price: price, Reason: "open on empty books"}
}

func clampMin(v, min int64) int64 {
	if v < min {
		return min
	}
	return v
}
