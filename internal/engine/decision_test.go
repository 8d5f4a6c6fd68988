package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/ordbot/internal/domain"
)

func itemSubject(tokenID string) Subject {
	return Subject{Mode: domain.ModeItem, TokenID: tokenID}
}

func TestCombineBounds(t *testing.T) {
	// Floor 1 BTC, 50%..75% window tighter than the absolute limits.
	b := CombineBounds(10_000_000, 100_000_000, 50, 75, 100_000_000, 1000)
	assert.Equal(t, int64(50_000_000), b.Min)
	assert.Equal(t, int64(75_000_000), b.Max)
	assert.Equal(t, int64(1000), b.OutbidMargin)

	// Absolute limits tighter than the floor window.
	b = CombineBounds(60_000_000, 70_000_000, 50, 75, 100_000_000, 1000)
	assert.Equal(t, int64(60_000_000), b.Min)
	assert.Equal(t, int64(70_000_000), b.Max)
}

func TestDecideOpensOnEmptyBooks(t *testing.T) {
	// Floor 1.0, window 50%..75%, token listed at 0.6: half the listing is
	// 0.3, below the 0.5 minimum, so the opening bid is 0.5.
	act := Decide(Situation{
		Subject: itemSubject("tok1"),
		Listed:  60_000_000,
		Bounds:  Bounds{Min: 50_000_000, Max: 75_000_000, OutbidMargin: 1_000_000},
	})
	assert.Equal(t, ActionPlace, act.Kind)
	assert.Equal(t, int64(50_000_000), act.Price)
}

func TestDecideSkipsWhenOpeningAboveMax(t *testing.T) {
	act := Decide(Situation{
		Subject: itemSubject("tok1"),
		Listed:  60_000_000,
		Bounds:  Bounds{Min: 50_000_000, Max: 40_000_000, OutbidMargin: 1_000_000},
	})
	assert.Equal(t, ActionNone, act.Kind)
}

func TestDecideOutbidsRival(t *testing.T) {
	act := Decide(Situation{
		Subject: itemSubject("tok1"),
		Best:    &CompetingOffer{Price: 55_000_000},
		Listed:  60_000_000,
		Bounds:  Bounds{Min: 50_000_000, Max: 75_000_000, OutbidMargin: 1_000_000},
	})
	assert.Equal(t, ActionPlace, act.Kind)
	assert.Equal(t, int64(56_000_000), act.Price)
}

func TestDecideSkipsRivalBeyondMax(t *testing.T) {
	act := Decide(Situation{
		Subject: itemSubject("tok1"),
		Best:    &CompetingOffer{Price: 75_000_000},
		Listed:  60_000_000,
		Bounds:  Bounds{Min: 50_000_000, Max: 75_000_000, OutbidMargin: 1_000_000},
	})
	assert.Equal(t, ActionNone, act.Kind)
}

func TestDecideRetakesTopFromRival(t *testing.T) {
	// We hold 0.55, a rival leads at 0.6, margin 0.01: replace at 0.61.
	act := Decide(Situation{
		Subject: itemSubject("tok1"),
		OurBid:  &domain.OwnBid{Price: 55_000_000, ExpiresAt: time.Now().Add(time.Hour)},
		Best:    &CompetingOffer{Price: 60_000_000},
		Listed:  60_000_000,
		Bounds:  Bounds{Min: 50_000_000, Max: 75_000_000, OutbidMargin: 1_000_000},
	})
	assert.Equal(t, ActionReplace, act.Kind)
	assert.Equal(t, int64(61_000_000), act.Price)
}

func TestDecideWithdrawsWhenRivalBeyondMax(t *testing.T) {
	act := Decide(Situation{
		Subject: itemSubject("tok1"),
		OurBid:  &domain.OwnBid{Price: 55_000_000, ExpiresAt: time.Now().Add(time.Hour)},
		Best:    &CompetingOffer{Price: 75_000_000},
		Listed:  60_000_000,
		Bounds:  Bounds{Min: 50_000_000, Max: 75_000_000, OutbidMargin: 1_000_000},
	})
	assert.Equal(t, ActionWithdraw, act.Kind)
}

func TestDecideShavesDownToRunnerUp(t *testing.T) {
	act := Decide(Situation{
		Subject: itemSubject("tok1"),
		OurBid:  &domain.OwnBid{Price: 70_000_000, ExpiresAt: time.Now().Add(time.Hour)},
		Best:    &CompetingOffer{Price: 70_000_000, Ours: true},
		Second:  &CompetingOffer{Price: 60_000_000},
		Listed:  60_000_000,
		Bounds:  Bounds{Min: 50_000_000, Max: 75_000_000, OutbidMargin: 1_000_000},
	})
	assert.Equal(t, ActionReplace, act.Kind)
	assert.Equal(t, int64(61_000_000), act.Price)
}

func TestDecideHoldsWithinMarginOfRunnerUp(t *testing.T) {
	act := Decide(Situation{
		Subject: itemSubject("tok1"),
		OurBid:  &domain.OwnBid{Price: 61_000_000, ExpiresAt: time.Now().Add(time.Hour)},
		Best:    &CompetingOffer{Price: 61_000_000, Ours: true},
		Second:  &CompetingOffer{Price: 60_000_000},
		Listed:  60_000_000,
		Bounds:  Bounds{Min: 50_000_000, Max: 75_000_000, OutbidMargin: 1_000_000},
	})
	assert.Equal(t, ActionNone, act.Kind)
}

func TestDecideSettlesAtTargetWhenLeadingAlone(t *testing.T) {
	// Sole bidder at 0.6, minimum 0.5, listing 0.6: target is 0.5.
	act := Decide(Situation{
		Subject: itemSubject("tok1"),
		OurBid:  &domain.OwnBid{Price: 60_000_000, ExpiresAt: time.Now().Add(time.Hour)},
		Best:    &CompetingOffer{Price: 60_000_000, Ours: true},
		Listed:  60_000_000,
		Bounds:  Bounds{Min: 50_000_000, Max: 75_000_000, OutbidMargin: 1_000_000},
	})
	assert.Equal(t, ActionReplace, act.Kind)
	assert.Equal(t, int64(50_000_000), act.Price)
}

func TestDecideLeavesTargetAlone(t *testing.T) {
	act := Decide(Situation{
		Subject: itemSubject("tok1"),
		OurBid:  &domain.OwnBid{Price: 50_000_000, ExpiresAt: time.Now().Add(time.Hour)},
		Best:    &CompetingOffer{Price: 50_000_000, Ours: true},
		Listed:  60_000_000,
		Bounds:  Bounds{Min: 50_000_000, Max: 75_000_000, OutbidMargin: 1_000_000},
	})
	assert.Equal(t, ActionNone, act.Kind)
}

func TestDecideWithdrawsWhenTargetAboveMax(t *testing.T) {
	act := Decide(Situation{
		Subject: itemSubject("tok1"),
		OurBid:  &domain.OwnBid{Price: 60_000_000, ExpiresAt: time.Now().Add(time.Hour)},
		Best:    &CompetingOffer{Price: 60_000_000, Ours: true},
		Listed:  200_000_000,
		Bounds:  Bounds{Min: 50_000_000, Max: 75_000_000, OutbidMargin: 1_000_000},
	})
	assert.Equal(t, ActionWithdraw, act.Kind)
}

func TestDecideRespectsBounds(t *testing.T) {
	bounds := Bounds{Min: 50_000_000, Max: 75_000_000, OutbidMargin: 1_000_000}
	cases := []Situation{
		{Subject: itemSubject("a"), Listed: 60_000_000, Bounds: bounds},
		{Subject: itemSubject("b"), Best: &CompetingOffer{Price: 30_000_000}, Listed: 60_000_000, Bounds: bounds},
		{Subject: itemSubject("c"), OurBid: &domain.OwnBid{Price: 55_000_000}, Best: &CompetingOffer{Price: 60_000_000}, Listed: 60_000_000, Bounds: bounds},
		{Subject: itemSubject("d"), OurBid: &domain.OwnBid{Price: 74_000_000}, Best: &CompetingOffer{Price: 74_000_000, Ours: true}, Second: &CompetingOffer{Price: 52_000_000}, Listed: 120_000_000, Bounds: bounds},
	}
	for _, s := range cases {
		act := Decide(s)
		if act.Kind == ActionPlace || act.Kind == ActionReplace {
			assert.GreaterOrEqual(t, act.Price, bounds.Min, "subject %s", s.Subject.TokenID)
			assert.LessOrEqual(t, act.Price, bounds.Max, "subject %s", s.Subject.TokenID)
		}
	}
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Now()
	dur := 30 * time.Minute

	// Placed under the current 30m policy: remaining validity never exceeds
	// the policy duration.
	fresh := domain.OwnBid{ExpiresAt: now.Add(29 * time.Minute)}
	assert.False(t, NeedsRefresh(fresh, now, dur))

	// Placed under an older 60m policy: remaining validity exceeds the
	// configured duration, so the offer is refreshed.
	stale := domain.OwnBid{ExpiresAt: now.Add(55 * time.Minute)}
	assert.True(t, NeedsRefresh(stale, now, dur))
}
