package domain

import (
	"sort"
	"time"
)

// imbalanceDepth is how many levels per side feed the imbalance metric.
const imbalanceDepth = 5

// PriceLevel is a single price+size entry in an orderbook ladder.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookState is the live ladder for one token. Bids are sorted descending
// by price, asks ascending. The gateway owns the mutable copy; everything
// downstream sees value copies embedded in ticks.
type OrderbookState struct {
	TokenID    string
	Bids       []PriceLevel
	Asks       []PriceLevel
	LastUpdate time.Time
}

// Normalize sorts both ladders into canonical order and drops empty levels.
func (b *OrderbookState) Normalize() {
	bids := b.Bids[:0]
	for _, l := range b.Bids {
		if l.Size > 0 {
			bids = append(bids, l)
		}
	}
	b.Bids = bids
	asks := b.Asks[:0]
	for _, l := range b.Asks {
		if l.Size > 0 {
			asks = append(asks, l)
		}
	}
	b.Asks = asks
	sort.Slice(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.Slice(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
}

// BestBid returns the highest bid, or false when the side is empty.
func (b OrderbookState) BestBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask, or false when the side is empty.
func (b OrderbookState) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// HasLiquidity reports whether both sides of the book are populated.
func (b OrderbookState) HasLiquidity() bool {
	_, bidOK := b.BestBid()
	_, askOK := b.BestAsk()
	return bidOK && askOK
}

// MidPrice is (bestBid+bestAsk)/2; zero when either side is empty.
func (b OrderbookState) MidPrice() float64 {
	bid, bidOK := b.BestBid()
	ask, askOK := b.BestAsk()
	if !bidOK || !askOK {
		return 0
	}
	return (bid + ask) / 2
}

// Spread is bestAsk-bestBid; zero when either side is empty.
func (b OrderbookState) Spread() float64 {
	bid, bidOK := b.BestBid()
	ask, askOK := b.BestAsk()
	if !bidOK || !askOK {
		return 0
	}
	return ask - bid
}

// Imbalance is the top-k depth-weighted asymmetry between bids and asks:
// (sum bid sizes - sum ask sizes) / (sum bid sizes + sum ask sizes), in
// [-1, 1]. Zero when the book is empty.
func (b OrderbookState) Imbalance() float64 {
	var bidVol, askVol float64
	for i, l := range b.Bids {
		if i >= imbalanceDepth {
			break
		}
		bidVol += l.Size
	}
	for i, l := range b.Asks {
		if i >= imbalanceDepth {
			break
		}
		askVol += l.Size
	}
	total := bidVol + askVol
	if total == 0 {
		return 0
	}
	return (bidVol - askVol) / total
}

// Snapshot returns a deep copy safe to hand across goroutines.
func (b OrderbookState) Snapshot() OrderbookState {
	cp := b
	cp.Bids = append([]PriceLevel(nil), b.Bids...)
	cp.Asks = append([]PriceLevel(nil), b.Asks...)
	return cp
}
