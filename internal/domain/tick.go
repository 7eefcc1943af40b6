package domain

import "time"

// TickEvent is the kind of exchange event that produced a tick.
type TickEvent string

const (
	TickEventBook        TickEvent = "book"
	TickEventTrade       TickEvent = "trade"
	TickEventPriceChange TickEvent = "price_change"
)

// TradeSide is the aggressor side of a trade event.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// Tick is one normalized market event as delivered to strategies. Ticks are
// immutable and totally ordered per token by Seq (exchange order). Both YES
// and NO prices are always populated: when the exchange reports only one
// side, the gateway derives the other as 1 - mid.
type Tick struct {
	MarketID    int64
	ConditionID string
	TokenID     string
	TokenType   TokenType
	Event       TickEvent
	Seq         uint64
	Timestamp   time.Time

	YesBid float64
	YesAsk float64
	YesMid float64
	NoBid  float64
	NoAsk  float64
	NoMid  float64

	// Spread and Imbalance are computed on the event token's book.
	Spread    float64
	Imbalance float64

	// Trade fields, set only for Event == TickEventTrade.
	LastTradePrice float64
	TradeSize      float64
	TradeSide      TradeSide

	// Velocity1m is the 60-second mid-price velocity in price units per
	// second for the event token.
	Velocity1m float64

	// Book is a copy of the event token's ladder at emission time.
	Book OrderbookState
}

// Mid returns the mid price of the event token's side.
func (t Tick) Mid() float64 {
	if t.TokenType == TokenNo {
		return t.NoMid
	}
	return t.YesMid
}

// SideBid returns the best bid for the event token.
func (t Tick) SideBid() float64 {
	if t.TokenType == TokenNo {
		return t.NoBid
	}
	return t.YesBid
}

// SideAsk returns the best ask for the event token.
func (t Tick) SideAsk() float64 {
	if t.TokenType == TokenNo {
		return t.NoAsk
	}
	return t.YesAsk
}

// Age reports how long ago the tick was produced.
func (t Tick) Age(now time.Time) time.Duration {
	return now.Sub(t.Timestamp)
}
