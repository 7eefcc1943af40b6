package executor

import "github.com/polyquant/tradebot/internal/domain"

const (
	// slippagePerHundredUSD is the price impact assumed per $100 of size.
	slippagePerHundredUSD = 0.001

	// maxSlippageFrac caps the slippage adjustment at 2% of the base price.
	maxSlippageFrac = 0.02

	// priceTick is the exchange's minimum price increment.
	priceTick = 0.001
)

// executionPrice returns the expected cross price for a marketable order:
// buys lift the best ask, sells hit the best bid, both pushed by a
// size-proportional slippage allowance. slipPer100 overrides the default
// impact per $100 when positive.
func executionPrice(book domain.OrderbookState, side domain.TradeSide, sizeUSD, slipPer100 float64) (float64, bool) {
	var base float64
	var ok bool
	if side == domain.TradeSideBuy {
		base, ok = book.BestAsk()
	} else {
		base, ok = book.BestBid()
	}
	if !ok || base <= 0 {
		return 0, false
	}

	if slipPer100 <= 0 {
		slipPer100 = slippagePerHundredUSD
	}
	slip := slipPer100 * (sizeUSD / 100)
	if maxSlip := base * maxSlippageFrac; slip > maxSlip {
		slip = maxSlip
	}
	if side == domain.TradeSideBuy {
		base += slip
	} else {
		base -= slip
	}
	return clampPrice(base), true
}

// limitPrice posts inside the spread relative to mid: buys below, sells
// above, offset by the configured basis points.
func limitPrice(book domain.OrderbookState, side domain.TradeSide, offsetBps float64) (float64, bool) {
	mid := book.MidPrice()
	if mid <= 0 {
		return 0, false
	}
	offset := offsetBps / 10000
	if side == domain.TradeSideBuy {
		mid -= offset
	} else {
		mid += offset
	}
	return clampPrice(mid), true
}

// clampPrice keeps a price inside the exchange's valid (0,1) band.
func clampPrice(p float64) float64 {
	if p < priceTick {
		return priceTick
	}
	if p > 1-priceTick {
		return 1 - priceTick
	}
	return p
}
