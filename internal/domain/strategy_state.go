package domain

import "time"

// StrategyState is the capital and performance account for one strategy.
// Invariant: AvailableUSD + sum of open cost bases <= AllocatedUSD +
// TotalRealizedPnL, up to cent rounding; AvailableUSD never goes negative.
type StrategyState struct {
	Strategy           string
	AllocatedUSD       float64
	AvailableUSD       float64
	TotalRealizedPnL   float64
	TotalUnrealizedPnL float64
	TradeCount         int
	WinCount           int
	LossCount          int
	HighWaterMark      float64
	MaxDrawdown        float64 // fraction of HWM, >= 0
	IsActive           bool
	UpdatedAt          time.Time
}

// Equity is allocated capital plus lifetime realized PnL.
func (s StrategyState) Equity() float64 {
	return s.AllocatedUSD + s.TotalRealizedPnL
}

// Cooldown records the last entry time for one (strategy, market) pair. A new
// entry is allowed only once the configured interval has elapsed.
type Cooldown struct {
	Strategy  string
	MarketID  int64
	LastEntry time.Time
}
