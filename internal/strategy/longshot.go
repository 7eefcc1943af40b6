package strategy

import (
	"fmt"

	"github.com/polyquant/tradebot/internal/domain"
)

// Longshot buys very cheap YES tokens in small size and either takes a
// multiple of the entry price or rides to resolution. Losses are expected
// on most entries; the payoff profile carries the variant.
type Longshot struct {
	maxEntryPrice  float64
	minEntryPrice  float64
	takeProfitMult float64
	maxSpread      float64
	fixedSizeUSD   float64
	cooldownMin    float64
}

// NewLongshot builds the variant from flat parameters.
func NewLongshot(p Params) (Strategy, error) {
	if err := p.checkKnown("longshot",
		"max_entry_price", "min_entry_price", "take_profit_mult",
		"max_spread", "fixed_size_usd", "cooldown_minutes",
	); err != nil {
		return nil, err
	}
	s := &Longshot{
		maxEntryPrice:  p.Get("max_entry_price", 0.05),
		minEntryPrice:  p.Get("min_entry_price", 0.01),
		takeProfitMult: p.Get("take_profit_mult", 3),
		maxSpread:      p.Get("max_spread", 0.03),
		fixedSizeUSD:   p.Get("fixed_size_usd", 1),
		cooldownMin:    p.Get("cooldown_minutes", 240),
	}
	if s.takeProfitMult <= 1 {
		return nil, fmt.Errorf("strategy: longshot: take_profit_mult %v must exceed 1", s.takeProfitMult)
	}
	if s.minEntryPrice >= s.maxEntryPrice {
		return nil, fmt.Errorf("strategy: longshot: entry band [%v,%v] is empty", s.minEntryPrice, s.maxEntryPrice)
	}
	return s, nil
}

func (s *Longshot) Name() string { return "longshot" }

func (s *Longshot) Caps() Caps {
	return Caps{
		Name:            s.Name(),
		Version:         "1",
		MaxPositionUSD:  s.fixedSizeUSD,
		MaxSpread:       s.maxSpread,
		CooldownMinutes: s.cooldownMin,
	}
}

func (s *Longshot) FilterTick(t domain.Tick) bool {
	return true
}

func (s *Longshot) OnTick(t domain.Tick, view StateView) (*domain.Action, error) {
	if t.Spread > s.maxSpread {
		return nil, nil
	}
	if t.YesMid < s.minEntryPrice || t.YesMid > s.maxEntryPrice {
		return nil, nil
	}
	reason := fmt.Sprintf("longshot at %.3f <= %.3f", t.YesMid, s.maxEntryPrice)
	return entry(s.Name(), t, domain.TokenYes, s.fixedSizeUSD, domain.OrderKindLimit, reason), nil
}

func (s *Longshot) OnPositionUpdate(pos domain.Position, t domain.Tick, view StateView) (*domain.Action, error) {
	mark := sideMid(t, pos.TokenType)
	if mark <= 0 || pos.AvgEntryPrice <= 0 {
		return nil, nil
	}
	if mark >= pos.AvgEntryPrice*s.takeProfitMult {
		return closeAll(s.Name(), pos, t,
			fmt.Sprintf("longshot paid %.1fx", mark/pos.AvgEntryPrice)), nil
	}
	// Otherwise hold to resolution; settlement closes the position.
	return nil, nil
}
