package strategy

import (
	"fmt"

	"github.com/polyquant/tradebot/internal/domain"
)

// MapLongshot is the esports flavour of the longshot: it waits for a cheap
// YES token that is already moving in its favour, which on per-map markets
// usually means the live game state has turned before the book caught up.
type MapLongshot struct {
	maxEntryPrice  float64
	minVelocity    float64
	takeProfitMult float64
	stopLossPct    float64
	maxSpread      float64
	fixedSizeUSD   float64
	cooldownMin    float64
	categories     map[string]struct{}
}

// NewMapLongshot builds the variant from flat parameters.
func NewMapLongshot(p Params) (Strategy, error) {
	if err := p.checkKnown("map_longshot",
		"max_entry_price", "min_velocity", "take_profit_mult", "stop_loss_pct",
		"max_spread", "fixed_size_usd", "cooldown_minutes",
	); err != nil {
		return nil, err
	}
	s := &MapLongshot{
		maxEntryPrice:  p.Get("max_entry_price", 0.12),
		minVelocity:    p.Get("min_velocity", 0.001),
		takeProfitMult: p.Get("take_profit_mult", 2.5),
		stopLossPct:    p.Get("stop_loss_pct", 0.5),
		maxSpread:      p.Get("max_spread", 0.04),
		fixedSizeUSD:   p.Get("fixed_size_usd", 2),
		cooldownMin:    p.Get("cooldown_minutes", 20),
		categories: map[string]struct{}{
			"esports": {},
			"sports":  {},
		},
	}
	if s.minVelocity <= 0 {
		return nil, fmt.Errorf("strategy: map_longshot: min_velocity must be positive, got %v", s.minVelocity)
	}
	return s, nil
}

func (s *MapLongshot) Name() string { return "map_longshot" }

func (s *MapLongshot) Caps() Caps {
	return Caps{
		Name:            s.Name(),
		Version:         "1",
		MarketTypes:     []string{"esports", "sports"},
		MaxPositionUSD:  s.fixedSizeUSD,
		MaxSpread:       s.maxSpread,
		CooldownMinutes: s.cooldownMin,
	}
}

func (s *MapLongshot) FilterTick(t domain.Tick) bool {
	// Velocity drives entries, so stale trade prints are useless here.
	return t.Event != domain.TickEventTrade
}

func (s *MapLongshot) OnTick(t domain.Tick, view StateView) (*domain.Action, error) {
	if t.Spread > s.maxSpread {
		return nil, nil
	}
	if t.YesMid > s.maxEntryPrice || t.YesMid <= 0 {
		return nil, nil
	}
	if t.Velocity1m < s.minVelocity {
		return nil, nil
	}
	reason := fmt.Sprintf("cheap yes %.3f rising %.5f/s", t.YesMid, t.Velocity1m)
	return entry(s.Name(), t, domain.TokenYes, s.fixedSizeUSD, domain.OrderKindMarket, reason), nil
}

func (s *MapLongshot) OnPositionUpdate(pos domain.Position, t domain.Tick, view StateView) (*domain.Action, error) {
	mark := sideMid(t, pos.TokenType)
	if mark <= 0 || pos.AvgEntryPrice <= 0 {
		return nil, nil
	}
	switch {
	case mark >= pos.AvgEntryPrice*s.takeProfitMult:
		return closeAll(s.Name(), pos, t,
			fmt.Sprintf("map longshot paid %.1fx", mark/pos.AvgEntryPrice)), nil
	case pnlPct(pos, mark) <= -s.stopLossPct:
		// Map markets can gap to zero; cut rather than ride to resolution.
		return closeAll(s.Name(), pos, t, "map turned against entry"), nil
	}
	return nil, nil
}
