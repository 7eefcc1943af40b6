package strategy

import (
	"fmt"

	"github.com/polyquant/tradebot/internal/domain"
)

// Scalp takes small, quick positions in the direction of short-term mid
// momentum, entering with passive limit orders and exiting on tight profit
// and loss bounds.
type Scalp struct {
	minVelocity   float64
	yesPriceMin   float64
	yesPriceMax   float64
	maxSpread     float64
	fixedSizeUSD  float64
	takeProfitPct float64
	stopLossPct   float64
	cooldownMin   float64
}

// NewScalp builds the variant from flat parameters.
func NewScalp(p Params) (Strategy, error) {
	if err := p.checkKnown("scalp",
		"min_velocity", "yes_price_min", "yes_price_max", "max_spread",
		"fixed_size_usd", "take_profit_pct", "stop_loss_pct", "cooldown_minutes",
	); err != nil {
		return nil, err
	}
	s := &Scalp{
		minVelocity:   p.Get("min_velocity", 0.0005),
		yesPriceMin:   p.Get("yes_price_min", 0.20),
		yesPriceMax:   p.Get("yes_price_max", 0.80),
		maxSpread:     p.Get("max_spread", 0.03),
		fixedSizeUSD:  p.Get("fixed_size_usd", 2),
		takeProfitPct: p.Get("take_profit_pct", 0.04),
		stopLossPct:   p.Get("stop_loss_pct", 0.03),
		cooldownMin:   p.Get("cooldown_minutes", 10),
	}
	if s.minVelocity <= 0 {
		return nil, fmt.Errorf("strategy: scalp: min_velocity must be positive, got %v", s.minVelocity)
	}
	return s, nil
}

func (s *Scalp) Name() string { return "scalp" }

func (s *Scalp) Caps() Caps {
	return Caps{
		Name:            s.Name(),
		Version:         "1",
		MaxPositionUSD:  s.fixedSizeUSD,
		MaxSpread:       s.maxSpread,
		CooldownMinutes: s.cooldownMin,
	}
}

func (s *Scalp) FilterTick(t domain.Tick) bool {
	// Momentum needs fresh mids; trade prints alone carry no velocity.
	return t.Event != domain.TickEventTrade
}

func (s *Scalp) OnTick(t domain.Tick, view StateView) (*domain.Action, error) {
	if t.Spread > s.maxSpread {
		return nil, nil
	}
	if t.YesMid < s.yesPriceMin || t.YesMid > s.yesPriceMax {
		return nil, nil
	}
	// Ride the move: positive velocity buys YES, negative buys NO.
	var side domain.TokenType
	switch {
	case t.Velocity1m >= s.minVelocity:
		side = domain.TokenYes
	case t.Velocity1m <= -s.minVelocity:
		side = domain.TokenNo
	default:
		return nil, nil
	}
	reason := fmt.Sprintf("velocity %.5f/s toward %s", t.Velocity1m, side)
	return entry(s.Name(), t, side, s.fixedSizeUSD, domain.OrderKindLimit, reason), nil
}

func (s *Scalp) OnPositionUpdate(pos domain.Position, t domain.Tick, view StateView) (*domain.Action, error) {
	mark := sideMid(t, pos.TokenType)
	if mark <= 0 {
		return nil, nil
	}
	ret := pnlPct(pos, mark)
	switch {
	case ret >= s.takeProfitPct:
		return closeAll(s.Name(), pos, t, fmt.Sprintf("scalp target %.1f%%", ret*100)), nil
	case ret <= -s.stopLossPct:
		return closeAll(s.Name(), pos, t, fmt.Sprintf("scalp stop %.1f%%", ret*100)), nil
	}
	return nil, nil
}
