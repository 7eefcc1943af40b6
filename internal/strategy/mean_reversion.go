package strategy

import (
	"fmt"

	"github.com/polyquant/tradebot/internal/domain"
)

// MeanReversion fades sharp short-term moves: a fast mid move up buys NO, a
// fast move down buys YES, on the expectation the book snaps back once the
// initiating flow exhausts.
type MeanReversion struct {
	minVelocity   float64
	yesPriceMin   float64
	yesPriceMax   float64
	maxSpread     float64
	fixedSizeUSD  float64
	takeProfitPct float64
	stopLossPct   float64
	cooldownMin   float64
}

// NewMeanReversion builds the variant from flat parameters.
func NewMeanReversion(p Params) (Strategy, error) {
	if err := p.checkKnown("mean_reversion",
		"min_velocity", "yes_price_min", "yes_price_max", "max_spread",
		"fixed_size_usd", "take_profit_pct", "stop_loss_pct", "cooldown_minutes",
	); err != nil {
		return nil, err
	}
	s := &MeanReversion{
		minVelocity:   p.Get("min_velocity", 0.002),
		yesPriceMin:   p.Get("yes_price_min", 0.25),
		yesPriceMax:   p.Get("yes_price_max", 0.75),
		maxSpread:     p.Get("max_spread", 0.04),
		fixedSizeUSD:  p.Get("fixed_size_usd", 3),
		takeProfitPct: p.Get("take_profit_pct", 0.06),
		stopLossPct:   p.Get("stop_loss_pct", 0.05),
		cooldownMin:   p.Get("cooldown_minutes", 15),
	}
	if s.minVelocity <= 0 {
		return nil, fmt.Errorf("strategy: mean_reversion: min_velocity must be positive, got %v", s.minVelocity)
	}
	return s, nil
}

func (s *MeanReversion) Name() string { return "mean_reversion" }

func (s *MeanReversion) Caps() Caps {
	return Caps{
		Name:            s.Name(),
		Version:         "1",
		MaxPositionUSD:  s.fixedSizeUSD,
		MaxSpread:       s.maxSpread,
		CooldownMinutes: s.cooldownMin,
	}
}

func (s *MeanReversion) FilterTick(t domain.Tick) bool {
	return t.Event != domain.TickEventTrade
}

func (s *MeanReversion) OnTick(t domain.Tick, view StateView) (*domain.Action, error) {
	if t.Spread > s.maxSpread {
		return nil, nil
	}
	if t.YesMid < s.yesPriceMin || t.YesMid > s.yesPriceMax {
		return nil, nil
	}
	// Fade the move: a spike up means NO is cheap, a spike down means YES is.
	var side domain.TokenType
	switch {
	case t.Velocity1m >= s.minVelocity:
		side = domain.TokenNo
	case t.Velocity1m <= -s.minVelocity:
		side = domain.TokenYes
	default:
		return nil, nil
	}
	reason := fmt.Sprintf("fading velocity %.5f/s with %s", t.Velocity1m, side)
	return entry(s.Name(), t, side, s.fixedSizeUSD, domain.OrderKindLimit, reason), nil
}

func (s *MeanReversion) OnPositionUpdate(pos domain.Position, t domain.Tick, view StateView) (*domain.Action, error) {
	mark := sideMid(t, pos.TokenType)
	if mark <= 0 {
		return nil, nil
	}
	ret := pnlPct(pos, mark)
	switch {
	case ret >= s.takeProfitPct:
		return closeAll(s.Name(), pos, t, fmt.Sprintf("reversion captured %.1f%%", ret*100)), nil
	case ret <= -s.stopLossPct:
		return closeAll(s.Name(), pos, t, fmt.Sprintf("no reversion, stop %.1f%%", ret*100)), nil
	}
	return nil, nil
}
