package strategy

import (
	"fmt"

	"github.com/polyquant/tradebot/internal/domain"
)

// NoBias fades overpriced favorites by buying the NO side when the YES mid
// trades rich. It leans on the long-run tendency of retail flow to overpay
// for headline outcomes.
type NoBias struct {
	yesRichMin    float64
	yesRichMax    float64
	maxSpread     float64
	fixedSizeUSD  float64
	takeProfitPct float64
	stopLossPct   float64
	cooldownMin   float64
}

// NewNoBias builds the variant from flat parameters.
func NewNoBias(p Params) (Strategy, error) {
	if err := p.checkKnown("no_bias",
		"yes_rich_min", "yes_rich_max", "max_spread", "fixed_size_usd",
		"take_profit_pct", "stop_loss_pct", "cooldown_minutes",
	); err != nil {
		return nil, err
	}
	s := &NoBias{
		yesRichMin:    p.Get("yes_rich_min", 0.80),
		yesRichMax:    p.Get("yes_rich_max", 0.95),
		maxSpread:     p.Get("max_spread", 0.04),
		fixedSizeUSD:  p.Get("fixed_size_usd", 5),
		takeProfitPct: p.Get("take_profit_pct", 0.25),
		stopLossPct:   p.Get("stop_loss_pct", 0.40),
		cooldownMin:   p.Get("cooldown_minutes", 180),
	}
	if s.yesRichMin >= s.yesRichMax {
		return nil, fmt.Errorf("strategy: no_bias: rich band [%v,%v] is empty", s.yesRichMin, s.yesRichMax)
	}
	return s, nil
}

func (s *NoBias) Name() string { return "no_bias" }

func (s *NoBias) Caps() Caps {
	return Caps{
		Name:            s.Name(),
		Version:         "1",
		MaxPositionUSD:  s.fixedSizeUSD,
		MaxSpread:       s.maxSpread,
		CooldownMinutes: s.cooldownMin,
	}
}

func (s *NoBias) FilterTick(t domain.Tick) bool {
	return t.Event == domain.TickEventBook || t.Event == domain.TickEventPriceChange
}

func (s *NoBias) OnTick(t domain.Tick, view StateView) (*domain.Action, error) {
	if t.Spread > s.maxSpread {
		return nil, nil
	}
	if t.YesMid < s.yesRichMin || t.YesMid > s.yesRichMax {
		return nil, nil
	}
	reason := fmt.Sprintf("fading favorite at yes_mid %.2f", t.YesMid)
	return entry(s.Name(), t, domain.TokenNo, s.fixedSizeUSD, domain.OrderKindLimit, reason), nil
}

func (s *NoBias) OnPositionUpdate(pos domain.Position, t domain.Tick, view StateView) (*domain.Action, error) {
	mark := sideMid(t, pos.TokenType)
	if mark <= 0 {
		return nil, nil
	}
	ret := pnlPct(pos, mark)
	switch {
	case ret >= s.takeProfitPct:
		return closeAll(s.Name(), pos, t, fmt.Sprintf("no side paid %.1f%%", ret*100)), nil
	case ret <= -s.stopLossPct:
		return closeAll(s.Name(), pos, t, fmt.Sprintf("favorite held, stop %.1f%%", ret*100)), nil
	}
	return nil, nil
}
