package strategy

import (
	"fmt"

	"github.com/polyquant/tradebot/internal/domain"
)

// BookImbalance buys the YES side when top-of-book depth leans heavily
// toward the bids inside a configured price band. The imbalance metric is
// computed upstream over the top five ladder levels.
type BookImbalance struct {
	minImbalance  float64
	exitImbalance float64
	yesPriceMin   float64
	yesPriceMax   float64
	maxSpread     float64
	fixedSizeUSD  float64
	takeProfitPct float64
	stopLossPct   float64
	cooldownMin   float64
}

// NewBookImbalance builds the variant from flat parameters.
func NewBookImbalance(p Params) (Strategy, error) {
	if err := p.checkKnown("book_imbalance",
		"min_imbalance", "exit_imbalance", "yes_price_min", "yes_price_max",
		"max_spread", "fixed_size_usd", "take_profit_pct", "stop_loss_pct",
		"cooldown_minutes",
	); err != nil {
		return nil, err
	}
	s := &BookImbalance{
		minImbalance:  p.Get("min_imbalance", 0.5),
		exitImbalance: p.Get("exit_imbalance", 0.0),
		yesPriceMin:   p.Get("yes_price_min", 0.30),
		yesPriceMax:   p.Get("yes_price_max", 0.70),
		maxSpread:     p.Get("max_spread", 0.05),
		fixedSizeUSD:  p.Get("fixed_size_usd", 1.10),
		takeProfitPct: p.Get("take_profit_pct", 0.10),
		stopLossPct:   p.Get("stop_loss_pct", 0.08),
		cooldownMin:   p.Get("cooldown_minutes", 30),
	}
	if s.minImbalance <= 0 || s.minImbalance > 1 {
		return nil, fmt.Errorf("strategy: book_imbalance: min_imbalance %v out of (0,1]", s.minImbalance)
	}
	if s.yesPriceMin >= s.yesPriceMax {
		return nil, fmt.Errorf("strategy: book_imbalance: price band [%v,%v] is empty", s.yesPriceMin, s.yesPriceMax)
	}
	return s, nil
}

func (s *BookImbalance) Name() string { return "book_imbalance" }

func (s *BookImbalance) Caps() Caps {
	return Caps{
		Name:            s.Name(),
		Version:         "1",
		MaxPositionUSD:  s.fixedSizeUSD,
		MaxSpread:       s.maxSpread,
		CooldownMinutes: s.cooldownMin,
	}
}

func (s *BookImbalance) FilterTick(t domain.Tick) bool {
	return t.Event == domain.TickEventBook || t.Event == domain.TickEventPriceChange
}

func (s *BookImbalance) OnTick(t domain.Tick, view StateView) (*domain.Action, error) {
	if t.Spread > s.maxSpread {
		return nil, nil
	}
	if t.YesMid < s.yesPriceMin || t.YesMid > s.yesPriceMax {
		return nil, nil
	}
	if t.Imbalance < s.minImbalance {
		return nil, nil
	}
	reason := fmt.Sprintf("imbalance %.2f >= %.2f at mid %.2f", t.Imbalance, s.minImbalance, t.YesMid)
	return entry(s.Name(), t, domain.TokenYes, s.fixedSizeUSD, domain.OrderKindMarket, reason), nil
}

func (s *BookImbalance) OnPositionUpdate(pos domain.Position, t domain.Tick, view StateView) (*domain.Action, error) {
	mark := sideMid(t, pos.TokenType)
	if mark <= 0 {
		return nil, nil
	}
	ret := pnlPct(pos, mark)
	switch {
	case ret >= s.takeProfitPct:
		return closeAll(s.Name(), pos, t, fmt.Sprintf("take profit %.1f%%", ret*100)), nil
	case ret <= -s.stopLossPct:
		return closeAll(s.Name(), pos, t, fmt.Sprintf("stop loss %.1f%%", ret*100)), nil
	case t.Imbalance <= s.exitImbalance:
		// The depth edge that justified the entry is gone.
		return closeAll(s.Name(), pos, t, fmt.Sprintf("imbalance faded to %.2f", t.Imbalance)), nil
	}
	return nil, nil
}
