package strategy

import (
	"fmt"
	"time"

	"github.com/polyquant/tradebot/internal/domain"
)

// SwingRebalance holds a mid-range YES position and trades around it: it
// takes partial profits after an upswing and averages in after a downswing,
// up to a bounded number of adds per position.
type SwingRebalance struct {
	entryMin      float64
	entryMax      float64
	swingPct      float64
	closeRatio    float64
	addSizeUSD    float64
	maxAdds       float64
	maxSpread     float64
	fixedSizeUSD  float64
	stopLossPct   float64
	cooldownMin   float64
}

// NewSwingRebalance builds the variant from flat parameters.
func NewSwingRebalance(p Params) (Strategy, error) {
	if err := p.checkKnown("swing_rebalance",
		"entry_min", "entry_max", "swing_pct", "close_ratio", "add_size_usd",
		"max_adds", "max_spread", "fixed_size_usd", "stop_loss_pct",
		"cooldown_minutes",
	); err != nil {
		return nil, err
	}
	s := &SwingRebalance{
		entryMin:     p.Get("entry_min", 0.35),
		entryMax:     p.Get("entry_max", 0.65),
		swingPct:     p.Get("swing_pct", 0.12),
		closeRatio:   p.Get("close_ratio", 0.5),
		addSizeUSD:   p.Get("add_size_usd", 5),
		maxAdds:      p.Get("max_adds", 2),
		maxSpread:    p.Get("max_spread", 0.05),
		fixedSizeUSD: p.Get("fixed_size_usd", 10),
		stopLossPct:  p.Get("stop_loss_pct", 0.30),
		cooldownMin:  p.Get("cooldown_minutes", 120),
	}
	if s.closeRatio <= 0 || s.closeRatio >= 1 {
		return nil, fmt.Errorf("strategy: swing_rebalance: close_ratio %v out of (0,1)", s.closeRatio)
	}
	if s.swingPct <= 0 {
		return nil, fmt.Errorf("strategy: swing_rebalance: swing_pct must be positive, got %v", s.swingPct)
	}
	return s, nil
}

func (s *SwingRebalance) Name() string { return "swing_rebalance" }

func (s *SwingRebalance) Caps() Caps {
	return Caps{
		Name:            s.Name(),
		Version:         "1",
		MaxPositionUSD:  s.fixedSizeUSD + s.addSizeUSD*s.maxAdds,
		MaxSpread:       s.maxSpread,
		CooldownMinutes: s.cooldownMin,
	}
}

func (s *SwingRebalance) FilterTick(t domain.Tick) bool {
	return t.Event == domain.TickEventBook || t.Event == domain.TickEventPriceChange
}

func (s *SwingRebalance) OnTick(t domain.Tick, view StateView) (*domain.Action, error) {
	if t.Spread > s.maxSpread {
		return nil, nil
	}
	if t.YesMid < s.entryMin || t.YesMid > s.entryMax {
		return nil, nil
	}
	reason := fmt.Sprintf("swing base at %.2f", t.YesMid)
	return entry(s.Name(), t, domain.TokenYes, s.fixedSizeUSD, domain.OrderKindLimit, reason), nil
}

func (s *SwingRebalance) OnPositionUpdate(pos domain.Position, t domain.Tick, view StateView) (*domain.Action, error) {
	mark := sideMid(t, pos.TokenType)
	if mark <= 0 {
		return nil, nil
	}
	ret := pnlPct(pos, mark)

	if ret <= -s.stopLossPct {
		return closeAll(s.Name(), pos, t, fmt.Sprintf("swing stop %.1f%%", ret*100)), nil
	}

	if ret >= s.swingPct {
		act := &domain.Action{
			ID:         domain.NewActionID(),
			Type:       domain.ActionPartialClose,
			Strategy:   s.Name(),
			MarketID:   pos.MarketID,
			TokenType:  pos.TokenType,
			CloseRatio: s.closeRatio,
			OrderKind:  domain.OrderKindMarket,
			Urgency:    domain.UrgencyMedium,
			Reason:     fmt.Sprintf("upswing %.1f%%, trimming %.0f%%", ret*100, s.closeRatio*100),
			PositionID: pos.ID,
			Tick:       t,
			CreatedAt:  time.Now().UTC(),
		}
		return act, nil
	}

	// Average in on a downswing while the add budget lasts. The add count is
	// inferred from cost basis growth over the base size.
	if ret <= -s.swingPct {
		addsUsed := 0.0
		if s.addSizeUSD > 0 {
			addsUsed = (pos.CostBasis - s.fixedSizeUSD) / s.addSizeUSD
		}
		if addsUsed >= s.maxAdds-0.5 {
			return nil, nil
		}
		if view.AvailableUSD(s.Name()) < s.addSizeUSD {
			return nil, nil
		}
		act := entry(s.Name(), t, pos.TokenType, s.addSizeUSD, domain.OrderKindLimit,
			fmt.Sprintf("downswing %.1f%%, averaging in", ret*100))
		act.Type = domain.ActionAdd
		act.PositionID = pos.ID
		return act, nil
	}
	return nil, nil
}
