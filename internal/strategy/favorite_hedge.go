package strategy

import (
	"fmt"

	"github.com/polyquant/tradebot/internal/domain"
)

// FavoriteHedge buys the market favorite and, once the favorite extends far
// enough, buys the cheap opposite side to lock in part of the gain. The two
// legs are linked into a Spread by the state manager.
type FavoriteHedge struct {
	entryMin      float64
	entryMax      float64
	hedgeTrigger  float64
	hedgeRatio    float64
	maxSpread     float64
	fixedSizeUSD  float64
	stopLossPct   float64
	cooldownMin   float64
}

// NewFavoriteHedge builds the variant from flat parameters.
func NewFavoriteHedge(p Params) (Strategy, error) {
	if err := p.checkKnown("favorite_hedge",
		"entry_min", "entry_max", "hedge_trigger", "hedge_ratio",
		"max_spread", "fixed_size_usd", "stop_loss_pct", "cooldown_minutes",
	); err != nil {
		return nil, err
	}
	s := &FavoriteHedge{
		entryMin:     p.Get("entry_min", 0.55),
		entryMax:     p.Get("entry_max", 0.75),
		hedgeTrigger: p.Get("hedge_trigger", 0.85),
		hedgeRatio:   p.Get("hedge_ratio", 0.33),
		maxSpread:    p.Get("max_spread", 0.05),
		fixedSizeUSD: p.Get("fixed_size_usd", 20),
		stopLossPct:  p.Get("stop_loss_pct", 0.25),
		cooldownMin:  p.Get("cooldown_minutes", 60),
	}
	if s.hedgeTrigger <= s.entryMax {
		return nil, fmt.Errorf("strategy: favorite_hedge: hedge_trigger %v must exceed entry_max %v", s.hedgeTrigger, s.entryMax)
	}
	if s.hedgeRatio <= 0 || s.hedgeRatio >= 1 {
		return nil, fmt.Errorf("strategy: favorite_hedge: hedge_ratio %v out of (0,1)", s.hedgeRatio)
	}
	return s, nil
}

func (s *FavoriteHedge) Name() string { return "favorite_hedge" }

func (s *FavoriteHedge) Caps() Caps {
	return Caps{
		Name:            s.Name(),
		Version:         "1",
		MaxPositionUSD:  s.fixedSizeUSD,
		MaxSpread:       s.maxSpread,
		CooldownMinutes: s.cooldownMin,
	}
}

func (s *FavoriteHedge) FilterTick(t domain.Tick) bool {
	return t.Event == domain.TickEventBook || t.Event == domain.TickEventPriceChange
}

func (s *FavoriteHedge) OnTick(t domain.Tick, view StateView) (*domain.Action, error) {
	if t.Spread > s.maxSpread {
		return nil, nil
	}
	if t.YesMid < s.entryMin || t.YesMid > s.entryMax {
		return nil, nil
	}
	reason := fmt.Sprintf("favorite at %.2f in [%.2f,%.2f]", t.YesMid, s.entryMin, s.entryMax)
	return entry(s.Name(), t, domain.TokenYes, s.fixedSizeUSD, domain.OrderKindMarket, reason), nil
}

func (s *FavoriteHedge) OnPositionUpdate(pos domain.Position, t domain.Tick, view StateView) (*domain.Action, error) {
	if pos.TokenType == domain.TokenNo {
		// The hedge leg rides to resolution.
		return nil, nil
	}
	mark := sideMid(t, pos.TokenType)
	if mark <= 0 {
		return nil, nil
	}

	if ret := pnlPct(pos, mark); ret <= -s.stopLossPct {
		return closeAll(s.Name(), pos, t, fmt.Sprintf("favorite stop %.1f%%", ret*100)), nil
	}

	if _, hedged := view.OpenSpread(s.Name(), pos.MarketID); hedged {
		return nil, nil
	}
	if _, open := view.OpenPosition(s.Name(), pos.MarketID, domain.TokenNo); open {
		return nil, nil
	}
	if mark < s.hedgeTrigger {
		return nil, nil
	}

	hedgeUSD := pos.CostBasis * s.hedgeRatio
	if avail := view.AvailableUSD(s.Name()); hedgeUSD > avail {
		hedgeUSD = avail
	}
	if hedgeUSD <= 0 {
		return nil, nil
	}
	act := entry(s.Name(), t, domain.TokenNo, hedgeUSD, domain.OrderKindMarket,
		fmt.Sprintf("hedge at yes_mid %.2f >= %.2f", mark, s.hedgeTrigger))
	act.Type = domain.ActionOpenSpread
	act.PositionID = pos.ID
	return act, nil
}
