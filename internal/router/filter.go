package router

import "github.com/polyquant/tradebot/internal/domain"

// Filter is a strategy's declared interest, evaluated before the strategy's
// own FilterTick. Zero values leave a dimension unconstrained.
type Filter struct {
	Categories []string
	MinSpread  float64
	MaxSpread  float64
	Predicate  func(domain.Tick) bool
}

// Accepts reports whether the tick passes the declared filter. category is
// the catalog category of the tick's market.
func (f Filter) Accepts(t domain.Tick, category string) bool {
	if len(f.Categories) > 0 {
		match := false
		for _, c := range f.Categories {
			if c == category {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if f.MinSpread > 0 && t.Spread < f.MinSpread {
		return false
	}
	if f.MaxSpread > 0 && t.Spread > f.MaxSpread {
		return false
	}
	if f.Predicate != nil && !f.Predicate(t) {
		return false
	}
	return true
}
