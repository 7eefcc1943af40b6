// Package strategy hosts the pluggable trading strategies. Strategies are
// pure decision producers: they consume enriched ticks and read-only state
// views and yield at most one Action per invocation. All I/O stays behind
// the injected interfaces; nothing in this package touches the network or
// the store.
package strategy

import (
	"fmt"
	"sort"
	"time"

	"github.com/polyquant/tradebot/internal/domain"
)

// StateView is the read-only slice of state manager data a strategy may
// consult while deciding. Implementations return snapshots; mutating the
// returned values has no effect on authoritative state.
type StateView interface {
	OpenPosition(strategy string, marketID int64, tokenType domain.TokenType) (domain.Position, bool)
	OpenSpread(strategy string, marketID int64) (domain.Spread, bool)
	OpenPositionCount(strategy string) int
	AvailableUSD(strategy string) float64
	InCooldown(strategy string, marketID int64) bool
}

// Caps are a strategy's static declarations, consulted by the router filter
// and the executor's risk gates.
type Caps struct {
	Name            string
	Version         string
	MarketTypes     []string
	MaxPositionUSD  float64
	MaxPositions    int
	MinSpread       float64
	MaxSpread       float64
	CooldownMinutes float64
}

// Strategy is the decision contract. OnTick fires only when the strategy has
// no open position on the tick's market; OnPositionUpdate fires only when it
// does. Both return a nil Action to pass.
type Strategy interface {
	Name() string
	Caps() Caps
	FilterTick(t domain.Tick) bool
	OnTick(t domain.Tick, view StateView) (*domain.Action, error)
	OnPositionUpdate(pos domain.Position, t domain.Tick, view StateView) (*domain.Action, error)
}

// Params is the flat per-variant parameter map from configuration.
type Params map[string]float64

// Get returns the parameter value or the given default when absent.
func (p Params) Get(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// checkKnown rejects unknown parameter keys. Every variant calls this from
// its factory so misspelled configuration fails at load, not at runtime.
func (p Params) checkKnown(variant string, known ...string) error {
	allowed := make(map[string]struct{}, len(known))
	for _, k := range known {
		allowed[k] = struct{}{}
	}
	var bad []string
	for k := range p {
		if _, ok := allowed[k]; !ok {
			bad = append(bad, k)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return fmt.Errorf("strategy: %s: unknown parameter keys %v", variant, bad)
}

// Factory builds a configured strategy instance from flat parameters.
type Factory func(p Params) (Strategy, error)

// Registry maps variant names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with every built-in variant.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("book_imbalance", NewBookImbalance)
	r.Register("scalp", NewScalp)
	r.Register("favorite_hedge", NewFavoriteHedge)
	r.Register("swing_rebalance", NewSwingRebalance)
	r.Register("map_longshot", NewMapLongshot)
	r.Register("longshot", NewLongshot)
	r.Register("no_bias", NewNoBias)
	r.Register("mean_reversion", NewMeanReversion)
	return r
}

// Register adds or replaces a variant factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Build instantiates a variant by name.
func (r *Registry) Build(name string, p Params) (Strategy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown variant %q", name)
	}
	return f(p)
}

// Names lists registered variants in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// entry builds a fully-populated entry Action for the given side of the
// tick's market.
func entry(name string, t domain.Tick, tokenType domain.TokenType, sizeUSD float64, kind domain.OrderKind, reason string) *domain.Action {
	return &domain.Action{
		ID:        domain.NewActionID(),
		Type:      domain.ActionOpenLong,
		Strategy:  name,
		MarketID:  t.MarketID,
		TokenType: tokenType,
		SizeUSD:   sizeUSD,
		OrderKind: kind,
		Urgency:   domain.UrgencyMedium,
		Reason:    reason,
		Tick:      t,
		CreatedAt: time.Now().UTC(),
	}
}

// closeAll builds a full CLOSE for an open position.
func closeAll(name string, pos domain.Position, t domain.Tick, reason string) *domain.Action {
	return &domain.Action{
		ID:         domain.NewActionID(),
		Type:       domain.ActionClose,
		Strategy:   name,
		MarketID:   pos.MarketID,
		TokenType:  pos.TokenType,
		CloseRatio: 1,
		OrderKind:  domain.OrderKindMarket,
		Urgency:    domain.UrgencyHigh,
		Reason:     reason,
		PositionID: pos.ID,
		Tick:       t,
		CreatedAt:  time.Now().UTC(),
	}
}

// sideMid returns the mid price for the position's token side.
func sideMid(t domain.Tick, tokenType domain.TokenType) float64 {
	if tokenType == domain.TokenYes {
		return t.YesMid
	}
	return t.NoMid
}

// pnlPct is the unrealized return of a position at the given mark.
func pnlPct(pos domain.Position, mark float64) float64 {
	if pos.AvgEntryPrice <= 0 {
		return 0
	}
	return (mark - pos.AvgEntryPrice) / pos.AvgEntryPrice
}
