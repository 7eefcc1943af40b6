package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// MarketStore reads the market catalog maintained by the external discovery
// fetcher and records lifecycle transitions observed by the engine.
type MarketStore interface {
	GetByID(ctx context.Context, marketID int64) (Market, error)
	GetByTokenID(ctx context.Context, tokenID string) (Market, error)
	ListTradeable(ctx context.Context, opts ListOpts) ([]Market, error)
	SetResolved(ctx context.Context, marketID int64, outcome Outcome) error
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListByStrategy(ctx context.Context, strategy string, opts ListOpts) ([]Position, error)
}

// LegStore persists the append-only fill/exit log per position.
type LegStore interface {
	Append(ctx context.Context, leg PositionLeg) error
	ListByPosition(ctx context.Context, positionID string) ([]PositionLeg, error)
}

// SpreadStore persists paired YES+NO holdings.
type SpreadStore interface {
	Create(ctx context.Context, s Spread) error
	Update(ctx context.Context, s Spread) error
	GetByID(ctx context.Context, id string) (Spread, error)
	ListOpen(ctx context.Context) ([]Spread, error)
}

// StrategyStateStore persists per-strategy capital accounts.
type StrategyStateStore interface {
	Upsert(ctx context.Context, st StrategyState) error
	Get(ctx context.Context, strategy string) (StrategyState, error)
	List(ctx context.Context) ([]StrategyState, error)
}

// DecisionStore persists the append-only trade decision audit log. Update
// may only move a row from pending to executed/rejected.
type DecisionStore interface {
	Insert(ctx context.Context, d TradeDecision) error
	Finalize(ctx context.Context, d TradeDecision) error
	ListPending(ctx context.Context) ([]TradeDecision, error)
	ListRecent(ctx context.Context, limit int) ([]TradeDecision, error)
}

// CooldownStore persists entry cooldowns so they survive restarts.
type CooldownStore interface {
	Upsert(ctx context.Context, c Cooldown) error
	List(ctx context.Context) ([]Cooldown, error)
}
