package domain

import "context"

// OrderbookCache mirrors live book snapshots for out-of-process readers
// (monitoring API, dashboard). It is an accelerator only: the gateway's
// in-memory state stays authoritative and the cache is rebuilt on startup.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, book OrderbookState) error
	GetSnapshot(ctx context.Context, tokenID string) (OrderbookState, error)
}

// MarketCache provides fast market lookups keyed by market and token ID.
type MarketCache interface {
	Set(ctx context.Context, m Market) error
	GetByToken(ctx context.Context, tokenID string) (Market, error)
	Invalidate(ctx context.Context, marketID int64) error
}
