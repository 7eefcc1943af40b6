package domain

import "time"

// PositionStatus tracks whether a position is open, closed, or settled by
// market resolution. closed and resolved are terminal.
type PositionStatus string

const (
	PositionStatusOpen     PositionStatus = "open"
	PositionStatusClosed   PositionStatus = "closed"
	PositionStatusResolved PositionStatus = "resolved"
)

// Position is one strategy's holding of one token on one market. A strategy
// holds at most one open position per (market, token type).
type Position struct {
	ID              string
	Strategy        string
	MarketID        int64
	ConditionID     string
	TokenID         string
	TokenType       TokenType
	AvgEntryPrice   float64
	RemainingShares float64
	CostBasis       float64
	RealizedPnL     float64
	Status          PositionStatus
	SpreadID        string // non-empty when this position is a spread leg
	OpenedAt        time.Time
	ClosedAt        *time.Time
	CloseReason     string
}

// Open reports whether the position still carries exposure.
func (p Position) Open() bool {
	return p.Status == PositionStatusOpen
}

// PositionLeg is an append-only record of one fill or exit against a
// position. Summing DeltaShares and CostDelta over a position's legs
// reconstructs its RemainingShares and CostBasis.
type PositionLeg struct {
	ID            string
	PositionID    string
	DeltaShares   float64 // positive for fills, negative for exits
	Price         float64
	CostDelta     float64 // positive spend, negative proceeds at cost
	TriggerReason string
	CreatedAt     time.Time
}

// SpreadStatus tracks a paired YES+NO holding.
type SpreadStatus string

const (
	SpreadStatusOpen     SpreadStatus = "open"
	SpreadStatusClosed   SpreadStatus = "closed"
	SpreadStatusResolved SpreadStatus = "resolved"
)

// Spread pairs a YES and a NO position owned by one strategy on one market.
// Both legs share (strategy, market); closing a spread closes both legs
// atomically. Legs reference the spread by ID rather than by pointer so the
// object graph stays acyclic.
type Spread struct {
	ID            string
	Strategy      string
	MarketID      int64
	YesPositionID string
	NoPositionID  string
	CostBasis     float64
	RealizedPnL   float64
	Status        SpreadStatus
	OpenedAt      time.Time
	ClosedAt      *time.Time
}

// Fill is the confirmed outcome of an executed entry or exit.
type Fill struct {
	MarketID      int64
	ConditionID   string
	TokenID       string
	TokenType     TokenType
	Side          TradeSide
	Price         float64
	Shares        float64
	CostUSD       float64 // Price * Shares
	SpreadID      string
	TriggerReason string
	FilledAt      time.Time
}
