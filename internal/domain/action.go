package domain

import (
	"time"

	"github.com/google/uuid"
)

// NewActionID returns a unique identifier for a new Action. The executor
// reuses it as the decision ID and the order client idempotency key.
func NewActionID() string {
	return uuid.NewString()
}

// ActionType enumerates the trading intents a strategy can emit.
type ActionType string

const (
	ActionOpenLong     ActionType = "OPEN_LONG"
	ActionOpenSpread   ActionType = "OPEN_SPREAD"
	ActionClose        ActionType = "CLOSE"
	ActionPartialClose ActionType = "PARTIAL_CLOSE"
	ActionAdd          ActionType = "ADD"
)

// IsEntry reports whether the action opens new exposure.
func (a ActionType) IsEntry() bool {
	switch a {
	case ActionOpenLong, ActionOpenSpread, ActionAdd:
		return true
	}
	return false
}

// OrderKind selects how the action crosses the book.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// Urgency indicates how quickly an action should be acted upon.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
)

// Action is a strategy-issued trading intent. Actions are referentially
// transparent with respect to the tick that produced them: the originating
// tick rides along so the execution pipeline can audit inputs and check
// freshness without re-querying the strategy.
type Action struct {
	ID         string
	Type       ActionType
	Strategy   string
	MarketID   int64
	TokenType  TokenType
	SizeUSD    float64
	CloseRatio float64 // PARTIAL_CLOSE: fraction of remaining shares, (0,1)
	LimitPrice float64 // 0 means no limit preference
	OrderKind  OrderKind
	Urgency    Urgency
	Reason     string
	PositionID string // set for CLOSE/PARTIAL_CLOSE/ADD
	Tick       Tick
	CreatedAt  time.Time
}

// Side returns the order side implied by the action type: entries buy the
// target token, exits sell it.
func (a Action) Side() TradeSide {
	switch a.Type {
	case ActionClose, ActionPartialClose:
		return TradeSideSell
	}
	return TradeSideBuy
}
