package domain

import "time"

// DecisionStatus is the lifecycle of an audit row. Rows are inserted as
// pending before any order leaves the process and finalized exactly once;
// a pending row surviving a restart marks an in-flight order to reconcile.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionExecuted DecisionStatus = "executed"
	DecisionRejected DecisionStatus = "rejected"
)

// RejectReason enumerates the safety-gate failure reasons recorded on
// rejected decisions.
type RejectReason string

const (
	RejectSignalAge           RejectReason = "signal_age"
	RejectPriceDeviation      RejectReason = "price_deviation"
	RejectSpread              RejectReason = "spread"
	RejectFeeRate             RejectReason = "fee_rate"
	RejectDuplicatePosition   RejectReason = "duplicate_position"
	RejectRecentOrder         RejectReason = "recent_order"
	RejectPositionLimit       RejectReason = "position_limit"
	RejectGlobalPositionLimit RejectReason = "global_position_limit"
	RejectExposureLimit       RejectReason = "exposure_limit"
	RejectInsufficientCapital RejectReason = "insufficient_capital"
	RejectDrawdown            RejectReason = "drawdown"
	RejectCooldown            RejectReason = "cooldown"
	RejectMarketNotAccepting  RejectReason = "market_not_accepting"
	RejectBookUnavailable     RejectReason = "book_unavailable"
	RejectSubmitFailed        RejectReason = "submit_failed"
	RejectFillTimeout         RejectReason = "fill_timeout"
)

// DecisionInputs is the snapshot of everything the pipeline saw when it
// judged an action. Stored as JSON on the decision row.
type DecisionInputs struct {
	SignalMid   float64   `json:"signal_mid"`
	LiveMid     float64   `json:"live_mid"`
	BestBid     float64   `json:"best_bid"`
	BestAsk     float64   `json:"best_ask"`
	Spread      float64   `json:"spread"`
	Imbalance   float64   `json:"imbalance"`
	FeeBps      float64   `json:"fee_bps"`
	SignalAgeMs int64     `json:"signal_age_ms"`
	TickSeq     uint64    `json:"tick_seq"`
	TickTime    time.Time `json:"tick_time"`
}

// TradeDecision is one append-only audit row per action, accepted or
// rejected. Exactly one row exists per action; executed rows pair with
// exactly one position/leg mutation.
type TradeDecision struct {
	ID             string
	Timestamp      time.Time
	Strategy       string
	MarketID       int64
	ConditionID    string
	TokenType      TokenType
	ActionType     ActionType
	Side           TradeSide
	SizeUSD        float64
	SignalPrice    float64
	Status         DecisionStatus
	Executed       bool
	RejectReason   RejectReason
	ExecutionPrice float64
	PositionID     string
	Reason         string // strategy's human-readable rationale
	Inputs         DecisionInputs
}
