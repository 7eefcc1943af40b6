// Package executor is the execution and safety pipeline: it turns strategy
// actions into durable outcomes by running the in-order safety gates,
// recording an audit decision for every action, and applying confirmed
// fills to the state manager. Paper and live modes share the pipeline and
// differ only in the Filler behind it.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/polyquant/tradebot/internal/domain"
)

// recentOrderWindow guards against untracked fills: no second order for the
// same (strategy, token) inside this window.
const recentOrderWindow = 10 * time.Minute

// Books provides fresh orderbook snapshots and fee lookups for the gates.
type Books interface {
	FetchBook(ctx context.Context, tokenID string) (domain.OrderbookState, error)
	FeeBps(ctx context.Context, tokenID string) (float64, error)
}

// Catalog resolves an action's market.
type Catalog interface {
	GetByID(ctx context.Context, marketID int64) (domain.Market, error)
}

// State is the slice of the state manager the pipeline mutates.
type State interface {
	OpenPosition(strategy string, marketID int64, tokenType domain.TokenType) (domain.Position, bool)
	GetPosition(ctx context.Context, id string) (domain.Position, error)
	CapacityCheck(strategy string, sizeUSD float64) (domain.RejectReason, bool)
	InCooldown(strategy string, marketID int64) bool
	RecordFill(ctx context.Context, strategy string, fill domain.Fill) (domain.Position, error)
	EnsureSpread(ctx context.Context, strategy string, marketID int64) (domain.Spread, error)
	SetCooldown(ctx context.Context, strategy string, marketID int64) error
	RecordDecision(ctx context.Context, d domain.TradeDecision) error
	FinalizeDecision(ctx context.Context, d domain.TradeDecision) error
}

// Alerter pushes human-facing notifications. A nil Alerter disables them.
type Alerter interface {
	Send(ctx context.Context, subject, body string) error
}

// Order is the fully priced request handed to a Filler.
type Order struct {
	Action     domain.Action
	Market     domain.Market
	TokenID    string
	Side       domain.TradeSide
	Kind       domain.OrderKind
	SizeUSD    float64 // entry budget for buys
	Shares     float64 // exact share count for sells
	Price      float64 // expected cross price
	LimitPrice float64 // resting price for limit orders
}

// Filler executes a priced order and returns the confirmed fill.
type Filler interface {
	Execute(ctx context.Context, ord Order) (domain.Fill, error)
}

// Config tunes the safety gates and order routing.
type Config struct {
	MaxSignalAge      time.Duration
	MaxPriceDeviation float64
	MaxSpread         float64
	MaxFeeBps         float64
	MaxPositionUSD    float64
	DefaultOrderKind  domain.OrderKind
	LimitOffsetBps    float64

	// MarketSlippageBps is the assumed price impact per $100 of size for
	// marketable orders; zero uses the built-in default.
	MarketSlippageBps float64

	// Entry sizing. SizingMethod is "fixed", "kelly", or "vol_scaled";
	// empty leaves strategy-requested sizes untouched apart from the caps.
	SizingMethod  string
	FixedSizeUSD  float64
	KellyFraction float64
	MaxSizeUSD    float64

	// Strategies holds per-strategy routing and sizing overrides; zero
	// fields fall back to the global settings above.
	Strategies map[string]StrategyTuning

	// Error-rate alerting; zero values fall back to 10 errors in 5 minutes.
	ErrorRateThreshold int
	ErrorRateWindow    time.Duration
}

// StrategyTuning overrides order routing and entry sizing for one strategy.
type StrategyTuning struct {
	OrderKind      domain.OrderKind
	LimitOffsetBps float64
	SizingMethod   string
	FixedSizeUSD   float64
	MaxSizeUSD     float64
}

// Executor consumes actions and drives them through the gate pipeline.
// Actions are processed one at a time, which also serializes mutations per
// (strategy, market).
type Executor struct {
	cfg     Config
	books   Books
	catalog Catalog
	state   State
	filler  Filler
	alerter Alerter
	logger  *slog.Logger
	errs    *errorTracker

	mu          sync.Mutex
	recentOrder map[string]time.Time
}

// New creates an Executor. alerter may be nil.
func New(cfg Config, books Books, catalog Catalog, state State, filler Filler, alerter Alerter, logger *slog.Logger) *Executor {
	if cfg.MaxSignalAge <= 0 {
		cfg.MaxSignalAge = 5 * time.Second
	}
	if cfg.DefaultOrderKind == "" {
		cfg.DefaultOrderKind = domain.OrderKindMarket
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = 10
	}
	if cfg.ErrorRateWindow <= 0 {
		cfg.ErrorRateWindow = 5 * time.Minute
	}
	return &Executor{
		cfg:         cfg,
		books:       books,
		catalog:     catalog,
		state:       state,
		filler:      filler,
		alerter:     alerter,
		logger:      logger.With(slog.String("component", "executor")),
		errs:        newErrorTracker(cfg.ErrorRateThreshold, cfg.ErrorRateWindow),
		recentOrder: make(map[string]time.Time),
	}
}

// Run processes actions until the channel closes or ctx is cancelled.
func (e *Executor) Run(ctx context.Context, actions <-chan domain.Action) error {
	e.logger.InfoContext(ctx, "executor started")
	defer e.logger.Info("executor stopped")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case action, ok := <-actions:
			if !ok {
				return nil
			}
			e.Handle(ctx, action)
		}
	}
}

// Handle runs one action through the pipeline. Errors are absorbed into the
// decision log and the error tracker; they never stop the loop.
func (e *Executor) Handle(ctx context.Context, action domain.Action) {
	logger := e.logger.With(
		slog.String("action_id", action.ID),
		slog.String("strategy", action.Strategy),
		slog.Int64("market_id", action.MarketID),
		slog.String("type", string(action.Type)),
	)

	outcome, err := e.process(ctx, action, logger)
	if err != nil {
		e.trackError(ctx, logger, err)
		return
	}
	if outcome.Executed {
		logger.InfoContext(ctx, "action executed",
			slog.Float64("price", outcome.ExecutionPrice),
			slog.String("position_id", outcome.PositionID),
		)
		e.notify(ctx, "trade executed", fmt.Sprintf("%s %s %s market %d @ %.4f (%s)",
			action.Strategy, action.Type, action.TokenType, action.MarketID,
			outcome.ExecutionPrice, action.Reason))
	} else {
		logger.InfoContext(ctx, "action rejected",
			slog.String("reason", string(outcome.RejectReason)),
		)
	}
}

// sizeFor derives the entry notional from the configured sizing method and
// applies the size caps. Exits and partial closes pass through untouched.
// Per-strategy tuning wins over the global settings field by field.
func (e *Executor) sizeFor(action domain.Action, book domain.OrderbookState) float64 {
	size := action.SizeUSD
	if !action.Type.IsEntry() {
		return size
	}
	tune := e.cfg.Strategies[action.Strategy]
	method := tune.SizingMethod
	if method == "" {
		method = e.cfg.SizingMethod
	}
	fixed := tune.FixedSizeUSD
	if fixed <= 0 {
		fixed = e.cfg.FixedSizeUSD
	}
	maxSize := tune.MaxSizeUSD
	if maxSize <= 0 {
		maxSize = e.cfg.MaxSizeUSD
	}

	switch method {
	case "fixed":
		if size <= 0 && fixed > 0 {
			size = fixed
		}
	case "kelly":
		// Kelly for a $1-payout contract bought at the ask, with the signal
		// mid as the value estimate and the max size as the bankroll proxy:
		// f = (mid - ask) / (1 - ask), scaled by the fractional-Kelly
		// multiplier. Only ever shrinks the request.
		if ask, ok := book.BestAsk(); ok && ask < 1 && maxSize > 0 {
			if f := (signalMidFor(action) - ask) / (1 - ask); f > 0 {
				if e.cfg.KellyFraction > 0 {
					f *= e.cfg.KellyFraction
				}
				size = math.Min(size, f*maxSize)
			}
		}
	case "vol_scaled":
		// A fast-drifting mid halves the entry at one cent of drift per
		// minute and never cuts below a quarter of the requested size.
		drift := math.Abs(action.Tick.Velocity1m) * 60
		scale := 1 / (1 + drift/0.01)
		if scale < 0.25 {
			scale = 0.25
		}
		size *= scale
	}

	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	if e.cfg.MaxPositionUSD > 0 && size > e.cfg.MaxPositionUSD {
		size = e.cfg.MaxPositionUSD
	}
	return size
}

// process gates, prices, executes, and audits one action.
func (e *Executor) process(ctx context.Context, action domain.Action, logger *slog.Logger) (domain.TradeDecision, error) {
	now := time.Now().UTC()

	market, err := e.catalog.GetByID(ctx, action.MarketID)
	if err != nil {
		return e.rejectEarly(ctx, action, market, domain.OrderbookState{}, 0, domain.RejectMarketNotAccepting)
	}
	tokenID, ok := tokenFor(market, action.TokenType)
	if !ok {
		return e.rejectEarly(ctx, action, market, domain.OrderbookState{}, 0, domain.RejectMarketNotAccepting)
	}

	// Gate 1: signal freshness, judged against the originating tick.
	if age := now.Sub(action.Tick.Timestamp); age > e.cfg.MaxSignalAge {
		return e.rejectEarly(ctx, action, market, domain.OrderbookState{}, 0, domain.RejectSignalAge)
	}

	// Gate 2 precondition: a fresh book. Fetch failures fail closed.
	book, err := e.books.FetchBook(ctx, tokenID)
	if err != nil || !book.HasLiquidity() {
		return e.rejectEarly(ctx, action, market, domain.OrderbookState{}, 0, domain.RejectBookUnavailable)
	}
	liveMid := book.MidPrice()
	signalMid := signalMidFor(action)
	sizeUSD := e.sizeFor(action, book)

	feeBps := 0.0
	if fee, err := e.books.FeeBps(ctx, tokenID); err == nil {
		feeBps = fee
	}

	decision := buildDecision(action, market, book, signalMid, feeBps, now)

	if reason := e.runGates(action, market, sizeUSD, book, liveMid, signalMid, feeBps); reason != "" {
		decision.Status = domain.DecisionRejected
		decision.RejectReason = reason
		if err := e.state.RecordDecision(ctx, decision); err != nil {
			return decision, err
		}
		return decision, nil
	}

	ord, rejectReason := e.price(action, market, tokenID, sizeUSD, book)
	if rejectReason != "" {
		decision.Status = domain.DecisionRejected
		decision.RejectReason = rejectReason
		if err := e.state.RecordDecision(ctx, decision); err != nil {
			return decision, err
		}
		return decision, nil
	}

	// The pending audit row goes durable before any order leaves.
	decision.Status = domain.DecisionPending
	if err := e.state.RecordDecision(ctx, decision); err != nil {
		return decision, err
	}

	// The guard marks the submission, not the confirmation: an order whose
	// fill poll times out may still rest on the exchange, and a resubmit in
	// that window is exactly the untracked fill the guard exists to stop.
	e.markRecentOrder(action.Strategy, tokenID)

	fill, err := e.filler.Execute(ctx, ord)
	if err != nil {
		decision.Status = domain.DecisionRejected
		decision.RejectReason = rejectReasonFor(err)
		if ferr := e.state.FinalizeDecision(ctx, decision); ferr != nil {
			logger.ErrorContext(ctx, "decision finalize failed", slog.String("error", ferr.Error()))
		}
		return decision, err
	}

	fill.TriggerReason = action.Reason
	pos, err := e.state.RecordFill(ctx, action.Strategy, fill)
	if err != nil {
		return decision, err
	}

	if action.Type == domain.ActionOpenSpread {
		if _, err := e.state.EnsureSpread(ctx, action.Strategy, action.MarketID); err != nil {
			logger.WarnContext(ctx, "spread link failed", slog.String("error", err.Error()))
		}
	}
	if action.Type == domain.ActionOpenLong {
		if err := e.state.SetCooldown(ctx, action.Strategy, action.MarketID); err != nil {
			logger.WarnContext(ctx, "cooldown persist failed", slog.String("error", err.Error()))
		}
	}

	decision.Status = domain.DecisionExecuted
	decision.Executed = true
	decision.ExecutionPrice = fill.Price
	decision.PositionID = pos.ID
	if err := e.state.FinalizeDecision(ctx, decision); err != nil {
		return decision, err
	}
	return decision, nil
}

// gateEpsilon absorbs float64 representation error in boundary comparisons
// so a value exactly at a configured limit passes.
const gateEpsilon = 1e-9

// runGates applies gates 3 through 8 in order and returns the first failure.
func (e *Executor) runGates(action domain.Action, market domain.Market, sizeUSD float64, book domain.OrderbookState, liveMid, signalMid, feeBps float64) domain.RejectReason {
	// Gate 2: price deviation between signal and live book.
	if signalMid > 0 {
		if dev := math.Abs(liveMid-signalMid) / signalMid; dev > e.cfg.MaxPriceDeviation+gateEpsilon {
			return domain.RejectPriceDeviation
		}
	}

	// Gate 3: spread.
	if e.cfg.MaxSpread > 0 && book.Spread() > e.cfg.MaxSpread+gateEpsilon {
		return domain.RejectSpread
	}

	// Gate 4: exchange fee.
	if e.cfg.MaxFeeBps > 0 && feeBps > e.cfg.MaxFeeBps+gateEpsilon {
		return domain.RejectFeeRate
	}

	if !action.Type.IsEntry() {
		return ""
	}

	// A market that stopped accepting orders blocks new exposure only;
	// exits on open positions stay allowed.
	if !market.Tradeable() {
		return domain.RejectMarketNotAccepting
	}

	// Gate 5: duplicate position. ADD grows an existing position on purpose.
	if action.Type != domain.ActionAdd {
		if _, open := e.state.OpenPosition(action.Strategy, action.MarketID, action.TokenType); open {
			return domain.RejectDuplicatePosition
		}
	}

	// Gate 6: recent order on the same token.
	tokenID, _ := tokenFor(market, action.TokenType)
	if e.recentlyOrdered(action.Strategy, tokenID) {
		return domain.RejectRecentOrder
	}

	// Gate 7: capital and position limits.
	if reason, ok := e.state.CapacityCheck(action.Strategy, sizeUSD); !ok {
		return reason
	}

	// Gate 8: entry cooldown. Spread hedges and adds manage existing
	// exposure and are exempt.
	if action.Type == domain.ActionOpenLong && e.state.InCooldown(action.Strategy, action.MarketID) {
		return domain.RejectCooldown
	}
	return ""
}

// price resolves the order side, size, and prices for the action.
func (e *Executor) price(action domain.Action, market domain.Market, tokenID string, sizeUSD float64, book domain.OrderbookState) (Order, domain.RejectReason) {
	side := action.Side()
	ord := Order{
		Action:  action,
		Market:  market,
		TokenID: tokenID,
		Side:    side,
		Kind:    action.OrderKind,
		SizeUSD: sizeUSD,
	}
	tune := e.cfg.Strategies[action.Strategy]
	if ord.Kind == "" {
		ord.Kind = tune.OrderKind
	}
	if ord.Kind == "" {
		ord.Kind = e.cfg.DefaultOrderKind
	}

	if side == domain.TradeSideSell {
		pos, ok := e.state.OpenPosition(action.Strategy, action.MarketID, action.TokenType)
		if !ok {
			return Order{}, domain.RejectMarketNotAccepting
		}
		ratio := action.CloseRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 1
		}
		ord.Shares = pos.RemainingShares * ratio
		if ord.Shares <= 0 {
			return Order{}, domain.RejectMarketNotAccepting
		}
	}

	notional := ord.SizeUSD
	if side == domain.TradeSideSell {
		notional = ord.Shares * book.MidPrice()
	}
	price, ok := executionPrice(book, side, notional, e.cfg.MarketSlippageBps/10000)
	if !ok {
		return Order{}, domain.RejectBookUnavailable
	}
	ord.Price = price

	if ord.Kind == domain.OrderKindLimit {
		lp := action.LimitPrice
		if lp <= 0 {
			offset := tune.LimitOffsetBps
			if offset <= 0 {
				offset = e.cfg.LimitOffsetBps
			}
			lp, ok = limitPrice(book, side, offset)
			if !ok {
				return Order{}, domain.RejectBookUnavailable
			}
		}
		ord.LimitPrice = lp
	}
	return ord, ""
}

// rejectEarly records a rejected decision for failures that happen before a
// usable book exists.
func (e *Executor) rejectEarly(ctx context.Context, action domain.Action, market domain.Market, book domain.OrderbookState, feeBps float64, reason domain.RejectReason) (domain.TradeDecision, error) {
	decision := buildDecision(action, market, book, signalMidFor(action), feeBps, time.Now().UTC())
	decision.Status = domain.DecisionRejected
	decision.RejectReason = reason
	if err := e.state.RecordDecision(ctx, decision); err != nil {
		return decision, err
	}
	return decision, nil
}

func (e *Executor) recentlyOrdered(strategy, tokenID string) bool {
	key := strategy + "|" + tokenID
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.recentOrder[key]
	if !ok {
		return false
	}
	if time.Since(last) >= recentOrderWindow {
		delete(e.recentOrder, key)
		return false
	}
	return true
}

func (e *Executor) markRecentOrder(strategy, tokenID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentOrder[strategy+"|"+tokenID] = time.Now().UTC()
	// Opportunistic pruning keeps the map bounded.
	for key, at := range e.recentOrder {
		if time.Since(at) >= recentOrderWindow {
			delete(e.recentOrder, key)
		}
	}
}

func (e *Executor) trackError(ctx context.Context, logger *slog.Logger, err error) {
	logger.ErrorContext(ctx, "execution failed", slog.String("error", err.Error()))
	if e.errs.record() {
		e.notify(ctx, "error rate",
			fmt.Sprintf("execution errors exceeded %d in %s; latest: %v",
				e.errs.threshold, e.errs.window, err))
	}
}

func (e *Executor) notify(ctx context.Context, subject, body string) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Send(ctx, subject, body); err != nil {
		e.logger.Debug("notification failed", slog.String("error", err.Error()))
	}
}

// buildDecision snapshots everything the gates saw.
func buildDecision(action domain.Action, market domain.Market, book domain.OrderbookState, signalMid, feeBps float64, now time.Time) domain.TradeDecision {
	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()
	return domain.TradeDecision{
		ID:          action.ID,
		Timestamp:   now,
		Strategy:    action.Strategy,
		MarketID:    action.MarketID,
		ConditionID: market.ConditionID,
		TokenType:   action.TokenType,
		ActionType:  action.Type,
		Side:        action.Side(),
		SizeUSD:     action.SizeUSD,
		SignalPrice: signalMid,
		Reason:      action.Reason,
		Inputs: domain.DecisionInputs{
			SignalMid:   signalMid,
			LiveMid:     book.MidPrice(),
			BestBid:     bid,
			BestAsk:     ask,
			Spread:      book.Spread(),
			Imbalance:   action.Tick.Imbalance,
			FeeBps:      feeBps,
			SignalAgeMs: now.Sub(action.Tick.Timestamp).Milliseconds(),
			TickSeq:     action.Tick.Seq,
			TickTime:    action.Tick.Timestamp,
		},
	}
}

// signalMidFor is the mid price the strategy saw for the action's token.
func signalMidFor(action domain.Action) float64 {
	if action.TokenType == domain.TokenYes {
		return action.Tick.YesMid
	}
	return action.Tick.NoMid
}

// tokenFor maps the action's side to the market's token ID.
func tokenFor(market domain.Market, tokenType domain.TokenType) (string, bool) {
	switch tokenType {
	case domain.TokenYes:
		return market.YesTokenID, market.YesTokenID != ""
	case domain.TokenNo:
		return market.NoTokenID, market.NoTokenID != ""
	}
	return "", false
}

// rejectReasonFor classifies an execution error.
func rejectReasonFor(err error) domain.RejectReason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrFillTimeout):
		return domain.RejectFillTimeout
	default:
		return domain.RejectSubmitFailed
	}
}
