// Package state implements the authoritative accounting core: positions,
// spreads, per-strategy capital, cooldowns, and the decision audit log. All
// mutations are serialized per (strategy, market); reads return snapshots.
// The in-memory maps are accelerators only and are rebuilt from the
// persistent store on startup.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polyquant/tradebot/internal/domain"
)

// sharesEpsilon absorbs float dust when deciding whether a position is flat.
const sharesEpsilon = 1e-9

// Limits are the risk bounds consulted by capacity checks.
type Limits struct {
	MaxPositionUSD          float64
	MaxTotalExposureUSD     float64
	MaxPositionsPerStrategy int
	MaxPositionsGlobal      int
	MaxDrawdownPct          float64
}

// Stores bundles the persistence interfaces the manager writes through.
type Stores struct {
	Positions domain.PositionStore
	Legs      domain.LegStore
	Spreads   domain.SpreadStore
	Strategy  domain.StrategyStateStore
	Decisions domain.DecisionStore
	Cooldowns domain.CooldownStore
}

type posKey struct {
	strategy  string
	marketID  int64
	tokenType domain.TokenType
}

type pairKey struct {
	strategy string
	marketID int64
}

// Manager owns all position and capital state.
type Manager struct {
	stores Stores
	limits Limits
	logger *slog.Logger
	locks  *keyLock

	mu          sync.RWMutex
	positions   map[string]domain.Position // open positions by ID
	byKey       map[posKey]string
	spreads     map[string]domain.Spread // open spreads by ID
	spreadByKey map[pairKey]string
	states      map[string]domain.StrategyState
	cooldowns   map[pairKey]time.Time
	cooldownFor map[string]time.Duration // per-strategy entry interval
}

// NewManager creates a Manager over the given stores and limits.
func NewManager(stores Stores, limits Limits, logger *slog.Logger) *Manager {
	return &Manager{
		stores:      stores,
		limits:      limits,
		logger:      logger.With(slog.String("component", "state")),
		locks:       newKeyLock(),
		positions:   make(map[string]domain.Position),
		byKey:       make(map[posKey]string),
		spreads:     make(map[string]domain.Spread),
		spreadByKey: make(map[pairKey]string),
		states:      make(map[string]domain.StrategyState),
		cooldowns:   make(map[pairKey]time.Time),
		cooldownFor: make(map[string]time.Duration),
	}
}

// Rebuild reloads every in-memory cache from the persistent store. Called
// once on startup before any tick flows.
func (m *Manager) Rebuild(ctx context.Context) error {
	open, err := m.stores.Positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("state: rebuild positions: %w", err)
	}
	spreads, err := m.stores.Spreads.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("state: rebuild spreads: %w", err)
	}
	states, err := m.stores.Strategy.List(ctx)
	if err != nil {
		return fmt.Errorf("state: rebuild strategy state: %w", err)
	}
	cooldowns, err := m.stores.Cooldowns.List(ctx)
	if err != nil {
		return fmt.Errorf("state: rebuild cooldowns: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]domain.Position, len(open))
	m.byKey = make(map[posKey]string, len(open))
	for _, p := range open {
		m.positions[p.ID] = p
		m.byKey[posKey{p.Strategy, p.MarketID, p.TokenType}] = p.ID
	}
	m.spreads = make(map[string]domain.Spread, len(spreads))
	m.spreadByKey = make(map[pairKey]string, len(spreads))
	for _, s := range spreads {
		m.spreads[s.ID] = s
		m.spreadByKey[pairKey{s.Strategy, s.MarketID}] = s.ID
	}
	m.states = make(map[string]domain.StrategyState, len(states))
	for _, s := range states {
		m.states[s.Strategy] = s
	}
	m.cooldowns = make(map[pairKey]time.Time, len(cooldowns))
	for _, c := range cooldowns {
		m.cooldowns[pairKey{c.Strategy, c.MarketID}] = c.LastEntry
	}

	m.logger.Info("state rebuilt from store",
		slog.Int("open_positions", len(open)),
		slog.Int("open_spreads", len(spreads)),
		slog.Int("strategies", len(states)),
		slog.Int("cooldowns", len(cooldowns)),
	)
	return nil
}

// EnsureStrategy creates or refreshes the capital account for a configured
// strategy. Allocation changes take effect on restart; available capital is
// adjusted by the allocation delta so open positions stay funded.
func (m *Manager) EnsureStrategy(ctx context.Context, name string, allocatedUSD float64, cooldown time.Duration) error {
	m.mu.Lock()
	st, ok := m.states[name]
	if !ok {
		st = domain.StrategyState{
			Strategy:      name,
			AllocatedUSD:  allocatedUSD,
			AvailableUSD:  allocatedUSD,
			HighWaterMark: allocatedUSD,
			IsActive:      true,
		}
	} else if st.AllocatedUSD != allocatedUSD {
		st.AvailableUSD += allocatedUSD - st.AllocatedUSD
		if st.AvailableUSD < 0 {
			st.AvailableUSD = 0
		}
		st.AllocatedUSD = allocatedUSD
	}
	st.IsActive = true
	st.UpdatedAt = time.Now().UTC()
	m.states[name] = st
	m.cooldownFor[name] = cooldown
	m.mu.Unlock()

	if err := m.stores.Strategy.Upsert(ctx, st); err != nil {
		return fmt.Errorf("state: ensure strategy %s: %w", name, err)
	}
	return nil
}

// OpenPosition returns the open position for (strategy, market, token type).
func (m *Manager) OpenPosition(strategy string, marketID int64, tokenType domain.TokenType) (domain.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[posKey{strategy, marketID, tokenType}]
	if !ok {
		return domain.Position{}, false
	}
	return m.positions[id], true
}

// OpenSpread returns the open spread for (strategy, market).
func (m *Manager) OpenSpread(strategy string, marketID int64) (domain.Spread, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.spreadByKey[pairKey{strategy, marketID}]
	if !ok {
		return domain.Spread{}, false
	}
	return m.spreads[id], true
}

// OpenPositionCount returns the strategy's open position count.
func (m *Manager) OpenPositionCount(strategy string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.positions {
		if p.Strategy == strategy {
			n++
		}
	}
	return n
}

// OpenPositionCountGlobal returns the engine-wide open position count.
func (m *Manager) OpenPositionCountGlobal() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// OpenPositions returns a snapshot of every open position.
func (m *Manager) OpenPositions() []domain.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// AvailableUSD returns the strategy's uncommitted capital.
func (m *Manager) AvailableUSD(strategy string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[strategy].AvailableUSD
}

// ExposureUSD returns the strategy's open cost basis.
func (m *Manager) ExposureUSD(strategy string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, p := range m.positions {
		if p.Strategy == strategy {
			total += p.CostBasis
		}
	}
	return total
}

// Drawdown returns the strategy's current drawdown as a fraction of its
// high-water mark, zero when at or above it.
func (m *Manager) Drawdown(strategy string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.states[strategy]
	if st.HighWaterMark <= 0 {
		return 0
	}
	dd := (st.HighWaterMark - st.Equity()) / st.HighWaterMark
	if dd < 0 {
		return 0
	}
	return dd
}

// CapacityCheck runs the state-side risk gates in order and returns the
// first failing reason.
func (m *Manager) CapacityCheck(strategy string, sizeUSD float64) (domain.RejectReason, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	perStrategy, global, exposure := 0, len(m.positions), 0.0
	for _, p := range m.positions {
		if p.Strategy == strategy {
			perStrategy++
			exposure += p.CostBasis
		}
	}
	st := m.states[strategy]

	if m.limits.MaxPositionsPerStrategy > 0 && perStrategy >= m.limits.MaxPositionsPerStrategy {
		return domain.RejectPositionLimit, false
	}
	if m.limits.MaxPositionsGlobal > 0 && global >= m.limits.MaxPositionsGlobal {
		return domain.RejectGlobalPositionLimit, false
	}
	if m.limits.MaxTotalExposureUSD > 0 && exposure+sizeUSD > m.limits.MaxTotalExposureUSD {
		return domain.RejectExposureLimit, false
	}
	if st.AvailableUSD < sizeUSD {
		return domain.RejectInsufficientCapital, false
	}
	if m.limits.MaxDrawdownPct > 0 && st.HighWaterMark > 0 {
		dd := (st.HighWaterMark - st.Equity()) / st.HighWaterMark
		if dd >= m.limits.MaxDrawdownPct {
			return domain.RejectDrawdown, false
		}
	}
	return "", true
}

// HasCapacity is the boolean form of CapacityCheck.
func (m *Manager) HasCapacity(strategy string, sizeUSD float64) bool {
	_, ok := m.CapacityCheck(strategy, sizeUSD)
	return ok
}

// RecordFill applies one confirmed fill to position and capital state and
// persists the mutation. Buys create or grow the position; sells shrink it
// and realize PnL, closing it when flat.
func (m *Manager) RecordFill(ctx context.Context, strategy string, fill domain.Fill) (domain.Position, error) {
	lock := m.locks.get(strategy, fill.MarketID)
	lock.Lock()
	defer lock.Unlock()

	if fill.Shares <= 0 || fill.Price <= 0 {
		return domain.Position{}, fmt.Errorf("state: record fill: %w: shares=%v price=%v",
			domain.ErrInvalidAction, fill.Shares, fill.Price)
	}
	if fill.FilledAt.IsZero() {
		fill.FilledAt = time.Now().UTC()
	}

	if fill.Side == domain.TradeSideBuy {
		return m.recordBuy(ctx, strategy, fill)
	}
	return m.recordSell(ctx, strategy, fill)
}

func (m *Manager) recordBuy(ctx context.Context, strategy string, fill domain.Fill) (domain.Position, error) {
	key := posKey{strategy, fill.MarketID, fill.TokenType}
	cost := fill.CostUSD
	if cost == 0 {
		cost = fill.Shares * fill.Price
	}

	m.mu.Lock()
	var pos domain.Position
	created := false
	if id, ok := m.byKey[key]; ok {
		pos = m.positions[id]
		pos.RemainingShares += fill.Shares
		pos.CostBasis += cost
		pos.AvgEntryPrice = pos.CostBasis / pos.RemainingShares
	} else {
		created = true
		pos = domain.Position{
			ID:              uuid.NewString(),
			Strategy:        strategy,
			MarketID:        fill.MarketID,
			ConditionID:     fill.ConditionID,
			TokenID:         fill.TokenID,
			TokenType:       fill.TokenType,
			AvgEntryPrice:   fill.Price,
			RemainingShares: fill.Shares,
			CostBasis:       cost,
			Status:          domain.PositionStatusOpen,
			SpreadID:        fill.SpreadID,
			OpenedAt:        fill.FilledAt,
		}
	}
	m.positions[pos.ID] = pos
	m.byKey[key] = pos.ID

	st := m.states[strategy]
	st.AvailableUSD = roundCents(st.AvailableUSD - cost)
	if st.AvailableUSD < 0 {
		st.AvailableUSD = 0
	}
	st.UpdatedAt = fill.FilledAt
	m.states[strategy] = st
	m.mu.Unlock()

	if err := m.persistFill(ctx, pos, created, st, domain.PositionLeg{
		ID:            uuid.NewString(),
		PositionID:    pos.ID,
		DeltaShares:   fill.Shares,
		Price:         fill.Price,
		CostDelta:     cost,
		TriggerReason: fill.TriggerReason,
		CreatedAt:     fill.FilledAt,
	}); err != nil {
		return pos, err
	}
	return pos, nil
}

func (m *Manager) recordSell(ctx context.Context, strategy string, fill domain.Fill) (domain.Position, error) {
	key := posKey{strategy, fill.MarketID, fill.TokenType}

	m.mu.Lock()
	id, ok := m.byKey[key]
	if !ok {
		m.mu.Unlock()
		return domain.Position{}, fmt.Errorf("state: sell fill for %s market %d %s: %w",
			strategy, fill.MarketID, fill.TokenType, domain.ErrNotFound)
	}
	pos := m.positions[id]

	shares := fill.Shares
	if shares > pos.RemainingShares {
		shares = pos.RemainingShares
	}
	proceeds := shares * fill.Price
	costReduction := shares * pos.AvgEntryPrice
	realized := proceeds - costReduction

	pos.RemainingShares -= shares
	pos.CostBasis -= costReduction
	pos.RealizedPnL += realized

	closed := pos.RemainingShares <= sharesEpsilon
	if closed {
		pos.RemainingShares = 0
		pos.CostBasis = 0
		pos.Status = domain.PositionStatusClosed
		now := fill.FilledAt
		pos.ClosedAt = &now
		pos.CloseReason = fill.TriggerReason
		delete(m.byKey, key)
		delete(m.positions, pos.ID)
	} else {
		m.positions[pos.ID] = pos
	}

	st := m.states[strategy]
	st.AvailableUSD = roundCents(st.AvailableUSD + proceeds)
	st.TotalRealizedPnL += realized
	if closed {
		st.TradeCount++
		if pos.RealizedPnL >= 0 {
			st.WinCount++
		} else {
			st.LossCount++
		}
	}
	updateHighWaterLocked(&st)
	st.UpdatedAt = fill.FilledAt
	m.states[strategy] = st

	var sp domain.Spread
	var spSettled bool
	if closed && pos.SpreadID != "" {
		sp, spSettled = m.settleSpreadLegLocked(pos.SpreadID, pos, realized)
	}
	m.mu.Unlock()

	if err := m.persistFill(ctx, pos, false, st, domain.PositionLeg{
		ID:            uuid.NewString(),
		PositionID:    pos.ID,
		DeltaShares:   -shares,
		Price:         fill.Price,
		CostDelta:     -costReduction,
		TriggerReason: fill.TriggerReason,
		CreatedAt:     fill.FilledAt,
	}); err != nil {
		return pos, err
	}
	if spSettled {
		if err := m.stores.Spreads.Update(ctx, sp); err != nil {
			return pos, fmt.Errorf("state: persist spread %s: %w", sp.ID, err)
		}
	}
	return pos, nil
}

// persistFill writes the position, its leg, and the strategy account.
func (m *Manager) persistFill(ctx context.Context, pos domain.Position, created bool, st domain.StrategyState, leg domain.PositionLeg) error {
	var err error
	if created {
		err = m.stores.Positions.Create(ctx, pos)
	} else {
		err = m.stores.Positions.Update(ctx, pos)
	}
	if err != nil {
		return fmt.Errorf("state: persist position %s: %w", pos.ID, err)
	}
	if err := m.stores.Legs.Append(ctx, leg); err != nil {
		return fmt.Errorf("state: persist leg for %s: %w", pos.ID, err)
	}
	if err := m.stores.Strategy.Upsert(ctx, st); err != nil {
		return fmt.Errorf("state: persist strategy state %s: %w", st.Strategy, err)
	}
	return nil
}

// GetPosition loads a position, falling through to the store for closed
// ones.
func (m *Manager) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	m.mu.RLock()
	pos, ok := m.positions[id]
	m.mu.RUnlock()
	if ok {
		return pos, nil
	}
	return m.stores.Positions.GetByID(ctx, id)
}

// ClosePosition sells out the full remaining size at the given price.
func (m *Manager) ClosePosition(ctx context.Context, positionID string, exitPrice float64, reason string) (domain.Position, error) {
	m.mu.RLock()
	pos, ok := m.positions[positionID]
	m.mu.RUnlock()
	if !ok {
		return domain.Position{}, fmt.Errorf("state: close position %s: %w", positionID, domain.ErrPositionClosed)
	}
	return m.RecordFill(ctx, pos.Strategy, domain.Fill{
		MarketID:      pos.MarketID,
		ConditionID:   pos.ConditionID,
		TokenID:       pos.TokenID,
		TokenType:     pos.TokenType,
		Side:          domain.TradeSideSell,
		Price:         exitPrice,
		Shares:        pos.RemainingShares,
		TriggerReason: reason,
		FilledAt:      time.Now().UTC(),
	})
}

// EnsureSpread links the strategy's open YES and NO legs on a market into a
// Spread record, creating it if absent.
func (m *Manager) EnsureSpread(ctx context.Context, strategy string, marketID int64) (domain.Spread, error) {
	lock := m.locks.get(strategy, marketID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if id, ok := m.spreadByKey[pairKey{strategy, marketID}]; ok {
		sp := m.spreads[id]
		m.mu.Unlock()
		return sp, nil
	}
	yesID, yesOK := m.byKey[posKey{strategy, marketID, domain.TokenYes}]
	noID, noOK := m.byKey[posKey{strategy, marketID, domain.TokenNo}]
	if !yesOK || !noOK {
		m.mu.Unlock()
		return domain.Spread{}, fmt.Errorf("state: spread for %s market %d needs both legs: %w",
			strategy, marketID, domain.ErrInconsistentState)
	}
	yes, no := m.positions[yesID], m.positions[noID]
	sp := domain.Spread{
		ID:            uuid.NewString(),
		Strategy:      strategy,
		MarketID:      marketID,
		YesPositionID: yesID,
		NoPositionID:  noID,
		CostBasis:     yes.CostBasis + no.CostBasis,
		Status:        domain.SpreadStatusOpen,
		OpenedAt:      time.Now().UTC(),
	}
	yes.SpreadID, no.SpreadID = sp.ID, sp.ID
	m.positions[yesID], m.positions[noID] = yes, no
	m.spreads[sp.ID] = sp
	m.spreadByKey[pairKey{strategy, marketID}] = sp.ID
	m.mu.Unlock()

	if err := m.stores.Spreads.Create(ctx, sp); err != nil {
		return sp, fmt.Errorf("state: persist spread: %w", err)
	}
	if err := m.stores.Positions.Update(ctx, yes); err != nil {
		return sp, fmt.Errorf("state: link spread leg %s: %w", yes.ID, err)
	}
	if err := m.stores.Positions.Update(ctx, no); err != nil {
		return sp, fmt.Errorf("state: link spread leg %s: %w", no.ID, err)
	}
	return sp, nil
}

// settleSpreadLegLocked folds a closed leg's PnL into its spread and closes
// the spread when no open leg remains. Caller holds m.mu and must persist
// the returned spread after releasing it, so two quick leg settlements
// cannot race their store writes out of order.
func (m *Manager) settleSpreadLegLocked(spreadID string, closedLeg domain.Position, realized float64) (domain.Spread, bool) {
	sp, ok := m.spreads[spreadID]
	if !ok {
		return domain.Spread{}, false
	}
	sp.RealizedPnL += realized
	otherID := sp.YesPositionID
	if closedLeg.ID == sp.YesPositionID {
		otherID = sp.NoPositionID
	}
	if _, stillOpen := m.positions[otherID]; !stillOpen {
		sp.Status = domain.SpreadStatusClosed
		if closedLeg.Status == domain.PositionStatusResolved {
			sp.Status = domain.SpreadStatusResolved
		}
		now := time.Now().UTC()
		sp.ClosedAt = &now
		delete(m.spreads, spreadID)
		delete(m.spreadByKey, pairKey{sp.Strategy, sp.MarketID})
	} else {
		m.spreads[spreadID] = sp
	}
	return sp, true
}

// ApplyResolution settles every open position on the market at its terminal
// payout: $1/share on the winning token, $0 on the losing one.
func (m *Manager) ApplyResolution(ctx context.Context, marketID int64, outcome domain.Outcome) error {
	m.mu.RLock()
	var affected []domain.Position
	for _, p := range m.positions {
		if p.MarketID == marketID {
			affected = append(affected, p)
		}
	}
	m.mu.RUnlock()

	for _, pos := range affected {
		payout := 0.0
		if (outcome == domain.OutcomeYes && pos.TokenType == domain.TokenYes) ||
			(outcome == domain.OutcomeNo && pos.TokenType == domain.TokenNo) {
			payout = 1.0
		}
		if err := m.resolvePosition(ctx, pos, payout); err != nil {
			return err
		}
	}
	m.logger.Info("market resolved",
		slog.Int64("market_id", marketID),
		slog.String("outcome", string(outcome)),
		slog.Int("positions_settled", len(affected)),
	)
	return nil
}

// resolvePosition realizes a terminal payout for one position.
func (m *Manager) resolvePosition(ctx context.Context, pos domain.Position, payout float64) error {
	lock := m.locks.get(pos.Strategy, pos.MarketID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	m.mu.Lock()
	current, ok := m.positions[pos.ID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	pos = current
	shares := pos.RemainingShares
	proceeds := shares * payout
	realized := shares * (payout - pos.AvgEntryPrice)

	pos.RemainingShares = 0
	pos.CostBasis = 0
	pos.RealizedPnL += realized
	pos.Status = domain.PositionStatusResolved
	pos.ClosedAt = &now
	pos.CloseReason = "market_resolved"
	delete(m.positions, pos.ID)
	delete(m.byKey, posKey{pos.Strategy, pos.MarketID, pos.TokenType})

	st := m.states[pos.Strategy]
	st.AvailableUSD = roundCents(st.AvailableUSD + proceeds)
	st.TotalRealizedPnL += realized
	st.TradeCount++
	if pos.RealizedPnL >= 0 {
		st.WinCount++
	} else {
		st.LossCount++
	}
	updateHighWaterLocked(&st)
	st.UpdatedAt = now
	m.states[pos.Strategy] = st

	var sp domain.Spread
	var spSettled bool
	if pos.SpreadID != "" {
		sp, spSettled = m.settleSpreadLegLocked(pos.SpreadID, pos, realized)
	}
	m.mu.Unlock()

	if err := m.persistFill(ctx, pos, false, st, domain.PositionLeg{
		ID:            uuid.NewString(),
		PositionID:    pos.ID,
		DeltaShares:   -shares,
		Price:         payout,
		CostDelta:     -shares * pos.AvgEntryPrice,
		TriggerReason: "market_resolved",
		CreatedAt:     now,
	}); err != nil {
		return err
	}
	if spSettled {
		if err := m.stores.Spreads.Update(ctx, sp); err != nil {
			return fmt.Errorf("state: persist spread %s: %w", sp.ID, err)
		}
	}
	return nil
}

// SetCooldown records a successful entry for cooldown purposes, effective
// immediately for readers.
func (m *Manager) SetCooldown(ctx context.Context, strategy string, marketID int64) error {
	now := time.Now().UTC()
	m.mu.Lock()
	m.cooldowns[pairKey{strategy, marketID}] = now
	m.mu.Unlock()

	if err := m.stores.Cooldowns.Upsert(ctx, domain.Cooldown{
		Strategy:  strategy,
		MarketID:  marketID,
		LastEntry: now,
	}); err != nil {
		return fmt.Errorf("state: persist cooldown: %w", err)
	}
	return nil
}

// InCooldown reports whether the strategy's entry interval for the market
// has not yet elapsed.
func (m *Manager) InCooldown(strategy string, marketID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	last, ok := m.cooldowns[pairKey{strategy, marketID}]
	if !ok {
		return false
	}
	interval := m.cooldownFor[strategy]
	if interval <= 0 {
		return false
	}
	return time.Since(last) < interval
}

// SnapshotStrategy returns a copy of one strategy's capital account.
func (m *Manager) SnapshotStrategy(strategy string) (domain.StrategyState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[strategy]
	return st, ok
}

// RecordDecision appends a pending audit row. Must complete before any
// order leaves the process.
func (m *Manager) RecordDecision(ctx context.Context, d domain.TradeDecision) error {
	if err := m.stores.Decisions.Insert(ctx, d); err != nil {
		return fmt.Errorf("state: record decision %s: %w", d.ID, err)
	}
	return nil
}

// FinalizeDecision moves a pending row to executed or rejected.
func (m *Manager) FinalizeDecision(ctx context.Context, d domain.TradeDecision) error {
	if err := m.stores.Decisions.Finalize(ctx, d); err != nil {
		return fmt.Errorf("state: finalize decision %s: %w", d.ID, err)
	}
	return nil
}

// PendingDecisions lists decision rows left in flight by a crash.
func (m *Manager) PendingDecisions(ctx context.Context) ([]domain.TradeDecision, error) {
	return m.stores.Decisions.ListPending(ctx)
}

// updateHighWaterLocked raises the high-water mark on equity gains and
// widens the recorded max drawdown on losses. Caller holds m.mu.
func updateHighWaterLocked(st *domain.StrategyState) {
	equity := st.Equity()
	if equity > st.HighWaterMark {
		st.HighWaterMark = equity
		return
	}
	if st.HighWaterMark > 0 {
		dd := (st.HighWaterMark - equity) / st.HighWaterMark
		if dd > st.MaxDrawdown {
			st.MaxDrawdown = dd
		}
	}
}

// roundCents snaps a dollar amount to whole cents.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
