package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/polyquant/tradebot/internal/domain"
)

type fakeBooks struct {
	book    domain.OrderbookState
	bookErr error
	feeBps  float64
	feeErr  error
}

func (f *fakeBooks) FetchBook(ctx context.Context, tokenID string) (domain.OrderbookState, error) {
	if f.bookErr != nil {
		return domain.OrderbookState{}, f.bookErr
	}
	return f.book, nil
}

func (f *fakeBooks) FeeBps(ctx context.Context, tokenID string) (float64, error) {
	return f.feeBps, f.feeErr
}

type fakeCatalog struct{ market domain.Market }

func (f *fakeCatalog) GetByID(ctx context.Context, id int64) (domain.Market, error) {
	if id != f.market.MarketID {
		return domain.Market{}, domain.ErrNotFound
	}
	return f.market, nil
}

type fakeState struct {
	open         map[domain.TokenType]domain.Position
	capacityFail domain.RejectReason
	cooldown     bool

	decisions  []domain.TradeDecision
	finalized  []domain.TradeDecision
	log        []domain.TradeDecision // every record and finalize, in order
	fills      []domain.Fill
	cooldowns  int
	spreadreqs int
}

func (s *fakeState) OpenPosition(strategy string, marketID int64, tt domain.TokenType) (domain.Position, bool) {
	p, ok := s.open[tt]
	return p, ok
}

func (s *fakeState) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	for _, p := range s.open {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *fakeState) CapacityCheck(strategy string, sizeUSD float64) (domain.RejectReason, bool) {
	if s.capacityFail != "" {
		return s.capacityFail, false
	}
	return "", true
}

func (s *fakeState) InCooldown(strategy string, marketID int64) bool { return s.cooldown }

func (s *fakeState) RecordFill(ctx context.Context, strategy string, fill domain.Fill) (domain.Position, error) {
	s.fills = append(s.fills, fill)
	return domain.Position{ID: "pos-1", Strategy: strategy, MarketID: fill.MarketID, TokenType: fill.TokenType}, nil
}

func (s *fakeState) EnsureSpread(ctx context.Context, strategy string, marketID int64) (domain.Spread, error) {
	s.spreadreqs++
	return domain.Spread{ID: "sp-1"}, nil
}

func (s *fakeState) SetCooldown(ctx context.Context, strategy string, marketID int64) error {
	s.cooldowns++
	return nil
}

func (s *fakeState) RecordDecision(ctx context.Context, d domain.TradeDecision) error {
	s.decisions = append(s.decisions, d)
	s.log = append(s.log, d)
	return nil
}

func (s *fakeState) FinalizeDecision(ctx context.Context, d domain.TradeDecision) error {
	s.finalized = append(s.finalized, d)
	s.log = append(s.log, d)
	return nil
}

func testMarket() domain.Market {
	return domain.Market{
		MarketID:        42,
		ConditionID:     "0xcond",
		YesTokenID:      "yes-tok",
		NoTokenID:       "no-tok",
		Status:          domain.MarketStatusActive,
		AcceptingOrders: true,
	}
}

func liveBook(bid, ask float64) domain.OrderbookState {
	b := domain.OrderbookState{
		TokenID: "yes-tok",
		Bids:    []domain.PriceLevel{{Price: bid, Size: 1000}},
		Asks:    []domain.PriceLevel{{Price: ask, Size: 1000}},
	}
	b.Normalize()
	return b
}

func entryAction(sizeUSD float64, age time.Duration) domain.Action {
	now := time.Now().UTC()
	return domain.Action{
		ID:        domain.NewActionID(),
		Type:      domain.ActionOpenLong,
		Strategy:  "test",
		MarketID:  42,
		TokenType: domain.TokenYes,
		SizeUSD:   sizeUSD,
		OrderKind: domain.OrderKindMarket,
		Reason:    "test entry",
		Tick: domain.Tick{
			MarketID:  42,
			TokenID:   "yes-tok",
			TokenType: domain.TokenYes,
			Timestamp: now.Add(-age),
			YesMid:    0.53,
			NoMid:     0.47,
			Spread:    0.02,
		},
		CreatedAt: now,
	}
}

func newTestExecutor(books *fakeBooks, state *fakeState) *Executor {
	return newTestExecutorWith(testMarket(), books, state,
		NewPaperFiller(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func newTestExecutorWith(market domain.Market, books *fakeBooks, state *fakeState, filler Filler) *Executor {
	return New(Config{
		MaxSignalAge:      5 * time.Second,
		MaxPriceDeviation: 0.03,
		MaxSpread:         0.05,
		MaxFeeBps:         200,
		MaxPositionUSD:    50,
	}, books, &fakeCatalog{market: market}, state, filler, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// lastDecision returns the outcome of the most recent Handle call: the
// newest terminal record in chronological order, so a later gate rejection
// is never masked by an earlier finalized decision.
func lastDecision(t *testing.T, s *fakeState) domain.TradeDecision {
	t.Helper()
	if len(s.log) == 0 {
		t.Fatal("no decision recorded")
	}
	for i := len(s.log) - 1; i >= 0; i-- {
		if s.log[i].Status != domain.DecisionPending {
			return s.log[i]
		}
	}
	return s.log[len(s.log)-1]
}

func TestEntryExecutesAndSetsCooldown(t *testing.T) {
	t.Parallel()
	state := &fakeState{}
	e := newTestExecutor(&fakeBooks{book: liveBook(0.52, 0.54)}, state)

	e.Handle(context.Background(), entryAction(1.10, 0))

	d := lastDecision(t, state)
	if d.Status != domain.DecisionExecuted || !d.Executed {
		t.Fatalf("decision = %+v, want executed", d)
	}
	if len(state.fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(state.fills))
	}
	fill := state.fills[0]
	// $1.10 at ask 0.54 plus size slippage.
	wantPrice := 0.54 + slippagePerHundredUSD*(1.10/100)
	if math.Abs(fill.Price-wantPrice) > 1e-9 {
		t.Errorf("fill price = %v, want %v", fill.Price, wantPrice)
	}
	if math.Abs(fill.Shares-1.10/wantPrice) > 1e-9 {
		t.Errorf("shares = %v, want %v", fill.Shares, 1.10/wantPrice)
	}
	if state.cooldowns != 1 {
		t.Errorf("cooldowns set = %d, want 1", state.cooldowns)
	}
	// Pending row went durable before the fill was recorded.
	if len(state.decisions) != 1 || state.decisions[0].Status != domain.DecisionPending {
		t.Errorf("pending decision missing: %+v", state.decisions)
	}
}

func TestSignalAgeBoundary(t *testing.T) {
	t.Parallel()
	state := &fakeState{}
	e := newTestExecutor(&fakeBooks{book: liveBook(0.52, 0.54)}, state)

	// Just inside the limit passes.
	e.Handle(context.Background(), entryAction(1, 4900*time.Millisecond))
	if d := lastDecision(t, state); d.Status != domain.DecisionExecuted {
		t.Fatalf("age under limit rejected: %s", d.RejectReason)
	}

	// Past the limit rejects with signal_age.
	stale := &fakeState{}
	e2 := newTestExecutor(&fakeBooks{book: liveBook(0.52, 0.54)}, stale)
	e2.Handle(context.Background(), entryAction(1, 6*time.Second))
	if d := lastDecision(t, stale); d.RejectReason != domain.RejectSignalAge {
		t.Fatalf("reason = %s, want signal_age", d.RejectReason)
	}
}

func TestPriceDeviationGate(t *testing.T) {
	t.Parallel()
	state := &fakeState{}
	// Signal mid 0.53, live mid 0.60: deviation 13%.
	e := newTestExecutor(&fakeBooks{book: liveBook(0.59, 0.61)}, state)
	e.Handle(context.Background(), entryAction(1, 0))
	if d := lastDecision(t, state); d.RejectReason != domain.RejectPriceDeviation {
		t.Fatalf("reason = %s, want price_deviation", d.RejectReason)
	}
}

func TestSpreadGateBoundary(t *testing.T) {
	t.Parallel()
	// Spread exactly at the 0.05 limit passes.
	state := &fakeState{}
	e := newTestExecutor(&fakeBooks{book: liveBook(0.51, 0.56)}, state)
	e.Handle(context.Background(), entryAction(1, 0))
	if d := lastDecision(t, state); d.RejectReason == domain.RejectSpread {
		t.Fatal("spread at limit should pass")
	}

	// One tick wider rejects.
	state2 := &fakeState{}
	e2 := newTestExecutor(&fakeBooks{book: liveBook(0.50, 0.56)}, state2)
	e2.Handle(context.Background(), entryAction(1, 0))
	if d := lastDecision(t, state2); d.RejectReason != domain.RejectSpread {
		t.Fatalf("reason = %s, want spread", d.RejectReason)
	}
}

func TestFeeGateAndLookupFailureNonFatal(t *testing.T) {
	t.Parallel()
	state := &fakeState{}
	e := newTestExecutor(&fakeBooks{book: liveBook(0.52, 0.54), feeBps: 500}, state)
	e.Handle(context.Background(), entryAction(1, 0))
	if d := lastDecision(t, state); d.RejectReason != domain.RejectFeeRate {
		t.Fatalf("reason = %s, want fee_rate", d.RejectReason)
	}

	// Fee lookup failure assumes zero and passes.
	state2 := &fakeState{}
	e2 := newTestExecutor(&fakeBooks{book: liveBook(0.52, 0.54), feeErr: errors.New("boom")}, state2)
	e2.Handle(context.Background(), entryAction(1, 0))
	if d := lastDecision(t, state2); d.Status != domain.DecisionExecuted {
		t.Fatalf("fee lookup failure should not reject, got %s", d.RejectReason)
	}
}

func TestDuplicatePositionGate(t *testing.T) {
	t.Parallel()
	state := &fakeState{open: map[domain.TokenType]domain.Position{
		domain.TokenYes: {ID: "p1", Status: domain.PositionStatusOpen},
	}}
	e := newTestExecutor(&fakeBooks{book: liveBook(0.52, 0.54)}, state)
	e.Handle(context.Background(), entryAction(1, 0))
	if d := lastDecision(t, state); d.RejectReason != domain.RejectDuplicatePosition {
		t.Fatalf("reason = %s, want duplicate_position", d.RejectReason)
	}
}

func TestRecentOrderGate(t *testing.T) {
	t.Parallel()
	state := &fakeState{}
	e := newTestExecutor(&fakeBooks{book: liveBook(0.52, 0.54)}, state)

	e.Handle(context.Background(), entryAction(1, 0))
	if d := lastDecision(t, state); d.Status != domain.DecisionExecuted {
		t.Fatalf("first entry should execute, got %s", d.RejectReason)
	}

	// Second entry on the same token inside the window. The duplicate gate
	// would fire first with an open position, so leave state empty.
	e.Handle(context.Background(), entryAction(1, 0))
	if d := lastDecision(t, state); d.RejectReason != domain.RejectRecentOrder {
		t.Fatalf("reason = %s, want recent_order", d.RejectReason)
	}
}

type failingFiller struct{ calls int }

func (f *failingFiller) Execute(ctx context.Context, ord Order) (domain.Fill, error) {
	f.calls++
	return domain.Fill{}, errors.New("fill confirmation timed out")
}

func TestRecentOrderGuardMarksSubmission(t *testing.T) {
	t.Parallel()
	state := &fakeState{}
	filler := &failingFiller{}
	e := newTestExecutorWith(testMarket(), &fakeBooks{book: liveBook(0.52, 0.54)}, state, filler)

	// First entry submits but the fill confirmation fails.
	e.Handle(context.Background(), entryAction(1, 0))
	if d := lastDecision(t, state); d.Status != domain.DecisionRejected {
		t.Fatalf("decision = %+v, want rejected", d)
	}

	// The order may still rest on the exchange, so a resubmit inside the
	// window must hit the recent-order gate instead of reaching the filler.
	e.Handle(context.Background(), entryAction(1, 0))
	if d := lastDecision(t, state); d.RejectReason != domain.RejectRecentOrder {
		t.Fatalf("reason = %s, want recent_order", d.RejectReason)
	}
	if filler.calls != 1 {
		t.Errorf("filler calls = %d, want 1", filler.calls)
	}
}

func TestExitsAllowedWhenMarketStopsAccepting(t *testing.T) {
	t.Parallel()
	market := testMarket()
	market.AcceptingOrders = false

	state := &fakeState{open: map[domain.TokenType]domain.Position{
		domain.TokenYes: {
			ID: "p1", Strategy: "test", MarketID: 42,
			TokenType: domain.TokenYes, RemainingShares: 10,
			Status: domain.PositionStatusOpen,
		},
	}}
	e := newTestExecutorWith(market, &fakeBooks{book: liveBook(0.52, 0.54)}, state,
		NewPaperFiller(slog.New(slog.NewTextHandler(io.Discard, nil))))

	exit := entryAction(0, 0)
	exit.Type = domain.ActionClose
	exit.Reason = "stop loss"
	e.Handle(context.Background(), exit)
	if d := lastDecision(t, state); d.Status != domain.DecisionExecuted {
		t.Fatalf("close on non-accepting market rejected: %s", d.RejectReason)
	}

	// New exposure stays blocked.
	state2 := &fakeState{}
	e2 := newTestExecutorWith(market, &fakeBooks{book: liveBook(0.52, 0.54)}, state2,
		NewPaperFiller(slog.New(slog.NewTextHandler(io.Discard, nil))))
	e2.Handle(context.Background(), entryAction(1, 0))
	if d := lastDecision(t, state2); d.RejectReason != domain.RejectMarketNotAccepting {
		t.Fatalf("reason = %s, want market_not_accepting", d.RejectReason)
	}
}

func TestCapacityRejectionPropagates(t *testing.T) {
	t.Parallel()
	state := &fakeState{capacityFail: domain.RejectPositionLimit}
	e := newTestExecutor(&fakeBooks{book: liveBook(0.52, 0.54)}, state)
	e.Handle(context.Background(), entryAction(1, 0))
	if d := lastDecision(t, state); d.RejectReason != domain.RejectPositionLimit {
		t.Fatalf("reason = %s, want position_limit", d.RejectReason)
	}
}

func TestCooldownBlocksOpenLongOnly(t *testing.T) {
	t.Parallel()
	state := &fakeState{cooldown: true}
	e := newTestExecutor(&fakeBooks{book: liveBook(0.52, 0.54)}, state)
	e.Handle(context.Background(), entryAction(1, 0))
	if d := lastDecision(t, state); d.RejectReason != domain.RejectCooldown {
		t.Fatalf("reason = %s, want cooldown", d.RejectReason)
	}

	// A spread hedge manages existing exposure and bypasses the cooldown.
	state2 := &fakeState{cooldown: true, open: map[domain.TokenType]domain.Position{
		domain.TokenYes: {ID: "p1", Status: domain.PositionStatusOpen},
	}}
	e2 := newTestExecutor(&fakeBooks{book: liveBook(0.52, 0.54)}, state2)
	hedge := entryAction(5, 0)
	hedge.Type = domain.ActionOpenSpread
	hedge.TokenType = domain.TokenNo
	hedge.Tick.NoMid = 0.47
	e2.Handle(context.Background(), hedge)
	d := lastDecision(t, state2)
	if d.RejectReason == domain.RejectCooldown {
		t.Fatal("spread hedge should not be blocked by cooldown")
	}
}

func TestBookFetchFailureFailsClosed(t *testing.T) {
	t.Parallel()
	state := &fakeState{}
	e := newTestExecutor(&fakeBooks{bookErr: errors.New("timeout")}, state)
	e.Handle(context.Background(), entryAction(1, 0))
	if d := lastDecision(t, state); d.RejectReason != domain.RejectBookUnavailable {
		t.Fatalf("reason = %s, want book_unavailable", d.RejectReason)
	}
}

func TestCloseSellsAtBid(t *testing.T) {
	t.Parallel()
	state := &fakeState{open: map[domain.TokenType]domain.Position{
		domain.TokenYes: {
			ID: "p1", Strategy: "test", MarketID: 42, TokenType: domain.TokenYes,
			AvgEntryPrice: 0.40, RemainingShares: 10, CostBasis: 4,
			Status: domain.PositionStatusOpen,
		},
	}}
	e := newTestExecutor(&fakeBooks{book: liveBook(0.52, 0.54)}, state)

	action := entryAction(0, 0)
	action.Type = domain.ActionClose
	action.CloseRatio = 1
	action.PositionID = "p1"
	e.Handle(context.Background(), action)

	d := lastDecision(t, state)
	if d.Status != domain.DecisionExecuted {
		t.Fatalf("close rejected: %s", d.RejectReason)
	}
	fill := state.fills[0]
	if fill.Side != domain.TradeSideSell {
		t.Errorf("side = %s, want SELL", fill.Side)
	}
	if fill.Shares != 10 {
		t.Errorf("shares = %v, want full 10", fill.Shares)
	}
	if fill.Price >= 0.52 {
		t.Errorf("sell price %v should sit below bid after slippage", fill.Price)
	}
	if state.cooldowns != 0 {
		t.Error("close must not set a cooldown")
	}
}

func TestSlippageCap(t *testing.T) {
	t.Parallel()
	book := liveBook(0.50, 0.52)

	// Tiny order: linear slippage.
	price, ok := executionPrice(book, domain.TradeSideBuy, 100, 0)
	if !ok || math.Abs(price-(0.52+0.001)) > 1e-9 {
		t.Errorf("price = %v, want 0.521", price)
	}

	// Huge order: capped at 2% of base.
	price, ok = executionPrice(book, domain.TradeSideBuy, 10000, 0)
	if !ok || math.Abs(price-0.52*1.02) > 1e-9 {
		t.Errorf("price = %v, want %v", price, 0.52*1.02)
	}
}

func TestLimitPriceOffsets(t *testing.T) {
	t.Parallel()
	book := liveBook(0.50, 0.52) // mid 0.51

	buy, ok := limitPrice(book, domain.TradeSideBuy, 20)
	if !ok || math.Abs(buy-0.508) > 1e-9 {
		t.Errorf("buy limit = %v, want 0.508", buy)
	}
	sell, ok := limitPrice(book, domain.TradeSideSell, 20)
	if !ok || math.Abs(sell-0.512) > 1e-9 {
		t.Errorf("sell limit = %v, want 0.512", sell)
	}
}

func TestEntrySizingMethods(t *testing.T) {
	t.Parallel()
	book := liveBook(0.50, 0.52) // ask 0.52, signal mid 0.53

	sized := func(cfg Config, act domain.Action) float64 {
		e := New(cfg, nil, nil, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
		return e.sizeFor(act, book)
	}

	// Fixed sizing backfills only a missing size.
	cfg := Config{SizingMethod: "fixed", FixedSizeUSD: 7}
	if got := sized(cfg, entryAction(0, 0)); got != 7 {
		t.Errorf("fixed default size = %v, want 7", got)
	}
	if got := sized(cfg, entryAction(20, 0)); got != 20 {
		t.Errorf("fixed with explicit size = %v, want 20", got)
	}

	// Kelly shrinks to the edge-implied stake: f = (0.53-0.52)/(1-0.52).
	cfg = Config{SizingMethod: "kelly", KellyFraction: 1, MaxSizeUSD: 100}
	want := (0.53 - 0.52) / (1 - 0.52) * 100
	if got := sized(cfg, entryAction(20, 0)); math.Abs(got-want) > 1e-9 {
		t.Errorf("kelly size = %v, want %v", got, want)
	}

	// Vol scaling halves the entry at one cent of drift per minute.
	cfg = Config{SizingMethod: "vol_scaled"}
	act := entryAction(20, 0)
	act.Tick.Velocity1m = 0.01 / 60
	if got := sized(cfg, act); math.Abs(got-10) > 1e-9 {
		t.Errorf("vol_scaled size = %v, want 10", got)
	}

	// Per-strategy tuning wins over the global method.
	cfg = Config{
		SizingMethod: "fixed",
		FixedSizeUSD: 7,
		Strategies:   map[string]StrategyTuning{"test": {MaxSizeUSD: 5}},
	}
	if got := sized(cfg, entryAction(20, 0)); got != 5 {
		t.Errorf("tuned cap size = %v, want 5", got)
	}

	// Exits pass through untouched.
	exit := entryAction(20, 0)
	exit.Type = domain.ActionClose
	if got := sized(Config{SizingMethod: "fixed", FixedSizeUSD: 7, MaxSizeUSD: 5}, exit); got != 20 {
		t.Errorf("exit size = %v, want 20", got)
	}
}

func TestErrorTrackerFiresOncePerBurst(t *testing.T) {
	t.Parallel()
	tr := newErrorTracker(3, time.Minute)
	if tr.record() || tr.record() {
		t.Fatal("below threshold should not fire")
	}
	if !tr.record() {
		t.Fatal("crossing threshold should fire")
	}
	if tr.record() {
		t.Fatal("already alerted burst should not fire again")
	}
}
