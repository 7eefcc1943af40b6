package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyquant/tradebot/internal/config"
	"github.com/polyquant/tradebot/internal/domain"
	"github.com/polyquant/tradebot/internal/executor"
	"github.com/polyquant/tradebot/internal/gateway"
	"github.com/polyquant/tradebot/internal/platform/polymarket"
	"github.com/polyquant/tradebot/internal/router"
	"github.com/polyquant/tradebot/internal/state"
	"github.com/polyquant/tradebot/internal/strategy"
)

// ---------------------------------------------------------------------------
// In-memory infrastructure fakes
// ---------------------------------------------------------------------------

type memCatalog struct {
	mu      sync.Mutex
	markets map[int64]domain.Market
}

func newMemCatalog(markets ...domain.Market) *memCatalog {
	c := &memCatalog{markets: make(map[int64]domain.Market)}
	for _, m := range markets {
		c.markets[m.MarketID] = m
	}
	return c
}

func (c *memCatalog) GetByID(ctx context.Context, id int64) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memCatalog) GetByTokenID(ctx context.Context, tokenID string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.markets {
		if _, ok := m.TokenType(tokenID); ok {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (c *memCatalog) ListTradeable(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Market
	for _, m := range c.markets {
		if m.Tradeable() {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *memCatalog) SetResolved(ctx context.Context, marketID int64, outcome domain.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[marketID]
	if !ok {
		return domain.ErrNotFound
	}
	m.Status = domain.MarketStatusResolved
	m.AcceptingOrders = false
	m.Outcome = &outcome
	c.markets[marketID] = m
	return nil
}

func (c *memCatalog) resolve(marketID int64, outcome domain.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.markets[marketID]
	m.AcceptingOrders = false
	m.Status = domain.MarketStatusClosed
	m.Outcome = &outcome
	c.markets[marketID] = m
}

type memPositions struct {
	mu   sync.Mutex
	rows map[string]domain.Position
}

func (s *memPositions) Create(ctx context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = make(map[string]domain.Position)
	}
	s.rows[p.ID] = p
	return nil
}

func (s *memPositions) Update(ctx context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.rows[p.ID] = p
	return nil
}

func (s *memPositions) GetByID(ctx context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPositions) ListOpen(ctx context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.rows {
		if p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositions) ListByStrategy(ctx context.Context, strat string, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.rows {
		if p.Strategy == strat {
			out = append(out, p)
		}
	}
	return out, nil
}

type memLegs struct {
	mu   sync.Mutex
	rows []domain.PositionLeg
}

func (s *memLegs) Append(ctx context.Context, leg domain.PositionLeg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, leg)
	return nil
}

func (s *memLegs) ListByPosition(ctx context.Context, positionID string) ([]domain.PositionLeg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PositionLeg
	for _, l := range s.rows {
		if l.PositionID == positionID {
			out = append(out, l)
		}
	}
	return out, nil
}

type memSpreads struct {
	mu   sync.Mutex
	rows map[string]domain.Spread
}

func (s *memSpreads) Create(ctx context.Context, sp domain.Spread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = make(map[string]domain.Spread)
	}
	s.rows[sp.ID] = sp
	return nil
}

func (s *memSpreads) Update(ctx context.Context, sp domain.Spread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[sp.ID]; !ok {
		return domain.ErrNotFound
	}
	s.rows[sp.ID] = sp
	return nil
}

func (s *memSpreads) GetByID(ctx context.Context, id string) (domain.Spread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.rows[id]
	if !ok {
		return domain.Spread{}, domain.ErrNotFound
	}
	return sp, nil
}

func (s *memSpreads) ListOpen(ctx context.Context) ([]domain.Spread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Spread
	for _, sp := range s.rows {
		if sp.Status == domain.SpreadStatusOpen {
			out = append(out, sp)
		}
	}
	return out, nil
}

type memStrategyState struct {
	mu   sync.Mutex
	rows map[string]domain.StrategyState
}

func (s *memStrategyState) Upsert(ctx context.Context, st domain.StrategyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = make(map[string]domain.StrategyState)
	}
	s.rows[st.Strategy] = st
	return nil
}

func (s *memStrategyState) Get(ctx context.Context, strat string) (domain.StrategyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rows[strat]
	if !ok {
		return domain.StrategyState{}, domain.ErrNotFound
	}
	return st, nil
}

func (s *memStrategyState) List(ctx context.Context) ([]domain.StrategyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StrategyState
	for _, st := range s.rows {
		out = append(out, st)
	}
	return out, nil
}

type memDecisions struct {
	mu   sync.Mutex
	rows map[string]domain.TradeDecision
}

func (s *memDecisions) Insert(ctx context.Context, d domain.TradeDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = make(map[string]domain.TradeDecision)
	}
	s.rows[d.ID] = d
	return nil
}

func (s *memDecisions) Finalize(ctx context.Context, d domain.TradeDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.rows[d.ID]
	if !ok || prev.Status != domain.DecisionPending {
		return domain.ErrNotFound
	}
	s.rows[d.ID] = d
	return nil
}

func (s *memDecisions) ListPending(ctx context.Context) ([]domain.TradeDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeDecision
	for _, d := range s.rows {
		if d.Status == domain.DecisionPending {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memDecisions) ListRecent(ctx context.Context, limit int) ([]domain.TradeDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeDecision
	for _, d := range s.rows {
		out = append(out, d)
	}
	return out, nil
}

func (s *memDecisions) byStatus(status domain.DecisionStatus) []domain.TradeDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeDecision
	for _, d := range s.rows {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out
}

type memCooldowns struct {
	mu   sync.Mutex
	rows map[string]domain.Cooldown
}

func (s *memCooldowns) Upsert(ctx context.Context, c domain.Cooldown) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = make(map[string]domain.Cooldown)
	}
	s.rows[fmt.Sprintf("%s|%d", c.Strategy, c.MarketID)] = c
	return nil
}

func (s *memCooldowns) List(ctx context.Context) ([]domain.Cooldown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Cooldown
	for _, c := range s.rows {
		out = append(out, c)
	}
	return out, nil
}

type staticBooks struct {
	mu    sync.Mutex
	books map[string]domain.OrderbookState
}

func (b *staticBooks) FetchBook(ctx context.Context, tokenID string) (domain.OrderbookState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	book, ok := b.books[tokenID]
	if !ok {
		return domain.OrderbookState{}, domain.ErrNotFound
	}
	return book, nil
}

func (b *staticBooks) FeeBps(ctx context.Context, tokenID string) (float64, error) {
	return 0, nil
}

func (b *staticBooks) FetchBooks(ctx context.Context, tokenIDs []string) map[string]domain.OrderbookState {
	return map[string]domain.OrderbookState{}
}

type idleFeed struct {
	mu      sync.Mutex
	members []string
}

func (f *idleFeed) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *idleFeed) SetMembership(tokenIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members = tokenIDs
}

func (f *idleFeed) Members() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members
}

// ---------------------------------------------------------------------------
// End-to-end paper pipeline
// ---------------------------------------------------------------------------

type testPipeline struct {
	engine    *Engine
	catalog   *memCatalog
	decisions *memDecisions
	cooldowns *memCooldowns
	manager   *state.Manager
	books     *staticBooks
	frames    chan polymarket.RawFrame
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	market := domain.Market{
		MarketID:        42,
		ConditionID:     "0xcond",
		Question:        "Will it rain tomorrow?",
		YesTokenID:      "yes-tok",
		NoTokenID:       "no-tok",
		Status:          domain.MarketStatusActive,
		AcceptingOrders: true,
	}
	catalog := newMemCatalog(market)
	decisions := &memDecisions{}
	cooldowns := &memCooldowns{}

	manager := state.NewManager(state.Stores{
		Positions: &memPositions{},
		Legs:      &memLegs{},
		Spreads:   &memSpreads{},
		Strategy:  &memStrategyState{},
		Decisions: decisions,
		Cooldowns: cooldowns,
	}, state.Limits{
		MaxPositionUSD:          50,
		MaxTotalExposureUSD:     500,
		MaxPositionsPerStrategy: 5,
		MaxPositionsGlobal:      25,
		MaxDrawdownPct:          0.25,
	}, logger)

	if err := manager.EnsureStrategy(context.Background(), "book_imbalance", 100, 30*time.Minute); err != nil {
		t.Fatalf("EnsureStrategy: %v", err)
	}

	strat, err := strategy.NewRegistry().Build("book_imbalance", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	frames := make(chan polymarket.RawFrame, 16)
	books := &staticBooks{books: map[string]domain.OrderbookState{}}
	gw := gateway.New(gateway.Config{TickBuffer: 64}, catalog, books, &idleFeed{}, frames, gateway.Caches{}, logger)

	actions := make(chan domain.Action, 16)
	rt := router.New(catalog, manager, actions, 16, logger)
	caps := strat.Caps()
	rt.Register(strat, router.Filter{
		Categories: caps.MarketTypes,
		MinSpread:  caps.MinSpread,
		MaxSpread:  caps.MaxSpread,
	})

	exec := executor.New(executor.Config{
		MaxSignalAge:      5 * time.Second,
		MaxPriceDeviation: 0.03,
		MaxSpread:         0.05,
		MaxFeeBps:         200,
		MaxPositionUSD:    50,
	}, books, catalog, manager, executor.NewPaperFiller(logger), nil, logger)

	cfg := config.Defaults()
	cfg.Settings.ShutdownGraceSeconds = 2
	cfg.Strategies = map[string]config.StrategyConfig{
		"book_imbalance": {Enabled: true, AllocationUSD: 100},
	}

	return &testPipeline{
		engine: &Engine{
			cfg:     &cfg,
			logger:  logger.With(slog.String("component", "engine")),
			manager: manager,
			gateway: gw,
			router:  rt,
			exec:    exec,
			markets: catalog,
			actions: actions,
			done:    make(chan struct{}),
		},
		catalog:   catalog,
		decisions: decisions,
		cooldowns: cooldowns,
		manager:   manager,
		books:     books,
		frames:    frames,
	}
}

func (p *testPipeline) setBook(book domain.OrderbookState) {
	p.books.mu.Lock()
	defer p.books.mu.Unlock()
	p.books.books[book.TokenID] = book
}

func bookFrame(tokenID string, buys, sells []polymarket.WSLevel) polymarket.RawFrame {
	payload := fmt.Sprintf(`{"event_type":"book","asset_id":%q,"buys":%s,"sells":%s,"timestamp":"%d"}`,
		tokenID, levelsJSON(buys), levelsJSON(sells), time.Now().UnixMilli())
	return polymarket.RawFrame{Data: []byte(payload)}
}

func levelsJSON(levels []polymarket.WSLevel) string {
	out := "["
	for i, l := range levels {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"price":%q,"size":%q}`, l.Price, l.Size)
	}
	return out + "]"
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestPaperPipelineOpensAndSettlesPosition(t *testing.T) {
	p := newTestPipeline(t)

	// The executor refetches the live book through its own client; serve the
	// same ladder the feed publishes.
	live := domain.OrderbookState{
		TokenID:    "yes-tok",
		Bids:       []domain.PriceLevel{{Price: 0.52, Size: 1400}, {Price: 0.51, Size: 600}},
		Asks:       []domain.PriceLevel{{Price: 0.54, Size: 300}, {Price: 0.55, Size: 200}},
		LastUpdate: time.Now().UTC(),
	}
	live.Normalize()
	p.setBook(live)

	ctx, cancel := context.WithCancel(context.Background())
	var g errgroup.Group
	g.Go(func() error { return p.engine.Run(ctx) })

	// Heavy-bid book: imbalance (2000-500)/2500 = 0.6, mid 0.53, spread 0.02.
	p.frames <- bookFrame("yes-tok",
		[]polymarket.WSLevel{{Price: "0.52", Size: "1400"}, {Price: "0.51", Size: "600"}},
		[]polymarket.WSLevel{{Price: "0.54", Size: "300"}, {Price: "0.55", Size: "200"}},
	)

	if !waitFor(t, 2*time.Second, func() bool {
		return len(p.manager.OpenPositions()) == 1
	}) {
		cancel()
		_ = g.Wait()
		t.Fatal("expected one open position after heavy-bid book")
	}

	pos := p.manager.OpenPositions()[0]
	if pos.Strategy != "book_imbalance" || pos.MarketID != 42 || pos.TokenType != domain.TokenYes {
		t.Fatalf("position identity = %+v", pos)
	}
	if pos.CostBasis <= 0 || pos.RemainingShares <= 0 {
		t.Fatalf("position not funded: %+v", pos)
	}

	executed := p.decisions.byStatus(domain.DecisionExecuted)
	if len(executed) != 1 {
		t.Fatalf("executed decisions = %d, want 1", len(executed))
	}
	if executed[0].PositionID != pos.ID {
		t.Errorf("decision position = %q, want %q", executed[0].PositionID, pos.ID)
	}
	if !p.manager.InCooldown("book_imbalance", 42) {
		t.Error("entry should start the cooldown")
	}

	// Resolution settles the open position at $1 per share.
	p.catalog.resolve(42, domain.OutcomeYes)
	p.engine.settleResolved(ctx)

	if got := len(p.manager.OpenPositions()); got != 0 {
		t.Fatalf("open positions after resolution = %d, want 0", got)
	}
	st, ok := p.manager.SnapshotStrategy("book_imbalance")
	if !ok {
		t.Fatal("missing strategy snapshot")
	}
	if st.TotalRealizedPnL <= 0 {
		t.Errorf("realized pnl = %v, want > 0 for winning side", st.TotalRealizedPnL)
	}
	if m, _ := p.catalog.GetByID(ctx, 42); m.Status != domain.MarketStatusResolved {
		t.Errorf("market status = %s, want resolved", m.Status)
	}

	cancel()
	if err := g.Wait(); err != nil {
		t.Fatalf("engine shutdown: %v", err)
	}
}

func TestPipelineDrainsActionsOnShutdown(t *testing.T) {
	p := newTestPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	var g errgroup.Group
	g.Go(func() error { return p.engine.Run(ctx) })

	// Cancel immediately; the engine must still exit cleanly with the action
	// channel closed exactly once.
	cancel()
	if err := g.Wait(); err != nil {
		t.Fatalf("engine shutdown: %v", err)
	}
	if _, ok := <-p.engine.actions; ok {
		t.Error("action channel should be closed after shutdown")
	}
}
