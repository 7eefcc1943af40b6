package gateway

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/polyquant/tradebot/internal/domain"
	"github.com/polyquant/tradebot/internal/platform/polymarket"
)

type fakeCatalog struct {
	markets []domain.Market
}

func (f *fakeCatalog) GetByID(ctx context.Context, id int64) (domain.Market, error) {
	for _, m := range f.markets {
		if m.MarketID == id {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (f *fakeCatalog) GetByTokenID(ctx context.Context, tokenID string) (domain.Market, error) {
	for _, m := range f.markets {
		if _, ok := m.TokenType(tokenID); ok {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (f *fakeCatalog) ListTradeable(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return f.markets, nil
}

func (f *fakeCatalog) SetResolved(ctx context.Context, marketID int64, outcome domain.Outcome) error {
	return nil
}

type fakeFeed struct {
	members []string
}

func (f *fakeFeed) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeFeed) SetMembership(tokenIDs []string) { f.members = tokenIDs }
func (f *fakeFeed) Members() []string               { return f.members }

func testMarket() domain.Market {
	return domain.Market{
		MarketID:        42,
		ConditionID:     "0xcond",
		Question:        "Will it rain tomorrow?",
		YesTokenID:      "yes-tok",
		NoTokenID:       "no-tok",
		Status:          domain.MarketStatusActive,
		AcceptingOrders: true,
	}
}

func newTestGateway(t *testing.T, markets ...domain.Market) *Gateway {
	t.Helper()
	frames := make(chan polymarket.RawFrame)
	g := New(Config{TickBuffer: 64}, &fakeCatalog{markets: markets}, nil, &fakeFeed{}, frames, Caches{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := g.refreshMembership(context.Background()); err != nil {
		t.Fatalf("refreshMembership: %v", err)
	}
	return g
}

func yesBook(bids, asks []domain.PriceLevel) domain.OrderbookState {
	return domain.OrderbookState{TokenID: "yes-tok", Bids: bids, Asks: asks}
}

func TestEmitDerivesOppositeSide(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, testMarket())

	book := yesBook(
		[]domain.PriceLevel{{Price: 0.52, Size: 900}, {Price: 0.51, Size: 400}},
		[]domain.PriceLevel{{Price: 0.54, Size: 200}, {Price: 0.55, Size: 300}},
	)
	book.Normalize()
	g.applyBookState(context.Background(), "yes-tok", book, time.Now().UTC())

	tick, ok := g.queue.Pop()
	if !ok {
		t.Fatal("expected a tick")
	}
	if tick.TokenType != domain.TokenYes || tick.MarketID != 42 {
		t.Fatalf("tick identity = %+v", tick)
	}
	if tick.YesBid != 0.52 || tick.YesAsk != 0.54 {
		t.Errorf("yes side = %v/%v, want 0.52/0.54", tick.YesBid, tick.YesAsk)
	}
	// NO book is absent, so its prices are complements of the YES side.
	if math.Abs(tick.NoBid-0.46) > 1e-9 || math.Abs(tick.NoAsk-0.48) > 1e-9 {
		t.Errorf("derived no side = %v/%v, want 0.46/0.48", tick.NoBid, tick.NoAsk)
	}
	if math.Abs(tick.Spread-0.02) > 1e-9 {
		t.Errorf("spread = %v, want 0.02", tick.Spread)
	}
	wantImb := (1300.0 - 500.0) / 1800.0
	if math.Abs(tick.Imbalance-wantImb) > 1e-9 {
		t.Errorf("imbalance = %v, want %v", tick.Imbalance, wantImb)
	}
}

func TestEmitPrefersLiveOppositeBook(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, testMarket())
	now := time.Now().UTC()

	noBook := domain.OrderbookState{
		TokenID: "no-tok",
		Bids:    []domain.PriceLevel{{Price: 0.44, Size: 100}},
		Asks:    []domain.PriceLevel{{Price: 0.49, Size: 100}},
	}
	noBook.Normalize()
	g.applyBookState(context.Background(), "no-tok", noBook, now)
	g.queue.Pop()

	book := yesBook(
		[]domain.PriceLevel{{Price: 0.52, Size: 900}},
		[]domain.PriceLevel{{Price: 0.54, Size: 200}},
	)
	book.Normalize()
	g.applyBookState(context.Background(), "yes-tok", book, now)

	tick, ok := g.queue.Pop()
	if !ok {
		t.Fatal("expected a tick")
	}
	// The live NO ladder wins over the complement derivation.
	if tick.NoBid != 0.44 || tick.NoAsk != 0.49 {
		t.Errorf("no side = %v/%v, want live 0.44/0.49", tick.NoBid, tick.NoAsk)
	}
}

func TestStaleBooksSuppressEmission(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, testMarket())
	now := time.Now().UTC()

	book := yesBook(
		[]domain.PriceLevel{{Price: 0.52, Size: 900}},
		[]domain.PriceLevel{{Price: 0.54, Size: 200}},
	)
	book.Normalize()
	g.applyBookState(context.Background(), "yes-tok", book, now)
	g.queue.Pop()

	g.OnReconnect()

	// Incremental updates against a stale book must not produce ticks.
	g.applyPriceChange(context.Background(), &polymarket.PriceChangeMessage{
		AssetID: "yes-tok", Side: "BUY", Price: "0.53", Size: "100",
	}, now)
	if _, ok := g.queue.Pop(); ok {
		t.Fatal("stale book emitted a tick")
	}

	// A fresh snapshot clears staleness and resumes emission.
	g.applyBookState(context.Background(), "yes-tok", book, now)
	if _, ok := g.queue.Pop(); !ok {
		t.Fatal("fresh snapshot did not resume emission")
	}
}

func TestOneSidedBookSuppressed(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, testMarket())

	book := yesBook([]domain.PriceLevel{{Price: 0.52, Size: 900}}, nil)
	book.Normalize()
	g.applyBookState(context.Background(), "yes-tok", book, time.Now().UTC())

	if _, ok := g.queue.Pop(); ok {
		t.Fatal("one-sided book emitted a tick")
	}
}

func TestVelocityFromMidSamples(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, testMarket())
	now := time.Now().UTC()

	mkBook := func(bid, ask float64) domain.OrderbookState {
		b := yesBook(
			[]domain.PriceLevel{{Price: bid, Size: 100}},
			[]domain.PriceLevel{{Price: ask, Size: 100}},
		)
		b.Normalize()
		return b
	}

	g.applyBookState(context.Background(), "yes-tok", mkBook(0.50, 0.52), now.Add(-velocityWindow))
	g.queue.Pop()
	g.applyBookState(context.Background(), "yes-tok", mkBook(0.56, 0.58), now)

	tick, ok := g.queue.Pop()
	if !ok {
		t.Fatal("expected a tick")
	}
	// Mid moved 0.51 -> 0.57 over 60s.
	want := 0.06 / velocityWindow.Seconds()
	if math.Abs(tick.Velocity1m-want) > 1e-9 {
		t.Errorf("velocity = %v, want %v", tick.Velocity1m, want)
	}
}

func TestExcludedKeywordsFilterMembership(t *testing.T) {
	t.Parallel()
	sports := testMarket()
	sports.MarketID = 7
	sports.Question = "Will the Lakers win the NBA title?"
	sports.YesTokenID = "lk-yes"
	sports.NoTokenID = "lk-no"

	frames := make(chan polymarket.RawFrame)
	feed := &fakeFeed{}
	g := New(Config{TickBuffer: 8, ExcludedKeywords: []string{"nba"}},
		&fakeCatalog{markets: []domain.Market{testMarket(), sports}},
		nil, feed, frames, Caches{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := g.refreshMembership(context.Background()); err != nil {
		t.Fatalf("refreshMembership: %v", err)
	}

	if len(feed.members) != 2 {
		t.Fatalf("membership = %v, want only the non-sports tokens", feed.members)
	}
	for _, tok := range feed.members {
		if tok == "lk-yes" || tok == "lk-no" {
			t.Errorf("excluded market token %s subscribed", tok)
		}
	}
}

func TestQueueOverflowDropsBooksKeepsTrades(t *testing.T) {
	t.Parallel()
	q := newTickQueue(3)

	q.Push(domain.Tick{Seq: 1, Event: domain.TickEventBook})
	q.Push(domain.Tick{Seq: 2, Event: domain.TickEventTrade})
	q.Push(domain.Tick{Seq: 3, Event: domain.TickEventPriceChange})
	q.Push(domain.Tick{Seq: 4, Event: domain.TickEventTrade}) // evicts seq 1

	var seqs []uint64
	for {
		tick, ok := q.Pop()
		if !ok {
			break
		}
		seqs = append(seqs, tick.Seq)
	}
	want := []uint64{2, 3, 4}
	if len(seqs) != len(want) {
		t.Fatalf("queue = %v, want %v", seqs, want)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Fatalf("queue = %v, want %v", seqs, want)
		}
	}
	if q.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", q.Dropped())
	}
}

func TestQueueAllTradesDropsIncomingBook(t *testing.T) {
	t.Parallel()
	q := newTickQueue(2)

	q.Push(domain.Tick{Seq: 1, Event: domain.TickEventTrade})
	q.Push(domain.Tick{Seq: 2, Event: domain.TickEventTrade})
	q.Push(domain.Tick{Seq: 3, Event: domain.TickEventBook}) // dropped outright

	tick, _ := q.Pop()
	if tick.Seq != 1 {
		t.Errorf("head seq = %d, want 1", tick.Seq)
	}
	if q.Len() != 1 {
		t.Errorf("len = %d, want 1", q.Len())
	}
	if q.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", q.Dropped())
	}
}
