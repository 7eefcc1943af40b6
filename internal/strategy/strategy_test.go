package strategy

import (
	"math"
	"strings"
	"testing"

	"github.com/polyquant/tradebot/internal/domain"
)

type fakeView struct {
	positions map[string]domain.Position // key tokenType
	spread    *domain.Spread
	openCount int
	available float64
	cooldown  bool
}

func (v *fakeView) OpenPosition(strategy string, marketID int64, tokenType domain.TokenType) (domain.Position, bool) {
	p, ok := v.positions[string(tokenType)]
	return p, ok
}

func (v *fakeView) OpenSpread(strategy string, marketID int64) (domain.Spread, bool) {
	if v.spread == nil {
		return domain.Spread{}, false
	}
	return *v.spread, true
}

func (v *fakeView) OpenPositionCount(strategy string) int { return v.openCount }
func (v *fakeView) AvailableUSD(strategy string) float64  { return v.available }
func (v *fakeView) InCooldown(strategy string, marketID int64) bool {
	return v.cooldown
}

func bookTick(bids, asks []domain.PriceLevel) domain.Tick {
	book := domain.OrderbookState{TokenID: "yes-tok", Bids: bids, Asks: asks}
	book.Normalize()
	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()
	mid := book.MidPrice()
	return domain.Tick{
		MarketID:  42,
		TokenID:   "yes-tok",
		TokenType: domain.TokenYes,
		Event:     domain.TickEventBook,
		YesBid:    bid, YesAsk: ask, YesMid: mid,
		NoBid: 1 - ask, NoAsk: 1 - bid, NoMid: 1 - mid,
		Spread:    book.Spread(),
		Imbalance: book.Imbalance(),
		Book:      book,
	}
}

func TestBookImbalanceEntryThreshold(t *testing.T) {
	t.Parallel()
	s, err := NewBookImbalance(Params{"min_imbalance": 0.5, "fixed_size_usd": 1.10})
	if err != nil {
		t.Fatal(err)
	}
	view := &fakeView{available: 100}

	// imbalance (1300-500)/1800 = 0.44, below threshold.
	weak := bookTick(
		[]domain.PriceLevel{{Price: 0.52, Size: 900}, {Price: 0.51, Size: 400}},
		[]domain.PriceLevel{{Price: 0.54, Size: 200}, {Price: 0.55, Size: 300}},
	)
	act, err := s.OnTick(weak, view)
	if err != nil || act != nil {
		t.Fatalf("weak imbalance should pass, got act=%+v err=%v", act, err)
	}

	// imbalance (1500-200)/1700 = 0.76, mid 0.53.
	strong := bookTick(
		[]domain.PriceLevel{{Price: 0.52, Size: 1500}},
		[]domain.PriceLevel{{Price: 0.54, Size: 200}},
	)
	act, err = s.OnTick(strong, view)
	if err != nil {
		t.Fatal(err)
	}
	if act == nil {
		t.Fatal("strong imbalance should produce an entry")
	}
	if act.Type != domain.ActionOpenLong || act.TokenType != domain.TokenYes {
		t.Errorf("action = %s %s, want OPEN_LONG YES", act.Type, act.TokenType)
	}
	if act.SizeUSD != 1.10 {
		t.Errorf("size = %v, want 1.10", act.SizeUSD)
	}
}

func TestBookImbalanceExitOnFade(t *testing.T) {
	t.Parallel()
	s, err := NewBookImbalance(Params{"min_imbalance": 0.5})
	if err != nil {
		t.Fatal(err)
	}
	pos := domain.Position{
		ID: "p1", MarketID: 42, TokenType: domain.TokenYes,
		AvgEntryPrice: 0.53, RemainingShares: 2, CostBasis: 1.06,
		Status: domain.PositionStatusOpen,
	}
	faded := bookTick(
		[]domain.PriceLevel{{Price: 0.52, Size: 100}},
		[]domain.PriceLevel{{Price: 0.54, Size: 900}},
	)
	act, err := s.OnPositionUpdate(pos, faded, &fakeView{})
	if err != nil {
		t.Fatal(err)
	}
	if act == nil || act.Type != domain.ActionClose {
		t.Fatalf("faded imbalance should close, got %+v", act)
	}
}

func TestUnknownParameterKeyRejected(t *testing.T) {
	t.Parallel()
	_, err := NewBookImbalance(Params{"min_imbalnce": 0.5})
	if err == nil {
		t.Fatal("misspelled key should fail construction")
	}
	if !strings.Contains(err.Error(), "min_imbalnce") {
		t.Errorf("error should name the bad key, got %v", err)
	}
}

func TestFavoriteHedgeTriggersSpread(t *testing.T) {
	t.Parallel()
	s, err := NewFavoriteHedge(Params{"hedge_trigger": 0.85, "hedge_ratio": 0.33})
	if err != nil {
		t.Fatal(err)
	}
	pos := domain.Position{
		ID: "p1", MarketID: 42, TokenType: domain.TokenYes,
		AvgEntryPrice: 0.60, RemainingShares: 33.333, CostBasis: 20,
		Status: domain.PositionStatusOpen,
	}
	tick := bookTick(
		[]domain.PriceLevel{{Price: 0.84, Size: 500}},
		[]domain.PriceLevel{{Price: 0.86, Size: 500}},
	)
	view := &fakeView{available: 100, positions: map[string]domain.Position{"YES": pos}}

	act, err := s.OnPositionUpdate(pos, tick, view)
	if err != nil {
		t.Fatal(err)
	}
	if act == nil || act.Type != domain.ActionOpenSpread || act.TokenType != domain.TokenNo {
		t.Fatalf("expected OPEN_SPREAD NO, got %+v", act)
	}
	if math.Abs(act.SizeUSD-6.60) > 1e-9 {
		t.Errorf("hedge size = %v, want 6.60", act.SizeUSD)
	}

	// Already hedged: no second hedge.
	view.spread = &domain.Spread{ID: "sp1"}
	act, err = s.OnPositionUpdate(pos, tick, view)
	if err != nil || act != nil {
		t.Errorf("hedged position should idle, got act=%+v err=%v", act, err)
	}
}

func TestMeanReversionFadesMove(t *testing.T) {
	t.Parallel()
	s, err := NewMeanReversion(Params{"min_velocity": 0.001})
	if err != nil {
		t.Fatal(err)
	}
	tick := bookTick(
		[]domain.PriceLevel{{Price: 0.49, Size: 100}},
		[]domain.PriceLevel{{Price: 0.51, Size: 100}},
	)
	tick.Velocity1m = 0.002

	act, err := s.OnTick(tick, &fakeView{available: 100})
	if err != nil {
		t.Fatal(err)
	}
	if act == nil || act.TokenType != domain.TokenNo {
		t.Fatalf("up-move should buy NO, got %+v", act)
	}

	tick.Velocity1m = -0.002
	act, err = s.OnTick(tick, &fakeView{available: 100})
	if err != nil {
		t.Fatal(err)
	}
	if act == nil || act.TokenType != domain.TokenYes {
		t.Fatalf("down-move should buy YES, got %+v", act)
	}
}

func TestSwingRebalancePartialCloseAndAdd(t *testing.T) {
	t.Parallel()
	s, err := NewSwingRebalance(Params{
		"swing_pct": 0.10, "close_ratio": 0.5,
		"fixed_size_usd": 10, "add_size_usd": 5, "max_adds": 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	pos := domain.Position{
		ID: "p1", MarketID: 42, TokenType: domain.TokenYes,
		AvgEntryPrice: 0.50, RemainingShares: 20, CostBasis: 10,
		Status: domain.PositionStatusOpen,
	}

	up := bookTick(
		[]domain.PriceLevel{{Price: 0.55, Size: 100}},
		[]domain.PriceLevel{{Price: 0.57, Size: 100}},
	)
	act, err := s.OnPositionUpdate(pos, up, &fakeView{available: 50})
	if err != nil {
		t.Fatal(err)
	}
	if act == nil || act.Type != domain.ActionPartialClose || act.CloseRatio != 0.5 {
		t.Fatalf("upswing should trim half, got %+v", act)
	}

	down := bookTick(
		[]domain.PriceLevel{{Price: 0.43, Size: 100}},
		[]domain.PriceLevel{{Price: 0.45, Size: 100}},
	)
	act, err = s.OnPositionUpdate(pos, down, &fakeView{available: 50})
	if err != nil {
		t.Fatal(err)
	}
	if act == nil || act.Type != domain.ActionAdd || act.SizeUSD != 5 {
		t.Fatalf("downswing should add, got %+v", act)
	}

	// Add budget exhausted after two adds.
	maxed := pos
	maxed.CostBasis = 20
	act, err = s.OnPositionUpdate(maxed, down, &fakeView{available: 50})
	if err != nil || act != nil {
		t.Errorf("maxed adds should idle, got act=%+v err=%v", act, err)
	}
}

func TestLongshotTakesMultiple(t *testing.T) {
	t.Parallel()
	s, err := NewLongshot(Params{"max_entry_price": 0.05, "take_profit_mult": 3})
	if err != nil {
		t.Fatal(err)
	}
	cheap := bookTick(
		[]domain.PriceLevel{{Price: 0.03, Size: 100}},
		[]domain.PriceLevel{{Price: 0.05, Size: 100}},
	)
	act, err := s.OnTick(cheap, &fakeView{available: 10})
	if err != nil || act == nil {
		t.Fatalf("cheap yes should enter, got act=%+v err=%v", act, err)
	}

	pos := domain.Position{
		ID: "p1", MarketID: 42, TokenType: domain.TokenYes,
		AvgEntryPrice: 0.04, RemainingShares: 25, CostBasis: 1,
		Status: domain.PositionStatusOpen,
	}
	paid := bookTick(
		[]domain.PriceLevel{{Price: 0.12, Size: 100}},
		[]domain.PriceLevel{{Price: 0.14, Size: 100}},
	)
	act, err = s.OnPositionUpdate(pos, paid, &fakeView{})
	if err != nil {
		t.Fatal(err)
	}
	if act == nil || act.Type != domain.ActionClose {
		t.Fatalf("3x multiple should close, got %+v", act)
	}
}

func TestRegistryBuildsEveryVariant(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	want := []string{
		"book_imbalance", "favorite_hedge", "longshot", "map_longshot",
		"mean_reversion", "no_bias", "scalp", "swing_rebalance",
	}
	names := r.Names()
	if len(names) != len(want) {
		t.Fatalf("registry names = %v, want %v", names, want)
	}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("registry names = %v, want %v", names, want)
		}
		s, err := r.Build(name, Params{})
		if err != nil {
			t.Errorf("Build(%s): %v", name, err)
			continue
		}
		if s.Name() != name {
			t.Errorf("Build(%s).Name() = %s", name, s.Name())
		}
	}
	if _, err := r.Build("martingale", Params{}); err == nil {
		t.Error("unknown variant should fail")
	}
}
