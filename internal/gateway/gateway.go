// Package gateway implements the market data gateway: it owns the live
// orderbook per subscribed token, consumes the exchange WebSocket stream,
// and emits enriched ticks to the router. It also owns subscription
// membership, refreshed periodically from the market catalog.
package gateway

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyquant/tradebot/internal/domain"
	"github.com/polyquant/tradebot/internal/platform/polymarket"
)

// velocityWindow is the lookback for the mid-price velocity metric.
const velocityWindow = 60 * time.Second

// BookFetcher re-requests authoritative book snapshots after reconnects.
type BookFetcher interface {
	FetchBooks(ctx context.Context, tokenIDs []string) map[string]domain.OrderbookState
}

// Feed is the subscription surface of the WebSocket client.
type Feed interface {
	Run(ctx context.Context) error
	SetMembership(tokenIDs []string)
	Members() []string
}

// Config holds gateway tuning parameters.
type Config struct {
	TickBuffer       int
	RefreshInterval  time.Duration
	ExcludedKeywords []string

	// MinLiquidityUSD suppresses ticks from books with less than this much
	// resting notional across both sides. Zero disables the floor.
	MinLiquidityUSD float64
}

// Caches are the optional out-of-process mirrors the gateway keeps warm.
// Either field may be nil.
type Caches struct {
	Books   domain.OrderbookCache
	Markets domain.MarketCache
}

// Gateway maintains per-token orderbook state and emits domain.Tick values.
// It is the only writer of orderbook state; consumers receive value copies.
type Gateway struct {
	cfg     Config
	catalog domain.MarketStore
	fetcher BookFetcher
	feed    Feed
	frames  <-chan polymarket.RawFrame
	caches  Caches
	logger  *slog.Logger

	queue *tickQueue
	out   chan domain.Tick

	mu        sync.Mutex
	markets   map[string]domain.Market // token ID -> market
	books     map[string]*tokenBook
	reconnect chan struct{}

	malformed uint64
}

// tokenBook is the gateway-private mutable state for one token.
type tokenBook struct {
	state   domain.OrderbookState
	stale   bool // true until a fresh snapshot arrives after (re)connect
	seq     uint64
	samples []midSample
}

type midSample struct {
	at  time.Time
	mid float64
}

// New creates a Gateway. frames is the raw frame channel fed by the
// WebSocket client; caches may be zero to disable mirroring.
func New(cfg Config, catalog domain.MarketStore, fetcher BookFetcher, feed Feed, frames <-chan polymarket.RawFrame, caches Caches, logger *slog.Logger) *Gateway {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	return &Gateway{
		cfg:       cfg,
		catalog:   catalog,
		fetcher:   fetcher,
		feed:      feed,
		frames:    frames,
		caches:    caches,
		logger:    logger.With(slog.String("component", "gateway")),
		queue:     newTickQueue(cfg.TickBuffer),
		out:       make(chan domain.Tick),
		markets:   make(map[string]domain.Market),
		books:     make(map[string]*tokenBook),
		reconnect: make(chan struct{}, 1),
	}
}

// Ticks returns the enriched tick stream consumed by the router.
func (g *Gateway) Ticks() <-chan domain.Tick {
	return g.out
}

// Dropped returns the backpressure drop counter.
func (g *Gateway) Dropped() uint64 {
	return g.queue.Dropped()
}

// OnReconnect is wired as the WebSocket client's reconnect hook. It marks
// every book stale so no tick is emitted until an authoritative snapshot
// arrives, and schedules a REST resync.
func (g *Gateway) OnReconnect() {
	g.mu.Lock()
	for _, b := range g.books {
		b.stale = true
	}
	g.mu.Unlock()

	select {
	case g.reconnect <- struct{}{}:
	default:
	}
}

// Run starts the ingest, pump, membership refresh, and resync loops and
// blocks until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.InfoContext(ctx, "gateway started")
	defer g.logger.Info("gateway stopped")

	if err := g.refreshMembership(ctx); err != nil {
		g.logger.WarnContext(ctx, "initial membership refresh failed", slog.String("error", err.Error()))
	}

	g.sweepStale(ctx)

	g.mu.Lock()
	empty := len(g.markets) == 0
	g.mu.Unlock()
	if empty {
		g.logger.WarnContext(ctx, "no tradeable markets in catalog, gateway will idle until refresh")
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return g.feed.Run(ctx) })
	eg.Go(func() error { return g.ingestLoop(ctx) })
	eg.Go(func() error { return g.pumpLoop(ctx) })
	eg.Go(func() error { return g.refreshLoop(ctx) })
	eg.Go(func() error { return g.resyncLoop(ctx) })
	err := eg.Wait()
	// Closing the tick stream lets downstream consumers drain and stop in
	// order during shutdown.
	close(g.out)
	return err
}

// ingestLoop decodes raw frames and applies them to book state. Malformed
// events are logged and skipped, never fatal.
func (g *Gateway) ingestLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-g.frames:
			if !ok {
				return nil
			}
			ev, err := polymarket.ParseEvent(frame.Data, frame.Binary)
			if err != nil {
				g.malformed++
				g.logger.Debug("malformed event skipped",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(frame.Data)),
				)
				continue
			}
			if ev == nil {
				continue
			}
			g.apply(ctx, ev)
		}
	}
}

// pumpLoop moves ticks from the bounded queue to the outbound channel.
func (g *Gateway) pumpLoop(ctx context.Context) error {
	for {
		tick, ok := g.queue.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-g.queue.notify:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case g.out <- tick:
		}
	}
}

// refreshLoop re-reads the market catalog on the configured interval.
func (g *Gateway) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := g.refreshMembership(ctx); err != nil {
				g.logger.WarnContext(ctx, "membership refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// resyncLoop refetches authoritative book snapshots after each reconnect.
func (g *Gateway) resyncLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.reconnect:
			g.sweepStale(ctx)
		}
	}
}

// refreshMembership reloads the tradeable market set from the catalog and
// updates the feed subscription. Idempotent: unchanged membership is a no-op
// on the wire for already-subscribed tokens.
func (g *Gateway) refreshMembership(ctx context.Context) error {
	markets, err := g.catalog.ListTradeable(ctx, domain.ListOpts{})
	if err != nil {
		return err
	}

	byToken := make(map[string]domain.Market)
	var tokens []string
	for _, m := range markets {
		if g.excluded(m.Question) {
			continue
		}
		for _, tok := range m.TokenIDs() {
			if tok == "" {
				continue
			}
			byToken[tok] = m
			tokens = append(tokens, tok)
		}
	}

	g.mu.Lock()
	dropped := make(map[int64]bool)
	for tok, m := range g.markets {
		if _, ok := byToken[tok]; !ok {
			dropped[m.MarketID] = true
		}
	}
	g.markets = byToken
	for tok := range byToken {
		if _, ok := g.books[tok]; !ok {
			g.books[tok] = &tokenBook{stale: true}
		}
	}
	for tok := range g.books {
		if _, ok := byToken[tok]; !ok {
			delete(g.books, tok)
		}
	}
	g.mu.Unlock()

	g.mirrorCatalog(ctx, markets, dropped)
	g.feed.SetMembership(tokens)
	g.logger.InfoContext(ctx, "membership refreshed",
		slog.Int("markets", len(markets)),
		slog.Int("tokens", len(tokens)),
	)
	return nil
}

// sweepStale refetches snapshots for every stale token over REST so books
// never serve pre-disconnect ladders.
func (g *Gateway) sweepStale(ctx context.Context) {
	if g.fetcher == nil {
		return
	}
	g.mu.Lock()
	var staleTokens []string
	for tok, b := range g.books {
		if b.stale {
			staleTokens = append(staleTokens, tok)
		}
	}
	g.mu.Unlock()
	if len(staleTokens) == 0 {
		return
	}

	fresh := g.fetcher.FetchBooks(ctx, staleTokens)
	now := time.Now().UTC()
	for tok, book := range fresh {
		g.applyBookState(ctx, tok, book, now)
	}
	g.logger.InfoContext(ctx, "stale books resynced",
		slog.Int("requested", len(staleTokens)),
		slog.Int("refreshed", len(fresh)),
	)
}

func (g *Gateway) excluded(question string) bool {
	q := strings.ToLower(question)
	for _, kw := range g.cfg.ExcludedKeywords {
		if kw != "" && strings.Contains(q, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// apply routes one decoded event into book state and tick emission.
func (g *Gateway) apply(ctx context.Context, ev *polymarket.Event) {
	now := time.Now().UTC()
	switch {
	case ev.Book != nil:
		book := domain.OrderbookState{
			TokenID:    ev.Book.AssetID,
			Bids:       polymarket.Levels(ev.Book.Buys),
			Asks:       polymarket.Levels(ev.Book.Sells),
			LastUpdate: now,
		}
		book.Normalize()
		g.applyBookState(ctx, ev.Book.AssetID, book, now)

	case ev.PriceChange != nil:
		g.applyPriceChange(ctx, ev.PriceChange, now)

	case ev.Trade != nil:
		g.applyTrade(ctx, ev.Trade, now)
	}
}

// applyBookState installs an authoritative snapshot and emits a book tick.
func (g *Gateway) applyBookState(ctx context.Context, tokenID string, book domain.OrderbookState, now time.Time) {
	g.mu.Lock()
	b, ok := g.books[tokenID]
	if !ok {
		g.mu.Unlock()
		return
	}
	b.state = book
	b.stale = false
	b.seq++
	seq := b.seq
	g.recordSampleLocked(b, now)
	g.mu.Unlock()

	g.mirror(ctx, book)
	g.emit(tokenID, domain.TickEventBook, seq, now, nil)
}

// applyPriceChange patches one ladder level in place.
func (g *Gateway) applyPriceChange(ctx context.Context, pc *polymarket.PriceChangeMessage, now time.Time) {
	price := parsePrice(pc.Price)
	size := parsePrice(pc.Size)
	if price <= 0 {
		g.malformed++
		return
	}

	g.mu.Lock()
	b, ok := g.books[pc.AssetID]
	if !ok || b.stale {
		g.mu.Unlock()
		return
	}
	side := &b.state.Asks
	if pc.Side == "BUY" {
		side = &b.state.Bids
	}
	patched := false
	for i := range *side {
		if (*side)[i].Price == price {
			(*side)[i].Size = size
			patched = true
			break
		}
	}
	if !patched && size > 0 {
		*side = append(*side, domain.PriceLevel{Price: price, Size: size})
	}
	b.state.Normalize()
	b.state.LastUpdate = now
	b.seq++
	seq := b.seq
	book := b.state.Snapshot()
	g.recordSampleLocked(b, now)
	g.mu.Unlock()

	g.mirror(ctx, book)
	g.emit(pc.AssetID, domain.TickEventPriceChange, seq, now, nil)
}

// applyTrade emits a trade tick carrying the current book.
func (g *Gateway) applyTrade(ctx context.Context, tr *polymarket.TradeMessage, now time.Time) {
	g.mu.Lock()
	b, ok := g.books[tr.AssetID]
	if !ok || b.stale {
		g.mu.Unlock()
		return
	}
	b.seq++
	seq := b.seq
	g.mu.Unlock()

	trade := &tradeInfo{
		price: parsePrice(tr.Price),
		size:  parsePrice(tr.Size),
		side:  domain.TradeSide(tr.Side),
	}
	g.emit(tr.AssetID, domain.TickEventTrade, seq, now, trade)
}

type tradeInfo struct {
	price float64
	size  float64
	side  domain.TradeSide
}

// emit builds the enriched tick for tokenID and pushes it through the
// bounded queue. Emission is suppressed when the event token's book has no
// liquidity on either side.
func (g *Gateway) emit(tokenID string, event domain.TickEvent, seq uint64, now time.Time, trade *tradeInfo) {
	g.mu.Lock()
	market, ok := g.markets[tokenID]
	if !ok {
		g.mu.Unlock()
		return
	}
	b := g.books[tokenID]
	if b == nil || b.stale || !b.state.HasLiquidity() {
		g.mu.Unlock()
		return
	}
	if g.cfg.MinLiquidityUSD > 0 && bookNotional(b.state) < g.cfg.MinLiquidityUSD {
		g.mu.Unlock()
		return
	}

	tokenType, _ := market.TokenType(tokenID)
	book := b.state.Snapshot()
	velocity := g.velocityLocked(b, now)

	// The opposite side's prices come from its own book when live, and are
	// derived as the complement otherwise. Explicit exchange values win.
	otherID := market.NoTokenID
	if tokenType == domain.TokenNo {
		otherID = market.YesTokenID
	}
	var otherBook *domain.OrderbookState
	if ob, ok := g.books[otherID]; ok && !ob.stale && ob.state.HasLiquidity() {
		snap := ob.state.Snapshot()
		otherBook = &snap
	}
	g.mu.Unlock()

	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()
	mid := book.MidPrice()

	tick := domain.Tick{
		MarketID:    market.MarketID,
		ConditionID: market.ConditionID,
		TokenID:     tokenID,
		TokenType:   tokenType,
		Event:       event,
		Seq:         seq,
		Timestamp:   now,
		Spread:      book.Spread(),
		Imbalance:   book.Imbalance(),
		Velocity1m:  velocity,
		Book:        book,
	}

	var oBid, oAsk, oMid float64
	if otherBook != nil {
		oBid, _ = otherBook.BestBid()
		oAsk, _ = otherBook.BestAsk()
		oMid = otherBook.MidPrice()
	} else {
		// Complement pricing: NO bid mirrors YES ask and vice versa.
		oBid, oAsk, oMid = 1-ask, 1-bid, 1-mid
	}

	if tokenType == domain.TokenYes {
		tick.YesBid, tick.YesAsk, tick.YesMid = bid, ask, mid
		tick.NoBid, tick.NoAsk, tick.NoMid = oBid, oAsk, oMid
	} else {
		tick.NoBid, tick.NoAsk, tick.NoMid = bid, ask, mid
		tick.YesBid, tick.YesAsk, tick.YesMid = oBid, oAsk, oMid
	}

	if trade != nil {
		tick.LastTradePrice = trade.price
		tick.TradeSize = trade.size
		tick.TradeSide = trade.side
	}

	g.queue.Push(tick)
}

// recordSampleLocked appends a mid sample for velocity and trims the ring to
// the lookback window. Caller must hold g.mu.
func (g *Gateway) recordSampleLocked(b *tokenBook, now time.Time) {
	mid := b.state.MidPrice()
	if mid <= 0 {
		return
	}
	b.samples = append(b.samples, midSample{at: now, mid: mid})
	cutoff := now.Add(-velocityWindow - 5*time.Second)
	for len(b.samples) > 0 && b.samples[0].at.Before(cutoff) {
		b.samples = b.samples[1:]
	}
}

// velocityLocked computes (mid(t) - mid(t-60s)) / 60, using the oldest
// retained sample when history is shorter than the window.
func (g *Gateway) velocityLocked(b *tokenBook, now time.Time) float64 {
	if len(b.samples) < 2 {
		return 0
	}
	current := b.samples[len(b.samples)-1]
	reference := b.samples[0]
	target := now.Add(-velocityWindow)
	for _, s := range b.samples {
		if !s.at.After(target) {
			reference = s
		} else {
			break
		}
	}
	return (current.mid - reference.mid) / velocityWindow.Seconds()
}

// mirrorCatalog keeps the market cache in step with the tradeable set:
// current markets are written through, markets that left the set are evicted.
func (g *Gateway) mirrorCatalog(ctx context.Context, current []domain.Market, dropped map[int64]bool) {
	if g.caches.Markets == nil {
		return
	}
	for _, m := range current {
		if err := g.caches.Markets.Set(ctx, m); err != nil {
			g.logger.Debug("market cache mirror failed",
				slog.Int64("market_id", m.MarketID),
				slog.String("error", err.Error()),
			)
		}
		delete(dropped, m.MarketID)
	}
	for id := range dropped {
		if err := g.caches.Markets.Invalidate(ctx, id); err != nil {
			g.logger.Debug("market cache eviction failed",
				slog.Int64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// mirror writes the snapshot into the optional out-of-process cache.
func (g *Gateway) mirror(ctx context.Context, book domain.OrderbookState) {
	if g.caches.Books == nil {
		return
	}
	if err := g.caches.Books.SetSnapshot(ctx, book); err != nil {
		g.logger.Debug("book cache mirror failed",
			slog.String("token", book.TokenID),
			slog.String("error", err.Error()),
		)
	}
}

// bookNotional sums the resting value on both sides of a book.
func bookNotional(b domain.OrderbookState) float64 {
	var n float64
	for _, l := range b.Bids {
		n += l.Price * l.Size
	}
	for _, l := range b.Asks {
		n += l.Price * l.Size
	}
	return n
}

func parsePrice(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
