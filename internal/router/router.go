// Package router fans enriched ticks out to registered strategies. Each
// strategy runs on its own worker goroutine behind a bounded queue so one
// slow strategy never stalls the others, and per-token tick order is
// preserved within each strategy.
package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/polyquant/tradebot/internal/domain"
	"github.com/polyquant/tradebot/internal/strategy"
)

// defaultQueueDepth is the per-strategy tick buffer.
const defaultQueueDepth = 256

// Catalog resolves a tick's market. Ticks whose market is unknown are
// dropped before any strategy sees them.
type Catalog interface {
	GetByID(ctx context.Context, marketID int64) (domain.Market, error)
}

// Router dispatches each accepted tick to exactly one entry point per
// strategy: OnPositionUpdate when the strategy holds an open position on the
// tick's market, OnTick otherwise.
type Router struct {
	catalog    Catalog
	view       strategy.StateView
	actions    chan<- domain.Action
	queueDepth int
	logger     *slog.Logger

	mu      sync.Mutex
	workers []*worker
	started bool
}

// worker is one strategy's dispatch loop plus its bounded tick queue.
type worker struct {
	strat  strategy.Strategy
	filter Filter
	queue  chan domain.Tick

	dropped     atomic.Uint64
	failedTicks atomic.Uint64
}

// New creates a Router that forwards produced actions to the given channel.
func New(catalog Catalog, view strategy.StateView, actions chan<- domain.Action, queueDepth int, logger *slog.Logger) *Router {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	return &Router{
		catalog:    catalog,
		view:       view,
		actions:    actions,
		queueDepth: queueDepth,
		logger:     logger.With(slog.String("component", "router")),
	}
}

// Register adds a strategy with its declared filter. Must be called before
// Run.
func (r *Router) Register(s strategy.Strategy, f Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		panic("router: Register after Run")
	}
	r.workers = append(r.workers, &worker{
		strat:  s,
		filter: f,
		queue:  make(chan domain.Tick, r.queueDepth),
	})
}

// Run consumes ticks until the channel closes or ctx is cancelled. It
// returns after every worker has drained its queue.
func (r *Router) Run(ctx context.Context, ticks <-chan domain.Tick) error {
	r.mu.Lock()
	r.started = true
	workers := r.workers
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runWorker(ctx, w)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			for _, w := range workers {
				close(w.queue)
			}
			wg.Wait()
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				for _, w := range workers {
					close(w.queue)
				}
				wg.Wait()
				return nil
			}
			r.route(ctx, tick, workers)
		}
	}
}

// route offers one tick to every interested worker, evicting the oldest
// queued tick on overflow.
func (r *Router) route(ctx context.Context, tick domain.Tick, workers []*worker) {
	market, err := r.catalog.GetByID(ctx, tick.MarketID)
	if err != nil {
		r.logger.Debug("tick for unknown market dropped",
			slog.Int64("market_id", tick.MarketID),
		)
		return
	}

	for _, w := range workers {
		if !w.filter.Accepts(tick, market.Category) {
			continue
		}
		if !w.strat.FilterTick(tick) {
			continue
		}
		select {
		case w.queue <- tick:
		default:
			// Full queue: make room by discarding the oldest tick.
			select {
			case <-w.queue:
				w.dropped.Add(1)
			default:
			}
			select {
			case w.queue <- tick:
			default:
				w.dropped.Add(1)
			}
		}
	}
}

// runWorker drains one strategy's queue until it closes.
func (r *Router) runWorker(ctx context.Context, w *worker) {
	logger := r.logger.With(slog.String("strategy", w.strat.Name()))
	for tick := range w.queue {
		action := r.dispatch(logger, w, tick)
		if action == nil {
			continue
		}
		select {
		case r.actions <- *action:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch invokes exactly one strategy entry point for the tick, absorbing
// panics and errors so a misbehaving strategy cannot take down the router.
func (r *Router) dispatch(logger *slog.Logger, w *worker, tick domain.Tick) (action *domain.Action) {
	defer func() {
		if rec := recover(); rec != nil {
			w.failedTicks.Add(1)
			logger.Error("strategy panicked",
				slog.Any("panic", rec),
				slog.Int64("market_id", tick.MarketID),
				slog.String("token_id", tick.TokenID),
				slog.Uint64("seq", tick.Seq),
			)
			action = nil
		}
	}()

	pos, ok := r.openPosition(w.strat.Name(), tick)
	var err error
	if ok {
		action, err = w.strat.OnPositionUpdate(pos, tick, r.view)
	} else {
		action, err = w.strat.OnTick(tick, r.view)
	}
	if err != nil {
		w.failedTicks.Add(1)
		logger.Error("strategy error",
			slog.String("error", err.Error()),
			slog.Int64("market_id", tick.MarketID),
			slog.Uint64("seq", tick.Seq),
		)
		return nil
	}
	return action
}

// openPosition finds the strategy's open position on the tick's market,
// preferring the leg matching the tick's token side.
func (r *Router) openPosition(name string, tick domain.Tick) (domain.Position, bool) {
	if pos, ok := r.view.OpenPosition(name, tick.MarketID, tick.TokenType); ok {
		return pos, true
	}
	return r.view.OpenPosition(name, tick.MarketID, tick.TokenType.Opposite())
}

// Stats reports per-strategy drop and failure counters.
func (r *Router) Stats() map[string]WorkerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]WorkerStats, len(r.workers))
	for _, w := range r.workers {
		out[w.strat.Name()] = WorkerStats{
			Dropped:     w.dropped.Load(),
			FailedTicks: w.failedTicks.Load(),
		}
	}
	return out
}

// WorkerStats are the per-strategy router counters.
type WorkerStats struct {
	Dropped     uint64
	FailedTicks uint64
}
