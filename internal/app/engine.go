package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyquant/tradebot/internal/config"
	"github.com/polyquant/tradebot/internal/domain"
	"github.com/polyquant/tradebot/internal/executor"
	"github.com/polyquant/tradebot/internal/gateway"
	"github.com/polyquant/tradebot/internal/notify"
	"github.com/polyquant/tradebot/internal/platform/polymarket"
	"github.com/polyquant/tradebot/internal/router"
	"github.com/polyquant/tradebot/internal/state"
	"github.com/polyquant/tradebot/internal/strategy"
)

// Engine is the assembled trading pipeline. Shutdown is staged: the gateway
// stops first and closes the tick stream, the router drains its worker queues
// and closes the action channel, and the executor finishes in-flight actions
// before the process exits. A grace timer bounds the drain.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	notifier *notify.Notifier

	manager *state.Manager
	gateway *gateway.Gateway
	router  *router.Router
	exec    *executor.Executor
	markets domain.MarketStore

	actions chan domain.Action
	done    chan struct{}
}

// newEngine builds every pipeline stage from configuration and restores
// durable state. Live mode refuses to start without exchange credentials.
func newEngine(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Engine, error) {
	mode := strings.ToLower(cfg.Mode)
	if mode == "live" && (cfg.Exchange.ApiKey == "" || cfg.Exchange.ApiSecret == "") {
		return nil, ErrCredentials
	}

	manager := state.NewManager(state.Stores{
		Positions: deps.Positions,
		Legs:      deps.Legs,
		Spreads:   deps.Spreads,
		Strategy:  deps.Strategy,
		Decisions: deps.Decisions,
		Cooldowns: deps.Cooldowns,
	}, state.Limits{
		MaxPositionUSD:          cfg.Risk.MaxPositionUSD,
		MaxTotalExposureUSD:     cfg.Risk.MaxTotalExposureUSD,
		MaxPositionsPerStrategy: cfg.Risk.MaxPositionsPerStrategy,
		MaxPositionsGlobal:      cfg.Risk.MaxPositions,
		MaxDrawdownPct:          cfg.Risk.MaxDrawdownPct,
	}, logger)

	if err := manager.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	// A pending decision surviving a restart marks an order whose outcome was
	// never recorded; surface it for manual reconciliation.
	if pending, err := manager.PendingDecisions(ctx); err != nil {
		logger.WarnContext(ctx, "pending decision scan failed", slog.String("error", err.Error()))
	} else {
		for _, d := range pending {
			logger.WarnContext(ctx, "unreconciled pending decision from previous run",
				slog.String("decision_id", d.ID),
				slog.String("strategy", d.Strategy),
				slog.Int64("market_id", d.MarketID),
			)
		}
	}

	reg := strategy.NewRegistry()
	var strats []strategy.Strategy
	for _, name := range cfg.EnabledStrategies() {
		sc := cfg.Strategies[name]
		s, err := reg.Build(name, strategy.Params(sc.Params))
		if err != nil {
			return nil, fmt.Errorf("app: strategy %s: %w", name, err)
		}
		alloc := sc.AllocationUSD
		if alloc <= 0 {
			alloc = cfg.Settings.DefaultAllocationUSD
		}
		cooldown := time.Duration(s.Caps().CooldownMinutes * float64(time.Minute))
		if err := manager.EnsureStrategy(ctx, name, alloc, cooldown); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}
		strats = append(strats, s)
	}
	if len(strats) == 0 {
		logger.WarnContext(ctx, "no strategies enabled, engine will only track state")
	}

	clob := polymarket.NewClobClient(polymarket.ClobConfig{
		BaseURL:       cfg.Exchange.RestHost,
		ApiKey:        cfg.Exchange.ApiKey,
		ApiSecret:     cfg.Exchange.ApiSecret,
		ApiPassphrase: cfg.Exchange.ApiPassphrase,
		BookTimeout:   time.Duration(cfg.Exchange.BookTimeoutS) * time.Second,
		OrderTimeout:  time.Duration(cfg.Exchange.OrderTimeoutS) * time.Second,
		OrderRate:     cfg.Exchange.OrderRatePerS,
	})

	frames := make(chan polymarket.RawFrame, 256)
	var gw *gateway.Gateway
	ws := polymarket.NewWSClient(
		cfg.Exchange.WsHost,
		time.Duration(cfg.Exchange.HeartbeatSecs)*time.Second,
		cfg.Exchange.MaxWSBatch,
		frames,
		func() {
			if gw != nil {
				gw.OnReconnect()
			}
		},
		logger,
	)
	gw = gateway.New(gateway.Config{
		TickBuffer:       cfg.Settings.TickBufferSize,
		RefreshInterval:  time.Duration(cfg.Settings.CatalogRefreshMinutes) * time.Minute,
		ExcludedKeywords: cfg.Filters.ExcludedKeywords,
		MinLiquidityUSD:  cfg.Filters.MinLiquidityUSD,
	}, deps.Markets, clob, ws, frames, gateway.Caches{
		Books:   deps.BookCache,
		Markets: deps.MarketCache,
	}, logger)

	actions := make(chan domain.Action, 64)
	rt := router.New(deps.Markets, manager, actions, cfg.Settings.StrategyQueueSize, logger)
	for _, s := range strats {
		caps := s.Caps()
		rt.Register(s, router.Filter{
			Categories: caps.MarketTypes,
			MinSpread:  caps.MinSpread,
			MaxSpread:  caps.MaxSpread,
		})
	}

	var filler executor.Filler
	if mode == "live" {
		filler = executor.NewLiveFiller(executor.LiveConfig{
			MaxRetryAttempts: cfg.Execution.MaxRetryAttempts,
			SpreadTimeout:    time.Duration(cfg.Execution.SpreadTimeoutSeconds) * time.Second,
		}, clob, logger)
	} else {
		filler = executor.NewPaperFiller(logger)
	}

	exec := executor.New(executor.Config{
		MaxSignalAge:       time.Duration(cfg.Execution.MaxSignalAgeSeconds) * time.Second,
		MaxPriceDeviation:  cfg.Execution.MaxPriceDeviation,
		MaxSpread:          cfg.Execution.MaxSpread,
		MaxFeeBps:          cfg.Execution.MaxFeeBps,
		MaxPositionUSD:     cfg.Risk.MaxPositionUSD,
		DefaultOrderKind:   domain.OrderKind(cfg.Execution.DefaultOrderType),
		LimitOffsetBps:     cfg.Execution.LimitOffsetBps,
		MarketSlippageBps:  cfg.Execution.MarketSlippageBps,
		SizingMethod:       cfg.Sizing.Method,
		FixedSizeUSD:       cfg.Sizing.FixedAmountUSD,
		KellyFraction:      cfg.Sizing.KellyFraction,
		MaxSizeUSD:         cfg.Sizing.MaxSizeUSD,
		Strategies:         strategyTuning(cfg),
		ErrorRateThreshold: cfg.Notify.ErrorRateThreshold,
		ErrorRateWindow:    time.Duration(cfg.Notify.ErrorRateWindowSec) * time.Second,
	}, clob, deps.Markets, manager, filler, deps.Notifier, logger)

	return &Engine{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "engine")),
		notifier: deps.Notifier,
		manager:  manager,
		gateway:  gw,
		router:   rt,
		exec:     exec,
		markets:  deps.Markets,
		actions:  actions,
		done:     make(chan struct{}),
	}, nil
}

// strategyTuning converts per-strategy config overrides into executor tuning.
func strategyTuning(cfg *config.Config) map[string]executor.StrategyTuning {
	out := make(map[string]executor.StrategyTuning, len(cfg.Strategies))
	for name, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		out[name] = executor.StrategyTuning{
			OrderKind:      domain.OrderKind(sc.Execution.OrderType),
			LimitOffsetBps: sc.Execution.LimitOffsetBps,
			SizingMethod:   sc.Sizing.Method,
			FixedSizeUSD:   sc.Sizing.FixedAmountUSD,
			MaxSizeUSD:     sc.Sizing.MaxSizeUSD,
		}
	}
	return out
}

// Run starts every stage and blocks until the context is cancelled and the
// pipeline has drained or the grace period expires.
func (e *Engine) Run(ctx context.Context) error {
	// The drain context outlives the parent so the router and executor can
	// finish queued work after the gateway stops.
	drainCtx, cancelDrain := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDrain()

	go func() {
		select {
		case <-ctx.Done():
		case <-e.done:
			return
		}
		grace := time.Duration(e.cfg.Settings.ShutdownGraceSeconds) * time.Second
		if grace <= 0 {
			grace = 15 * time.Second
		}
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-t.C:
			e.logger.Warn("shutdown grace expired, aborting drain")
			cancelDrain()
		case <-e.done:
		}
	}()

	g := new(errgroup.Group)
	g.Go(func() error {
		return ignoreCancel(e.gateway.Run(ctx))
	})
	g.Go(func() error {
		err := e.router.Run(drainCtx, e.gateway.Ticks())
		close(e.actions)
		return ignoreCancel(err)
	})
	g.Go(func() error {
		return ignoreCancel(e.exec.Run(drainCtx, e.actions))
	})
	g.Go(func() error {
		return e.lifecycleLoop(ctx)
	})
	g.Go(func() error {
		return e.snapshotLoop(ctx)
	})

	err := g.Wait()
	close(e.done)
	e.logger.Info("engine stopped")
	return err
}

// lifecycleLoop periodically re-reads the catalog for markets holding open
// positions and settles the ones whose outcome is known.
func (e *Engine) lifecycleLoop(ctx context.Context) error {
	interval := time.Duration(e.cfg.Settings.LifecyclePollMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.settleResolved(ctx)
		}
	}
}

func (e *Engine) settleResolved(ctx context.Context) {
	seen := make(map[int64]bool)
	for _, pos := range e.manager.OpenPositions() {
		if seen[pos.MarketID] {
			continue
		}
		seen[pos.MarketID] = true

		m, err := e.markets.GetByID(ctx, pos.MarketID)
		if err != nil {
			e.logger.WarnContext(ctx, "lifecycle catalog read failed",
				slog.Int64("market_id", pos.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if m.Outcome == nil {
			continue
		}

		if err := e.manager.ApplyResolution(ctx, m.MarketID, *m.Outcome); err != nil {
			e.logger.ErrorContext(ctx, "resolution settlement failed",
				slog.Int64("market_id", m.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if m.Status != domain.MarketStatusResolved {
			if err := e.markets.SetResolved(ctx, m.MarketID, *m.Outcome); err != nil {
				e.logger.WarnContext(ctx, "mark resolved failed",
					slog.Int64("market_id", m.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}
		e.logger.InfoContext(ctx, "market resolved",
			slog.Int64("market_id", m.MarketID),
			slog.String("outcome", string(*m.Outcome)),
		)
		if e.notifier != nil {
			_ = e.notifier.Notify(ctx, "market_resolved", "market resolved",
				fmt.Sprintf("market %d (%s) resolved %s", m.MarketID, m.Question, *m.Outcome))
		}
	}
}

// snapshotLoop logs a per-strategy equity snapshot each scan interval.
func (e *Engine) snapshotLoop(ctx context.Context) error {
	interval := time.Duration(e.cfg.Settings.ScanIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, name := range e.cfg.EnabledStrategies() {
				st, ok := e.manager.SnapshotStrategy(name)
				if !ok {
					continue
				}
				e.logger.InfoContext(ctx, "equity snapshot",
					slog.String("strategy", name),
					slog.Float64("equity", st.Equity()),
					slog.Float64("available_usd", st.AvailableUSD),
					slog.Float64("realized_pnl", st.TotalRealizedPnL),
					slog.Float64("max_drawdown", st.MaxDrawdown),
					slog.Int("open_positions", e.manager.OpenPositionCount(name)),
				)
			}
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
