package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/polyquant/tradebot/internal/cache/redis"
	"github.com/polyquant/tradebot/internal/config"
	"github.com/polyquant/tradebot/internal/domain"
	"github.com/polyquant/tradebot/internal/notify"
	"github.com/polyquant/tradebot/internal/store/postgres"
)

// Sentinel errors let the entry point map wiring failures to exit codes.
var (
	ErrStore       = errors.New("app: store connection failed")
	ErrCredentials = errors.New("app: missing exchange credentials")
)

// Dependencies bundles the infrastructure the engine needs. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Markets   domain.MarketStore
	Positions domain.PositionStore
	Legs      domain.LegStore
	Spreads   domain.SpreadStore
	Strategy  domain.StrategyStateStore
	Decisions domain.DecisionStore
	Cooldowns domain.CooldownStore

	BookCache   domain.OrderbookCache // nil when Redis is disabled
	MarketCache domain.MarketCache    // nil when Redis is disabled

	Notifier *notify.Notifier
}

// Wire constructs the concrete store, cache, and notification implementations
// and returns them with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	pgClient, err := postgres.Connect(ctx, cfg.Postgres, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	closers = append(closers, pgClient.Close)

	pool := pgClient.Pool()
	deps.Markets = postgres.NewMarketStore(pool)
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Legs = postgres.NewLegStore(pool)
	deps.Spreads = postgres.NewSpreadStore(pool)
	deps.Strategy = postgres.NewStrategyStateStore(pool)
	deps.Decisions = postgres.NewDecisionStore(pool)
	deps.Cooldowns = postgres.NewCooldownStore(pool)

	if cfg.Redis.Enabled {
		redisClient, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			// The engine is fully functional without the cache mirror.
			logger.WarnContext(ctx, "redis unavailable, running without cache mirror",
				slog.String("error", err.Error()),
			)
		} else {
			closers = append(closers, func() { _ = redisClient.Close() })
			deps.BookCache = redis.NewOrderbookCache(redisClient)
			deps.MarketCache = redis.NewMarketCache(redisClient)
		}
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
