// Package config defines the top-level configuration for the trading engine
// and provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TRADEBOT_* environment
// variables.
type Config struct {
	Mode       string                    `toml:"mode"` // "paper" or "live"
	LogLevel   string                    `toml:"log_level"`
	Settings   SettingsConfig            `toml:"settings"`
	Exchange   ExchangeConfig            `toml:"exchange"`
	Postgres   PostgresConfig            `toml:"postgres"`
	Redis      RedisConfig               `toml:"redis"`
	Risk       RiskConfig                `toml:"risk"`
	Sizing     SizingConfig              `toml:"sizing"`
	Execution  ExecutionConfig           `toml:"execution"`
	Filters    FiltersConfig             `toml:"filters"`
	Strategies map[string]StrategyConfig `toml:"strategies"`
	Notify     NotifyConfig              `toml:"notify"`
}

// SettingsConfig holds engine-wide cadence parameters.
type SettingsConfig struct {
	ScanIntervalSeconds   int     `toml:"scan_interval_seconds"`
	CatalogRefreshMinutes int     `toml:"catalog_refresh_minutes"`
	LifecyclePollMinutes  int     `toml:"lifecycle_poll_minutes"`
	ShutdownGraceSeconds  int     `toml:"shutdown_grace_seconds"`
	TickBufferSize        int     `toml:"tick_buffer_size"`
	StrategyQueueSize     int     `toml:"strategy_queue_size"`
	DefaultAllocationUSD  float64 `toml:"default_allocation_usd"`
}

// ExchangeConfig holds exchange REST and WebSocket endpoints.
type ExchangeConfig struct {
	RestHost      string `toml:"rest_host"`
	WsHost        string `toml:"ws_host"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
	MaxWSBatch    int    `toml:"max_ws_batch"`
	HeartbeatSecs int    `toml:"heartbeat_seconds"`
	OrderTimeoutS int    `toml:"order_timeout_seconds"`
	BookTimeoutS  int    `toml:"book_timeout_seconds"`
	OrderRatePerS int    `toml:"order_rate_per_second"`
}

// PostgresConfig holds database connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// RiskConfig holds global risk limits enforced by the execution pipeline.
type RiskConfig struct {
	MaxPositionUSD          float64 `toml:"max_position_usd"`
	MaxTotalExposureUSD     float64 `toml:"max_total_exposure_usd"`
	MaxPositions            int     `toml:"max_positions"`
	MaxPositionsPerStrategy int     `toml:"max_positions_per_strategy"`
	MaxDrawdownPct          float64 `toml:"max_drawdown_pct"`
}

// SizingConfig selects how entry sizes are determined.
type SizingConfig struct {
	Method         string  `toml:"method"` // fixed, kelly, vol_scaled
	FixedAmountUSD float64 `toml:"fixed_amount_usd"`
	KellyFraction  float64 `toml:"kelly_fraction"`
	MaxSizeUSD     float64 `toml:"max_size_usd"`
}

// ExecutionConfig holds order routing parameters.
type ExecutionConfig struct {
	DefaultOrderType     string  `toml:"default_order_type"` // market, limit
	LimitOffsetBps       float64 `toml:"limit_offset_bps"`
	SpreadTimeoutSeconds int     `toml:"spread_timeout_seconds"`
	MarketSlippageBps    float64 `toml:"market_slippage_bps"`
	MaxRetryAttempts     int     `toml:"max_retry_attempts"`
	MaxSignalAgeSeconds  int     `toml:"max_signal_age_seconds"`
	MaxPriceDeviation    float64 `toml:"max_price_deviation"`
	MaxSpread            float64 `toml:"max_spread"`
	MaxFeeBps            float64 `toml:"max_fee_bps"`
}

// FiltersConfig narrows which markets the engine trades at all.
type FiltersConfig struct {
	MinLiquidityUSD  float64  `toml:"min_liquidity_usd"`
	ExcludedKeywords []string `toml:"excluded_keywords"`
}

// StrategyConfig is the per-strategy block under [strategies.<name>].
// Params is a flat map validated against the variant's known keys at load.
type StrategyConfig struct {
	Enabled       bool               `toml:"enabled"`
	AllocationUSD float64            `toml:"allocation_usd"`
	Params        map[string]float64 `toml:"params"`
	Execution     ExecutionOverride  `toml:"execution"`
	Sizing        SizingOverride     `toml:"sizing"`
}

// ExecutionOverride carries per-strategy execution overrides; zero values
// fall back to the global [execution] block.
type ExecutionOverride struct {
	OrderType      string  `toml:"order_type"`
	LimitOffsetBps float64 `toml:"limit_offset_bps"`
}

// SizingOverride carries per-strategy sizing overrides.
type SizingOverride struct {
	Method         string  `toml:"method"`
	FixedAmountUSD float64 `toml:"fixed_amount_usd"`
	MaxSizeUSD     float64 `toml:"max_size_usd"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken      string   `toml:"telegram_token"`
	TelegramChatID     string   `toml:"telegram_chat_id"`
	DiscordWebhookURL  string   `toml:"discord_webhook_url"`
	Events             []string `toml:"events"`
	ErrorRateThreshold int      `toml:"error_rate_threshold"`
	ErrorRateWindowSec int      `toml:"error_rate_window_seconds"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Mode:     "paper",
		LogLevel: "info",
		Settings: SettingsConfig{
			ScanIntervalSeconds:   30,
			CatalogRefreshMinutes: 5,
			LifecyclePollMinutes:  5,
			ShutdownGraceSeconds:  15,
			TickBufferSize:        1024,
			StrategyQueueSize:     256,
			DefaultAllocationUSD:  100,
		},
		Exchange: ExchangeConfig{
			RestHost:      "https://clob.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			MaxWSBatch:    500,
			HeartbeatSecs: 30,
			OrderTimeoutS: 10,
			BookTimeoutS:  3,
			OrderRatePerS: 5,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradebot",
			User:          "tradebot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Risk: RiskConfig{
			MaxPositionUSD:          50,
			MaxTotalExposureUSD:     500,
			MaxPositions:            25,
			MaxPositionsPerStrategy: 5,
			MaxDrawdownPct:          0.25,
		},
		Sizing: SizingConfig{
			Method:         "fixed",
			FixedAmountUSD: 5,
			KellyFraction:  0.25,
			MaxSizeUSD:     50,
		},
		Execution: ExecutionConfig{
			DefaultOrderType:     "market",
			LimitOffsetBps:       20,
			SpreadTimeoutSeconds: 30,
			MarketSlippageBps:    10,
			MaxRetryAttempts:     3,
			MaxSignalAgeSeconds:  5,
			MaxPriceDeviation:    0.03,
			MaxSpread:            0.05,
			MaxFeeBps:            200,
		},
		Filters: FiltersConfig{
			MinLiquidityUSD: 100,
		},
		Strategies: map[string]StrategyConfig{},
		Notify: NotifyConfig{
			Events:             []string{"trade_executed", "market_resolved", "error_rate"},
			ErrorRateThreshold: 10,
			ErrorRateWindowSec: 300,
		},
	}
}

var validModes = map[string]bool{
	"paper": true,
	"live":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSizingMethods = map[string]bool{
	"fixed":      true,
	"kelly":      true,
	"vol_scaled": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Settings.ScanIntervalSeconds <= 0 {
		errs = append(errs, "settings: scan_interval_seconds must be > 0")
	}
	if c.Settings.TickBufferSize < 1 {
		errs = append(errs, "settings: tick_buffer_size must be >= 1")
	}
	if c.Settings.StrategyQueueSize < 1 {
		errs = append(errs, "settings: strategy_queue_size must be >= 1")
	}

	if c.Exchange.RestHost == "" {
		errs = append(errs, "exchange: rest_host must not be empty")
	}
	if c.Exchange.WsHost == "" {
		errs = append(errs, "exchange: ws_host must not be empty")
	}
	if c.Exchange.MaxWSBatch < 1 || c.Exchange.MaxWSBatch > 500 {
		errs = append(errs, fmt.Sprintf("exchange: max_ws_batch must be 1-500, got %d", c.Exchange.MaxWSBatch))
	}
	if strings.ToLower(c.Mode) == "live" {
		if c.Exchange.ApiKey == "" || c.Exchange.ApiSecret == "" {
			errs = append(errs, "exchange: api_key and api_secret are required for live mode")
		}
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}

	if c.Risk.MaxPositionUSD <= 0 {
		errs = append(errs, "risk: max_position_usd must be > 0")
	}
	if c.Risk.MaxTotalExposureUSD <= 0 {
		errs = append(errs, "risk: max_total_exposure_usd must be > 0")
	}
	if c.Risk.MaxPositions < 1 {
		errs = append(errs, "risk: max_positions must be >= 1")
	}
	if c.Risk.MaxPositionsPerStrategy < 1 {
		errs = append(errs, "risk: max_positions_per_strategy must be >= 1")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_drawdown_pct must be in (0,1], got %v", c.Risk.MaxDrawdownPct))
	}

	if !validSizingMethods[c.Sizing.Method] {
		errs = append(errs, fmt.Sprintf("sizing: unknown method %q (valid: fixed, kelly, vol_scaled)", c.Sizing.Method))
	}
	if c.Sizing.Method == "fixed" && c.Sizing.FixedAmountUSD <= 0 {
		errs = append(errs, "sizing: fixed_amount_usd must be > 0 for fixed sizing")
	}
	if c.Sizing.MaxSizeUSD <= 0 {
		errs = append(errs, "sizing: max_size_usd must be > 0")
	}

	switch c.Execution.DefaultOrderType {
	case "market", "limit":
	default:
		errs = append(errs, fmt.Sprintf("execution: unknown default_order_type %q", c.Execution.DefaultOrderType))
	}
	if c.Execution.MaxSignalAgeSeconds <= 0 {
		errs = append(errs, "execution: max_signal_age_seconds must be > 0")
	}
	if c.Execution.MaxPriceDeviation <= 0 {
		errs = append(errs, "execution: max_price_deviation must be > 0")
	}
	if c.Execution.MaxSpread <= 0 {
		errs = append(errs, "execution: max_spread must be > 0")
	}
	if c.Execution.MaxRetryAttempts < 0 {
		errs = append(errs, "execution: max_retry_attempts must be >= 0")
	}

	for name, sc := range c.Strategies {
		if sc.Enabled && sc.AllocationUSD < 0 {
			errs = append(errs, fmt.Sprintf("strategies.%s: allocation_usd must be >= 0", name))
		}
		if sc.Sizing.Method != "" && !validSizingMethods[sc.Sizing.Method] {
			errs = append(errs, fmt.Sprintf("strategies.%s: unknown sizing method %q", name, sc.Sizing.Method))
		}
		if ot := sc.Execution.OrderType; ot != "" && ot != "market" && ot != "limit" {
			errs = append(errs, fmt.Sprintf("strategies.%s: unknown order_type %q", name, ot))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// EnabledStrategies returns the names of all enabled strategy blocks in
// stable order.
func (c *Config) EnabledStrategies() []string {
	names := make([]string, 0, len(c.Strategies))
	for name, sc := range c.Strategies {
		if sc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
