package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "TRADEBOT_MODE")
	setStr(&cfg.LogLevel, "TRADEBOT_LOG_LEVEL")

	setStr(&cfg.Exchange.RestHost, "TRADEBOT_EXCHANGE_REST_HOST")
	setStr(&cfg.Exchange.WsHost, "TRADEBOT_EXCHANGE_WS_HOST")
	setStr(&cfg.Exchange.ApiKey, "TRADEBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "TRADEBOT_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.ApiPassphrase, "TRADEBOT_EXCHANGE_API_PASSPHRASE")
	setInt(&cfg.Exchange.OrderTimeoutS, "TRADEBOT_EXCHANGE_ORDER_TIMEOUT_SECONDS")
	setInt(&cfg.Exchange.BookTimeoutS, "TRADEBOT_EXCHANGE_BOOK_TIMEOUT_SECONDS")

	setStr(&cfg.Postgres.DSN, "TRADEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEBOT_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "TRADEBOT_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "TRADEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEBOT_REDIS_DB")

	setFloat64(&cfg.Risk.MaxPositionUSD, "TRADEBOT_RISK_MAX_POSITION_USD")
	setFloat64(&cfg.Risk.MaxTotalExposureUSD, "TRADEBOT_RISK_MAX_TOTAL_EXPOSURE_USD")
	setInt(&cfg.Risk.MaxPositions, "TRADEBOT_RISK_MAX_POSITIONS")
	setInt(&cfg.Risk.MaxPositionsPerStrategy, "TRADEBOT_RISK_MAX_POSITIONS_PER_STRATEGY")
	setFloat64(&cfg.Risk.MaxDrawdownPct, "TRADEBOT_RISK_MAX_DRAWDOWN_PCT")

	setStr(&cfg.Sizing.Method, "TRADEBOT_SIZING_METHOD")
	setFloat64(&cfg.Sizing.FixedAmountUSD, "TRADEBOT_SIZING_FIXED_AMOUNT_USD")
	setFloat64(&cfg.Sizing.MaxSizeUSD, "TRADEBOT_SIZING_MAX_SIZE_USD")

	setStr(&cfg.Execution.DefaultOrderType, "TRADEBOT_EXECUTION_DEFAULT_ORDER_TYPE")
	setInt(&cfg.Execution.MaxSignalAgeSeconds, "TRADEBOT_EXECUTION_MAX_SIGNAL_AGE_SECONDS")
	setFloat64(&cfg.Execution.MaxPriceDeviation, "TRADEBOT_EXECUTION_MAX_PRICE_DEVIATION")
	setFloat64(&cfg.Execution.MaxSpread, "TRADEBOT_EXECUTION_MAX_SPREAD")
	setInt(&cfg.Execution.MaxRetryAttempts, "TRADEBOT_EXECUTION_MAX_RETRY_ATTEMPTS")

	setStr(&cfg.Notify.TelegramToken, "TRADEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADEBOT_NOTIFY_EVENTS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
