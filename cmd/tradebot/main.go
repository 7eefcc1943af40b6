// Command tradebot runs the automated prediction-market trading engine. It
// loads and validates configuration, wires dependencies, installs signal
// handling, and blocks until shutdown.
//
// Exit codes: 0 clean shutdown, 1 configuration error, 2 store connection
// error, 3 missing exchange credentials.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/polyquant/tradebot/internal/app"
	"github.com/polyquant/tradebot/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// Credentials are reported separately from general config problems so
	// operators can tell a secrets issue apart from a bad config file.
	if strings.ToLower(cfg.Mode) == "live" &&
		(cfg.Exchange.ApiKey == "" || cfg.Exchange.ApiSecret == "") {
		logger.Error("live mode requires exchange api_key and api_secret")
		return 3
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("tradebot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			logger.Info("shut down gracefully")
		case errors.Is(err, app.ErrCredentials):
			logger.Error("exiting", slog.String("error", err.Error()))
			return 3
		case errors.Is(err, app.ErrStore):
			logger.Error("exiting", slog.String("error", err.Error()))
			return 2
		default:
			logger.Error("engine exited with error", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			return 1
		}
	}

	logger.Info("tradebot stopped")
	return 0
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
