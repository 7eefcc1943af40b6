// Package postgres implements the persistent store interfaces over a pgx
// connection pool. Schema migrations are embedded and applied at startup.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyquant/tradebot/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client owns the connection pool shared by every store.
type Client struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens the pool, pings it, and optionally applies migrations.
func Connect(ctx context.Context, cfg config.PostgresConfig, logger *slog.Logger) (*Client, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.PoolMaxConns)
	poolCfg.MinConns = int32(cfg.PoolMinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	c := &Client{pool: pool, logger: logger.With(slog.String("component", "postgres"))}
	if cfg.RunMigrations {
		if err := c.migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return c, nil
}

// Pool exposes the underlying pool to the store constructors.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}

// migrate applies embedded migrations in filename order, tracking them in a
// schema_migrations table. Each file runs in its own transaction.
func (c *Client) migrate(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("postgres: init schema_migrations: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		if err := c.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, name,
		).Scan(&applied); err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		sql, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("postgres: load migration %s: %w", name, err)
		}

		tx, err := c.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("postgres: begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: record migration %s: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("postgres: commit migration %s: %w", name, err)
		}
		c.logger.Info("migration applied", slog.String("filename", name))
	}
	return nil
}
