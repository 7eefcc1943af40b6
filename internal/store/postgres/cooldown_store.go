package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyquant/tradebot/internal/domain"
)

// CooldownStore persists entry cooldowns so they survive restarts.
type CooldownStore struct {
	pool *pgxpool.Pool
}

// NewCooldownStore creates the store.
func NewCooldownStore(pool *pgxpool.Pool) *CooldownStore {
	return &CooldownStore{pool: pool}
}

func (s *CooldownStore) Upsert(ctx context.Context, c domain.Cooldown) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cooldowns (strategy, market_id, last_entry)
		VALUES ($1,$2,$3)
		ON CONFLICT (strategy, market_id) DO UPDATE SET last_entry = EXCLUDED.last_entry`,
		c.Strategy, c.MarketID, c.LastEntry)
	if err != nil {
		return fmt.Errorf("postgres: upsert cooldown %s/%d: %w", c.Strategy, c.MarketID, err)
	}
	return nil
}

func (s *CooldownStore) List(ctx context.Context) ([]domain.Cooldown, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT strategy, market_id, last_entry FROM cooldowns`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cooldowns: %w", err)
	}
	defer rows.Close()

	var out []domain.Cooldown
	for rows.Next() {
		var c domain.Cooldown
		if err := rows.Scan(&c.Strategy, &c.MarketID, &c.LastEntry); err != nil {
			return nil, fmt.Errorf("postgres: scan cooldown: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
