package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyquant/tradebot/internal/domain"
)

// LegStore persists the append-only fill log per position.
type LegStore struct {
	pool *pgxpool.Pool
}

// NewLegStore creates the store.
func NewLegStore(pool *pgxpool.Pool) *LegStore {
	return &LegStore{pool: pool}
}

func (s *LegStore) Append(ctx context.Context, leg domain.PositionLeg) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO position_legs (id, position_id, delta_shares, price, cost_delta, trigger_reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		leg.ID, leg.PositionID, leg.DeltaShares, leg.Price, leg.CostDelta,
		leg.TriggerReason, leg.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append leg for %s: %w", leg.PositionID, err)
	}
	return nil
}

func (s *LegStore) ListByPosition(ctx context.Context, positionID string) ([]domain.PositionLeg, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, position_id, delta_shares, price, cost_delta, trigger_reason, created_at
		FROM position_legs WHERE position_id = $1 ORDER BY created_at`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list legs for %s: %w", positionID, err)
	}
	defer rows.Close()

	var out []domain.PositionLeg
	for rows.Next() {
		var leg domain.PositionLeg
		if err := rows.Scan(&leg.ID, &leg.PositionID, &leg.DeltaShares, &leg.Price,
			&leg.CostDelta, &leg.TriggerReason, &leg.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan leg: %w", err)
		}
		out = append(out, leg)
	}
	return out, rows.Err()
}
