package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyquant/tradebot/internal/domain"
)

const spreadColumns = `id, strategy, market_id, yes_position_id, no_position_id,
	cost_basis, realized_pnl, status, opened_at, closed_at`

// SpreadStore persists paired YES+NO holdings.
type SpreadStore struct {
	pool *pgxpool.Pool
}

// NewSpreadStore creates the store.
func NewSpreadStore(pool *pgxpool.Pool) *SpreadStore {
	return &SpreadStore{pool: pool}
}

func (s *SpreadStore) Create(ctx context.Context, sp domain.Spread) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO spreads (`+spreadColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sp.ID, sp.Strategy, sp.MarketID, sp.YesPositionID, sp.NoPositionID,
		sp.CostBasis, sp.RealizedPnL, string(sp.Status), sp.OpenedAt, sp.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres: create spread %s: %w", sp.ID, err)
	}
	return nil
}

func (s *SpreadStore) Update(ctx context.Context, sp domain.Spread) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE spreads SET cost_basis = $2, realized_pnl = $3, status = $4, closed_at = $5
		WHERE id = $1`,
		sp.ID, sp.CostBasis, sp.RealizedPnL, string(sp.Status), sp.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres: update spread %s: %w", sp.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SpreadStore) GetByID(ctx context.Context, id string) (domain.Spread, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+spreadColumns+` FROM spreads WHERE id = $1`, id)
	return scanSpread(row)
}

func (s *SpreadStore) ListOpen(ctx context.Context) ([]domain.Spread, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+spreadColumns+` FROM spreads WHERE status = 'open' ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open spreads: %w", err)
	}
	defer rows.Close()

	var out []domain.Spread
	for rows.Next() {
		sp, err := scanSpread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func scanSpread(row pgx.Row) (domain.Spread, error) {
	var sp domain.Spread
	err := row.Scan(&sp.ID, &sp.Strategy, &sp.MarketID, &sp.YesPositionID,
		&sp.NoPositionID, &sp.CostBasis, &sp.RealizedPnL, &sp.Status,
		&sp.OpenedAt, &sp.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Spread{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Spread{}, fmt.Errorf("postgres: scan spread: %w", err)
	}
	return sp, nil
}
