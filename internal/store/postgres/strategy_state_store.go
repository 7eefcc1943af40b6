package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyquant/tradebot/internal/domain"
)

const strategyStateColumns = `strategy, allocated_usd, available_usd, total_realized_pnl,
	total_unrealized_pnl, trade_count, win_count, loss_count, high_water_mark,
	max_drawdown, is_active, updated_at`

// StrategyStateStore persists per-strategy capital accounts.
type StrategyStateStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStateStore creates the store.
func NewStrategyStateStore(pool *pgxpool.Pool) *StrategyStateStore {
	return &StrategyStateStore{pool: pool}
}

func (s *StrategyStateStore) Upsert(ctx context.Context, st domain.StrategyState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO strategy_state (`+strategyStateColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (strategy) DO UPDATE SET
			allocated_usd = EXCLUDED.allocated_usd,
			available_usd = EXCLUDED.available_usd,
			total_realized_pnl = EXCLUDED.total_realized_pnl,
			total_unrealized_pnl = EXCLUDED.total_unrealized_pnl,
			trade_count = EXCLUDED.trade_count,
			win_count = EXCLUDED.win_count,
			loss_count = EXCLUDED.loss_count,
			high_water_mark = EXCLUDED.high_water_mark,
			max_drawdown = EXCLUDED.max_drawdown,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		st.Strategy, st.AllocatedUSD, st.AvailableUSD, st.TotalRealizedPnL,
		st.TotalUnrealizedPnL, st.TradeCount, st.WinCount, st.LossCount,
		st.HighWaterMark, st.MaxDrawdown, st.IsActive, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert strategy state %s: %w", st.Strategy, err)
	}
	return nil
}

func (s *StrategyStateStore) Get(ctx context.Context, strategy string) (domain.StrategyState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+strategyStateColumns+` FROM strategy_state WHERE strategy = $1`, strategy)
	return scanStrategyState(row)
}

func (s *StrategyStateStore) List(ctx context.Context) ([]domain.StrategyState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+strategyStateColumns+` FROM strategy_state ORDER BY strategy`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategy state: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategyState
	for rows.Next() {
		st, err := scanStrategyState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanStrategyState(row pgx.Row) (domain.StrategyState, error) {
	var st domain.StrategyState
	err := row.Scan(&st.Strategy, &st.AllocatedUSD, &st.AvailableUSD,
		&st.TotalRealizedPnL, &st.TotalUnrealizedPnL, &st.TradeCount,
		&st.WinCount, &st.LossCount, &st.HighWaterMark, &st.MaxDrawdown,
		&st.IsActive, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StrategyState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.StrategyState{}, fmt.Errorf("postgres: scan strategy state: %w", err)
	}
	return st, nil
}
