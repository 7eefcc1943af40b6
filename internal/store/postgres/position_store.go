package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyquant/tradebot/internal/domain"
)

const positionColumns = `id, strategy, market_id, condition_id, token_id, token_type,
	avg_entry_price, remaining_shares, cost_basis, realized_pnl, status,
	spread_id, opened_at, closed_at, close_reason`

// PositionStore persists positions.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates the store.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		p.ID, p.Strategy, p.MarketID, p.ConditionID, p.TokenID, string(p.TokenType),
		p.AvgEntryPrice, p.RemainingShares, p.CostBasis, p.RealizedPnL, string(p.Status),
		nullableStr(p.SpreadID), p.OpenedAt, p.ClosedAt, p.CloseReason)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE positions SET
			avg_entry_price = $2, remaining_shares = $3, cost_basis = $4,
			realized_pnl = $5, status = $6, spread_id = $7, closed_at = $8,
			close_reason = $9
		WHERE id = $1`,
		p.ID, p.AvgEntryPrice, p.RemainingShares, p.CostBasis, p.RealizedPnL,
		string(p.Status), nullableStr(p.SpreadID), p.ClosedAt, p.CloseReason)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	return scanPosition(row)
}

func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status = 'open' ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func (s *PositionStore) ListByStrategy(ctx context.Context, strategy string, opts domain.ListOpts) ([]domain.Position, error) {
	q := `SELECT ` + positionColumns + ` FROM positions WHERE strategy = $1 ORDER BY opened_at DESC`
	args := []any{strategy}
	if opts.Limit > 0 {
		q += ` LIMIT $2 OFFSET $3`
		args = append(args, opts.Limit, opts.Offset)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", strategy, err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var spreadID *string
	err := row.Scan(&p.ID, &p.Strategy, &p.MarketID, &p.ConditionID, &p.TokenID,
		&p.TokenType, &p.AvgEntryPrice, &p.RemainingShares, &p.CostBasis,
		&p.RealizedPnL, &p.Status, &spreadID, &p.OpenedAt, &p.ClosedAt, &p.CloseReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: scan position: %w", err)
	}
	if spreadID != nil {
		p.SpreadID = *spreadID
	}
	return p, nil
}

// nullableStr maps an empty string to SQL NULL for UUID columns.
func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
