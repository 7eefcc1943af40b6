package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyquant/tradebot/internal/domain"
)

const marketColumns = `market_id, condition_id, question, yes_token_id, no_token_id,
	category, status, accepting_orders, end_date, outcome, updated_at`

// MarketStore reads the market catalog maintained by the discovery fetcher.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates the store.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

func (s *MarketStore) GetByID(ctx context.Context, marketID int64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE market_id = $1`, marketID)
	return scanMarket(row)
}

func (s *MarketStore) GetByTokenID(ctx context.Context, tokenID string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE yes_token_id = $1 OR no_token_id = $1`, tokenID)
	return scanMarket(row)
}

func (s *MarketStore) ListTradeable(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	q := `SELECT ` + marketColumns + ` FROM markets
		WHERE status IN ('active', 'accepting_orders') AND accepting_orders
		ORDER BY market_id`
	args := []any{}
	if opts.Limit > 0 {
		q += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tradeable markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *MarketStore) SetResolved(ctx context.Context, marketID int64, outcome domain.Outcome) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE markets
		SET status = 'resolved', accepting_orders = FALSE, outcome = $2, updated_at = $3
		WHERE market_id = $1`,
		marketID, string(outcome), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: resolve market %d: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var endDate, updatedAt *time.Time
	var outcome *string
	err := row.Scan(&m.MarketID, &m.ConditionID, &m.Question, &m.YesTokenID,
		&m.NoTokenID, &m.Category, &m.Status, &m.AcceptingOrders,
		&endDate, &outcome, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: scan market: %w", err)
	}
	if endDate != nil {
		m.EndDate = *endDate
	}
	if updatedAt != nil {
		m.UpdatedAt = *updatedAt
	}
	if outcome != nil {
		o := domain.Outcome(*outcome)
		m.Outcome = &o
	}
	return m, nil
}
