package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyquant/tradebot/internal/domain"
)

const decisionColumns = `id, ts, strategy, market_id, condition_id, token_type,
	action_type, side, size_usd, signal_price, status, executed, reject_reason,
	execution_price, position_id, reason, inputs`

// DecisionStore persists the append-only trade decision audit log.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates the store.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

func (s *DecisionStore) Insert(ctx context.Context, d domain.TradeDecision) error {
	inputs, err := json.Marshal(d.Inputs)
	if err != nil {
		return fmt.Errorf("postgres: marshal decision inputs: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO trade_decisions (`+decisionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		d.ID, d.Timestamp, d.Strategy, d.MarketID, d.ConditionID, string(d.TokenType),
		string(d.ActionType), string(d.Side), d.SizeUSD, d.SignalPrice,
		string(d.Status), d.Executed, string(d.RejectReason), d.ExecutionPrice,
		nullableStr(d.PositionID), d.Reason, inputs)
	if err != nil {
		return fmt.Errorf("postgres: insert decision %s: %w", d.ID, err)
	}
	return nil
}

// Finalize moves a pending row to executed or rejected. A row that is no
// longer pending is left untouched and reported as not found.
func (s *DecisionStore) Finalize(ctx context.Context, d domain.TradeDecision) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trade_decisions SET
			status = $2, executed = $3, reject_reason = $4,
			execution_price = $5, position_id = $6
		WHERE id = $1 AND status = 'pending'`,
		d.ID, string(d.Status), d.Executed, string(d.RejectReason),
		d.ExecutionPrice, nullableStr(d.PositionID))
	if err != nil {
		return fmt.Errorf("postgres: finalize decision %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *DecisionStore) ListPending(ctx context.Context) ([]domain.TradeDecision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM trade_decisions WHERE status = 'pending' ORDER BY ts`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending decisions: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

func (s *DecisionStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeDecision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM trade_decisions ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent decisions: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

func collectDecisions(rows pgx.Rows) ([]domain.TradeDecision, error) {
	var out []domain.TradeDecision
	for rows.Next() {
		var d domain.TradeDecision
		var positionID *string
		var inputs []byte
		err := rows.Scan(&d.ID, &d.Timestamp, &d.Strategy, &d.MarketID,
			&d.ConditionID, &d.TokenType, &d.ActionType, &d.Side, &d.SizeUSD,
			&d.SignalPrice, &d.Status, &d.Executed, &d.RejectReason,
			&d.ExecutionPrice, &positionID, &d.Reason, &inputs)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan decision: %w", err)
		}
		if positionID != nil {
			d.PositionID = *positionID
		}
		if len(inputs) > 0 {
			if err := json.Unmarshal(inputs, &d.Inputs); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal decision inputs: %w", err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
