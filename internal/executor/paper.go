package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/polyquant/tradebot/internal/domain"
)

// PaperFiller simulates fills without touching the exchange. Market orders
// fill at the slippage-adjusted cross price; limit orders fill at their
// resting price, which assumes the market trades through the level.
type PaperFiller struct {
	logger *slog.Logger
}

// NewPaperFiller creates the simulator.
func NewPaperFiller(logger *slog.Logger) *PaperFiller {
	return &PaperFiller{logger: logger.With(slog.String("component", "paper_filler"))}
}

// Execute fills the order immediately at its expected price.
func (f *PaperFiller) Execute(ctx context.Context, ord Order) (domain.Fill, error) {
	price := ord.Price
	if ord.Kind == domain.OrderKindLimit && ord.LimitPrice > 0 {
		price = ord.LimitPrice
	}

	var shares float64
	if ord.Side == domain.TradeSideBuy {
		shares = ord.SizeUSD / price
	} else {
		shares = ord.Shares
	}

	f.logger.DebugContext(ctx, "paper fill",
		slog.String("token_id", ord.TokenID),
		slog.String("side", string(ord.Side)),
		slog.Float64("price", price),
		slog.Float64("shares", shares),
	)
	return domain.Fill{
		MarketID:    ord.Market.MarketID,
		ConditionID: ord.Market.ConditionID,
		TokenID:     ord.TokenID,
		TokenType:   ord.Action.TokenType,
		Side:        ord.Side,
		Price:       price,
		Shares:      shares,
		CostUSD:     price * shares,
		FilledAt:    time.Now().UTC(),
	}, nil
}
