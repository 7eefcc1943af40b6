package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polyquant/tradebot/internal/domain"
	"github.com/polyquant/tradebot/internal/platform/polymarket"
)

const (
	// fillPollInterval is how often fill confirmation is polled.
	fillPollInterval = 500 * time.Millisecond

	// retryBase is the initial backoff between submission attempts.
	retryBase = time.Second
)

// OrderClient is the exchange surface the live filler needs.
type OrderClient interface {
	SubmitOrder(ctx context.Context, req polymarket.APIOrderRequest) (polymarket.APIOrderResult, error)
	OrderStatus(ctx context.Context, orderID string) (polymarket.APIOrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// LiveConfig tunes live order handling.
type LiveConfig struct {
	MaxRetryAttempts int
	FillTimeout      time.Duration
	SpreadTimeout    time.Duration // limit orders upgrade to market after this
}

// LiveFiller submits real orders and mutates nothing until a fill confirms.
// Limit orders that sit unfilled past the spread timeout are cancelled and
// re-sent as market orders; residuals of partial fills are cancelled.
type LiveFiller struct {
	cfg    LiveConfig
	client OrderClient
	logger *slog.Logger
}

// NewLiveFiller creates a live filler over the exchange order client.
func NewLiveFiller(cfg LiveConfig, client OrderClient, logger *slog.Logger) *LiveFiller {
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 30 * time.Second
	}
	if cfg.SpreadTimeout <= 0 {
		cfg.SpreadTimeout = 30 * time.Second
	}
	return &LiveFiller{
		cfg:    cfg,
		client: client,
		logger: logger.With(slog.String("component", "live_filler")),
	}
}

// Execute submits the order, waits for confirmation, and returns the fill.
func (f *LiveFiller) Execute(ctx context.Context, ord Order) (domain.Fill, error) {
	if ord.Kind == domain.OrderKindLimit {
		fill, err := f.tryLimit(ctx, ord)
		if err == nil {
			return fill, nil
		}
		if ctx.Err() != nil {
			return domain.Fill{}, ctx.Err()
		}
		f.logger.InfoContext(ctx, "limit order timed out, upgrading to market",
			slog.String("token_id", ord.TokenID),
			slog.Float64("limit_price", ord.LimitPrice),
		)
		ord.Kind = domain.OrderKindMarket
	}
	return f.submitAndAwait(ctx, ord, f.cfg.FillTimeout)
}

// tryLimit posts the resting order and waits only for the spread timeout.
func (f *LiveFiller) tryLimit(ctx context.Context, ord Order) (domain.Fill, error) {
	return f.submitAndAwait(ctx, ord, f.cfg.SpreadTimeout)
}

// submitAndAwait submits with bounded retries and polls for a fill until the
// deadline, cancelling whatever remains open.
func (f *LiveFiller) submitAndAwait(ctx context.Context, ord Order, wait time.Duration) (domain.Fill, error) {
	result, err := f.submit(ctx, ord)
	if err != nil {
		return domain.Fill{}, err
	}
	if result.OrderID == "" {
		return domain.Fill{}, fmt.Errorf("executor: submit %s: exchange rejected: %s: %w",
			ord.TokenID, result.ErrorMsg, domain.ErrInvalidAction)
	}

	status, err := f.awaitFill(ctx, result.OrderID, wait)
	if err != nil {
		// Cancel whatever is still resting before giving up.
		cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := f.client.CancelOrder(cancelCtx, result.OrderID); cerr != nil {
			f.logger.WarnContext(ctx, "residual cancel failed",
				slog.String("order_id", result.OrderID),
				slog.String("error", cerr.Error()),
			)
		}
		return domain.Fill{}, err
	}

	shares, price := status.Matched()
	if shares <= 0 || price <= 0 {
		return domain.Fill{}, fmt.Errorf("executor: order %s reported no matched size: %w",
			result.OrderID, domain.ErrFillTimeout)
	}
	if !status.Filled() {
		// Partial fill: keep what matched, cancel the rest.
		cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := f.client.CancelOrder(cancelCtx, result.OrderID); cerr != nil {
			f.logger.WarnContext(ctx, "partial residual cancel failed",
				slog.String("order_id", result.OrderID),
				slog.String("error", cerr.Error()),
			)
		}
	}

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

// submit retries transient submission failures with exponential backoff.
func (f *LiveFiller) submit(ctx context.Context, ord Order) (polymarket.APIOrderResult, error) {
	req := polymarket.APIOrderRequest{
		TokenID:  ord.TokenID,
		Side:     string(ord.Side),
		Type:     string(ord.Kind),
		SizeUSD:  ord.SizeUSD,
		ClientID: ord.Action.ID,
	}
	if ord.Side == domain.TradeSideSell {
		req.SizeUSD = ord.Shares * ord.Price
	}
	if ord.Kind == domain.OrderKindLimit {
		req.LimitPrice = ord.LimitPrice
	}

	delay := retryBase
	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return polymarket.APIOrderResult{}, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		result, err := f.client.SubmitOrder(ctx, req)
		if err == nil && !result.ShouldRetry {
			return result, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("executor: exchange asked for retry: %s", result.ErrorMsg)
		}
		f.logger.WarnContext(ctx, "order submit attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
	}
	return polymarket.APIOrderResult{}, fmt.Errorf("executor: submit %s after %d attempts: %w",
		ord.TokenID, f.cfg.MaxRetryAttempts+1, lastErr)
}

// awaitFill polls order status until matched size appears or the deadline
// passes.
func (f *LiveFiller) awaitFill(ctx context.Context, orderID string, wait time.Duration) (polymarket.APIOrderStatus, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(fillPollInterval)
	defer ticker.Stop()

	var last polymarket.APIOrderStatus
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
			status, err := f.client.OrderStatus(ctx, orderID)
			if err == nil {
				last = status
				if status.Filled() {
					return status, nil
				}
				if shares, _ := status.Matched(); shares > 0 && time.Now().After(deadline) {
					return status, nil
				}
			}
			if time.Now().After(deadline) {
				if shares, _ := last.Matched(); shares > 0 {
					return last, nil
				}
				return last, fmt.Errorf("executor: order %s unfilled after %s: %w",
					orderID, wait, domain.ErrFillTimeout)
			}
		}
	}
}
