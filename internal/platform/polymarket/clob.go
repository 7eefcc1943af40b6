package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyquant/tradebot/internal/domain"
)

// ClobClient is the REST client for the exchange CLOB API: orderbook
// fetches, order submission, fill polling, and fee lookups. It carries an
// internal token-bucket rate limit on order submission; callers block until
// a slot is free.
type ClobClient struct {
	baseURL     string
	bookTimeout time.Duration
	httpClient  *http.Client
	apiKey      string
	apiSecret   string
	passphrase  string

	orderSlots chan struct{}
}

// ClobConfig holds the REST client parameters.
type ClobConfig struct {
	BaseURL       string
	ApiKey        string
	ApiSecret     string
	ApiPassphrase string
	BookTimeout   time.Duration
	OrderTimeout  time.Duration
	OrderRate     int // order submissions per second
}

// NewClobClient creates a CLOB REST client.
func NewClobClient(cfg ClobConfig) *ClobClient {
	bookTimeout := cfg.BookTimeout
	if bookTimeout <= 0 {
		bookTimeout = 3 * time.Second
	}
	orderTimeout := cfg.OrderTimeout
	if orderTimeout <= 0 {
		orderTimeout = 10 * time.Second
	}
	rate := cfg.OrderRate
	if rate <= 0 {
		rate = 5
	}
	c := &ClobClient{
		baseURL:     cfg.BaseURL,
		bookTimeout: bookTimeout,
		httpClient:  &http.Client{Timeout: orderTimeout},
		apiKey:      cfg.ApiKey,
		apiSecret:   cfg.ApiSecret,
		passphrase:  cfg.ApiPassphrase,
		orderSlots:  make(chan struct{}, rate),
	}
	for i := 0; i < rate; i++ {
		c.orderSlots <- struct{}{}
	}
	go c.refillSlots(rate)
	return c
}

// refillSlots tops the rate bucket back up once per second.
func (c *ClobClient) refillSlots(rate int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		for i := 0; i < rate; i++ {
			select {
			case c.orderSlots <- struct{}{}:
			default:
			}
		}
	}
}

// FetchBook retrieves a fresh orderbook snapshot for one token.
func (c *ClobClient) FetchBook(ctx context.Context, tokenID string) (domain.OrderbookState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.bookTimeout)
	defer cancel()
	endpoint := fmt.Sprintf("%s/book?token_id=%s", c.baseURL, url.QueryEscape(tokenID))

	var book APIBook
	if err := c.getJSON(ctx, endpoint, &book); err != nil {
		return domain.OrderbookState{}, fmt.Errorf("polymarket/clob: fetch book %s: %w", tokenID, err)
	}
	return book.ToDomain(tokenID), nil
}

// FetchBooks fetches snapshots for many tokens concurrently. Individual
// failures are dropped from the result rather than failing the batch.
func (c *ClobClient) FetchBooks(ctx context.Context, tokenIDs []string) map[string]domain.OrderbookState {
	out := make(map[string]domain.OrderbookState, len(tokenIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	results := make(chan domain.OrderbookState, len(tokenIDs))
	for _, id := range tokenIDs {
		id := id
		g.Go(func() error {
			book, err := c.FetchBook(gctx, id)
			if err == nil {
				results <- book
			}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for book := range results {
		out[book.TokenID] = book
	}
	return out
}

// SubmitOrder posts an order, blocking on the submission rate limit first.
func (c *ClobClient) SubmitOrder(ctx context.Context, req APIOrderRequest) (APIOrderResult, error) {
	select {
	case <-c.orderSlots:
	case <-ctx.Done():
		return APIOrderResult{}, ctx.Err()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: read order response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: post order: status %d: unauthorized", resp.StatusCode)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: decode order response: %w", err)
	}
	if resp.StatusCode >= 500 {
		result.ShouldRetry = true
	}
	return result, nil
}

// OrderStatus polls GET /order/{id} for fill state.
func (c *ClobClient) OrderStatus(ctx context.Context, orderID string) (APIOrderStatus, error) {
	var status APIOrderStatus
	endpoint := fmt.Sprintf("%s/order/%s", c.baseURL, url.PathEscape(orderID))
	if err := c.getJSON(ctx, endpoint, &status); err != nil {
		return APIOrderStatus{}, fmt.Errorf("polymarket/clob: order status %s: %w", orderID, err)
	}
	return status, nil
}

// CancelOrder cancels an open order. Used for unfilled limit residuals.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	endpoint := fmt.Sprintf("%s/order/%s", c.baseURL, url.PathEscape(orderID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: build cancel: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("polymarket/clob: cancel order %s: status %d", orderID, resp.StatusCode)
	}
	return nil
}

// FeeBps looks up the exchange fee rate for a token.
func (c *ClobClient) FeeBps(ctx context.Context, tokenID string) (float64, error) {
	var fee APIFee
	endpoint := fmt.Sprintf("%s/fee?token_id=%s", c.baseURL, url.QueryEscape(tokenID))
	if err := c.getJSON(ctx, endpoint, &fee); err != nil {
		return 0, fmt.Errorf("polymarket/clob: fee %s: %w", tokenID, err)
	}
	return parseFloat(fee.FeeBps), nil
}

// getJSON performs an authorized GET and decodes the JSON response.
func (c *ClobClient) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(v)
}

// authorize attaches API credentials when configured. Paper mode runs
// without credentials and only hits public endpoints.
func (c *ClobClient) authorize(req *http.Request) {
	if c.apiKey == "" {
		return
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Api-Secret", c.apiSecret)
	if c.passphrase != "" {
		req.Header.Set("X-Api-Passphrase", c.passphrase)
	}
}
