package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/polyquant/tradebot/internal/domain"
)

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is the subscription message sent to the market channel.
// The exchange accepts at most 500 asset IDs per connection.
type WSCommand struct {
	Type      string   `json:"type" msgpack:"type"`
	AssetsIDs []string `json:"assets_ids" msgpack:"assets_ids"`
}

// WSEnvelope is the outer shape shared by all inbound event frames.
type WSEnvelope struct {
	EventType string `json:"event_type" msgpack:"event_type"`
	AssetID   string `json:"asset_id" msgpack:"asset_id"`
}

// WSLevel is one price level as sent on the wire (stringly typed).
type WSLevel struct {
	Price string `json:"price" msgpack:"price"`
	Size  string `json:"size" msgpack:"size"`
}

// BookMessage is a full orderbook snapshot event.
type BookMessage struct {
	EventType string    `json:"event_type" msgpack:"event_type"`
	AssetID   string    `json:"asset_id" msgpack:"asset_id"`
	Buys      []WSLevel `json:"buys" msgpack:"buys"`
	Sells     []WSLevel `json:"sells" msgpack:"sells"`
	Timestamp string    `json:"timestamp" msgpack:"timestamp"`
}

// PriceChangeMessage is an incremental level update event.
type PriceChangeMessage struct {
	EventType string `json:"event_type" msgpack:"event_type"`
	AssetID   string `json:"asset_id" msgpack:"asset_id"`
	Side      string `json:"side" msgpack:"side"` // "BUY" or "SELL"
	Price     string `json:"price" msgpack:"price"`
	Size      string `json:"size" msgpack:"size"` // "0" removes the level
	Timestamp string `json:"timestamp" msgpack:"timestamp"`
}

// TradeMessage is a last-trade event.
type TradeMessage struct {
	EventType string `json:"event_type" msgpack:"event_type"`
	AssetID   string `json:"asset_id" msgpack:"asset_id"`
	Price     string `json:"price" msgpack:"price"`
	Size      string `json:"size" msgpack:"size"`
	Side      string `json:"side" msgpack:"side"`
	Timestamp string `json:"timestamp" msgpack:"timestamp"`
}

// Event is a decoded inbound frame, exactly one of the pointers set.
type Event struct {
	Book        *BookMessage
	PriceChange *PriceChangeMessage
	Trade       *TradeMessage
}

// decode parses a frame body. Frames arrive either as JSON text or as
// MsgPack binary; binary is tried when isBinary is set and JSON otherwise,
// falling back to the other codec because some gateways mislabel frames.
func decode(raw []byte, isBinary bool, v any) error {
	if isBinary {
		if err := msgpack.Unmarshal(raw, v); err == nil {
			return nil
		}
		return json.Unmarshal(raw, v)
	}
	if err := json.Unmarshal(raw, v); err == nil {
		return nil
	}
	return msgpack.Unmarshal(raw, v)
}

// ParseEvent decodes one inbound frame into an Event. Returns
// (nil, nil) for frames the engine does not consume (acks, heartbeats).
func ParseEvent(raw []byte, isBinary bool) (*Event, error) {
	var env WSEnvelope
	if err := decode(raw, isBinary, &env); err != nil {
		return nil, fmt.Errorf("polymarket: decode envelope: %w", err)
	}

	switch env.EventType {
	case "book":
		var m BookMessage
		if err := decode(raw, isBinary, &m); err != nil {
			return nil, fmt.Errorf("polymarket: decode book: %w", err)
		}
		return &Event{Book: &m}, nil
	case "price_change":
		var m PriceChangeMessage
		if err := decode(raw, isBinary, &m); err != nil {
			return nil, fmt.Errorf("polymarket: decode price_change: %w", err)
		}
		return &Event{PriceChange: &m}, nil
	case "trade", "last_trade_price":
		var m TradeMessage
		if err := decode(raw, isBinary, &m); err != nil {
			return nil, fmt.Errorf("polymarket: decode trade: %w", err)
		}
		return &Event{Trade: &m}, nil
	}
	return nil, nil
}

// parseFloat converts a wire string to float64, tolerating empty strings.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseTimestamp converts a wire timestamp (unix millis or RFC3339) to
// time.Time; zero time when unparseable.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}

// Levels converts wire levels to domain price levels, dropping empties.
func Levels(ws []WSLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(ws))
	for _, l := range ws {
		price := parseFloat(l.Price)
		size := parseFloat(l.Size)
		if price <= 0 || size <= 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out
}

// --------------------------------------------------------------------------
// REST DTOs
// --------------------------------------------------------------------------

// APIBook is the response of GET /book.
type APIBook struct {
	AssetID   string    `json:"asset_id"`
	Bids      []WSLevel `json:"bids"`
	Asks      []WSLevel `json:"asks"`
	Timestamp string    `json:"timestamp"`
}

// ToDomain converts an API book into a normalized OrderbookState.
func (b *APIBook) ToDomain(tokenID string) domain.OrderbookState {
	book := domain.OrderbookState{
		TokenID:    tokenID,
		Bids:       Levels(b.Bids),
		Asks:       Levels(b.Asks),
		LastUpdate: parseTimestamp(b.Timestamp),
	}
	if book.LastUpdate.IsZero() {
		book.LastUpdate = time.Now().UTC()
	}
	book.Normalize()
	return book
}

// APIOrderRequest is the body of POST /order.
type APIOrderRequest struct {
	TokenID    string  `json:"token_id"`
	Side       string  `json:"side"` // "BUY" or "SELL"
	Type       string  `json:"type"` // "market" or "limit"
	SizeUSD    float64 `json:"size_usd"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	ClientID   string  `json:"client_id,omitempty"` // idempotency key
}

// APIOrderResult is the response of POST /order.
type APIOrderResult struct {
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// APIOrderStatus is the response of GET /order/{id} used for fill polling.
type APIOrderStatus struct {
	OrderID      string `json:"order_id"`
	Status       string `json:"status"` // "open", "matched", "cancelled"
	SizeMatched  string `json:"size_matched"`
	OriginalSize string `json:"original_size"`
	AvgPrice     string `json:"avg_price"`
}

// Matched reports filled shares and average price.
func (s *APIOrderStatus) Matched() (shares, price float64) {
	return parseFloat(s.SizeMatched), parseFloat(s.AvgPrice)
}

// Filled reports whether the order fully matched.
func (s *APIOrderStatus) Filled() bool {
	return s.Status == "matched"
}

// APIFee is the response of GET /fee.
type APIFee struct {
	TokenID string `json:"token_id"`
	FeeBps  string `json:"fee_rate_bps"`
}
