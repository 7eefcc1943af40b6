package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/polyquant/tradebot/internal/domain"
)

const bookTTL = 2 * time.Minute

// OrderbookCache mirrors the gateway's book snapshots into Redis for
// out-of-process readers. Snapshots are msgpack blobs keyed by token with a
// short TTL so a stalled writer ages out instead of serving frozen books.
//
// Key schema:
//
//	book:{tokenID} - msgpack-encoded OrderbookState
type OrderbookCache struct {
	rdb *redis.Client
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{rdb: c.Underlying()}
}

func bookKey(tokenID string) string { return "book:" + tokenID }

// SetSnapshot replaces the cached snapshot for the book's token.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, book domain.OrderbookState) error {
	data, err := msgpack.Marshal(book)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", book.TokenID, err)
	}
	if err := oc.rdb.Set(ctx, bookKey(book.TokenID), data, bookTTL).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", book.TokenID, err)
	}
	return nil
}

// GetSnapshot retrieves the cached snapshot for a token. It returns
// domain.ErrNotFound when no snapshot exists or it has expired.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, tokenID string) (domain.OrderbookState, error) {
	data, err := oc.rdb.Get(ctx, bookKey(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderbookState{}, domain.ErrNotFound
		}
		return domain.OrderbookState{}, fmt.Errorf("redis: get book %s: %w", tokenID, err)
	}

	var book domain.OrderbookState
	if err := msgpack.Unmarshal(data, &book); err != nil {
		return domain.OrderbookState{}, fmt.Errorf("redis: unmarshal book %s: %w", tokenID, err)
	}
	return book, nil
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
