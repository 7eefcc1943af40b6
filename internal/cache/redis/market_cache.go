package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyquant/tradebot/internal/domain"
)

const marketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache using JSON-serialized Market data
// and a secondary token-to-market index.
//
// Key schema:
//
//	market:{id}            - JSON-encoded Market
//	market:token:{tokenID} - string value of the market ID
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(id int64) string        { return "market:" + strconv.FormatInt(id, 10) }
func marketTokenKey(tok string) string { return "market:token:" + tok }

// Set stores a Market with a 5-minute TTL and indexes both of its token IDs
// back to the market.
func (mc *MarketCache) Set(ctx context.Context, m domain.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal market %d: %w", m.MarketID, err)
	}

	pipe := mc.rdb.TxPipeline()
	pipe.Set(ctx, marketKey(m.MarketID), data, marketTTL)
	for _, tokenID := range m.TokenIDs() {
		if tokenID == "" {
			continue
		}
		pipe.Set(ctx, marketTokenKey(tokenID), strconv.FormatInt(m.MarketID, 10), marketTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %d: %w", m.MarketID, err)
	}
	return nil
}

// GetByToken looks up a Market by one of its token IDs. It returns
// domain.ErrNotFound if the token mapping or market entry has expired.
func (mc *MarketCache) GetByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	idStr, err := mc.rdb.Get(ctx, marketTokenKey(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market by token %s: %w", tokenID, err)
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return domain.Market{}, fmt.Errorf("redis: bad market index for token %s: %w", tokenID, err)
	}

	data, err := mc.rdb.Get(ctx, marketKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %d: %w", id, err)
	}

	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %d: %w", id, err)
	}
	return m, nil
}

// Invalidate removes a Market and its token index entries.
func (mc *MarketCache) Invalidate(ctx context.Context, marketID int64) error {
	data, err := mc.rdb.Get(ctx, marketKey(marketID)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: invalidate market %d: %w", marketID, err)
	}

	pipe := mc.rdb.TxPipeline()
	pipe.Del(ctx, marketKey(marketID))
	if err == nil {
		var m domain.Market
		if jerr := json.Unmarshal(data, &m); jerr == nil {
			for _, tokenID := range m.TokenIDs() {
				if tokenID != "" {
					pipe.Del(ctx, marketTokenKey(tokenID))
				}
			}
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", marketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
