package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"cajapos/terminal/internal/domain"
)

type RedisSnapshotCache struct {
	client *redis.Client
	prefix string
}

// NewRedisSnapshotCache keys snapshots under the terminal id so terminals
// sharing one Redis never read each other's session state.
func NewRedisSnapshotCache(addr string, password string, db int, terminalID string) *RedisSnapshotCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSnapshotCache{client: client, prefix: "terminal:" + terminalID}
}

func (c *RedisSnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSnapshotCache) Close() error {
	return c.client.Close()
}

func (c *RedisSnapshotCache) stockKey(productID string) string {
	return c.prefix + ":stock:" + productID
}

func (c *RedisSnapshotCache) sessionKey() string {
	return c.prefix + ":session"
}

func (c *RedisSnapshotCache) GetStock(ctx context.Context, productID string) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, c.stockKey(productID)).Result()
	if err == redis.Nil {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	level, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	return level, true, nil
}

func (c *RedisSnapshotCache) SetStock(ctx context.Context, productID string, level decimal.Decimal, ttl time.Duration) error {
	return c.client.Set(ctx, c.stockKey(productID), level.String(), ttl).Err()
}

func (c *RedisSnapshotCache) GetSession(ctx context.Context) (*domain.CashSession, bool, error) {
	val, err := c.client.Get(ctx, c.sessionKey()).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var session domain.CashSession
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, false, err
	}
	return &session, true, nil
}

func (c *RedisSnapshotCache) SetSession(ctx context.Context, session *domain.CashSession, ttl time.Duration) error {
	if session == nil {
		return nil
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.sessionKey(), payload, ttl).Err()
}

func (c *RedisSnapshotCache) InvalidateSession(ctx context.Context) error {
	return c.client.Del(ctx, c.sessionKey()).Err()
}

func (c *RedisSnapshotCache) InvalidateStock(ctx context.Context, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, c.stockKey(id))
	}
	return c.client.Del(ctx, keys...).Err()
}
