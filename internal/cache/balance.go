package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrBalanceNotFound = errors.New("balance not found in cache")

// BalanceCache keeps read-only balance snapshots per user. Snapshots are
// keyed by a per-user generation that every ledger mutation bumps after
// commit, so a snapshot loaded before a mutation is never served after it.
type BalanceCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BalanceCache{
		client: client,
		prefix: "wallet:",
		ttl:    ttl,
	}
}

// Version returns the user's current snapshot generation. Read it before
// loading the balance from the database.
func (c *BalanceCache) Version(ctx context.Context, userID string) (int64, error) {
	version, err := c.client.Get(ctx, c.versionKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance version from redis: %w", err)
	}
	return version, nil
}

func (c *BalanceCache) Get(ctx context.Context, userID string, version int64, dest any) error {
	raw, err := c.client.Get(ctx, c.key(userID, version)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrBalanceNotFound
		}
		return fmt.Errorf("get balance from redis: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode cached balance: %w", err)
	}
	return nil
}

func (c *BalanceCache) Set(ctx context.Context, userID string, version int64, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode balance: %w", err)
	}
	if err := c.client.Set(ctx, c.key(userID, version), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set balance in redis: %w", err)
	}
	return nil
}

// Invalidate moves the user to a new generation. Older snapshots age out by TTL.
func (c *BalanceCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Incr(ctx, c.versionKey(userID)).Err(); err != nil {
		return fmt.Errorf("bump balance version in redis: %w", err)
	}
	return nil
}

func (c *BalanceCache) key(userID string, version int64) string {
	return c.prefix + userID + ":balance:" + strconv.FormatInt(version, 10)
}

func (c *BalanceCache) versionKey(userID string) string {
	return c.prefix + userID + ":balance:version"
}
