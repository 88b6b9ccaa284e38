package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// CooldownCache implements domain.CooldownCache using plain Redis keys with a
// TTL equal to the cooldown window. Key expiry is what ends the cooldown, so
// the admission pipeline never has to compute window arithmetic over stale
// markers.
type CooldownCache struct {
	rdb *redis.Client
}

// NewCooldownCache creates a CooldownCache backed by the given Client.
func NewCooldownCache(c *Client) *CooldownCache {
	return &CooldownCache{rdb: c.Underlying()}
}

func cooldownKey(symbol string) string {
	return "cooldown:" + symbol
}

// MarkLoss records a loss for the symbol. The marker expires after ttl.
func (cc *CooldownCache) MarkLoss(ctx context.Context, symbol string, ttl time.Duration) error {
	val := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	if err := cc.rdb.Set(ctx, cooldownKey(symbol), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis: mark loss %s: %w", symbol, err)
	}
	return nil
}

// LastLoss returns the time of the most recent loss inside the cooldown
// window. It returns domain.ErrNotFound when the symbol is not cooling down.
func (cc *CooldownCache) LastLoss(ctx context.Context, symbol string) (time.Time, error) {
	val, err := cc.rdb.Get(ctx, cooldownKey(symbol)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("redis: last loss %s: %w", symbol, err)
	}

	nano, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: parse loss marker %s: %w", symbol, err)
	}
	return time.Unix(0, nano), nil
}

// Compile-time interface check.
var _ domain.CooldownCache = (*CooldownCache)(nil)
