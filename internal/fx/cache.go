package fx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const cacheKeyPrefix = "fx:rate"

// CachedProvider memoises upstream rates in Redis. Cache failures degrade to
// the upstream call.
type CachedProvider struct {
	next   Provider
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedProvider wraps next with a Redis cache.
func NewCachedProvider(next Provider, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedProvider{next: next, client: client, ttl: ttl, logger: logger}
}

// Rate implements Provider.
func (c *CachedProvider) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if c.client == nil {
		return c.next.Rate(ctx, from, to)
	}
	key := fmt.Sprintf("%s:%s:%s", cacheKeyPrefix, from, to)
	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if rate, perr := decimal.NewFromString(raw); perr == nil {
			return rate, nil
		}
		c.logger.Warn("fx cache entry corrupt", slog.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("fx cache read", slog.String("key", key), slog.Any("error", err))
	}

	rate, err := c.next.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.client.Set(ctx, key, rate.String(), c.ttl).Err(); err != nil {
		c.logger.Warn("fx cache write", slog.String("key", key), slog.Any("error", err))
	}
	return rate, nil
}
