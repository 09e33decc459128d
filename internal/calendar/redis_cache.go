package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "calendar:holidays:"

// RedisCache shares holiday entries between service instances. Redis failures
// degrade to cache misses.
type RedisCache struct {
	rdb            *redis.Client
	staleRetention time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

func NewRedisCache(rdb *redis.Client, staleRetention time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		rdb:            rdb,
		staleRetention: staleRetention,
		logger:         logger,
		now:            time.Now,
	}
}

func redisKey(year int) string {
	return fmt.Sprintf("%s%d", redisKeyPrefix, year)
}

func (c *RedisCache) Get(ctx context.Context, year int) (Entry, bool) {
	raw, err := c.rdb.Get(ctx, redisKey(year)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Holiday cache read failed",
				zap.Int("year", year),
				zap.Error(err),
			)
		}
		return Entry{}, false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("Discarding corrupt holiday cache entry",
			zap.Int("year", year),
			zap.Error(err),
		)
		return Entry{}, false
	}
	return e, true
}

func (c *RedisCache) Put(ctx context.Context, e Entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		c.logger.Error("Failed to encode holiday cache entry", zap.Int("year", e.Year), zap.Error(err))
		return
	}

	ttl := e.ExpiresAt.Sub(c.now()) + c.staleRetention
	if ttl <= 0 {
		return
	}
	if err := c.rdb.Set(ctx, redisKey(e.Year), raw, ttl).Err(); err != nil {
		c.logger.Warn("Holiday cache write failed",
			zap.Int("year", e.Year),
			zap.Error(err),
		)
	}
}
