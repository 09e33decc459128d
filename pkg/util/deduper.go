package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewDeduper creates a deduper; logger may be nil.
func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func dedupKey(handler, eventID string) string {
	return fmt.Sprintf("dedup:%s:%s", handler, eventID)
}

// Seen reports whether handler already finished eventID. Keys are written by
// MarkDone only after the handler's work committed, so a crash mid-handler
// never hides the redelivered message.
func (d *Deduper) Seen(ctx context.Context, handler, eventID string) bool {
	if d == nil || d.rdb == nil || eventID == "" {
		return false
	}
	key := dedupKey(handler, eventID)

	n, err := d.rdb.Exists(ctx, key).Result()
	if err != nil {
		// Redis 不可用时不阻止处理，由业务层的幂等检查兜底
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return false
	}

	if n > 0 {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("event_id", eventID),
			zap.String("dedup_key", key),
		)
	}
	return n > 0
}

// MarkDone records that handler finished eventID.
func (d *Deduper) MarkDone(ctx context.Context, handler, eventID string) {
	if d == nil || d.rdb == nil || eventID == "" {
		return
	}
	key := dedupKey(handler, eventID)
	if err := d.rdb.Set(ctx, key, 1, d.ttl).Err(); err != nil {
		d.logger.Warn("Failed to record dedup key", zap.String("dedup_key", key), zap.Error(err))
	}
}
