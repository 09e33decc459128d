package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisCache(rdb, 24*time.Hour, zap.NewNop()), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	cache.Put(ctx, Entry{Year: 2025, Holidays: holidays2025(), ExpiresAt: expires})

	e, ok := cache.Get(ctx, 2025)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(e.Holidays) != 3 || !e.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected entry %+v", e)
	}

	ttl := mr.TTL(redisKey(2025))
	if ttl < 24*time.Hour || ttl > 25*time.Hour {
		t.Fatalf("expected ttl to cover expiry plus retention, got %s", ttl)
	}
}

func TestRedisCacheMissAndCorruptEntry(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	ctx := context.Background()

	if _, ok := cache.Get(ctx, 2030); ok {
		t.Fatal("expected miss")
	}

	_ = mr.Set(redisKey(2030), "{not json")
	if _, ok := cache.Get(ctx, 2030); ok {
		t.Fatal("expected corrupt entry to read as miss")
	}
}

func TestRedisCacheDownReadsAsMiss(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	mr.Close()

	cache.Put(context.Background(), Entry{Year: 2025, ExpiresAt: time.Now().Add(time.Hour)})
	if _, ok := cache.Get(context.Background(), 2025); ok {
		t.Fatal("expected miss while redis is down")
	}
}
