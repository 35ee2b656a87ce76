package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGeoMissCache keeps every miss in one sorted set scored by expiry in
// unix milliseconds. Expired members are trimmed on each write.
type RedisGeoMissCache struct {
	client redis.UniversalClient
	key    string
	now    func() time.Time
}

func NewRedisGeoMissCache(client redis.UniversalClient, key string) *RedisGeoMissCache {
	if key == "" {
		key = "geo_miss"
	}
	return &RedisGeoMissCache{client: client, key: key, now: time.Now}
}

func (c *RedisGeoMissCache) IsMiss(ctx context.Context, ip string) (bool, error) {
	score, err := c.client.ZScore(ctx, c.key, ip).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return int64(score) > c.now().UnixMilli(), nil
}

// MarkMiss assumes one TTL for all entries, so the set's own expiry can follow
// the newest member.
func (c *RedisGeoMissCache) MarkMiss(ctx context.Context, ip string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := c.now().UnixMilli()
	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, c.key, "-inf", strconv.FormatInt(now, 10))
	pipe.ZAdd(ctx, c.key, redis.Z{Score: float64(now + ttl.Milliseconds()), Member: ip})
	pipe.PExpire(ctx, c.key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}
