package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
)

type RedisSecurityEventStore struct {
	client   redis.UniversalClient
	prefix   string
	capacity int
}

func NewRedisSecurityEventStore(client redis.UniversalClient, prefix string, capacity int) *RedisSecurityEventStore {
	if prefix == "" {
		prefix = "security_events"
	}
	if capacity <= 0 {
		capacity = DefaultSecurityEventCapacity
	}
	return &RedisSecurityEventStore{client: client, prefix: prefix, capacity: capacity}
}

func (s *RedisSecurityEventStore) Append(ctx context.Context, event domain.SecurityEvent, dedupWindow time.Duration) (bool, error) {
	if dedupWindow > 0 {
		ok, err := s.client.SetNX(ctx, s.dedupKey(event), "1", dedupWindow).Result()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return false, err
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.listKey(), payload)
	pipe.LTrim(ctx, s.listKey(), 0, int64(s.capacity-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisSecurityEventStore) Snapshot(ctx context.Context) ([]domain.SecurityEvent, error) {
	raw, err := s.client.LRange(ctx, s.listKey(), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]domain.SecurityEvent, 0, len(raw))
	for _, item := range raw {
		var e domain.SecurityEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisSecurityEventStore) listKey() string {
	return s.prefix + ":log"
}

func (s *RedisSecurityEventStore) dedupKey(event domain.SecurityEvent) string {
	return s.prefix + ":dedup:" + hashToken(securityEventDedupKey(event))
}
