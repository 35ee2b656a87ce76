package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisPermissionEntry struct {
	Generation  uint64   `json:"gen"`
	Permissions []string `json:"perms"`
}

// RedisRBACPermissionCacheStore shares the permission cache between API
// instances so an admin role change on one node is seen by all of them.
type RedisRBACPermissionCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRBACPermissionCacheStore(client redis.UniversalClient, prefix string) *RedisRBACPermissionCacheStore {
	if prefix == "" {
		prefix = "rbac"
	}
	return &RedisRBACPermissionCacheStore{client: client, prefix: prefix}
}

func (s *RedisRBACPermissionCacheStore) Get(ctx context.Context, userID uint) ([]string, bool, error) {
	pipe := s.client.Pipeline()
	genCmd := pipe.Get(ctx, s.generationKey())
	entryCmd := pipe.Get(ctx, s.userKey(userID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, err
	}
	gen, err := readGeneration(genCmd)
	if err != nil {
		return nil, false, err
	}
	raw, err := entryCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var entry redisPermissionEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("decode permission cache entry: %w", err)
	}
	if entry.Generation != gen {
		return nil, false, nil
	}
	return entry.Permissions, true, nil
}

func (s *RedisRBACPermissionCacheStore) Set(ctx context.Context, userID uint, permissions []string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	gen, err := readGeneration(s.client.Get(ctx, s.generationKey()))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(redisPermissionEntry{Generation: gen, Permissions: permissions})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.userKey(userID), payload, ttl).Err()
}

func (s *RedisRBACPermissionCacheStore) InvalidateUser(ctx context.Context, userID uint) error {
	return s.client.Del(ctx, s.userKey(userID)).Err()
}

func (s *RedisRBACPermissionCacheStore) InvalidateAll(ctx context.Context) error {
	return s.client.Incr(ctx, s.generationKey()).Err()
}

func readGeneration(cmd *redis.StringCmd) (uint64, error) {
	v, err := cmd.Result()
	if errors.Is(err, redis.Nil) || (err == nil && v == "") {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	gen, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse permission cache generation: %w", err)
	}
	return gen, nil
}

func (s *RedisRBACPermissionCacheStore) generationKey() string {
	return s.prefix + ":generation"
}

func (s *RedisRBACPermissionCacheStore) userKey(userID uint) string {
	return fmt.Sprintf("%s:user:%d", s.prefix, userID)
}
