package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordFailureScript resets stale counters, increments the failure count and
// arms the lock once the threshold is reached. All times are unix millis.
var recordFailureScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local lock_ms = tonumber(ARGV[3])
local reset_ms = tonumber(ARGV[4])
local count = tonumber(redis.call('HGET', KEYS[1], 'fail_count') or '0')
local last = tonumber(redis.call('HGET', KEYS[1], 'last_attempt_ms') or '0')
local locked = tonumber(redis.call('HGET', KEYS[1], 'locked_until_ms') or '0')
if last > 0 and now - last > reset_ms then
  count = 0
  locked = 0
end
count = count + 1
if count >= threshold then
  locked = now + lock_ms
end
redis.call('HSET', KEYS[1], 'fail_count', count, 'last_attempt_ms', now, 'locked_until_ms', locked)
local ttl = reset_ms
if locked - now > ttl then
  ttl = locked - now
end
redis.call('PEXPIRE', KEYS[1], ttl)
return {count, locked}
`)

// readLockoutScript returns {fail_count, last_attempt_ms, locked_until_ms}, or
// an empty reply after deleting a record idle for longer than the reset window.
var readLockoutScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local reset_ms = tonumber(ARGV[2])
if redis.call('HEXISTS', KEYS[1], 'fail_count') == 0 then
  return {}
end
local count = tonumber(redis.call('HGET', KEYS[1], 'fail_count') or '0')
local last = tonumber(redis.call('HGET', KEYS[1], 'last_attempt_ms') or '0')
local locked = tonumber(redis.call('HGET', KEYS[1], 'locked_until_ms') or '0')
if now - last > reset_ms then
  redis.call('DEL', KEYS[1])
  return {}
end
return {count, last, locked}
`)

type RedisLockoutStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLockoutStore(client redis.UniversalClient, prefix string) *RedisLockoutStore {
	if prefix == "" {
		prefix = "auth_lockout"
	}
	return &RedisLockoutStore{client: client, prefix: prefix}
}

func (s *RedisLockoutStore) Get(ctx context.Context, key string, now time.Time, policy LockoutPolicy) (LockoutRecord, bool, error) {
	res, err := readLockoutScript.Run(ctx, s.client, []string{s.key(key)},
		now.UnixMilli(), policy.ResetWindow.Milliseconds()).Int64Slice()
	if err != nil {
		return LockoutRecord{}, false, err
	}
	if len(res) == 0 {
		return LockoutRecord{}, false, nil
	}
	if len(res) != 3 {
		return LockoutRecord{}, false, fmt.Errorf("unexpected lockout read result: %v", res)
	}
	rec := LockoutRecord{FailCount: int(res[0]), LastAttempt: time.UnixMilli(res[1]).UTC()}
	if res[2] > 0 {
		rec.LockedUntil = time.UnixMilli(res[2]).UTC()
	}
	return rec, true, nil
}

func (s *RedisLockoutStore) RecordFailure(ctx context.Context, key string, now time.Time, policy LockoutPolicy) (LockoutRecord, error) {
	res, err := recordFailureScript.Run(ctx, s.client, []string{s.key(key)},
		now.UnixMilli(), policy.Threshold, policy.LockDuration.Milliseconds(), policy.ResetWindow.Milliseconds()).Int64Slice()
	if err != nil {
		return LockoutRecord{}, err
	}
	if len(res) != 2 {
		return LockoutRecord{}, fmt.Errorf("unexpected lockout script result: %v", res)
	}
	rec := LockoutRecord{FailCount: int(res[0]), LastAttempt: now}
	if res[1] > 0 {
		rec.LockedUntil = time.UnixMilli(res[1]).UTC()
	}
	return rec, nil
}

func (s *RedisLockoutStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *RedisLockoutStore) key(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, hashToken(key))
}
