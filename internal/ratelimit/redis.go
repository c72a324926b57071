package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript evaluates the fixed window inside Redis so concurrent requests
// for one session cannot both read the same count.
// Returns {allowed, retry_after_ms, count}.
var hitScript = redis.NewScript(`
local start = redis.call('HGET', KEYS[1], 'window_start')
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
if (not start) or (now - tonumber(start) > window) then
  redis.call('HSET', KEYS[1], 'count', 1, 'window_start', now)
  redis.call('PEXPIRE', KEYS[1], window * 2)
  return {1, 0, 1}
end
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local elapsed = now - tonumber(start)
if count >= max then
  local retry = window - elapsed
  if retry < 1 then retry = 1 end
  return {0, retry, count}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, 0, count}
`)

// RedisStore keeps windows in Redis hashes keyed by session.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient connects to the Redis instance at redisURL.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewRedisStore creates a Redis-backed window store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "chat:ratelimit:"}
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, sessionID string, now time.Time, limit Limit) (Decision, error) {
	res, err := hitScript.Run(ctx, s.client,
		[]string{s.prefix + sessionID},
		now.UnixMilli(), limit.Window.Milliseconds(), limit.Max,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis rate limit script: unexpected reply %v", res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
		Count:      int(res[2]),
	}, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
