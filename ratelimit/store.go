package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the external, shared counter backend the rate-limit guard reads
// and writes through. A Store implementation must make IncrBy, IncrInt, and
// TryReserve atomic across concurrent callers on any instance of the proxy.
type Store interface {
	// IncrBy atomically adds delta to the float64 counter at key, setting
	// ttl on the key only if this call created it, and returns the new
	// total.
	IncrBy(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error)

	// Get returns the current float64 value at key, or 0 if unset.
	Get(ctx context.Context, key string) (float64, error)

	// IncrInt atomically increments the integer counter at key (creating
	// it with ttl if absent) and returns the new count.
	IncrInt(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TryReserve atomically increments the integer counter at key
	// (creating it with ttl if absent) and, if the result would exceed
	// limit, decrements it back and reports false. A true result for a
	// concurrency-style key must eventually be matched by Release; a
	// fixed-window counter (e.g. RPM) is left to expire instead.
	TryReserve(ctx context.Context, key string, limit int64, ttl time.Duration) (bool, int64, error)

	// Release atomically decrements the counter at key, floored at 0.
	Release(ctx context.Context, key string) error

	// TTLRemaining returns how long until key expires, for reset-time
	// reporting in rate-limit error bodies.
	TTLRemaining(ctx context.Context, key string) (time.Duration, error)

	// ReserveSetMember adds member to the set at key if doing so would not
	// push its cardinality past limit, atomically. Used for distinct
	// client-agent concurrency, where the dimension being bounded is the
	// count of *distinct* agents active at once, not a request counter.
	ReserveSetMember(ctx context.Context, key, member string, limit int64, ttl time.Duration) (bool, int64, error)

	// ReleaseSetMember removes member from the set at key.
	ReleaseSetMember(ctx context.Context, key, member string) error
}

// RedisStore implements Store against a shared *redis.Client using Lua
// scripts so increment-and-compare-and-maybe-rollback happens as one
// atomic round trip, regardless of how many proxy instances share the
// keyspace.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing redis client. The client is owned by the
// caller; RedisStore never closes it.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

var incrByScript = redis.NewScript(`
local v = redis.call("INCRBYFLOAT", KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 and tonumber(redis.call("TTL", KEYS[1])) < 0 then
	redis.call("EXPIRE", KEYS[1], ttl)
end
return v
`)

func (s *RedisStore) IncrBy(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	res, err := incrByScript.Run(ctx, s.client, []string{key}, delta, int(ttl.Seconds())).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: incrby %s: %w", key, err)
	}
	return parseFloatResult(res)
}

func (s *RedisStore) Get(ctx context.Context, key string) (float64, error) {
	v, err := s.client.Get(ctx, key).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ratelimit: get %s: %w", key, err)
	}
	return v, nil
}

var incrIntScript = redis.NewScript(`
local v = redis.call("INCR", KEYS[1])
if v == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return v
`)

func (s *RedisStore) IncrInt(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	v, err := incrIntScript.Run(ctx, s.client, []string{key}, int(ttl.Seconds())).Int64()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: incrint %s: %w", key, err)
	}
	return v, nil
}

var tryReserveScript = redis.NewScript(`
local v = redis.call("INCR", KEYS[1])
if v == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if v > tonumber(ARGV[1]) then
	redis.call("DECR", KEYS[1])
	return {0, v - 1}
end
return {1, v}
`)

func (s *RedisStore) TryReserve(ctx context.Context, key string, limit int64, ttl time.Duration) (bool, int64, error) {
	secs := int(ttl.Seconds())
	if secs <= 0 {
		secs = 86400
	}
	res, err := tryReserveScript.Run(ctx, s.client, []string{key}, limit, secs).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: tryreserve %s: %w", key, err)
	}
	ok := toInt64(res[0]) == 1
	return ok, toInt64(res[1]), nil
}

var releaseScript = redis.NewScript(`
local v = redis.call("DECR", KEYS[1])
if v < 0 then
	redis.call("SET", KEYS[1], 0)
	return 0
end
return v
`)

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{key}).Err(); err != nil {
		return fmt.Errorf("ratelimit: release %s: %w", key, err)
	}
	return nil
}

var reserveSetMemberScript = redis.NewScript(`
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 1 then
	return {1, redis.call("SCARD", KEYS[1])}
end
local card = redis.call("SCARD", KEYS[1])
if card >= tonumber(ARGV[2]) then
	return {0, card}
end
redis.call("SADD", KEYS[1], ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[3])
return {1, card + 1}
`)

func (s *RedisStore) ReserveSetMember(ctx context.Context, key, member string, limit int64, ttl time.Duration) (bool, int64, error) {
	secs := int(ttl.Seconds())
	if secs <= 0 {
		secs = 86400
	}
	res, err := reserveSetMemberScript.Run(ctx, s.client, []string{key}, member, limit, secs).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: reserve set member %s: %w", key, err)
	}
	return toInt64(res[0]) == 1, toInt64(res[1]), nil
}

func (s *RedisStore) ReleaseSetMember(ctx context.Context, key, member string) error {
	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("ratelimit: release set member %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) TTLRemaining(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: ttl %s: %w", key, err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func parseFloatResult(res interface{}) (float64, error) {
	switch v := res.(type) {
	case string:
		var f float64
		_, err := fmt.Sscanf(v, "%g", &f)
		return f, err
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("ratelimit: unexpected incrbyfloat result type %T", res)
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
