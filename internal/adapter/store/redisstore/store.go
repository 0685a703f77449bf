// Package redisstore implements domain.KVStore on Redis so several server
// instances can share rate-limit counters and cached replies.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// luaCompareAndSwap swaps KEYS[1] to ARGV[2] when it currently holds ARGV[1].
// ARGV[3] = "1" means the caller expects the key to be absent.
// ARGV[4] is the TTL in milliseconds, 0 for none.
const luaCompareAndSwap = `
local current = redis.call("GET", KEYS[1])
if ARGV[3] == "1" then
  if current then
    return 0
  end
else
  if (not current) or current ~= ARGV[1] then
    return 0
  end
end
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`

// Store wraps a go-redis client. Keys are namespaced with Prefix.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	cas    *redis.Script
}

// New wraps rdb; prefix may be empty.
func New(rdb redis.UniversalClient, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix, cas: redis.NewScript(luaCompareAndSwap)}
}

// Dial parses a redis:// URL and returns a connected store.
func Dial(ctx context.Context, rawURL, prefix string) (*Store, *redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("op=redisstore.Dial: parse url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("op=redisstore.Dial: ping: %w", err)
	}
	return New(rdb, prefix), rdb, nil
}

func (s *Store) key(k string) string { return s.prefix + k }

// Get returns the value stored at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("op=redisstore.Get: %w", err)
	}
	return b, true, nil
}

// Set overwrites key with an optional TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("op=redisstore.Set: %w", err)
	}
	return nil
}

// CompareAndSwap runs the swap atomically on the server.
func (s *Store) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	expectAbsent := "0"
	if old == nil {
		expectAbsent = "1"
		old = []byte{}
	}
	res, err := s.cas.Run(ctx, s.rdb, []string{s.key(key)}, old, value, expectAbsent, ttlMillis(ttl)).Int64()
	if err != nil {
		return false, fmt.Errorf("op=redisstore.CompareAndSwap: %w", err)
	}
	return res == 1, nil
}

// ttlMillis converts ttl for PX; a positive ttl never rounds down to "no expiry".
func ttlMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	if ms := ttl.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}

// Ping reports whether the server is reachable; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
