package otp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// Code is a pending one-time code. Only the bcrypt hash is kept.
type Code struct {
	Hash     string
	Attempts int
}

func Key(email string) string {
	return fmt.Sprintf("ecohaat:otp:%s", email)
}

type RedisStore struct {
	rdb *rd.Client
}

func NewRedisStore(rdb *rd.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Save replaces any pending code for email and resets its attempts.
func (s *RedisStore) Save(ctx context.Context, email, hash string, ttl time.Duration) error {
	key := Key(email)
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"hash", hash,
		"attempts", 0,
	)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns nil when no code is pending or it expired.
func (s *RedisStore) Get(ctx context.Context, email string) (*Code, error) {
	m, err := s.rdb.HGetAll(ctx, Key(email)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}

	attempts, err := strconv.Atoi(m["attempts"])
	if err != nil {
		return nil, fmt.Errorf("parse otp attempts: %w", err)
	}
	return &Code{Hash: m["hash"], Attempts: attempts}, nil
}

// HINCRBY would recreate an expired key without a TTL.
const luaIncrIfExists = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`

// IncrAttempts returns the new attempt count, or -1 when the code is gone.
func (s *RedisStore) IncrAttempts(ctx context.Context, email string) (int, error) {
	n, err := s.rdb.Eval(ctx, luaIncrIfExists, []string{Key(email)}).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *RedisStore) Delete(ctx context.Context, email string) error {
	return s.rdb.Del(ctx, Key(email)).Err()
}
