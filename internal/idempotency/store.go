package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

var ErrInFlight = errors.New("a request with this idempotency key is in progress")

// Record is a finished response kept for replay.
type Record struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// entry is what the key holds: a pending marker owned by Token, or a Record.
type entry struct {
	Token  string  `json:"token,omitempty"`
	Record *Record `json:"record,omitempty"`
}

func Key(callerID, route, key string) string {
	return fmt.Sprintf("ecohaat:idem:%s:%s:%s", callerID, route, key)
}

type RedisStore struct {
	rdb     *rd.Client
	lockTTL time.Duration
}

// NewRedisStore keeps pending markers for lockTTL so a crashed request does
// not block its key forever.
func NewRedisStore(rdb *rd.Client, lockTTL time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, lockTTL: lockTTL}
}

// Begin claims key. When someone else holds it, the existing record is
// returned, or nil with ErrInFlight while that request is still running.
func (s *RedisStore) Begin(ctx context.Context, key string) (token string, existing *Record, err error) {
	token = uuid.New().String()
	marker, err := json.Marshal(entry{Token: token})
	if err != nil {
		return "", nil, err
	}

	ok, err := s.rdb.SetNX(ctx, key, marker, s.lockTTL).Result()
	if err != nil {
		return "", nil, err
	}
	if ok {
		return token, nil, nil
	}

	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, rd.Nil) {
		// expired between SETNX and GET; let the client retry
		return "", nil, ErrInFlight
	}
	if err != nil {
		return "", nil, err
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", nil, fmt.Errorf("decode idempotency entry: %w", err)
	}
	if e.Record == nil {
		return "", nil, ErrInFlight
	}
	return "", e.Record, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	data, err := json.Marshal(entry{Record: &rec})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, data, ttl).Err()
}

const luaReleaseIfOwner = `
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
local ok, decoded = pcall(cjson.decode, raw)
if ok and decoded['token'] == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// Release drops the pending marker if token still owns it.
func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	return s.rdb.Eval(ctx, luaReleaseIfOwner, []string{key}, token).Err()
}
