package countstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisCountPrefix string = "count/"
var redisMemoPrefix string = "memo/"

// Single round trip, and the expiry lands atomically with the first
// increment: there is no observable window where the key exists without one.
var incrWithWindow = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return c
`)

type RedisCountStore struct {
	Client *redis.Client
}

var _ CountStore = (*RedisCountStore)(nil)

func NewRedisCountStore(redisURL string) (*RedisCountStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	rcs := RedisCountStore{
		Client: rdb,
	}
	return &rcs, nil
}

func (s *RedisCountStore) Increment(ctx context.Context, key string, window time.Duration) (int, error) {
	res, err := incrWithWindow.Run(ctx, s.Client, []string{redisCountPrefix + key}, window.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res, nil
}

func (s *RedisCountStore) Peek(ctx context.Context, key string) (int, error) {
	c, err := s.Client.Get(ctx, redisCountPrefix+key).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return c, nil
}

func (s *RedisCountStore) Remember(ctx context.Context, key, val string, ttl time.Duration) error {
	if err := s.Client.Set(ctx, redisMemoPrefix+key, val, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisCountStore) Recall(ctx context.Context, key string) (string, error) {
	val, err := s.Client.Get(ctx, redisMemoPrefix+key).Result()
	if err == redis.Nil {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return val, nil
}
