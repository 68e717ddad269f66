package profilestore

import (
	"context"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

var redisProfilePrefix = "profile/"

// Profiles are hot on the request path (every content assessment reads one),
// so the redis cache carries a local TinyLFU tier sized for the working set
// of active subjects.
const localProfileCacheSize = 20_000

type RedisProfileStore struct {
	Data *cache.Cache
	TTL  time.Duration
}

var _ ProfileStore = (*RedisProfileStore)(nil)

func NewRedisProfileStore(redisURL string, ttl time.Duration) (*RedisProfileStore, error) {
	ctx := context.Background()
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	data := cache.New(&cache.Options{
		Redis:      rdb,
		LocalCache: cache.NewTinyLFU(localProfileCacheSize, ttl),
	})
	return &RedisProfileStore{
		Data: data,
		TTL:  ttl,
	}, nil
}

func (s *RedisProfileStore) Get(ctx context.Context, subjectKey string) (Profile, error) {
	var p Profile
	err := s.Data.Get(ctx, redisProfilePrefix+subjectKey, &p)
	if err == cache.ErrCacheMiss {
		return Profile{}, nil
	}
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *RedisProfileStore) Set(ctx context.Context, subjectKey string, p Profile) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisProfilePrefix + subjectKey,
		Value: p,
		TTL:   s.TTL,
	})
}

func (s *RedisProfileStore) Purge(ctx context.Context, subjectKey string) error {
	err := s.Data.Delete(ctx, redisProfilePrefix+subjectKey)
	if err == cache.ErrCacheMiss {
		return nil
	}
	return err
}
