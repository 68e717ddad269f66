// Package alerts decides whether a triggered pattern also surfaces an
// external notification, suppressing repeats of the same pattern+severity
// within a UTC day.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magickw/linkdao-guard/abusemod/countstore"
	"github.com/magickw/linkdao-guard/abusemod/policy"
)

// DedupeKey is pattern + "-" + severity + "-" + UTC calendar date.
func DedupeKey(pattern string, severity policy.Severity, at time.Time) string {
	return pattern + "-" + string(severity) + "-" + at.UTC().Format(time.DateOnly)
}

// DedupeStore records first occurrences of alert keys. The production
// implementation lives in the shared store: an in-process set would alert
// once per replica.
type DedupeStore interface {
	// FirstToday marks the key and reports whether this was its first
	// occurrence.
	FirstToday(ctx context.Context, key string) (bool, error)
}

type RedisDedupeStore struct {
	Client *redis.Client
	TTL    time.Duration
}

var _ DedupeStore = (*RedisDedupeStore)(nil)

func NewRedisDedupeStore(redisURL string, ttl time.Duration) (*RedisDedupeStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisDedupeStore{Client: rdb, TTL: ttl}, nil
}

func (s *RedisDedupeStore) FirstToday(ctx context.Context, key string) (bool, error) {
	// key uniqueness comes from the embedded date; the TTL only bounds
	// garbage
	set, err := s.Client.SetNX(ctx, "alerted/"+key, "1", s.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", countstore.ErrStoreUnavailable, err)
	}
	return set, nil
}

// Single-instance fallback for local development; incorrect under horizontal
// scaling. Entries expire after TTL and get reclaimed by Sweep.
type MemDedupeStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	TTL  time.Duration
	// replaceable for testing
	Now func() time.Time
}

var _ DedupeStore = (*MemDedupeStore)(nil)

func NewMemDedupeStore(ttl time.Duration) *MemDedupeStore {
	return &MemDedupeStore{
		seen: make(map[string]time.Time),
		TTL:  ttl,
		Now:  time.Now,
	}
}

func (s *MemDedupeStore) FirstToday(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	if exp, ok := s.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[key] = now.Add(s.TTL)
	return true, nil
}

// Sweep drops expired entries. Run periodically.
func (s *MemDedupeStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	for key, exp := range s.seen {
		if !now.Before(exp) {
			delete(s.seen, key)
		}
	}
}
