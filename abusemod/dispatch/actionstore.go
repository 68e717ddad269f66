// Package dispatch maps a triggered pattern to its ordered action list and
// applies it idempotently against an external enforcement surface.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"

	"github.com/magickw/linkdao-guard/abusemod/countstore"
	"github.com/magickw/linkdao-guard/abusemod/event"
	"github.com/magickw/linkdao-guard/abusemod/policy"
)

// One applied protective action. The idempotency key is (subject, pattern,
// action type, UTC calendar day): re-application within the same key extends
// or overwrites the duration instead of stacking a duplicate.
type ActionRecord struct {
	Type      policy.ActionType
	Subject   event.Subject
	Pattern   string
	Duration  time.Duration
	AppliedAt time.Time
}

func (r ActionRecord) idempotencyKey() string {
	day := r.AppliedAt.UTC().Format(time.DateOnly)
	return countstore.Key("action", r.Subject.Key(), r.Pattern, day, string(r.Type))
}

// ttl returns how long the record stays live in the store. Duration-bound
// actions live for their duration; instantaneous ones keep the day-keyed
// record around long enough to cover the idempotency day plus clock skew.
func (r ActionRecord) ttl() time.Duration {
	if r.Duration > 0 {
		return r.Duration
	}
	return 48 * time.Hour
}

type ActionStore interface {
	// Apply upserts the record under its idempotency key. Returns true when
	// this is the first application for the key; false when an existing
	// record was extended/overwritten.
	Apply(ctx context.Context, rec ActionRecord) (bool, error)
	// Active reports whether an unexpired record exists for the key.
	Active(ctx context.Context, rec ActionRecord) (bool, error)
}

type RedisActionStore struct {
	Client *redis.Client
}

var _ ActionStore = (*RedisActionStore)(nil)

func NewRedisActionStore(redisURL string) (*RedisActionStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisActionStore{Client: rdb}, nil
}

func (s *RedisActionStore) Apply(ctx context.Context, rec ActionRecord) (bool, error) {
	// SET with GET: the returned previous value tells us whether the record
	// is fresh, and the new TTL extends any existing record in one round trip
	prev, err := s.Client.SetArgs(ctx, rec.idempotencyKey(), rec.AppliedAt.UTC().Format(time.RFC3339), redis.SetArgs{
		TTL: rec.ttl(),
		Get: true,
	}).Result()
	if err == redis.Nil {
		return true, nil
	} else if err != nil {
		return false, fmt.Errorf("%w: %v", countstore.ErrStoreUnavailable, err)
	}
	return prev == "", nil
}

func (s *RedisActionStore) Active(ctx context.Context, rec ActionRecord) (bool, error) {
	n, err := s.Client.Exists(ctx, rec.idempotencyKey()).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", countstore.ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

type memActionEntry struct {
	appliedAt time.Time
	expires   time.Time
}

// In-process action store for tests and single-instance use.
type MemActionStore struct {
	data *xsync.MapOf[string, memActionEntry]

	Now func() time.Time
}

var _ ActionStore = (*MemActionStore)(nil)

func NewMemActionStore() *MemActionStore {
	return &MemActionStore{
		data: xsync.NewMapOf[string, memActionEntry](),
		Now:  time.Now,
	}
}

func (s *MemActionStore) Apply(ctx context.Context, rec ActionRecord) (bool, error) {
	now := s.Now()
	entry := memActionEntry{appliedAt: rec.AppliedAt, expires: now.Add(rec.ttl())}
	prev, loaded := s.data.LoadAndStore(rec.idempotencyKey(), entry)
	fresh := !loaded || now.After(prev.expires)
	return fresh, nil
}

func (s *MemActionStore) Active(ctx context.Context, rec ActionRecord) (bool, error) {
	entry, ok := s.data.Load(rec.idempotencyKey())
	if !ok || s.Now().After(entry.expires) {
		return false, nil
	}
	return true, nil
}

// Expiry returns the current expiry instant for the record's key, for tests
// and introspection.
func (s *MemActionStore) Expiry(rec ActionRecord) (time.Time, bool) {
	entry, ok := s.data.Load(rec.idempotencyKey())
	if !ok || s.Now().After(entry.expires) {
		return time.Time{}, false
	}
	return entry.expires, true
}

// ActiveCount reports the number of unexpired records, for tests.
func (s *MemActionStore) ActiveCount() int {
	now := s.Now()
	count := 0
	s.data.Range(func(_ string, entry memActionEntry) bool {
		if !now.After(entry.expires) {
			count++
		}
		return true
	})
	return count
}

// Sweep drops expired entries, best-effort.
func (s *MemActionStore) Sweep() {
	now := s.Now()
	s.data.Range(func(key string, entry memActionEntry) bool {
		if now.After(entry.expires) {
			s.data.Delete(key)
		}
		return true
	})
}
