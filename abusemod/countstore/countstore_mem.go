package countstore

import (
	"context"
	"sync"
	"time"
)

type memCounter struct {
	count   int
	expires time.Time
}

type memValue struct {
	val     string
	expires time.Time
}

// In-process implementation, for tests and single-instance local development.
// Incorrect under horizontal scaling: replicas would each keep their own
// counts. Production runs on RedisCountStore.
type MemCountStore struct {
	mu     sync.Mutex
	counts map[string]memCounter
	values map[string]memValue

	// Now is the clock used for expiry checks; tests override it.
	Now func() time.Time
}

var _ CountStore = (*MemCountStore)(nil)

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		counts: make(map[string]memCounter),
		values: make(map[string]memValue),
		Now:    time.Now,
	}
}

func (s *MemCountStore) Increment(ctx context.Context, key string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	c, ok := s.counts[key]
	if !ok || now.After(c.expires) {
		c = memCounter{count: 0, expires: now.Add(window)}
	}
	c.count++
	s.counts[key] = c
	return c.count, nil
}

func (s *MemCountStore) Peek(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counts[key]
	if !ok || s.Now().After(c.expires) {
		return 0, nil
	}
	return c.count, nil
}

func (s *MemCountStore) Remember(ctx context.Context, key, val string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memValue{val: val, expires: s.Now().Add(ttl)}
	return nil
}

func (s *MemCountStore) Recall(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok || s.Now().After(v.expires) {
		return "", nil
	}
	return v.val, nil
}

// Sweep drops expired entries. Best-effort housekeeping only; expiry checks
// on read/write already make stale entries invisible.
func (s *MemCountStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	for k, c := range s.counts {
		if now.After(c.expires) {
			delete(s.counts, k)
		}
	}
	for k, v := range s.values {
		if now.After(v.expires) {
			delete(s.values, k)
		}
	}
}
