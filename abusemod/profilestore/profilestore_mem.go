package profilestore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// In-process profile store for tests and single-instance use.
type MemProfileStore struct {
	Data *expirable.LRU[string, Profile]
}

var _ ProfileStore = (*MemProfileStore)(nil)

func NewMemProfileStore(capacity int, ttl time.Duration) *MemProfileStore {
	return &MemProfileStore{
		Data: expirable.NewLRU[string, Profile](capacity, nil, ttl),
	}
}

func (s *MemProfileStore) Get(ctx context.Context, subjectKey string) (Profile, error) {
	p, ok := s.Data.Get(subjectKey)
	if !ok {
		return Profile{}, nil
	}
	return p, nil
}

func (s *MemProfileStore) Set(ctx context.Context, subjectKey string, p Profile) error {
	s.Data.Add(subjectKey, p)
	return nil
}

func (s *MemProfileStore) Purge(ctx context.Context, subjectKey string) error {
	s.Data.Remove(subjectKey)
	return nil
}
