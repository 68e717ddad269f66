// Package profilestore caches per-subject moderation metadata (prior
// violation counts, last violation time) in the shared store. It is an
// advisory layer only: a miss or an outage reads as a clean profile, never
// an error the request path has to care about.
package profilestore

import (
	"context"
	"time"
)

// Cached moderation standing for one subject.
type Profile struct {
	PriorViolations int       `json:"prior_violations"`
	LastViolation   time.Time `json:"last_violation,omitzero"`
}

func (p Profile) IsClean() bool {
	return p.PriorViolations == 0
}

type ProfileStore interface {
	// Get returns the cached profile, or a zero profile on miss.
	Get(ctx context.Context, subjectKey string) (Profile, error)
	Set(ctx context.Context, subjectKey string, p Profile) error
	Purge(ctx context.Context, subjectKey string) error
}
