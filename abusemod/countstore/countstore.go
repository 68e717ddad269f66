// Package countstore provides the windowed behavioral counters the pattern
// detectors run against, plus small remember/recall auxiliary state. All
// mutable state lives in a shared external store so the engine can run as
// multiple stateless replicas.
package countstore

import (
	"errors"
	"strings"

	"context"
	"time"
)

// ErrStoreUnavailable is the distinguished condition for any shared-store
// failure. Callers treat it as fail-open: detectors report no finding rather
// than blocking the primary request path.
var ErrStoreUnavailable = errors.New("shared store unavailable")

type CountStore interface {
	// Increment adds one to the counter and returns the new count. The write
	// that takes the key from absent to one also sets the key's expiry to the
	// window, atomically with the increment; later increments within the
	// window leave the expiry untouched.
	Increment(ctx context.Context, key string, window time.Duration) (int, error)
	// Peek returns the current count without mutating; absent keys read 0.
	Peek(ctx context.Context, key string) (int, error)
	// Remember stores an auxiliary value (last location, last request
	// timestamp) with its own TTL.
	Remember(ctx context.Context, key, val string, ttl time.Duration) error
	// Recall returns a remembered value, or "" if absent/expired.
	Recall(ctx context.Context, key string) (string, error)
}

// Key joins key parts with the store's path separator.
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}
