// Package detect implements the pattern detector set. Each detector is a
// pure function of (event, counter store) which may append a finding; more
// than one detector can fire for the same event.
package detect

import (
	"context"
	"log/slog"
	"time"

	"github.com/magickw/linkdao-guard/abusemod/countstore"
	"github.com/magickw/linkdao-guard/abusemod/event"
	"github.com/magickw/linkdao-guard/abusemod/policy"
)

// Per-evaluation context handed to each detector. Counter access goes through
// the fail-open helpers below: on store failure the helper logs at warn
// level, marks the outage, and returns a zero value, so the detector simply
// produces no finding instead of surfacing an error to the caller.
type Context struct {
	Ctx    context.Context
	Logger *slog.Logger
	Policy *policy.Policy
	Event  *event.RequestEvent

	counters    countstore.CountStore
	findings    []event.Finding
	storeFailed bool
}

func NewContext(ctx context.Context, logger *slog.Logger, pol *policy.Policy, counters countstore.CountStore, ev *event.RequestEvent) *Context {
	return &Context{
		Ctx:      ctx,
		Logger:   logger.With("action", ev.Action),
		Policy:   pol,
		Event:    ev,
		counters: counters,
	}
}

// Increment bumps a windowed counter and returns the new count, or 0 on
// store failure (fail-open).
func (c *Context) Increment(key string, window time.Duration) int {
	count, err := c.counters.Increment(c.Ctx, key, window)
	if err != nil {
		c.storeFail("increment", key, err)
		return 0
	}
	return count
}

// Peek reads a counter without mutating, or 0 on store failure.
func (c *Context) Peek(key string) int {
	count, err := c.counters.Peek(c.Ctx, key)
	if err != nil {
		c.storeFail("peek", key, err)
		return 0
	}
	return count
}

func (c *Context) Remember(key, val string, ttl time.Duration) {
	if err := c.counters.Remember(c.Ctx, key, val, ttl); err != nil {
		c.storeFail("remember", key, err)
	}
}

// Recall returns a remembered value, or "" if absent or on store failure.
func (c *Context) Recall(key string) string {
	val, err := c.counters.Recall(c.Ctx, key)
	if err != nil {
		c.storeFail("recall", key, err)
		return ""
	}
	return val
}

func (c *Context) storeFail(op, key string, err error) {
	c.storeFailed = true
	c.Logger.Warn("counter store unavailable, failing open", "op", op, "key", key, "err", err)
}

// StoreFailed reports whether any store operation failed during evaluation.
func (c *Context) StoreFailed() bool {
	return c.storeFailed
}

func (c *Context) AddFinding(f event.Finding) {
	c.findings = append(c.findings, f)
}

func (c *Context) Findings() []event.Finding {
	return c.findings
}
