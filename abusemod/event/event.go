// Package event defines the data types flowing through the abuse engine:
// inbound request events, detector findings, and recorded abuse events.
package event

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magickw/linkdao-guard/abusemod/policy"
)

// A single inbound request/content event, as reported by the transport layer.
// Identity signals may be partially missing; detectors requiring an absent
// key skip themselves.
type RequestEvent struct {
	// One of the policy.EventAction* values.
	Action    string
	IP        string
	UserID    string
	UserAgent string
	Headers   map[string]string
	// Post body, for content-bearing actions.
	Content string
	// Optional coarse location (region/country) resolved by the transport.
	// When empty the engine falls back to the raw IP as a location proxy.
	Region string
	// Auth result for login events; only failed attempts count toward the
	// brute-force pattern.
	Failed bool
	Time   time.Time
}

// Header performs a case-insensitive header lookup.
func (ev *RequestEvent) Header(name string) string {
	if v, ok := ev.Headers[name]; ok {
		return v
	}
	for k, v := range ev.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Location returns the best available location signal for the event.
func (ev *RequestEvent) Location() string {
	if ev.Region != "" {
		return ev.Region
	}
	return ev.IP
}

func (ev *RequestEvent) Subject() Subject {
	return Subject{UserID: ev.UserID, IP: ev.IP}
}

// Output of a single pattern detector. Ephemeral; not persisted standalone.
type Finding struct {
	Pattern string `json:"pattern"`
	// Unbounded by type, 0-100 by convention.
	Score      float64           `json:"score"`
	Indicators []string          `json:"indicators,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// The identity a pattern triggered against: user id and/or IP, at least one
// of which is set.
type Subject struct {
	UserID string `json:"user_id,omitempty"`
	IP     string `json:"ip,omitempty"`
}

func (s Subject) IsZero() bool {
	return s.UserID == "" && s.IP == ""
}

// Key returns a stable identity key for use in store keys and idempotency
// checks. User identity wins over IP when both are present.
func (s Subject) Key() string {
	if s.UserID != "" {
		return "user:" + s.UserID
	}
	return "ip:" + s.IP
}

func (s Subject) String() string {
	switch {
	case s.UserID != "" && s.IP != "":
		return fmt.Sprintf("%s (%s)", s.UserID, s.IP)
	case s.UserID != "":
		return s.UserID
	default:
		return s.IP
	}
}

// A recorded pattern trigger, retained in the capped event log. Append-only;
// Resolved flips false to true exactly once.
type AbuseEvent struct {
	ID       string            `json:"id"`
	Subject  Subject           `json:"subject"`
	Pattern  string            `json:"pattern"`
	Severity policy.Severity   `json:"severity"`
	Time     time.Time         `json:"time"`
	Resolved bool              `json:"resolved"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func NewAbuseEvent(subject Subject, pattern string, severity policy.Severity, meta map[string]string) AbuseEvent {
	return AbuseEvent{
		ID:       uuid.New().String(),
		Subject:  subject,
		Pattern:  pattern,
		Severity: severity,
		Time:     time.Now().UTC(),
		Metadata: meta,
	}
}

// ContentHash computes a fast non-cryptographic digest of a post body, used
// for repeated-content detection. Whitespace is collapsed and case folded so
// trivial edits still collide.
func ContentHash(content string) string {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(content), " "))))
	return fmt.Sprintf("%016x", h.Sum64())
}
