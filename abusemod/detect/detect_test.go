package detect

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/magickw/linkdao-guard/abusemod/countstore"
	"github.com/magickw/linkdao-guard/abusemod/event"
	"github.com/magickw/linkdao-guard/abusemod/policy"
)

func testContext(cs countstore.CountStore, ev *event.RequestEvent) *Context {
	return NewContext(context.Background(), slog.Default(), policy.DefaultPolicy(), cs, ev)
}

// store stub where every operation fails
type downStore struct{}

func (downStore) Increment(ctx context.Context, key string, window time.Duration) (int, error) {
	return 0, fmt.Errorf("%w: connection refused", countstore.ErrStoreUnavailable)
}
func (downStore) Peek(ctx context.Context, key string) (int, error) {
	return 0, fmt.Errorf("%w: connection refused", countstore.ErrStoreUnavailable)
}
func (downStore) Remember(ctx context.Context, key, val string, ttl time.Duration) error {
	return fmt.Errorf("%w: connection refused", countstore.ErrStoreUnavailable)
}
func (downStore) Recall(ctx context.Context, key string) (string, error) {
	return "", fmt.Errorf("%w: connection refused", countstore.ErrStoreUnavailable)
}

var browserHeaders = map[string]string{
	"Accept-Language": "en-US,en;q=0.9",
	"Accept-Encoding": "gzip, deflate, br",
}

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"

func TestRapidRequestsThresholdMonotonicity(t *testing.T) {
	assert := assert.New(t)

	cs := countstore.NewMemCountStore()
	for i := 1; i <= 200; i++ {
		c := testContext(cs, &event.RequestEvent{
			Action:    policy.EventActionRequest,
			IP:        "203.0.113.9",
			UserAgent: browserUA,
			Headers:   browserHeaders,
		})
		assert.NoError(RapidRequestsRule(c))
		findings := c.Findings()
		if i <= 100 {
			assert.Empty(findings, "no finding expected at count %d", i)
		} else {
			if assert.Len(findings, 1, "finding expected at count %d", i) {
				assert.Equal(policy.PatternRapidRequests, findings[0].Pattern)
			}
		}
	}
}

func TestRapidRequestsScoreFormula(t *testing.T) {
	assert := assert.New(t)

	cs := countstore.NewMemCountStore()
	var last event.Finding
	for i := 1; i <= 150; i++ {
		c := testContext(cs, &event.RequestEvent{Action: policy.EventActionRequest, IP: "203.0.113.9"})
		assert.NoError(RapidRequestsRule(c))
		if f := c.Findings(); len(f) > 0 {
			last = f[0]
		}
	}
	// count=150 => min(150/10, 100) = 15.0
	assert.Equal(15.0, last.Score)
}

func TestBotBehaviorAccumulation(t *testing.T) {
	assert := assert.New(t)

	// missing both headers + UA length 5 => 20+15+25 = 60 >= 50
	cs := countstore.NewMemCountStore()
	c := testContext(cs, &event.RequestEvent{
		Action:    policy.EventActionRequest,
		IP:        "203.0.113.9",
		UserAgent: "abcde",
		Headers:   map[string]string{},
	})
	assert.NoError(BotBehaviorRule(c))
	if assert.Len(c.Findings(), 1) {
		assert.Equal(60.0, c.Findings()[0].Score)
	}

	// missing only Accept-Encoding (15) => below threshold, no finding
	c = testContext(cs, &event.RequestEvent{
		Action:    policy.EventActionRequest,
		IP:        "203.0.113.10",
		UserAgent: browserUA,
		Headers:   map[string]string{"Accept-Language": "en-US"},
	})
	assert.NoError(BotBehaviorRule(c))
	assert.Empty(c.Findings())
}

func TestBotBehaviorRapidInterval(t *testing.T) {
	assert := assert.New(t)

	cs := countstore.NewMemCountStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// first request remembers the timestamp; second lands 50ms later and
	// picks up the +40 contribution (40 + missing accept-encoding 15 = 55)
	ev := &event.RequestEvent{
		Action:    policy.EventActionRequest,
		IP:        "203.0.113.9",
		UserAgent: browserUA,
		Headers:   map[string]string{"Accept-Language": "en-US"},
		Time:      base,
	}
	c := testContext(cs, ev)
	assert.NoError(BotBehaviorRule(c))
	assert.Empty(c.Findings())

	ev2 := *ev
	ev2.Time = base.Add(50 * time.Millisecond)
	c = testContext(cs, &ev2)
	assert.NoError(BotBehaviorRule(c))
	if assert.Len(c.Findings(), 1) {
		assert.Equal(55.0, c.Findings()[0].Score)
	}
}

func TestSuspiciousUserAgent(t *testing.T) {
	assert := assert.New(t)
	cs := countstore.NewMemCountStore()

	// scanner signature short-circuits at 100
	c := testContext(cs, &event.RequestEvent{Action: policy.EventActionRequest, IP: "203.0.113.9", UserAgent: "sqlmap/1.7#stable"})
	assert.NoError(SuspiciousUserAgentRule(c))
	if assert.Len(c.Findings(), 1) {
		assert.Equal(100.0, c.Findings()[0].Score)
	}

	// short UA alone crosses the bar
	c = testContext(cs, &event.RequestEvent{Action: policy.EventActionRequest, IP: "203.0.113.9", UserAgent: ""})
	assert.NoError(SuspiciousUserAgentRule(c))
	assert.Len(c.Findings(), 1)

	// ordinary browser UA is clean
	c = testContext(cs, &event.RequestEvent{Action: policy.EventActionRequest, IP: "203.0.113.9", UserAgent: browserUA})
	assert.NoError(SuspiciousUserAgentRule(c))
	assert.Empty(c.Findings())

	// malformed Mozilla version alone (20) stays below the bar
	c = testContext(cs, &event.RequestEvent{Action: policy.EventActionRequest, IP: "203.0.113.9", UserAgent: "Mozilla/borked (compatible)"})
	assert.NoError(SuspiciousUserAgentRule(c))
	assert.Empty(c.Findings())
}

func TestGeographicAnomaly(t *testing.T) {
	assert := assert.New(t)
	cs := countstore.NewMemCountStore()

	ev := &event.RequestEvent{Action: policy.EventActionRequest, UserID: "u1", IP: "203.0.113.9"}
	c := testContext(cs, ev)
	assert.NoError(GeographicAnomalyRule(c))
	assert.Empty(c.Findings())

	// same location again: still clean
	c = testContext(cs, ev)
	assert.NoError(GeographicAnomalyRule(c))
	assert.Empty(c.Findings())

	// location change within the window
	c = testContext(cs, &event.RequestEvent{Action: policy.EventActionRequest, UserID: "u1", IP: "198.51.100.7"})
	assert.NoError(GeographicAnomalyRule(c))
	if assert.Len(c.Findings(), 1) {
		assert.Equal(70.0, c.Findings()[0].Score)
	}

	// no user id: detector skips
	c = testContext(cs, &event.RequestEvent{Action: policy.EventActionRequest, IP: "198.51.100.8"})
	assert.NoError(GeographicAnomalyRule(c))
	assert.Empty(c.Findings())
}

func TestBruteForceLogin(t *testing.T) {
	assert := assert.New(t)
	cs := countstore.NewMemCountStore()

	// 4 failed attempts: below threshold
	for i := 0; i < 4; i++ {
		c := testContext(cs, &event.RequestEvent{Action: policy.EventActionLogin, IP: "203.0.113.5", Failed: true})
		assert.NoError(BruteForceLoginRule(c))
		assert.Empty(c.Findings())
	}

	// 5th failed attempt within the window fires with score 50
	c := testContext(cs, &event.RequestEvent{Action: policy.EventActionLogin, IP: "203.0.113.5", Failed: true})
	assert.NoError(BruteForceLoginRule(c))
	if assert.Len(c.Findings(), 1) {
		assert.Equal(policy.PatternBruteForceLogin, c.Findings()[0].Pattern)
		assert.Equal(50.0, c.Findings()[0].Score)
	}

	// successful logins never feed the counter
	c = testContext(cs, &event.RequestEvent{Action: policy.EventActionLogin, IP: "203.0.113.6", Failed: false})
	assert.NoError(BruteForceLoginRule(c))
	assert.Empty(c.Findings())
	n, err := cs.Peek(context.Background(), countstore.Key("loginfail", "ip", "203.0.113.6"))
	assert.NoError(err)
	assert.Equal(0, n)
}

func TestSuspiciousRegistration(t *testing.T) {
	assert := assert.New(t)
	cs := countstore.NewMemCountStore()

	for i := 1; i <= 3; i++ {
		c := testContext(cs, &event.RequestEvent{Action: policy.EventActionRegister, IP: "203.0.113.5"})
		assert.NoError(SuspiciousRegistrationRule(c))
		assert.Empty(c.Findings())
	}
	c := testContext(cs, &event.RequestEvent{Action: policy.EventActionRegister, IP: "203.0.113.5"})
	assert.NoError(SuspiciousRegistrationRule(c))
	if assert.Len(c.Findings(), 1) {
		// count*20 at the 4th registration
		assert.Equal(80.0, c.Findings()[0].Score)
	}
}

func TestSpamPostingRate(t *testing.T) {
	assert := assert.New(t)
	cs := countstore.NewMemCountStore()

	for i := 1; i <= 10; i++ {
		c := testContext(cs, &event.RequestEvent{Action: policy.EventActionPost, UserID: "u1", Content: fmt.Sprintf("post number %d", i)})
		assert.NoError(SpamPostingRule(c))
		assert.Empty(c.Findings())
	}
	c := testContext(cs, &event.RequestEvent{Action: policy.EventActionPost, UserID: "u1", Content: "post number 11"})
	assert.NoError(SpamPostingRule(c))
	if assert.Len(c.Findings(), 1) {
		// 11 posts/hour => 11*5 = 55
		assert.Equal(55.0, c.Findings()[0].Score)
	}
}

func TestSpamPostingDuplicateContent(t *testing.T) {
	assert := assert.New(t)
	cs := countstore.NewMemCountStore()

	c := testContext(cs, &event.RequestEvent{Action: policy.EventActionPost, UserID: "u2", Content: "buy cheap tokens now"})
	assert.NoError(SpamPostingRule(c))
	assert.Empty(c.Findings())

	// same content again: +30 on its own reaches the bar
	c = testContext(cs, &event.RequestEvent{Action: policy.EventActionPost, UserID: "u2", Content: "buy cheap tokens now"})
	assert.NoError(SpamPostingRule(c))
	if assert.Len(c.Findings(), 1) {
		assert.Equal(30.0, c.Findings()[0].Score)
	}
}

func TestMassFollowing(t *testing.T) {
	assert := assert.New(t)
	cs := countstore.NewMemCountStore()

	for i := 1; i <= 20; i++ {
		c := testContext(cs, &event.RequestEvent{Action: policy.EventActionFollow, UserID: "u3"})
		assert.NoError(MassFollowingRule(c))
		assert.Empty(c.Findings())
	}
	c := testContext(cs, &event.RequestEvent{Action: policy.EventActionFollow, UserID: "u3"})
	assert.NoError(MassFollowingRule(c))
	if assert.Len(c.Findings(), 1) {
		// 21 follows => 21*3 = 63
		assert.Equal(63.0, c.Findings()[0].Score)
	}
}

func TestDetectorsFailOpen(t *testing.T) {
	assert := assert.New(t)

	set := DefaultSet()
	c := testContext(downStore{}, &event.RequestEvent{
		Action:    policy.EventActionLogin,
		IP:        "203.0.113.5",
		UserID:    "u1",
		UserAgent: browserUA,
		Headers:   browserHeaders,
		Failed:    true,
	})
	assert.NoError(set.Run(c))
	assert.Empty(c.Findings())
	assert.True(c.StoreFailed())
}

func TestDetectorsSkipMissingIdentity(t *testing.T) {
	assert := assert.New(t)

	// no IP, no user id: identity-keyed detectors skip, nothing fires
	set := DefaultSet()
	c := testContext(countstore.NewMemCountStore(), &event.RequestEvent{
		Action:    policy.EventActionRequest,
		UserAgent: "x",
	})
	assert.NoError(set.Run(c))
	assert.Empty(c.Findings())
}
