package detect

import (
	"fmt"
	"strconv"

	"github.com/magickw/linkdao-guard/abusemod/countstore"
	"github.com/magickw/linkdao-guard/abusemod/event"
	"github.com/magickw/linkdao-guard/abusemod/policy"
)

var (
	_ RuleFunc = BruteForceLoginRule
	_ RuleFunc = SuspiciousRegistrationRule
	_ RuleFunc = SpamPostingRule
	_ RuleFunc = MassFollowingRule
)

// BruteForceLoginRule counts failed login attempts per IP; successful logins
// do not feed the counter.
func BruteForceLoginRule(c *Context) error {
	ev := c.Event
	if ev.Action != policy.EventActionLogin || !ev.Failed || ev.IP == "" {
		return nil
	}
	def, ok := c.Policy.Pattern(policy.PatternBruteForceLogin)
	if !ok {
		return nil
	}
	count := c.Increment(countstore.Key("loginfail", "ip", ev.IP), def.Window)
	if count < def.Threshold {
		return nil
	}
	score := min(float64(count)*10, 100)
	c.AddFinding(event.Finding{
		Pattern:    policy.PatternBruteForceLogin,
		Score:      score,
		Indicators: []string{fmt.Sprintf("%d failed logins in %s", count, def.Window)},
		Metadata:   map[string]string{"failed_count": strconv.Itoa(count)},
	})
	return nil
}

func SuspiciousRegistrationRule(c *Context) error {
	ev := c.Event
	if ev.Action != policy.EventActionRegister || ev.IP == "" {
		return nil
	}
	def, ok := c.Policy.Pattern(policy.PatternSuspiciousRegistration)
	if !ok {
		return nil
	}
	count := c.Increment(countstore.Key("register", "ip", ev.IP), def.Window)
	if count <= def.Threshold {
		return nil
	}
	c.AddFinding(event.Finding{
		Pattern:    policy.PatternSuspiciousRegistration,
		Score:      float64(count) * 20,
		Indicators: []string{fmt.Sprintf("%d registrations in %s", count, def.Window)},
		Metadata:   map[string]string{"count": strconv.Itoa(count)},
	})
	return nil
}

// SpamPostingRule combines post rate with repeated-content detection: the
// hourly post counter contributes count*5 past the rate threshold, and any
// repeat of the same content hash within a day contributes a fixed score.
func SpamPostingRule(c *Context) error {
	ev := c.Event
	if ev.Action != policy.EventActionPost || ev.UserID == "" {
		return nil
	}
	def, ok := c.Policy.Pattern(policy.PatternSpamPosting)
	if !ok {
		return nil
	}

	var score float64
	var indicators []string

	postCount := c.Increment(countstore.Key("post", "user", ev.UserID), def.Window)
	if postCount > def.Threshold {
		score += float64(postCount) * 5
		indicators = append(indicators, fmt.Sprintf("%d posts in %s", postCount, def.Window))
	}

	if ev.Content != "" {
		hash := event.ContentHash(ev.Content)
		hashCount := c.Increment(countstore.Key("posthash", "user", ev.UserID, hash), c.Policy.SpamContentHashWindow)
		if hashCount > 1 {
			score += c.Policy.SpamRepeatContentScore
			indicators = append(indicators, fmt.Sprintf("duplicate content posted %d times", hashCount))
		}
	}

	// a fast posting streak alone or a single duplicate alone can reach the
	// bar; both together stack
	if score < c.Policy.SpamFindingThreshold {
		return nil
	}
	c.AddFinding(event.Finding{
		Pattern:    policy.PatternSpamPosting,
		Score:      score,
		Indicators: indicators,
	})
	return nil
}

func MassFollowingRule(c *Context) error {
	ev := c.Event
	if ev.Action != policy.EventActionFollow || ev.UserID == "" {
		return nil
	}
	def, ok := c.Policy.Pattern(policy.PatternMassFollowing)
	if !ok {
		return nil
	}
	count := c.Increment(countstore.Key("follow", "user", ev.UserID), def.Window)
	if count <= def.Threshold {
		return nil
	}
	c.AddFinding(event.Finding{
		Pattern:    policy.PatternMassFollowing,
		Score:      float64(count) * 3,
		Indicators: []string{fmt.Sprintf("%d follows in %s", count, def.Window)},
		Metadata:   map[string]string{"count": strconv.Itoa(count)},
	})
	return nil
}
