package detect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/magickw/linkdao-guard/abusemod/countstore"
	"github.com/magickw/linkdao-guard/abusemod/event"
	"github.com/magickw/linkdao-guard/abusemod/policy"
)

var (
	_ RuleFunc = RapidRequestsRule
	_ RuleFunc = BotBehaviorRule
	_ RuleFunc = SuspiciousUserAgentRule
	_ RuleFunc = GeographicAnomalyRule
)

// substrings identifying automation tooling in a user-agent
var automationToolMarkers = []string{
	"curl",
	"wget",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"java/",
	"okhttp",
	"selenium",
	"puppeteer",
	"playwright",
	"phantomjs",
	"headless",
	"scrapy",
}

// signatures of known security scanners; any match is disqualifying on its own
var scannerToolMarkers = []string{
	"sqlmap",
	"nikto",
	"nmap",
	"masscan",
	"zgrab",
	"nuclei",
	"nessus",
	"acunetix",
	"dirbuster",
	"gobuster",
	"wpscan",
}

var mozillaVersionPattern = regexp.MustCompile(`^Mozilla/\d+\.\d+`)

// RapidRequestsRule counts every inbound event against a per-IP window and
// fires once the rate threshold is exceeded.
func RapidRequestsRule(c *Context) error {
	ip := c.Event.IP
	if ip == "" {
		return nil
	}
	def, ok := c.Policy.Pattern(policy.PatternRapidRequests)
	if !ok {
		return nil
	}
	count := c.Increment(countstore.Key("req", "ip", ip), def.Window)
	if count <= def.Threshold {
		return nil
	}
	score := min(float64(count)/10, 100)
	c.AddFinding(event.Finding{
		Pattern:    policy.PatternRapidRequests,
		Score:      score,
		Indicators: []string{fmt.Sprintf("%d requests in %s", count, def.Window)},
		Metadata:   map[string]string{"count": strconv.Itoa(count)},
	})
	return nil
}

// BotBehaviorRule accumulates fixed per-request indicator contributions and
// fires once the cumulative score crosses the policy threshold. The
// inter-request gap indicator tracks the previous request timestamp via
// remember/recall in the shared store.
func BotBehaviorRule(c *Context) error {
	ev := c.Event
	subject := ev.Subject()
	if subject.IsZero() {
		return nil
	}
	w := c.Policy.BotIndicators

	var score float64
	var indicators []string

	if ev.Header("Accept-Language") == "" {
		score += w.MissingAcceptLanguage
		indicators = append(indicators, "missing accept-language")
	}
	if ev.Header("Accept-Encoding") == "" {
		score += w.MissingAcceptEncoding
		indicators = append(indicators, "missing accept-encoding")
	}
	if len(ev.UserAgent) < 10 {
		score += w.ShortUserAgent
		indicators = append(indicators, "short user-agent")
	}
	ua := strings.ToLower(ev.UserAgent)
	for _, marker := range automationToolMarkers {
		if strings.Contains(ua, marker) {
			score += w.AutomationTool
			indicators = append(indicators, "automation tool: "+marker)
			break
		}
	}

	now := ev.Time
	if now.IsZero() {
		now = time.Now()
	}
	gapKey := countstore.Key("lastreq", subject.Key())
	if prev := c.Recall(gapKey); prev != "" {
		if prevMilli, err := strconv.ParseInt(prev, 10, 64); err == nil {
			gap := now.Sub(time.UnixMilli(prevMilli))
			if gap >= 0 && gap < w.RapidIntervalGap {
				score += w.RapidInterval
				indicators = append(indicators, fmt.Sprintf("inter-request gap %s", gap))
			}
		}
	}
	c.Remember(gapKey, strconv.FormatInt(now.UnixMilli(), 10), w.RapidIntervalTTL)

	if score < w.Threshold {
		return nil
	}
	c.AddFinding(event.Finding{
		Pattern:    policy.PatternBotBehavior,
		Score:      score,
		Indicators: indicators,
	})
	return nil
}

// SuspiciousUserAgentRule scores fixed user-agent heuristics; a known
// security-scanner signature short-circuits the rest.
func SuspiciousUserAgentRule(c *Context) error {
	ev := c.Event
	if ev.Subject().IsZero() {
		return nil
	}
	w := c.Policy.UserAgent
	ua := strings.ToLower(ev.UserAgent)

	for _, marker := range scannerToolMarkers {
		if strings.Contains(ua, marker) {
			c.AddFinding(event.Finding{
				Pattern:    policy.PatternSuspiciousUserAgent,
				Score:      w.ScannerSignature,
				Indicators: []string{"security scanner: " + marker},
			})
			return nil
		}
	}

	var score float64
	var indicators []string
	if len(ev.UserAgent) < 10 {
		score += w.EmptyOrShort
		indicators = append(indicators, "empty or short user-agent")
	}
	if strings.HasPrefix(ev.UserAgent, "Mozilla/") && !mozillaVersionPattern.MatchString(ev.UserAgent) {
		score += w.MalformedVersion
		indicators = append(indicators, "malformed browser version")
	}
	if score < w.Threshold {
		return nil
	}
	c.AddFinding(event.Finding{
		Pattern:    policy.PatternSuspiciousUserAgent,
		Score:      score,
		Indicators: indicators,
	})
	return nil
}

// GeographicAnomalyRule remembers the last-seen location per user and fires
// on any change within the window ("impossible travel").
func GeographicAnomalyRule(c *Context) error {
	ev := c.Event
	loc := ev.Location()
	if ev.UserID == "" || loc == "" {
		return nil
	}
	key := countstore.Key("geo", "user", ev.UserID)
	prev := c.Recall(key)
	c.Remember(key, loc, c.Policy.GeoAnomalyWindow)
	if prev == "" || prev == loc {
		return nil
	}
	c.AddFinding(event.Finding{
		Pattern:    policy.PatternGeographicAnomaly,
		Score:      c.Policy.GeoAnomalyScore,
		Indicators: []string{fmt.Sprintf("location changed %s -> %s within %s", prev, loc, c.Policy.GeoAnomalyWindow)},
		Metadata:   map[string]string{"previous": prev, "current": loc},
	})
	return nil
}
