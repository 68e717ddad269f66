// Package policy holds the closed vocabulary of the abuse engine (severities,
// action types, content categories) and the single configuration structure
// which all thresholds, windows, weights, and decision boundaries live in.
//
// Nothing in this package talks to the network or the shared store. The
// policy is constructed once at process start, validated, and treated as
// read-only thereafter.
package policy

import (
	"fmt"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Validate() error {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return nil
	}
	return fmt.Errorf("unknown severity: %q", string(s))
}

type ActionType string

const (
	ActionWarn     ActionType = "warn"
	ActionThrottle ActionType = "throttle"
	ActionCaptcha  ActionType = "captcha"
	ActionBlock    ActionType = "block"
	ActionReport   ActionType = "report"
)

func (a ActionType) Validate() error {
	switch a {
	case ActionWarn, ActionThrottle, ActionCaptcha, ActionBlock, ActionReport:
		return nil
	}
	return fmt.Errorf("unknown action type: %q", string(a))
}

// One step in a pattern's graduated response. Duration is only meaningful for
// duration-bound actions (throttle, block); zero means indefinite/default.
type ActionSpec struct {
	Type     ActionType
	Duration time.Duration
}

// Content classification categories, shared between classifier providers and
// the ensemble scorer.
type Category string

const (
	CategoryHateSpeech    Category = "hate_speech"
	CategoryHarassment    Category = "harassment"
	CategorySpam          Category = "spam"
	CategoryNSFW          Category = "nsfw"
	CategoryViolence      Category = "violence"
	CategorySelfHarm      Category = "self_harm"
	CategorySexualContent Category = "sexual_content"
)

// Recommended moderation outcome for a piece of content.
type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendReview  Recommendation = "review"
	RecommendReject  Recommendation = "reject"
)

// Canonical pattern identifiers.
const (
	PatternRapidRequests          = "rapid_requests"
	PatternBotBehavior            = "bot_behavior"
	PatternSuspiciousUserAgent    = "suspicious_user_agent"
	PatternGeographicAnomaly      = "geographic_anomaly"
	PatternBruteForceLogin        = "brute_force_login"
	PatternSuspiciousRegistration = "suspicious_registration"
	PatternSpamPosting            = "spam_posting"
	PatternMassFollowing          = "mass_following"
)

// Inbound event action types the engine has detectors registered for.
const (
	EventActionRequest  = "request"
	EventActionLogin    = "login"
	EventActionRegister = "register"
	EventActionPost     = "post"
	EventActionFollow   = "follow"
)

// Static description of one abuse pattern: when it triggers and what the
// graduated response is. Threshold and Window are immutable per pattern.
type PatternDefinition struct {
	ID       string
	Name     string
	Severity Severity
	// Count threshold; the detector owns the comparison direction (> vs >=).
	Threshold int
	Window    time.Duration
	// Ordered action list; ordering defines escalation precedence.
	Actions []ActionSpec
}

// Fixed per-indicator contributions for the bot_behavior detector.
type BotIndicatorWeights struct {
	MissingAcceptLanguage float64
	MissingAcceptEncoding float64
	ShortUserAgent        float64
	AutomationTool        float64
	RapidInterval         float64
	// Finding emitted when the summed contributions reach this value.
	Threshold float64
	// Inter-request gap below which RapidInterval applies.
	RapidIntervalGap time.Duration
	// TTL on the remembered last-request timestamp.
	RapidIntervalTTL time.Duration
}

// Fixed contributions for the suspicious_user_agent detector.
type UserAgentWeights struct {
	EmptyOrShort     float64
	ScannerSignature float64
	MalformedVersion float64
	Threshold        float64
}

// Score-to-recommendation boundaries for the ensemble scorer.
type DecisionBoundaries struct {
	RejectAbove float64
	ReviewAbove float64
	// Review threshold applied instead of ReviewAbove once a subject has more
	// than RepeatOffenderPriors prior violations.
	RepeatOffenderReviewAbove float64
	RepeatOffenderPriors      int
	// If confidence < UncertainBelow and composite > UncertainComposite,
	// force review regardless of the thresholds above.
	UncertainBelow     float64
	UncertainComposite float64
}

// The single configuration structure for the whole engine. Every tunable
// lives here so calibration never requires a code change.
type Policy struct {
	Patterns map[string]PatternDefinition

	// Event action strings with a registered detector set. Anything else is
	// rejected at the boundary as a configuration error.
	KnownActions map[string]bool

	BotIndicators BotIndicatorWeights
	UserAgent     UserAgentWeights

	// geographic_anomaly
	GeoAnomalyScore  float64
	GeoAnomalyWindow time.Duration

	// spam_posting
	SpamRepeatContentScore float64
	SpamContentHashWindow  time.Duration
	SpamFindingThreshold   float64

	CategoryWeights map[Category]float64
	Boundaries      DecisionBoundaries

	// Confidence step values by count of contributing signal sources.
	ConfidenceOne       float64
	ConfidenceTwo       float64
	ConfidenceThreePlus float64

	// Alerting / reporting
	AlertDedupeTTL time.Duration
	ReportQuotaDay int

	// Stats aggregator
	EventLogCap  int
	TopSubjects  int
	RecentEvents int
}

func DefaultPolicy() *Policy {
	return &Policy{
		Patterns: map[string]PatternDefinition{
			PatternRapidRequests: {
				ID:        PatternRapidRequests,
				Name:      "Rapid Requests",
				Severity:  SeverityMedium,
				Threshold: 100,
				Window:    60 * time.Second,
				Actions: []ActionSpec{
					{Type: ActionThrottle, Duration: 10 * time.Minute},
					{Type: ActionCaptcha},
				},
			},
			PatternBotBehavior: {
				ID:       PatternBotBehavior,
				Name:     "Bot Behavior",
				Severity: SeverityMedium,
				Actions: []ActionSpec{
					{Type: ActionCaptcha},
					{Type: ActionThrottle, Duration: time.Hour},
				},
			},
			PatternSuspiciousUserAgent: {
				ID:       PatternSuspiciousUserAgent,
				Name:     "Suspicious User Agent",
				Severity: SeverityLow,
				Actions: []ActionSpec{
					{Type: ActionWarn},
				},
			},
			PatternGeographicAnomaly: {
				ID:       PatternGeographicAnomaly,
				Name:     "Geographic Anomaly",
				Severity: SeverityMedium,
				Window:   time.Hour,
				Actions: []ActionSpec{
					{Type: ActionWarn},
					{Type: ActionCaptcha},
				},
			},
			PatternBruteForceLogin: {
				ID:        PatternBruteForceLogin,
				Name:      "Brute Force Login",
				Severity:  SeverityHigh,
				Threshold: 5,
				Window:    15 * time.Minute,
				Actions: []ActionSpec{
					{Type: ActionBlock, Duration: time.Hour},
					{Type: ActionCaptcha},
					{Type: ActionReport},
				},
			},
			PatternSuspiciousRegistration: {
				ID:        PatternSuspiciousRegistration,
				Name:      "Suspicious Registration",
				Severity:  SeverityHigh,
				Threshold: 3,
				Window:    24 * time.Hour,
				Actions: []ActionSpec{
					{Type: ActionCaptcha},
					{Type: ActionBlock, Duration: 24 * time.Hour},
					{Type: ActionReport},
				},
			},
			PatternSpamPosting: {
				ID:        PatternSpamPosting,
				Name:      "Spam Posting",
				Severity:  SeverityMedium,
				Threshold: 10,
				Window:    time.Hour,
				Actions: []ActionSpec{
					{Type: ActionWarn},
					{Type: ActionThrottle, Duration: time.Hour},
					{Type: ActionReport},
				},
			},
			PatternMassFollowing: {
				ID:        PatternMassFollowing,
				Name:      "Mass Following",
				Severity:  SeverityLow,
				Threshold: 20,
				Window:    time.Hour,
				Actions: []ActionSpec{
					{Type: ActionWarn},
					{Type: ActionThrottle, Duration: time.Hour},
				},
			},
		},
		KnownActions: map[string]bool{
			EventActionRequest:  true,
			EventActionLogin:    true,
			EventActionRegister: true,
			EventActionPost:     true,
			EventActionFollow:   true,
		},
		BotIndicators: BotIndicatorWeights{
			MissingAcceptLanguage: 20,
			MissingAcceptEncoding: 15,
			ShortUserAgent:        25,
			AutomationTool:        30,
			RapidInterval:         40,
			Threshold:             50,
			RapidIntervalGap:      100 * time.Millisecond,
			RapidIntervalTTL:      60 * time.Second,
		},
		UserAgent: UserAgentWeights{
			EmptyOrShort:     30,
			ScannerSignature: 100,
			MalformedVersion: 20,
			Threshold:        30,
		},
		GeoAnomalyScore:        70,
		GeoAnomalyWindow:       time.Hour,
		SpamRepeatContentScore: 30,
		SpamContentHashWindow:  24 * time.Hour,
		SpamFindingThreshold:   30,
		CategoryWeights: map[Category]float64{
			CategoryHateSpeech:    1.2,
			CategoryHarassment:    1.0,
			CategorySpam:          0.6,
			CategoryNSFW:          0.9,
			CategoryViolence:      1.1,
			CategorySelfHarm:      1.5,
			CategorySexualContent: 0.8,
		},
		Boundaries: DecisionBoundaries{
			RejectAbove:               0.8,
			ReviewAbove:               0.5,
			RepeatOffenderReviewAbove: 0.3,
			RepeatOffenderPriors:      2,
			UncertainBelow:            0.7,
			UncertainComposite:        0.3,
		},
		ConfidenceOne:       0.7,
		ConfidenceTwo:       0.85,
		ConfidenceThreePlus: 0.95,
		AlertDedupeTTL:      48 * time.Hour,
		ReportQuotaDay:      50,
		EventLogCap:         1000,
		TopSubjects:         10,
		RecentEvents:        20,
	}
}

// Confidence returns the step-function confidence for the given number of
// independent contributing signal sources.
func (p *Policy) Confidence(sources int) float64 {
	switch {
	case sources <= 0:
		return 0
	case sources == 1:
		return p.ConfidenceOne
	case sources == 2:
		return p.ConfidenceTwo
	default:
		return p.ConfidenceThreePlus
	}
}

// Pattern looks up a pattern definition by id.
func (p *Policy) Pattern(id string) (PatternDefinition, bool) {
	def, ok := p.Patterns[id]
	return def, ok
}

// Validate is run once at startup; a failure here is a deploy configuration
// error, not a runtime condition.
func (p *Policy) Validate() error {
	if len(p.Patterns) == 0 {
		return fmt.Errorf("policy has no patterns defined")
	}
	for id, def := range p.Patterns {
		if def.ID != id {
			return fmt.Errorf("pattern %q: id mismatch (%q)", id, def.ID)
		}
		if err := def.Severity.Validate(); err != nil {
			return fmt.Errorf("pattern %q: %w", id, err)
		}
		if def.Threshold < 0 {
			return fmt.Errorf("pattern %q: negative threshold", id)
		}
		if def.Window < 0 {
			return fmt.Errorf("pattern %q: negative window", id)
		}
		if len(def.Actions) == 0 {
			return fmt.Errorf("pattern %q: empty action list", id)
		}
		for _, act := range def.Actions {
			if err := act.Type.Validate(); err != nil {
				return fmt.Errorf("pattern %q: %w", id, err)
			}
		}
	}
	for cat, w := range p.CategoryWeights {
		if w <= 0 {
			return fmt.Errorf("category %q: non-positive weight", string(cat))
		}
	}
	if p.EventLogCap <= 0 {
		return fmt.Errorf("event log cap must be positive")
	}
	return nil
}
