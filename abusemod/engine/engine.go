// Package engine wires detectors, the ensemble scorer, the action
// dispatcher, alerting, and the event log into the runtime that transports
// call into.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magickw/linkdao-guard/abusemod/alerts"
	"github.com/magickw/linkdao-guard/abusemod/countstore"
	"github.com/magickw/linkdao-guard/abusemod/detect"
	"github.com/magickw/linkdao-guard/abusemod/dispatch"
	"github.com/magickw/linkdao-guard/abusemod/event"
	"github.com/magickw/linkdao-guard/abusemod/eventlog"
	"github.com/magickw/linkdao-guard/abusemod/policy"
	"github.com/magickw/linkdao-guard/abusemod/profilestore"
	"github.com/magickw/linkdao-guard/abusemod/scorer"
)

// Runtime for evaluating events, recording triggered patterns, and
// instructing the enforcement surface.
//
// TODO: careful when initializing: several fields should not be null or zero, even though they are pointer type.
type Engine struct {
	Logger    *slog.Logger
	Policy    *policy.Policy
	Counters  countstore.CountStore
	Detectors detect.Set
	Scorer    *scorer.Scorer
	// optional components; a nil field disables the corresponding stage
	Dispatcher *dispatch.Dispatcher
	Deduper    alerts.DedupeStore
	Notifier   alerts.Notifier
	Events     eventlog.EventLog
	Profiles   profilestore.ProfileStore
}

// CheckEvent runs the full detector set against one inbound event and, for
// each finding, dispatches the pattern's graduated response, records an
// abuse event, and possibly raises an alert. Returns the findings so the
// transport can surface them.
//
// Store outages fail open: the event passes with no findings rather than
// blocking the request path.
func (eng *Engine) CheckEvent(ctx context.Context, ev *event.RequestEvent) ([]event.Finding, error) {
	// similar to an HTTP server, we want to recover any panics from detector execution
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("abuse event execution exception", "err", r, "action", ev.Action)
		}
	}()
	start := time.Now()
	defer func() {
		eventProcessDuration.WithLabelValues(ev.Action).Observe(time.Since(start).Seconds())
	}()

	if !eng.Policy.KnownActions[ev.Action] {
		eventErrorCount.WithLabelValues(ev.Action).Inc()
		return nil, fmt.Errorf("unknown event action: %q", ev.Action)
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	c := detect.NewContext(ctx, eng.Logger, eng.Policy, eng.Counters, ev)
	if err := eng.Detectors.Run(c); err != nil {
		eventErrorCount.WithLabelValues(ev.Action).Inc()
		return nil, err
	}
	eventProcessCount.WithLabelValues(ev.Action).Inc()

	findings := c.Findings()
	subject := ev.Subject()
	for _, f := range findings {
		eng.recordFinding(ctx, subject, f)
	}
	if len(findings) > 0 {
		eng.bumpPriorViolations(ctx, subject, len(findings))
	}
	eng.canonicalLogLine(ev, findings)
	return findings, nil
}

// one log line per event evaluation, for easy grepping of the whole flow
func (eng *Engine) canonicalLogLine(ev *event.RequestEvent, findings []event.Finding) {
	patterns := make([]string, len(findings))
	for i, f := range findings {
		patterns[i] = f.Pattern
	}
	level := slog.LevelDebug
	if len(findings) > 0 {
		level = slog.LevelInfo
	}
	eng.Logger.Log(context.Background(), level, "event checked",
		"action", ev.Action,
		"subject", ev.Subject().Key(),
		"findings", len(findings),
		"patterns", patterns,
	)
}

// AssessContent checks a content-bearing event and fuses its findings with
// the configured classifier providers into a moderation recommendation.
func (eng *Engine) AssessContent(ctx context.Context, ev *event.RequestEvent) (scorer.RiskAssessment, error) {
	// read priors before this event's own findings are recorded
	priors := eng.priorViolations(ctx, ev.Subject())
	findings, err := eng.CheckEvent(ctx, ev)
	if err != nil {
		return scorer.RiskAssessment{}, err
	}
	return eng.Scorer.Assess(ctx, ev.Content, findings, priors), nil
}

// RecordEvent appends an externally-reported abuse event to the log,
// allocating an id and timestamp when absent.
func (eng *Engine) RecordEvent(ctx context.Context, abuse event.AbuseEvent) (string, error) {
	if abuse.Subject.IsZero() {
		return "", fmt.Errorf("abuse event requires a subject")
	}
	if abuse.Pattern == "" {
		return "", fmt.Errorf("abuse event requires a pattern")
	}
	if err := abuse.Severity.Validate(); err != nil {
		return "", err
	}
	if abuse.ID == "" {
		abuse.ID = uuid.New().String()
	}
	if abuse.Time.IsZero() {
		abuse.Time = time.Now().UTC()
	}
	return eng.Events.Append(ctx, abuse)
}

// GetStats aggregates the retained event log.
func (eng *Engine) GetStats(ctx context.Context) (*eventlog.Stats, error) {
	return eng.Events.Stats(ctx, eng.Policy.TopSubjects, eng.Policy.RecentEvents)
}

// ResolveEvent marks a logged event resolved. Reports false if the id is
// unknown or the event was already resolved.
func (eng *Engine) ResolveEvent(ctx context.Context, id string) (bool, error) {
	return eng.Events.Resolve(ctx, id)
}

// recordFinding runs the post-detection pipeline for one finding: graduated
// response, event log, alerting. Downstream failures are logged, never
// propagated.
func (eng *Engine) recordFinding(ctx context.Context, subject event.Subject, f event.Finding) {
	findingCount.WithLabelValues(f.Pattern).Inc()
	def, ok := eng.Policy.Pattern(f.Pattern)
	if !ok {
		eng.Logger.Error("detector produced unregistered pattern", "pattern", f.Pattern)
		return
	}

	if eng.Dispatcher != nil {
		eng.Dispatcher.Trigger(ctx, subject, def, f)
	}

	abuse := event.NewAbuseEvent(subject, f.Pattern, def.Severity, f.Metadata)
	if eng.Events != nil {
		if _, err := eng.Events.Append(ctx, abuse); err != nil {
			eng.Logger.Warn("event log unavailable, dropping record", "pattern", f.Pattern, "err", err)
		}
	}

	eng.maybeAlert(ctx, abuse, f)
}

// maybeAlert delivers an external notification unless an alert for the same
// pattern and severity already went out today. A dedupe store outage fails
// open: a broken store must not silence alerting.
func (eng *Engine) maybeAlert(ctx context.Context, abuse event.AbuseEvent, f event.Finding) {
	if eng.Notifier == nil {
		return
	}
	if eng.Deduper != nil {
		key := alerts.DedupeKey(abuse.Pattern, abuse.Severity, abuse.Time)
		first, err := eng.Deduper.FirstToday(ctx, key)
		if err != nil {
			eng.Logger.Warn("alert dedupe store unavailable, alerting anyway", "key", key, "err", err)
		} else if !first {
			eng.Logger.Debug("suppressing duplicate alert", "key", key)
			return
		}
	}
	if err := eng.Notifier.SendAlert(ctx, abuse, f); err != nil {
		eng.Logger.Warn("failed to deliver alert", "pattern", abuse.Pattern, "err", err)
		return
	}
	alertSentCount.WithLabelValues(abuse.Pattern).Inc()
}

// priorViolations reads the stored violation count for a subject. Misses and
// outages read as zero.
func (eng *Engine) priorViolations(ctx context.Context, subject event.Subject) int {
	if eng.Profiles == nil {
		return 0
	}
	p, err := eng.Profiles.Get(ctx, subject.Key())
	if err != nil {
		return 0
	}
	return p.PriorViolations
}

func (eng *Engine) bumpPriorViolations(ctx context.Context, subject event.Subject, n int) {
	if eng.Profiles == nil {
		return
	}
	p, _ := eng.Profiles.Get(ctx, subject.Key())
	p.PriorViolations += n
	p.LastViolation = time.Now().UTC()
	if err := eng.Profiles.Set(ctx, subject.Key(), p); err != nil {
		eng.Logger.Warn("profile store unavailable", "subject", subject.Key(), "err", err)
	}
}
