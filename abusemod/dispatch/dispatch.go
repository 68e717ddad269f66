package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/magickw/linkdao-guard/abusemod/countstore"
	"github.com/magickw/linkdao-guard/abusemod/event"
	"github.com/magickw/linkdao-guard/abusemod/policy"
)

// The external enforcement surface (rate limiter, auth gate, moderation
// queue). This engine only instructs it; actual enforcement happens
// elsewhere.
type Enforcer interface {
	Warn(ctx context.Context, subject event.Subject, pattern string) error
	Throttle(ctx context.Context, subject event.Subject, duration time.Duration) error
	RequireCaptcha(ctx context.Context, subject event.Subject) error
	Block(ctx context.Context, subject event.Subject, duration time.Duration) error
	Report(ctx context.Context, subject event.Subject, pattern string, finding event.Finding) error
}

// Dispatcher applies a triggered pattern's ordered action list. Each action
// is independently idempotent; enforcement failures are logged, never
// propagated, so a flaky enforcement surface cannot fail the primary request
// path.
type Dispatcher struct {
	Logger   *slog.Logger
	Store    ActionStore
	Enforcer Enforcer
	// Counters backs the daily report circuit breaker.
	Counters       countstore.CountStore
	ReportQuotaDay int
}

// Trigger applies every action in the pattern's list, in order. Returns the
// records that were applied or extended.
func (d *Dispatcher) Trigger(ctx context.Context, subject event.Subject, def policy.PatternDefinition, finding event.Finding) []ActionRecord {
	logger := d.Logger.With("pattern", def.ID, "subject", subject.Key())

	var applied []ActionRecord
	for _, spec := range def.Actions {
		rec := ActionRecord{
			Type:      spec.Type,
			Subject:   subject,
			Pattern:   def.ID,
			Duration:  spec.Duration,
			AppliedAt: time.Now().UTC(),
		}

		fresh, err := d.Store.Apply(ctx, rec)
		if err != nil {
			logger.Warn("action store unavailable, skipping action", "action", string(spec.Type), "err", err)
			continue
		}
		// instantaneous actions run once per idempotency day; duration-bound
		// ones re-instruct the surface so the external expiry extends too
		if !fresh && spec.Duration == 0 {
			logger.Debug("action already applied today, skipping", "action", string(spec.Type))
			applied = append(applied, rec)
			continue
		}

		if err := d.enforce(ctx, rec, finding); err != nil {
			logger.Warn("enforcement surface rejected action", "action", string(spec.Type), "err", err)
			continue
		}
		actionAppliedCount.WithLabelValues(string(spec.Type), def.ID).Inc()
		logger.Info("applied action", "action", string(spec.Type), "duration", spec.Duration, "fresh", fresh)
		applied = append(applied, rec)
	}
	return applied
}

// enforce dispatches one action to the enforcement surface. The switch is
// exhaustive over the closed action enum.
func (d *Dispatcher) enforce(ctx context.Context, rec ActionRecord, finding event.Finding) error {
	switch rec.Type {
	case policy.ActionWarn:
		return d.Enforcer.Warn(ctx, rec.Subject, rec.Pattern)
	case policy.ActionThrottle:
		return d.Enforcer.Throttle(ctx, rec.Subject, rec.Duration)
	case policy.ActionCaptcha:
		return d.Enforcer.RequireCaptcha(ctx, rec.Subject)
	case policy.ActionBlock:
		return d.Enforcer.Block(ctx, rec.Subject, rec.Duration)
	case policy.ActionReport:
		if !d.reportWithinQuota(ctx) {
			d.Logger.Warn("report circuit breaker open, dropping report", "pattern", rec.Pattern)
			return nil
		}
		return d.Enforcer.Report(ctx, rec.Subject, rec.Pattern, finding)
	default:
		return rec.Type.Validate()
	}
}

// reportWithinQuota enforces the engine-wide daily cap on outbound reports.
// Fail-open: if the quota counter is unreadable the report still goes out.
func (d *Dispatcher) reportWithinQuota(ctx context.Context) bool {
	if d.ReportQuotaDay <= 0 || d.Counters == nil {
		return true
	}
	day := time.Now().UTC().Format(time.DateOnly)
	count, err := d.Counters.Increment(ctx, countstore.Key("quota", "report", day), 48*time.Hour)
	if err != nil {
		d.Logger.Warn("report quota counter unavailable", "err", err)
		return true
	}
	return count <= d.ReportQuotaDay
}

// LogEnforcer is a no-op enforcement surface that only logs instructions.
// Useful for local development and as a wiring default.
type LogEnforcer struct {
	Logger *slog.Logger
}

var _ Enforcer = (*LogEnforcer)(nil)

func (e *LogEnforcer) Warn(ctx context.Context, subject event.Subject, pattern string) error {
	e.Logger.Info("enforce: warn", "subject", subject.Key(), "pattern", pattern)
	return nil
}

func (e *LogEnforcer) Throttle(ctx context.Context, subject event.Subject, duration time.Duration) error {
	e.Logger.Info("enforce: throttle", "subject", subject.Key(), "duration", duration)
	return nil
}

func (e *LogEnforcer) RequireCaptcha(ctx context.Context, subject event.Subject) error {
	e.Logger.Info("enforce: captcha", "subject", subject.Key())
	return nil
}

func (e *LogEnforcer) Block(ctx context.Context, subject event.Subject, duration time.Duration) error {
	e.Logger.Info("enforce: block", "subject", subject.Key(), "duration", duration)
	return nil
}

func (e *LogEnforcer) Report(ctx context.Context, subject event.Subject, pattern string, finding event.Finding) error {
	e.Logger.Info("enforce: report", "subject", subject.Key(), "pattern", pattern, "score", finding.Score)
	return nil
}
