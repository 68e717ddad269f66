package engine

import (
	"log/slog"
	"time"

	"github.com/magickw/linkdao-guard/abusemod/alerts"
	"github.com/magickw/linkdao-guard/abusemod/countstore"
	"github.com/magickw/linkdao-guard/abusemod/detect"
	"github.com/magickw/linkdao-guard/abusemod/dispatch"
	"github.com/magickw/linkdao-guard/abusemod/eventlog"
	"github.com/magickw/linkdao-guard/abusemod/policy"
	"github.com/magickw/linkdao-guard/abusemod/profilestore"
	"github.com/magickw/linkdao-guard/abusemod/scorer"
)

// EngineTestFixture returns a fully wired engine on in-process stores.
// Intentionally exported, for use in other packages.
func EngineTestFixture() Engine {
	logger := slog.Default()
	pol := policy.DefaultPolicy()
	counters := countstore.NewMemCountStore()
	engine := Engine{
		Logger:    logger,
		Policy:    pol,
		Counters:  counters,
		Detectors: detect.DefaultSet(),
		Scorer: &scorer.Scorer{
			Logger: logger,
			Policy: pol,
		},
		Dispatcher: &dispatch.Dispatcher{
			Logger:         logger,
			Store:          dispatch.NewMemActionStore(),
			Enforcer:       &dispatch.LogEnforcer{Logger: logger},
			Counters:       counters,
			ReportQuotaDay: pol.ReportQuotaDay,
		},
		Deduper:  alerts.NewMemDedupeStore(pol.AlertDedupeTTL),
		Notifier: &alerts.LogNotifier{Log: logger.Info},
		Events:   eventlog.NewMemEventLog(pol.EventLogCap),
		Profiles: profilestore.NewMemProfileStore(1000, time.Hour),
	}
	return engine
}
