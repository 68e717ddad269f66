package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "guard_event_duration_sec",
	Help: "Total duration of abuse event processing",
}, []string{"action"})

var eventProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_event_processed",
	Help: "Number of events processed",
}, []string{"action"})

var eventErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_event_errors",
	Help: "Number of events which failed processing",
}, []string{"action"})

var findingCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_findings",
	Help: "Number of pattern findings produced",
}, []string{"pattern"})

var alertSentCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_alerts_sent",
	Help: "Number of alerts delivered after deduplication",
}, []string{"pattern"})
