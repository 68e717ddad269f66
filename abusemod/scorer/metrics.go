package scorer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var providerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "guard_classifier_duration_sec",
	Help: "Duration of classifier provider calls",
}, []string{"provider"})

var providerErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_classifier_errors",
	Help: "Number of failed classifier provider calls",
}, []string{"provider"})
