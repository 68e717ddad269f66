package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionAppliedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_actions_applied",
	Help: "Number of protective actions instructed to the enforcement surface",
}, []string{"action", "pattern"})
