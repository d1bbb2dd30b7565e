package channel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reconcileEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "siphon_reconcile_events_total",
		Help: "Pending channel events processed by reconciliation runs, by outcome.",
	},
	[]string{"outcome"},
)
