package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DownstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_sync_downstream_requests_total",
			Help: "Total number of requests sent to the activities API",
		},
		[]string{"method", "route", "outcome"},
	)

	DownstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activity_sync_downstream_request_duration_seconds",
			Help:    "Activities API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_sync_mutations_total",
			Help: "Mutations issued by the coordinator by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	StaleResponsesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_sync_stale_responses_total",
			Help: "List responses discarded because the registry was cleared while they were in flight",
		},
	)

	RegistrySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "activity_sync_registry_size",
			Help: "Number of activities currently held in the registry",
		},
	)

	ChannelEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_sync_channel_events_total",
			Help: "Realtime channel events by type",
		},
		[]string{"event"},
	)

	ChannelState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "activity_sync_channel_state",
			Help: "Realtime channel state (0 disconnected, 1 connecting, 2 joined, 3 leaving)",
		},
	)
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Outcome maps an error to the outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
