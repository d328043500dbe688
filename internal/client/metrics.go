package client

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for request outcomes and inbound frame kinds.
const (
	outcomeResolved = "resolved"
	outcomeFailed   = "failed"
	outcomeCanceled = "canceled"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_requests_total",
			Help: "Total number of requests settled, by outcome.",
		},
		[]string{"outcome"},
	)

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_frames_total",
			Help: "Total number of inbound frames routed to a pending request, by kind.",
		},
		[]string{"kind"},
	)

	unknownFramesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tether_unknown_frames_total",
			Help: "Inbound frames dropped because no pending request matched their id.",
		},
	)

	contextFaultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tether_context_faults_total",
			Help: "Context-level faults observed (id-less fault frames and stream breakage).",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tether_queue_depth",
			Help: "Number of requests currently pending in the client queue.",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(framesTotal)
	prometheus.MustRegister(unknownFramesTotal)
	prometheus.MustRegister(contextFaultsTotal)
	prometheus.MustRegister(queueDepth)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup, rather than only after first observation.
	for _, o := range []string{outcomeResolved, outcomeFailed, outcomeCanceled} {
		requestsTotal.WithLabelValues(o)
		framesTotal.WithLabelValues(o)
	}
	framesTotal.WithLabelValues("progress")
}
