package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NetworksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatewayd_networks_total",
			Help: "Total number of networks this instance belongs to",
		},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatewayd_nodes_total",
			Help: "Total number of known nodes by approval status",
		},
		[]string{"approved"},
	)

	RoutesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatewayd_routes_total",
			Help: "Total number of cached routes by connectivity and transport",
		},
		[]string{"connectivity", "transport"},
	)

	AdmissionRecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatewayd_admission_records_total",
			Help: "Total number of admission records by status",
		},
		[]string{"status"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatewayd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Connection metrics
	RouteEstablishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatewayd_route_establish_duration_seconds",
			Help:    "Time taken to establish a route to a peer, from probe to settled transport",
			Buckets: prometheus.DefBuckets,
		},
	)

	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_messages_sent_total",
			Help: "Total number of messages sent by transport",
		},
		[]string{"transport"},
	)

	MessagesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_messages_failed_total",
			Help: "Total number of messages that failed to send by transport",
		},
		[]string{"transport"},
	)

	RouteBrokenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewayd_routes_broken_total",
			Help: "Total number of routes evicted after a notify_route_broken notification",
		},
	)

	// Admission metrics
	AdmissionChallengesIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewayd_admission_challenges_issued_total",
			Help: "Total number of proof-of-work challenges issued",
		},
	)

	AdmissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_admission_decisions_total",
			Help: "Total number of admission decisions by outcome",
		},
		[]string{"outcome"},
	)

	// Sync metrics
	SyncCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatewayd_sync_cycle_duration_seconds",
			Help:    "Time taken for one sync cycle across all networks",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewayd_sync_cycles_total",
			Help: "Total number of sync cycles completed",
		},
	)
)

func init() {
	prometheus.MustRegister(NetworksTotal)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(RoutesTotal)
	prometheus.MustRegister(AdmissionRecordsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(RouteEstablishDuration)
	prometheus.MustRegister(MessagesSentTotal)
	prometheus.MustRegister(MessagesFailedTotal)
	prometheus.MustRegister(RouteBrokenTotal)
	prometheus.MustRegister(AdmissionChallengesIssuedTotal)
	prometheus.MustRegister(AdmissionDecisionsTotal)
	prometheus.MustRegister(SyncCycleDuration)
	prometheus.MustRegister(SyncCyclesTotal)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
