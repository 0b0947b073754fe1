package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job system metrics
	JobsScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_jobs_scheduled_total",
			Help: "Total number of jobs scheduled, by phase",
		},
		[]string{"phase"},
	)

	JobsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_jobs_failed_total",
			Help: "Total number of jobs that panicked during execution, by phase",
		},
		[]string{"phase"},
	)

	JobCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hive_job_cycle_duration_seconds",
			Help:    "Time taken for a full INIT/MAIN/CLEAN_UP cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	JobPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hive_job_phase_duration_seconds",
			Help:    "Time taken for a single phase to drain, by phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	ActiveJobCounters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hive_active_job_counters",
			Help: "Number of JobCounters currently tracking outstanding work",
		},
	)

	// Event broker metrics
	EventsFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_events_fired_total",
			Help: "Total number of events fired on the broker",
		},
	)

	EventListenersInvoked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_event_listeners_invoked_total",
			Help: "Total number of listener dispatch jobs kicked by the broker",
		},
	)

	// Messaging metrics
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hive_connections_active",
			Help: "Number of currently established peer connections",
		},
	)

	ConnectionsEstablished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_connections_established_total",
			Help: "Total number of peer connections established, inbound or outbound",
		},
	)

	ConnectionsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_connections_closed_total",
			Help: "Total number of peer connections closed",
		},
	)

	MessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_messages_sent_total",
			Help: "Total number of messages written to peer connections",
		},
	)

	MessagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hive_messages_received_total",
			Help: "Total number of messages read from peer connections",
		},
	)

	// Service RPC metrics
	ServiceCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hive_service_call_duration_seconds",
			Help:    "Service call duration, by service and resulting status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)

	ServiceCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_service_calls_total",
			Help: "Total number of service calls, by service and resulting status",
		},
		[]string{"service", "status"},
	)

	PendingRPCCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hive_pending_rpc_count",
			Help: "Number of remote service calls currently awaiting a response",
		},
	)
)

func init() {
	prometheus.MustRegister(
		JobsScheduled,
		JobsFailed,
		JobCycleDuration,
		JobPhaseDuration,
		ActiveJobCounters,
		EventsFired,
		EventListenersInvoked,
		ConnectionsActive,
		ConnectionsEstablished,
		ConnectionsClosed,
		MessagesSent,
		MessagesReceived,
		ServiceCallDuration,
		ServiceCallsTotal,
		PendingRPCCount,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
