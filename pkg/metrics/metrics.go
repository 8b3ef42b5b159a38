package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsActive is the current number of live sessions (any variant,
	// any state other than terminated).
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessiond_sessions_active",
			Help: "Current number of live sessions",
		},
	)

	// SessionsCreatedTotal counts create_session calls by variant and
	// outcome (ok, capacity_exhausted, image_missing, runtime_unavailable).
	SessionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_sessions_created_total",
			Help: "Total number of create_session calls by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)

	// SessionsClosedTotal counts explicit close_session calls by variant.
	SessionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_sessions_closed_total",
			Help: "Total number of sessions closed by caller request",
		},
		[]string{"variant"},
	)

	// SessionsReapedTotal counts sessions torn down by pkg/reaper, split
	// by the reason the reaper acted (the reaper records idle_timeout).
	SessionsReapedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_sessions_reaped_total",
			Help: "Total number of sessions closed by the reaper, by reason",
		},
		[]string{"reason"},
	)

	// ExecutionsTotal counts execute_in_session calls by variant and
	// outcome (ok, error and timeout for one-shot; ok, timeout,
	// evaluator_error, evaluator_unreachable and session_crashed for
	// persistent).
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessiond_executions_total",
			Help: "Total number of execute_in_session calls by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)

	// ExecutionDuration observes wall-clock time spent inside Execute, by
	// variant.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessiond_execution_duration_seconds",
			Help:    "execute_in_session duration in seconds by variant",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"variant"},
	)

	// FileTransferDuration observes file operation duration by direction
	// (put, get, list).
	FileTransferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessiond_file_transfer_duration_seconds",
			Help:    "File transfer duration in seconds by direction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"direction"},
	)

	// ContainerCreateDuration observes the runtime Create and Start calls
	// together (image pull happens inside Create), separate from the rest
	// of create_session's work.
	ContainerCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sessiond_container_create_duration_seconds",
			Help:    "Time taken to create and start a container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsCreatedTotal)
	prometheus.MustRegister(SessionsClosedTotal)
	prometheus.MustRegister(SessionsReapedTotal)
	prometheus.MustRegister(ExecutionsTotal)
	prometheus.MustRegister(ExecutionDuration)
	prometheus.MustRegister(FileTransferDuration)
	prometheus.MustRegister(ContainerCreateDuration)
}

// Handler returns the Prometheus HTTP handler.
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
