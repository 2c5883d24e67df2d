// Package metrics exposes Prometheus instrumentation for the gateway's
// execution plane: SSH pool occupancy, scheduler call latency, health
// sample freshness, and transfer job counts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SSH pool metrics
	SSHPoolSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "firecrest_ssh_pool_sessions",
			Help: "Number of live pooled SSH sessions by cluster",
		},
		[]string{"cluster"},
	)

	SSHPoolCapacityExceeded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firecrest_ssh_pool_capacity_exceeded_total",
			Help: "Number of withSession calls rejected for capacity exceeded",
		},
		[]string{"cluster"},
	)

	SSHSessionsReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firecrest_ssh_sessions_reaped_total",
			Help: "Number of pooled sessions closed by the idle reaper",
		},
		[]string{"cluster"},
	)

	SSHCommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firecrest_ssh_command_duration_seconds",
			Help:    "Duration of commands executed over pooled SSH sessions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cluster"},
	)

	// Scheduler adapter metrics
	SchedulerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firecrest_scheduler_calls_total",
			Help: "Scheduler adapter calls by cluster, backend and operation",
		},
		[]string{"cluster", "backend", "operation"},
	)

	SchedulerCallErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firecrest_scheduler_call_errors_total",
			Help: "Scheduler adapter call errors by cluster, backend, operation and kind",
		},
		[]string{"cluster", "backend", "operation", "kind"},
	)

	SchedulerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firecrest_scheduler_call_duration_seconds",
			Help:    "Duration of scheduler adapter calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cluster", "backend", "operation"},
	)

	// Health checker metrics
	HealthSampleHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "firecrest_health_sample_healthy",
			Help: "1 if the most recent health sample is healthy, 0 otherwise",
		},
		[]string{"cluster", "service_type"},
	)

	HealthSampleAgeSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "firecrest_health_sample_age_seconds",
			Help: "Seconds since the health sample was last refreshed",
		},
		[]string{"cluster", "service_type"},
	)

	HealthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firecrest_health_check_duration_seconds",
			Help:    "Duration of a single health probe",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cluster", "service_type"},
	)

	// Transfer orchestrator metrics
	TransferJobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firecrest_transfer_jobs_submitted_total",
			Help: "Transfer jobs submitted by cluster and direction",
		},
		[]string{"cluster", "direction"},
	)

	// Admission gate metrics
	AdmissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firecrest_admission_rejections_total",
			Help: "Requests rejected by the admission gate, by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		SSHPoolSessions,
		SSHPoolCapacityExceeded,
		SSHSessionsReaped,
		SSHCommandDuration,
		SchedulerCallsTotal,
		SchedulerCallErrors,
		SchedulerCallDuration,
		HealthSampleHealthy,
		HealthSampleAgeSeconds,
		HealthCheckDuration,
		TransferJobsSubmitted,
		AdmissionRejections,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing operations into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec records the elapsed time into a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
