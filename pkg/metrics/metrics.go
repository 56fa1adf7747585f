package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Producer metrics
	EventsProducedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shev_events_produced_total",
			Help: "Total number of events produced by source",
		},
		[]string{"source"},
	)

	EventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shev_events_dropped_total",
			Help: "Total number of events discarded without creating a job",
		},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shev_queue_depth",
			Help: "Current number of events waiting in the queue",
		},
	)

	// Job metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shev_jobs_total",
			Help: "Total number of jobs by terminal status",
		},
		[]string{"status"},
	)

	TimersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shev_timers_active",
			Help: "Number of registered timer loops",
		},
	)

	SchedulesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shev_schedules_active",
			Help: "Number of registered schedule loops",
		},
	)

	// Executor metrics
	ExecutorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shev_executor_duration_seconds",
			Help:    "Shell command execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shev_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shev_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(EventsProducedTotal)
	prometheus.MustRegister(EventsDroppedTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(TimersActive)
	prometheus.MustRegister(SchedulesActive)
	prometheus.MustRegister(ExecutorDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
