package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
	httpErrorsTotal       *prometheus.CounterVec
	sessionTransitions    *prometheus.CounterVec
	jobTransitions        *prometheus.CounterVec
	jobDurationSeconds    *prometheus.HistogramVec
	queueDeliveriesTotal  *prometheus.CounterVec
	jobEventsPublished    *prometheus.CounterVec
	jobStreamClientsGauge prometheus.Gauge
	queueDepthGauge       *prometheus.GaugeVec
)

// RegisterMetrics initialises the Prometheus collectors shared by the API and the workers.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gema_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		sessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_session_transitions_total",
			Help: "Session state transitions by resulting status.",
		}, []string{"status"})

		jobTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_job_transitions_total",
			Help: "AI job state transitions by job type and resulting status.",
		}, []string{"type", "status"})

		jobDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gema_job_duration_seconds",
			Help:    "Time spent handling one delivery of an AI job.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"type", "outcome"})

		queueDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_queue_deliveries_total",
			Help: "Queue deliveries by queue and handler outcome.",
		}, []string{"queue", "outcome"})

		jobEventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_job_events_published_total",
			Help: "Job status events fanned out to subscribers.",
		}, []string{"status"})

		jobStreamClientsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gema_job_stream_clients",
			Help: "Websocket clients currently following a job.",
		})

		queueDepthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gema_queue_depth",
			Help: "Messages per queue and state, sampled at scrape time.",
		}, []string{"queue", "state"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			sessionTransitions,
			jobTransitions,
			jobDurationSeconds,
			queueDeliveriesTotal,
			jobEventsPublished,
			jobStreamClientsGauge,
			queueDepthGauge,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// SessionTransitions counts session status changes.
func SessionTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return sessionTransitions
}

// JobTransitions counts AI job status changes.
func JobTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return jobTransitions
}

// JobDuration observes how long one job delivery took.
func JobDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return jobDurationSeconds
}

// QueueDeliveries counts queue deliveries by outcome.
func QueueDeliveries() *prometheus.CounterVec {
	RegisterMetrics()
	return queueDeliveriesTotal
}

// JobEventsPublished counts job events delivered to local subscribers.
func JobEventsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return jobEventsPublished
}

// JobStreamClients tracks connected job stream clients.
func JobStreamClients() prometheus.Gauge {
	RegisterMetrics()
	return jobStreamClientsGauge
}

// QueueDepth reports ready, delayed and dead message counts per queue.
func QueueDepth() *prometheus.GaugeVec {
	RegisterMetrics()
	return queueDepthGauge
}
