package hub

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JourdanThomas/CubeSat/internal/queue"
)

// Metrics holds the hub's Prometheus metrics on a private registry
type Metrics struct {
	registry *prometheus.Registry

	// Counters
	tasksSubmitted   *prometheus.CounterVec
	tasksDispatched  *prometheus.CounterVec
	resultsRecorded  *prometheus.CounterVec
	resultsDuplicate prometheus.Counter
	resultsRejected  prometheus.Counter
	tasksLost        prometheus.Counter
	tasksRequeued    prometheus.Counter
	heartbeatsSent   prometheus.Counter
	heartbeatAcks    prometheus.Counter
	sessionsClosed   *prometheus.CounterVec

	// Gauges
	sessionsActive prometheus.Gauge

	// Histograms
	taskRoundTrip *prometheus.HistogramVec
}

// NewMetrics creates and registers the hub metrics. Queue depth gauges read q on scrape.
func NewMetrics(q *queue.TaskQueue) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasksSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_tasks_submitted_total",
				Help: "Total number of tasks submitted to the hub",
			},
			[]string{"type"},
		),
		tasksDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_tasks_dispatched_total",
				Help: "Total number of tasks handed to a worker",
			},
			[]string{"type"},
		),
		resultsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_results_recorded_total",
				Help: "Total number of results stored, by outcome",
			},
			[]string{"status"},
		),
		resultsDuplicate: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "swarm_results_duplicate_total",
				Help: "Results ignored because one was already stored for the task",
			},
		),
		resultsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "swarm_results_rejected_total",
				Help: "Results ignored because the task was never dispatched on that connection",
			},
		),
		tasksLost: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "swarm_tasks_lost_total",
				Help: "Dispatched tasks whose worker went away before replying",
			},
		),
		tasksRequeued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "swarm_tasks_requeued_total",
				Help: "Dispatched tasks put back in the queue after their worker went away",
			},
		),
		heartbeatsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "swarm_heartbeats_sent_total",
				Help: "Heartbeats sent to idle workers",
			},
		),
		heartbeatAcks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "swarm_heartbeat_acks_total",
				Help: "Heartbeat acknowledgements received from workers",
			},
		),
		sessionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_sessions_closed_total",
				Help: "Worker connections closed, by reason",
			},
			[]string{"reason"},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "swarm_sessions_active",
				Help: "Number of connected workers",
			},
		),
		taskRoundTrip: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swarm_task_roundtrip_seconds",
				Help:    "Time from dispatch to result, per task type",
				Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"type"},
		),
	}

	m.registry.MustRegister(
		m.tasksSubmitted,
		m.tasksDispatched,
		m.resultsRecorded,
		m.resultsDuplicate,
		m.resultsRejected,
		m.tasksLost,
		m.tasksRequeued,
		m.heartbeatsSent,
		m.heartbeatAcks,
		m.sessionsClosed,
		m.sessionsActive,
		m.taskRoundTrip,
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "swarm_tasks_pending",
				Help: "Current number of tasks waiting for a worker",
			},
			func() float64 { return float64(q.PendingCount()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "swarm_tasks_completed",
				Help: "Current number of recorded results",
			},
			func() float64 { return float64(q.CompletedCount()) },
		),
	)

	return m
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
