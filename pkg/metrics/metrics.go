package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetd_nodes_total",
			Help: "Total number of known nodes by health",
		},
		[]string{"health"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetd_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	AttachmentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_attachments_total",
			Help: "Total number of registered attachments",
		},
	)

	GoalsActiveTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_goals_active_total",
			Help: "Total number of active goals",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Task runner metrics
	TasksExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_tasks_executed_total",
			Help: "Total number of tasks executed by payload kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	TaskExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetd_task_execution_duration_seconds",
			Help:    "Task execution duration in seconds by payload kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Action tracker / deliberation metrics
	ActionsProposedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_actions_proposed_total",
			Help: "Total number of actions proposed by the deliberator by kind",
		},
		[]string{"kind"},
	)

	ActionsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_actions_rejected_total",
			Help: "Total number of actions rejected by policy validation",
		},
		[]string{"kind"},
	)

	PlanningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_planning_duration_seconds",
			Help:    "Time taken for a single deliberation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(AttachmentsTotal)
	prometheus.MustRegister(GoalsActiveTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(TasksExecutedTotal)
	prometheus.MustRegister(TaskExecutionDuration)
	prometheus.MustRegister(ActionsProposedTotal)
	prometheus.MustRegister(ActionsRejectedTotal)
	prometheus.MustRegister(PlanningDuration)
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
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
