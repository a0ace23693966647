package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	workers     prometheus.Gauge
	busyWorkers prometheus.Gauge
	queueSize   prometheus.Gauge
	poolScale   *prometheus.CounterVec

	taskAttempts *prometheus.CounterVec
	taskTotal    *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	planRuns     *prometheus.CounterVec
	planDuration prometheus.Histogram
	phaseTotal   *prometheus.CounterVec
	checkpoints  prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			workers: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "orchestra_workers",
					Help: "Current worker pool size.",
				},
			),
			busyWorkers: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "orchestra_workers_busy",
					Help: "Workers currently holding a task.",
				},
			),
			queueSize: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "orchestra_queue_size",
					Help: "Pending tasks not yet assigned to a worker.",
				},
			),
			poolScale: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "orchestra_pool_scale_total",
					Help: "Workers added or removed by auto-scaling, by direction.",
				},
				[]string{"direction"},
			),
			taskAttempts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "orchestra_task_attempts_total",
					Help: "Task attempts by task kind and outcome.",
				},
				[]string{"kind", "outcome"},
			),
			taskTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "orchestra_tasks_total",
					Help: "Terminal task results by task kind and status.",
				},
				[]string{"kind", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "orchestra_task_duration_seconds",
					Help:    "Task duration across all attempts in seconds by task kind.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"kind"},
			),
			planRuns: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "orchestra_plan_runs_total",
					Help: "Plan runs by terminal status.",
				},
				[]string{"status"},
			),
			planDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "orchestra_plan_duration_seconds",
					Help:    "Plan run duration in seconds.",
					Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
				},
			),
			phaseTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "orchestra_phases_total",
					Help: "Processed phases by outcome (completed, failed, skipped).",
				},
				[]string{"outcome"},
			),
			checkpoints: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "orchestra_checkpoints_total",
					Help: "Checkpoints captured.",
				},
			),
		}

		prometheus.MustRegister(
			m.workers,
			m.busyWorkers,
			m.queueSize,
			m.poolScale,
			m.taskAttempts,
			m.taskTotal,
			m.taskDuration,
			m.planRuns,
			m.planDuration,
			m.phaseTotal,
			m.checkpoints,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetPoolSize(total, busy int) {
	m := getMetrics()
	m.workers.Set(float64(total))
	m.busyWorkers.Set(float64(busy))
}

func SetQueueSize(queueSize int) {
	m := getMetrics()
	m.queueSize.Set(float64(queueSize))
}

func RecordPoolScale(direction string, count int) {
	m := getMetrics()
	m.poolScale.WithLabelValues(direction).Add(float64(count))
}

// RecordTaskAttempt counts one attempt; outcome is success, error or timeout.
func RecordTaskAttempt(kind, outcome string) {
	m := getMetrics()
	m.taskAttempts.WithLabelValues(kind, outcome).Inc()
}

func RecordTaskCompletion(kind string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.taskTotal.WithLabelValues(kind, status).Inc()
	m.taskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func RecordPlanRun(status string, duration time.Duration) {
	m := getMetrics()
	m.planRuns.WithLabelValues(status).Inc()
	m.planDuration.Observe(duration.Seconds())
}

func RecordPhase(outcome string) {
	m := getMetrics()
	m.phaseTotal.WithLabelValues(outcome).Inc()
}

func RecordCheckpoint() {
	m := getMetrics()
	m.checkpoints.Inc()
}
