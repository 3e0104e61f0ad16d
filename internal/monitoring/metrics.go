package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

const namespace = "rsai"

// Metrics holds the Prometheus instruments for calculation jobs and
// pipeline stages. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// JobsTotal counts finished jobs. Labels: kind, status.
	JobsTotal *prometheus.CounterVec

	// JobDuration measures job run time from start to finish. Labels: kind.
	JobDuration *prometheus.HistogramVec

	// ActiveJobs tracks jobs currently running. Labels: kind.
	ActiveJobs *prometheus.GaugeVec

	// StageDuration measures pipeline stages. Labels: stage.
	StageDuration *prometheus.HistogramVec

	// ErrorsTotal counts calculation errors. Labels: stage, kind.
	ErrorsTotal *prometheus.CounterVec

	// SnapshotJobs mirrors the last collected job snapshot. Labels: status.
	SnapshotJobs *prometheus.GaugeVec

	// SnapshotFailRate mirrors the failure rate of the last snapshot.
	SnapshotFailRate prometheus.Gauge
}

// NewMetrics creates and registers the instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Finished calculation jobs by kind and final status",
		}, []string{"kind", "status"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Calculation job run time in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"kind"}),
		ActiveJobs: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Calculation jobs currently running",
		}, []string{"kind"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage run time in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "errors_total",
			Help:      "Calculation errors by stage and error kind",
		}, []string{"stage", "kind"}),
		SnapshotJobs: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "jobs",
			Help:      "Jobs in the lookback window by status",
		}, []string{"status"}),
		SnapshotFailRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "job_fail_rate",
			Help:      "Share of finished jobs in the lookback window that failed",
		}),
	}
}

// JobStarted marks a job of kind as running.
func (m *Metrics) JobStarted(kind model.JobKind) {
	if m == nil {
		return
	}
	m.ActiveJobs.WithLabelValues(string(kind)).Inc()
}

// JobFinished records the final status of a job that ran for d.
func (m *Metrics) JobFinished(kind model.JobKind, status model.JobStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveJobs.WithLabelValues(string(kind)).Dec()
	m.JobsTotal.WithLabelValues(string(kind), string(status)).Inc()
	m.JobDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// JobCancelledBeforeStart records a job that never ran.
func (m *Metrics) JobCancelledBeforeStart(kind model.JobKind) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(string(kind), string(model.JobCancelled)).Inc()
}

// ObserveStage records the duration of one pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveError counts err under its calculation error kind, or "internal"
// for errors outside the taxonomy.
func (m *Metrics) ObserveError(stage string, err error) {
	if m == nil || err == nil {
		return
	}
	kind := string(calcerr.KindOf(err))
	if kind == "" {
		kind = "internal"
	}
	m.ErrorsTotal.WithLabelValues(stage, kind).Inc()
}

// SetSnapshot publishes a collected snapshot as gauges.
func (m *Metrics) SetSnapshot(s *Snapshot) {
	if m == nil || s == nil {
		return
	}
	m.SnapshotJobs.WithLabelValues(string(model.JobPending)).Set(float64(s.Pending))
	m.SnapshotJobs.WithLabelValues(string(model.JobRunning)).Set(float64(s.Running))
	m.SnapshotJobs.WithLabelValues(string(model.JobCompleted)).Set(float64(s.Completed))
	m.SnapshotJobs.WithLabelValues(string(model.JobFailed)).Set(float64(s.Failed))
	m.SnapshotJobs.WithLabelValues(string(model.JobCancelled)).Set(float64(s.Cancelled))
	m.SnapshotFailRate.Set(s.FailRate)
}
