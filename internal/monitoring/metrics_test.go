package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

func TestMetrics_JobLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.JobStarted(model.JobKindIndex)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActiveJobs.WithLabelValues("index")), 1e-9)

	m.JobFinished(model.JobKindIndex, model.JobCompleted, 2*time.Second)
	assert.InDelta(t, 0, testutil.ToFloat64(m.ActiveJobs.WithLabelValues("index")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.JobsTotal.WithLabelValues("index", "completed")), 1e-9)

	m.JobCancelledBeforeStart(model.JobKindBatch)
	assert.InDelta(t, 1, testutil.ToFloat64(m.JobsTotal.WithLabelValues("batch", "cancelled")), 1e-9)
}

func TestMetrics_ObserveError(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveError("regression", calcerr.Convergence("regression", "st-1", "singular"))
	m.ObserveError("regression", errors.New("boom"))
	m.ObserveError("regression", nil)

	assert.InDelta(t, 1, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("regression", "convergence")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("regression", "internal")), 1e-9)
}

func TestMetrics_ObserveStage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveStage("weights", 10*time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobStarted(model.JobKindIndex)
		m.JobFinished(model.JobKindIndex, model.JobFailed, time.Second)
		m.JobCancelledBeforeStart(model.JobKindIndex)
		m.ObserveStage("pairs", time.Second)
		m.ObserveError("pairs", errors.New("x"))
		m.SetSnapshot(&Snapshot{})
	})
}
