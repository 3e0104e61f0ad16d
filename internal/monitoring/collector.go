// Package monitoring tracks calculation job health: Prometheus instruments
// for the job runner and pipeline, a periodic snapshot of persisted jobs, and
// webhook alerts when failure or backlog thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/store"
)

// snapshotLimit bounds how many jobs one collection reads.
const snapshotLimit = 10000

// Snapshot holds a point-in-time view of job health.
type Snapshot struct {
	Total     int     `json:"total"`
	Pending   int     `json:"pending"`
	Running   int     `json:"running"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Cancelled int     `json:"cancelled"`
	FailRate  float64 `json:"fail_rate"`

	// AvgDurationSecs is the mean run time of completed jobs.
	AvgDurationSecs float64 `json:"avg_duration_secs"`

	// Stuck counts running jobs started before the stuck cutoff.
	Stuck int `json:"stuck"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobLister abstracts the store method the collector needs.
type JobLister interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
}

// Collector gathers job metrics from the store.
type Collector struct {
	jobs       JobLister
	stuckAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a collector. Running jobs older than stuckAfter are
// reported as stuck; zero disables the check.
func NewCollector(jobs JobLister, stuckAfter time.Duration) *Collector {
	return &Collector{jobs: jobs, stuckAfter: stuckAfter, now: time.Now}
}

// Collect summarizes the jobs created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.jobs.ListJobs(ctx, store.JobFilter{Limit: snapshotLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	var totalDur time.Duration
	for _, j := range jobs {
		if j.CreatedAt.Before(cutoff) {
			continue
		}
		snap.Total++
		switch j.Status {
		case model.JobPending:
			snap.Pending++
		case model.JobRunning:
			snap.Running++
			if c.stuckAfter > 0 && j.StartedAt != nil && now.Sub(*j.StartedAt) > c.stuckAfter {
				snap.Stuck++
			}
		case model.JobCompleted:
			snap.Completed++
			if j.StartedAt != nil && j.CompletedAt != nil {
				totalDur += j.CompletedAt.Sub(*j.StartedAt)
			}
		case model.JobFailed:
			snap.Failed++
		case model.JobCancelled:
			snap.Cancelled++
		}
	}

	if finished := snap.Completed + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	if snap.Completed > 0 {
		snap.AvgDurationSecs = totalDur.Seconds() / float64(snap.Completed)
	}
	return snap, nil
}
