package model

import (
	"encoding/json"
	"time"

	"github.com/sells-group/rsai-cli/internal/calcerr"
)

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobKind names the computation a job runs.
type JobKind string

const (
	JobKindSupertracts JobKind = "supertracts"
	JobKindIndex       JobKind = "index"
	JobKindBatch       JobKind = "batch"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending: {JobRunning, JobCancelled, JobFailed},
	JobRunning: {JobCompleted, JobFailed},
}

// Job is the persisted record of one background computation. Key identifies
// the unit of work (for example a CBSA id) for one-job-per-key scheduling.
type Job struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	Key         string          `json:"key"`
	Status      JobStatus       `json:"status"`
	Params      json.RawMessage `json:"params,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Transition moves the job to status to, stamping the start or completion time.
func (j *Job) Transition(to JobStatus, now time.Time) error {
	for _, allowed := range jobTransitions[j.Status] {
		if allowed != to {
			continue
		}
		j.Status = to
		switch {
		case to == JobRunning:
			j.StartedAt = &now
		case to.Terminal():
			j.CompletedAt = &now
		}
		return nil
	}
	return calcerr.Validation("job", j.ID, "invalid transition %s -> %s", j.Status, to)
}
