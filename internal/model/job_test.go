package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_Transition(t *testing.T) {
	t.Parallel()

	now := time.Now()
	j := &Job{ID: "j1", Status: JobPending}

	require.NoError(t, j.Transition(JobRunning, now))
	require.NotNil(t, j.StartedAt)
	assert.Nil(t, j.CompletedAt)

	assert.Error(t, j.Transition(JobCancelled, now))
	require.NoError(t, j.Transition(JobCompleted, now))
	require.NotNil(t, j.CompletedAt)
	assert.True(t, j.Status.Terminal())

	assert.Error(t, j.Transition(JobRunning, now))
}

func TestJob_CancelPending(t *testing.T) {
	t.Parallel()

	j := &Job{ID: "j2", Status: JobPending}
	require.NoError(t, j.Transition(JobCancelled, time.Now()))
	assert.Nil(t, j.StartedAt)
	assert.NotNil(t, j.CompletedAt)
}

func TestRegressionRun_Lifecycle(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := &RegressionRun{ID: "r1", Status: RunStatusPending}

	assert.Error(t, r.Complete(now))
	require.NoError(t, r.Start(now))
	assert.Error(t, r.Start(now))
	require.NoError(t, r.Complete(now))
	assert.Equal(t, RunStatusCompleted, r.Status)

	r.Fail(now, assert.AnError)
	assert.Equal(t, RunStatusCompleted, r.Status)

	failed := &RegressionRun{ID: "r2", Status: RunStatusPending}
	require.NoError(t, failed.Start(now))
	failed.Fail(now, assert.AnError)
	assert.Equal(t, RunStatusFailed, failed.Status)
	assert.Equal(t, assert.AnError.Error(), failed.Error)
}
