package model

import (
	"time"

	"github.com/sells-group/rsai-cli/internal/calcerr"
)

// RunStatus is the lifecycle state of a regression run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RegressionResult is the estimate for one period of one supertract fit.
type RegressionResult struct {
	SupertractID     string  `json:"supertract_id"`
	Period           Period  `json:"period"`
	TimeCoefficient  float64 `json:"time_coefficient"`
	StandardError    float64 `json:"standard_error"`
	TStatistic       float64 `json:"t_statistic"`
	PValue           float64 `json:"p_value"`
	RSquared         float64 `json:"r_squared"`
	AdjustedRSquared float64 `json:"adjusted_r_squared"`
	FStatistic       float64 `json:"f_statistic"`
	NumObservations  int     `json:"num_observations"`
	DegreesOfFreedom int     `json:"degrees_of_freedom"`
	DurbinWatson     float64 `json:"durbin_watson"`
	ResidualStdError float64 `json:"residual_std_error"`
	IsBase           bool    `json:"is_base,omitempty"`
}

// Validate checks the statistic ranges.
func (r RegressionResult) Validate() error {
	id := r.SupertractID + "@" + r.Period.Key()
	if r.PValue < 0 || r.PValue > 1 {
		return calcerr.Validation("regression", id, "p-value %v outside [0, 1]", r.PValue)
	}
	if r.RSquared < 0 || r.RSquared > 1 {
		return calcerr.Validation("regression", id, "r-squared %v outside [0, 1]", r.RSquared)
	}
	if r.AdjustedRSquared < 0 || r.AdjustedRSquared > 1 {
		return calcerr.Validation("regression", id, "adjusted r-squared %v outside [0, 1]", r.AdjustedRSquared)
	}
	if r.StandardError < 0 {
		return calcerr.Validation("regression", id, "standard error must be non-negative")
	}
	if r.NumObservations <= 0 {
		return calcerr.Validation("regression", id, "observation count must be positive")
	}
	return nil
}

// RegressionRun tracks one fit from pending to a terminal state.
type RegressionRun struct {
	ID              string     `json:"id"`
	SupertractID    string     `json:"supertract_id"`
	Status          RunStatus  `json:"status"`
	Error           string     `json:"error,omitempty"`
	NumObservations int        `json:"num_observations"`
	NumPeriods      int        `json:"num_periods"`
	Iterations      int        `json:"iterations,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Start moves a pending run to running.
func (r *RegressionRun) Start(now time.Time) error {
	if r.Status != RunStatusPending {
		return calcerr.Validation("regression", r.ID, "cannot start run in status %s", r.Status)
	}
	r.Status = RunStatusRunning
	r.StartedAt = &now
	return nil
}

// Complete moves a running run to completed.
func (r *RegressionRun) Complete(now time.Time) error {
	if r.Status != RunStatusRunning {
		return calcerr.Validation("regression", r.ID, "cannot complete run in status %s", r.Status)
	}
	r.Status = RunStatusCompleted
	r.CompletedAt = &now
	return nil
}

// Fail moves a pending or running run to failed and records the cause.
func (r *RegressionRun) Fail(now time.Time, cause error) {
	if r.Status == RunStatusCompleted || r.Status == RunStatusFailed {
		return
	}
	r.Status = RunStatusFailed
	r.CompletedAt = &now
	if cause != nil {
		r.Error = cause.Error()
	}
}
