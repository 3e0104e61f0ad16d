// Package jobs runs index calculations in the background as persisted job
// records. Each job moves pending -> running -> completed|failed, or pending
// -> cancelled when cancelled before a worker picks it up. Only one active
// job may exist per (kind, key).
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/monitoring"
	"github.com/sells-group/rsai-cli/internal/store"
)

var (
	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("jobs: not found")

	// ErrKeyBusy is returned when a job for the same kind and key is
	// already pending or running.
	ErrKeyBusy = errors.New("jobs: a job for this key is already active")

	// ErrFinished is returned when cancelling a job that already ended.
	ErrFinished = errors.New("jobs: job already finished")
)

// Store is the subset of store.Store the runner persists through.
type Store interface {
	CreateJob(ctx context.Context, job *model.Job) error
	UpdateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
}

// Handler executes one job. The returned value is stored as the job result.
// Handlers must return promptly once ctx is cancelled.
type Handler func(ctx context.Context, job *model.Job) (any, error)

// Options configures a Runner.
type Options struct {
	Workers   int
	QueueSize int
	Metrics   *monitoring.Metrics
}

// entry tracks one active job.
type entry struct {
	job      *model.Job
	key      string
	cancel   context.CancelFunc // set once running
	finished bool
	done     chan struct{}
}

// Runner queues jobs and executes them on a fixed pool of workers.
type Runner struct {
	store    Store
	metrics  *monitoring.Metrics
	handlers map[model.JobKind]Handler
	queue    chan string
	workers  int
	now      func() time.Time

	mu     sync.Mutex
	active map[string]*entry // by job id
	byKey  map[string]string // kind/key -> job id

	wg sync.WaitGroup
}

// NewRunner creates a runner. Handlers must be registered before Start.
func NewRunner(st Store, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Runner{
		store:    st,
		metrics:  opts.Metrics,
		handlers: make(map[model.JobKind]Handler),
		queue:    make(chan string, opts.QueueSize),
		workers:  opts.Workers,
		now:      func() time.Time { return time.Now().UTC() },
		active:   make(map[string]*entry),
		byKey:    make(map[string]string),
	}
}

// Register binds a handler to a job kind.
func (r *Runner) Register(kind model.JobKind, h Handler) {
	r.handlers[kind] = h
}

// Start launches the workers. They stop when ctx is cancelled; Wait blocks
// until they have exited.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.work(ctx)
		}()
	}
	zap.L().Info("job runner started",
		zap.String("component", "jobs.runner"),
		zap.Int("workers", r.workers),
	)
}

// Wait blocks until every worker has exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func keyOf(kind model.JobKind, key string) string {
	return string(kind) + "/" + key
}

// Submit persists a pending job and queues it. A full queue is reported as
// a capacity error and the job is recorded as failed.
func (r *Runner) Submit(ctx context.Context, kind model.JobKind, key string, params any) (*model.Job, error) {
	if _, ok := r.handlers[kind]; !ok {
		return nil, calcerr.Validation("jobs", key, "unknown job kind %q", kind)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: marshal params")
	}

	k := keyOf(kind, key)
	r.mu.Lock()
	if id, busy := r.byKey[k]; busy {
		r.mu.Unlock()
		return nil, eris.Wrapf(ErrKeyBusy, "jobs: %s is held by job %s", k, id)
	}
	job := &model.Job{Kind: kind, Key: key, Status: model.JobPending, Params: raw, CreatedAt: r.now()}
	if err := r.store.CreateJob(ctx, job); err != nil {
		r.mu.Unlock()
		return nil, eris.Wrap(err, "jobs: create")
	}
	e := &entry{job: job, key: k, done: make(chan struct{})}
	r.active[job.ID] = e
	r.byKey[k] = job.ID

	select {
	case r.queue <- job.ID:
	default:
		qerr := calcerr.Capacity("jobs", len(r.queue)+1, cap(r.queue))
		job.Error = qerr.Error()
		transition(job, model.JobFailed, r.now())
		r.releaseLocked(e)
		r.mu.Unlock()
		r.persist(job)
		r.finish(e)
		return nil, qerr
	}
	snapshot := *job
	r.mu.Unlock()

	zap.L().Info("job submitted",
		zap.String("component", "jobs.runner"),
		zap.String("job_id", job.ID),
		zap.String("kind", string(kind)),
		zap.String("key", key),
	)
	return &snapshot, nil
}

// Cancel stops a job. A pending job becomes cancelled at once; a running
// job has its context cancelled and is recorded as failed by its worker.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		j, err := r.store.GetJob(ctx, id)
		if err != nil {
			return eris.Wrap(err, "jobs: get")
		}
		if j == nil {
			return eris.Wrapf(ErrNotFound, "jobs: cancel %s", id)
		}
		return eris.Wrapf(ErrFinished, "jobs: cancel %s (%s)", id, j.Status)
	}
	if e.finished {
		r.mu.Unlock()
		return eris.Wrapf(ErrFinished, "jobs: cancel %s", id)
	}

	if e.cancel != nil {
		e.cancel()
		r.mu.Unlock()
		return nil
	}

	job := e.job
	if err := job.Transition(model.JobCancelled, r.now()); err != nil {
		r.mu.Unlock()
		return err
	}
	job.Error = "cancelled before start"
	r.releaseLocked(e)
	final := *job
	r.mu.Unlock()

	r.metrics.JobCancelledBeforeStart(final.Kind)
	r.persist(&final)
	r.finish(e)
	return nil
}

// Await blocks until the job reaches a terminal status or ctx ends, then
// returns the stored job record.
func (r *Runner) Await(ctx context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	e, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.Get(ctx, id)
}

// Get returns the stored job record.
func (r *Runner) Get(ctx context.Context, id string) (*model.Job, error) {
	j, err := r.store.GetJob(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: get")
	}
	if j == nil {
		return nil, eris.Wrapf(ErrNotFound, "jobs: get %s", id)
	}
	return j, nil
}

// List returns stored job records.
func (r *Runner) List(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	jobs, err := r.store.ListJobs(ctx, filter)
	return jobs, eris.Wrap(err, "jobs: list")
}

// Recover fails jobs left pending or running by a previous process. It
// must run before Start.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	var n int
	for _, status := range []model.JobStatus{model.JobPending, model.JobRunning} {
		jobs, err := r.store.ListJobs(ctx, store.JobFilter{Status: status, Limit: 10000})
		if err != nil {
			return n, eris.Wrap(err, "jobs: list orphaned")
		}
		for i := range jobs {
			j := &jobs[i]
			if err := j.Transition(model.JobFailed, r.now()); err != nil {
				return n, err
			}
			j.Error = "interrupted by restart"
			if err := r.store.UpdateJob(ctx, j); err != nil {
				return n, eris.Wrapf(err, "jobs: fail orphaned job %s", j.ID)
			}
			n++
		}
	}
	if n > 0 {
		zap.L().Warn("failed orphaned jobs",
			zap.String("component", "jobs.runner"),
			zap.Int("count", n),
		)
	}
	return n, nil
}

func (r *Runner) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.run(ctx, id)
		}
	}
}

func (r *Runner) run(ctx context.Context, id string) {
	r.mu.Lock()
	e, ok := r.active[id]
	if !ok || e.finished {
		// Cancelled while queued.
		r.mu.Unlock()
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancel = cancel
	job := e.job
	if !transition(job, model.JobRunning, r.now()) {
		r.releaseLocked(e)
		r.mu.Unlock()
		r.finish(e)
		return
	}
	started := *job
	r.mu.Unlock()

	log := zap.L().With(
		zap.String("component", "jobs.runner"),
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("key", job.Key),
	)
	if err := r.store.UpdateJob(ctx, &started); err != nil {
		log.Error("persist running status", zap.Error(err))
	}
	r.metrics.JobStarted(job.Kind)
	log.Info("job started")

	result, runErr := r.handlers[job.Kind](jobCtx, &started)

	r.mu.Lock()
	now := r.now()
	switch {
	case runErr != nil:
		if jobCtx.Err() != nil && !calcerr.Is(runErr, calcerr.KindCancelled) {
			runErr = calcerr.Cancelled("jobs", job.Key, runErr)
		}
		job.Error = runErr.Error()
		transition(job, model.JobFailed, now)
	default:
		raw, err := json.Marshal(result)
		if err != nil {
			job.Error = eris.Wrap(err, "jobs: marshal result").Error()
			transition(job, model.JobFailed, now)
			break
		}
		job.Result = raw
		transition(job, model.JobCompleted, now)
	}
	r.releaseLocked(e)
	final := *job
	r.mu.Unlock()

	r.metrics.JobFinished(final.Kind, final.Status, now.Sub(*final.StartedAt))
	r.persist(&final)
	r.finish(e)

	if final.Status == model.JobFailed {
		log.Warn("job failed", zap.String("error", final.Error))
		return
	}
	log.Info("job completed", zap.Duration("elapsed", now.Sub(*final.StartedAt)))
}

// releaseLocked marks the job finished and frees its key. r.mu must be held.
func (r *Runner) releaseLocked(e *entry) {
	e.finished = true
	if r.byKey[e.key] == e.job.ID {
		delete(r.byKey, e.key)
	}
}

// finish drops the entry and wakes waiters once the terminal record is stored.
func (r *Runner) finish(e *entry) {
	r.mu.Lock()
	delete(r.active, e.job.ID)
	r.mu.Unlock()
	close(e.done)
}

// persist writes a terminal job record. It outlives the caller's context so
// a shutdown still records the outcome.
func (r *Runner) persist(job *model.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.UpdateJob(ctx, job); err != nil {
		zap.L().Error("persist job",
			zap.String("component", "jobs.runner"),
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}

// transition moves job to status to and reports whether the move was
// allowed. A rejected move leaves the job unchanged and is logged.
func transition(job *model.Job, to model.JobStatus, now time.Time) bool {
	if err := job.Transition(to, now); err != nil {
		zap.L().With(zap.String("component", "jobs.runner")).Error("job status transition rejected",
			zap.String("job_id", job.ID),
			zap.String("from", string(job.Status)),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return false
	}
	return true
}
