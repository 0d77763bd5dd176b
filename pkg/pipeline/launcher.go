package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ammar0144/recsync/pkg/logging"
	"github.com/ammar0144/recsync/pkg/metrics"
)

// Job states
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// finished jobs are forgotten after this long
const jobRetention = 24 * time.Hour

var (
	// ErrLauncherStopped is returned by Launch after Stop
	ErrLauncherStopped = errors.New("launcher stopped")

	// ErrJobActive is returned by Launch for an id that is still queued or running
	ErrJobActive = errors.New("job with this id is already queued or running")
)

// JobStatus is the in-memory view of a launched job
type JobStatus struct {
	JobID       string    `json:"job_id"`
	Path        string    `json:"path"`
	Status      string    `json:"status"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Records     int       `json:"records"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	QueuedAt    time.Time `json:"queued_at"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// JobRunner executes one job
type JobRunner interface {
	Run(ctx context.Context, job Job) Result
}

// Launcher runs jobs in the background and keeps their status
type Launcher struct {
	runner JobRunner
	slots  chan struct{} // nil = unlimited

	// base outlives any request; Stop cancels it
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	jobs    map[string]*JobStatus
	stopped bool
}

// NewLauncher creates a launcher running at most maxJobs jobs at a time
func NewLauncher(runner JobRunner, maxJobs int) *Launcher {
	base, cancel := context.WithCancel(context.Background())
	l := &Launcher{
		runner: runner,
		base:   base,
		cancel: cancel,
		jobs:   make(map[string]*JobStatus),
	}
	if maxJobs > 0 {
		l.slots = make(chan struct{}, maxJobs)
	}
	return l
}

// Launch starts the job and returns a channel that receives its result once
// and is then closed. The job is detached from ctx cancellation but keeps its
// values (correlation id). A job without an id gets a generated one.
func (l *Launcher) Launch(ctx context.Context, job Job) (string, <-chan Result, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return "", nil, ErrLauncherStopped
	}
	l.pruneLocked(time.Now())
	if s, ok := l.jobs[job.ID]; ok && s.FinishedAt.IsZero() {
		l.mu.Unlock()
		return job.ID, nil, ErrJobActive
	}
	l.jobs[job.ID] = &JobStatus{JobID: job.ID, Path: job.Path, Status: StatusQueued, QueuedAt: time.Now()}
	l.wg.Add(1)
	l.mu.Unlock()

	jobCtx, cancel := detach(ctx, l.base)
	out := make(chan Result, 1)

	go func() {
		defer l.wg.Done()
		defer close(out)
		defer cancel()

		if !l.acquire(jobCtx) {
			res := Result{JobID: job.ID, Path: job.Path, Err: context.Cause(jobCtx)}
			l.finish(res)
			out <- res
			return
		}
		defer l.release()

		l.update(job.ID, func(s *JobStatus) {
			s.Status = StatusRunning
			s.StartedAt = time.Now()
		})
		metrics.JobsRunning.Inc()
		res := l.runner.Run(jobCtx, job)
		metrics.JobsRunning.Dec()

		l.finish(res)
		out <- res
	}()

	logging.Ctx(ctx).Info().Str("job_id", job.ID).Str("path", job.Path).Msg("job launched")
	return job.ID, out, nil
}

// Status returns the status of a launched job
func (l *Launcher) Status(jobID string) (JobStatus, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.jobs[jobID]
	if !ok {
		return JobStatus{}, false
	}
	return *s, true
}

// Stop cancels running jobs and waits for them to finish or ctx to expire
func (l *Launcher) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve blocks until ctx is done, then stops the launcher
func (l *Launcher) Serve(ctx context.Context) error {
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.Stop(stopCtx); err != nil {
		logging.Warn().Err(err).Msg("jobs still running at shutdown")
	}
	return ctx.Err()
}

func (l *Launcher) acquire(ctx context.Context) bool {
	if l.slots == nil {
		return true
	}
	select {
	case l.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Launcher) release() {
	if l.slots != nil {
		<-l.slots
	}
}

func (l *Launcher) finish(res Result) {
	l.update(res.JobID, func(s *JobStatus) {
		s.Status = StatusSucceeded
		s.Error = ""
		if res.Err != nil {
			s.Status = StatusFailed
			s.Error = res.Err.Error()
		}
		s.Fingerprint = res.Fingerprint
		s.Records = res.Records
		s.Attempts = res.Attempts
		s.FinishedAt = time.Now()
	})
}

func (l *Launcher) pruneLocked(now time.Time) {
	for id, s := range l.jobs {
		if !s.FinishedAt.IsZero() && now.Sub(s.FinishedAt) > jobRetention {
			delete(l.jobs, id)
		}
	}
}

func (l *Launcher) update(jobID string, fn func(*JobStatus)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.jobs[jobID]; ok {
		fn(s)
	}
}

// detach keeps the values of ctx but takes cancellation from base only
func detach(ctx, base context.Context) (context.Context, context.CancelFunc) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(base, cancel)
	return jobCtx, func() {
		stop()
		cancel()
	}
}
