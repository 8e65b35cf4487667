// Package scheduler runs periodic jobs on their own context-scoped ticker,
// adapted from the teacher's app/scheduler package: a pool controller's
// reconcile loop is registered here instead of per-runner maintenance jobs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is a periodic task the scheduler drives on its own ticker.
type Job interface {
	// Name uniquely identifies the job within a Scheduler.
	Name() string
	// Interval returns how often the job should run.
	Interval() time.Duration
	// Execute runs one pass. A returned error is logged, never retried
	// out of band — the next tick tries again.
	Execute(ctx context.Context) error
	// RunOnStart reports whether the job should fire immediately on
	// registration rather than waiting out its first interval.
	RunOnStart() bool
}

// deadlineJob is implemented by jobs whose pass must be bounded to less
// than their own tick interval, so a slow pass (e.g. one that walks a
// provider's full VM list with a per-target rate limiter) can never still
// be running when the next tick fires.
type deadlineJob interface {
	Job
	Deadline() time.Duration
}

// jobStatus is the scheduler's bookkeeping on a job's most recent pass,
// surfaced through Status for the admin HTTP surface.
type jobStatus struct {
	lastRun time.Time
	lastErr error
	running bool
}

// Scheduler manages and executes multiple scheduled jobs, each self-driving
// on its own goroutine and ticker.
type Scheduler struct {
	jobs       map[string]Job
	jobCancels map[string]context.CancelFunc
	statuses   map[string]*jobStatus
	mu         sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	started    bool
}

// New creates a Scheduler bound to ctx; cancelling ctx (or calling Stop)
// stops every registered job.
func New(ctx context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		jobs:       make(map[string]Job),
		jobCancels: make(map[string]context.CancelFunc),
		statuses:   make(map[string]*jobStatus),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Register adds a job to the scheduler. If the scheduler is already
// running, the job starts immediately.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if cancelFn, exists := s.jobCancels[name]; exists {
		cancelFn()
	}

	s.jobs[name] = job
	s.statuses[name] = &jobStatus{}

	if s.started {
		s.startJob(job)
	}

	logrus.WithFields(logrus.Fields{
		"job":      name,
		"interval": job.Interval(),
	}).Infoln("scheduler: registered job")
}

// Start begins executing all registered jobs. Calling Start twice is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	for _, job := range s.jobs {
		s.startJob(job)
	}

	logrus.Infoln("scheduler: started")
}

// Unregister stops and removes a job.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancelFn, exists := s.jobCancels[name]; exists {
		cancelFn()
		delete(s.jobCancels, name)
		delete(s.jobs, name)
		delete(s.statuses, name)
		logrus.WithField("job", name).Infoln("scheduler: unregistered job")
	}
}

// Status reports the most recent pass of the named job: when it last ran,
// the error it returned (nil on success), and whether a pass is currently
// in flight. The second return value is false if name was never registered.
func (s *Scheduler) Status(name string) (lastRun time.Time, lastErr error, running bool, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, exists := s.statuses[name]
	if !exists {
		return time.Time{}, nil, false, false
	}
	return st.lastRun, st.lastErr, st.running, true
}

// Stop cancels the scheduler's context, stopping every job, and blocks
// until every job goroutine has returned — including one currently inside
// executeJob — before returning.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancelFunc()
	s.mu.Unlock()

	s.wg.Wait()
	logrus.Infoln("scheduler: stopped")
}

func (s *Scheduler) startJob(job Job) {
	jobCtx, jobCancel := context.WithCancel(s.ctx)
	s.jobCancels[job.Name()] = jobCancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(job.Interval())
		defer ticker.Stop()

		if job.RunOnStart() {
			s.executeJob(jobCtx, job)
		}

		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				s.executeJob(jobCtx, job)
			}
		}
	}()
}

func (s *Scheduler) executeJob(ctx context.Context, job Job) {
	name := job.Name()

	s.mu.Lock()
	st, exists := s.statuses[name]
	if !exists {
		st = &jobStatus{}
		s.statuses[name] = st
	}
	st.running = true
	s.mu.Unlock()

	if dj, ok := job.(deadlineJob); ok {
		if d := dj.Deadline(); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	err := job.Execute(ctx)
	if err != nil {
		logrus.WithError(err).WithField("job", name).Errorln("scheduler: job failed")
	}

	s.mu.Lock()
	st.lastRun = time.Now()
	st.lastErr = err
	st.running = false
	s.mu.Unlock()
}
