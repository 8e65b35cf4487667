package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name     string
	interval time.Duration
	runOnSt  bool
	count    int64
	err      error
}

func (j *countingJob) Name() string            { return j.name }
func (j *countingJob) Interval() time.Duration { return j.interval }
func (j *countingJob) RunOnStart() bool        { return j.runOnSt }
func (j *countingJob) Execute(_ context.Context) error {
	atomic.AddInt64(&j.count, 1)
	return j.err
}

// blockingJob never returns on its own; it's used to exercise Deadline.
type blockingJob struct {
	name     string
	interval time.Duration
	deadline time.Duration
	sawErr   chan error
}

func (j *blockingJob) Name() string            { return j.name }
func (j *blockingJob) Interval() time.Duration { return j.interval }
func (j *blockingJob) RunOnStart() bool        { return true }
func (j *blockingJob) Deadline() time.Duration { return j.deadline }
func (j *blockingJob) Execute(ctx context.Context) error {
	<-ctx.Done()
	err := ctx.Err()
	j.sawErr <- err
	return err
}

func TestSchedulerRunsJobOnStartAndOnTicks(t *testing.T) {
	job := &countingJob{name: "reconcile", interval: 20 * time.Millisecond, runOnSt: true}

	s := New(context.Background())
	s.Register(job)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&job.count) >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerStopStopsJobs(t *testing.T) {
	job := &countingJob{name: "stats", interval: 10 * time.Millisecond}

	s := New(context.Background())
	s.Register(job)
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	countAtStop := atomic.LoadInt64(&job.count)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, countAtStop, atomic.LoadInt64(&job.count))
}

func TestStatusReflectsLastRunAndError(t *testing.T) {
	job := &countingJob{name: "reconcile", interval: 10 * time.Millisecond, runOnSt: true, err: errors.New("list failed")}

	s := New(context.Background())
	s.Register(job)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		_, lastErr, _, ok := s.Status("reconcile")
		return ok && lastErr != nil
	}, time.Second, 5*time.Millisecond)

	lastRun, lastErr, running, ok := s.Status("reconcile")
	require.True(t, ok)
	assert.False(t, lastRun.IsZero())
	assert.EqualError(t, lastErr, "list failed")
	assert.False(t, running)
}

func TestStatusUnknownJobReportsNotOK(t *testing.T) {
	s := New(context.Background())
	_, _, _, ok := s.Status("does-not-exist")
	assert.False(t, ok)
}

func TestDeadlineCancelsLongRunningPass(t *testing.T) {
	job := &blockingJob{
		name:     "reconcile",
		interval: time.Hour, // long enough that only the RunOnStart pass fires
		deadline: 20 * time.Millisecond,
		sawErr:   make(chan error, 1),
	}

	s := New(context.Background())
	s.Register(job)
	s.Start()
	defer s.Stop()

	select {
	case err := <-job.sawErr:
		assert.ErrorIs(t, err, context.DeadlineExceeded, "a job past its Deadline must see a cancelled context, not the scheduler's own lifetime context")
	case <-time.After(time.Second):
		t.Fatal("blocking job's context was never cancelled by its deadline")
	}
}

// slowJob blocks on release inside Execute, independent of ctx
// cancellation, so a test can observe whether Stop waits for it.
type slowJob struct {
	name     string
	interval time.Duration
	started  chan struct{}
	release  chan struct{}
	finished int32
}

func (j *slowJob) Name() string            { return j.name }
func (j *slowJob) Interval() time.Duration { return j.interval }
func (j *slowJob) RunOnStart() bool        { return true }
func (j *slowJob) Execute(_ context.Context) error {
	close(j.started)
	<-j.release
	atomic.StoreInt32(&j.finished, 1)
	return nil
}

func TestStopWaitsForInFlightExecuteJob(t *testing.T) {
	job := &slowJob{name: "reconcile", interval: time.Hour, started: make(chan struct{}), release: make(chan struct{})}

	s := New(context.Background())
	s.Register(job)
	s.Start()

	select {
	case <-job.started:
	case <-time.After(time.Second):
		t.Fatal("job's Execute was never invoked")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight job finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(job.release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop never returned after the in-flight job finished")
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&job.finished))
}

func TestUnregisterStopsJob(t *testing.T) {
	job := &countingJob{name: "reconcile", interval: 10 * time.Millisecond}

	s := New(context.Background())
	s.Register(job)
	s.Start()
	time.Sleep(15 * time.Millisecond)
	s.Unregister("reconcile")

	countAtUnregister := atomic.LoadInt64(&job.count)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, countAtUnregister, atomic.LoadInt64(&job.count))
}
