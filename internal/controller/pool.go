// Package controller hosts the lifecycle controller (C6): the five
// per-pool control loops, the reset protocol (C7), and the public surface
// (assignVM/resetVM/getAvailableVBrowsers/getStagingVBrowsers/
// startBackgroundJobs), grounded on the teacher's app/drivers.Manager
// shape — re-architected from classical subclassing to a single concrete
// PoolManager value holding a pluggable ProviderAdapter, per spec.md §9.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vbrowser-pool/controller/internal/assign"
	"github.com/vbrowser-pool/controller/internal/buffer"
	"github.com/vbrowser-pool/controller/internal/metrics"
	"github.com/vbrowser-pool/controller/internal/probe"
	"github.com/vbrowser-pool/controller/internal/providers"
	"github.com/vbrowser-pool/controller/internal/scheduler"
	"github.com/vbrowser-pool/controller/internal/store"
	"github.com/vbrowser-pool/controller/types"
)

// Config bundles the tunables a PoolManager reads from the ambient
// configuration layer, independent of the pool's identity (types.PoolConfig).
type Config struct {
	UptimeFloorSeconds int64
	Production         bool
	BootAgeBoundSeconds int64
}

// PoolManager hosts the control loops for a single pool identity. A running
// process holds one PoolManager per configured pool.
type PoolManager struct {
	pool     types.PoolConfig
	cfg      Config
	adapter  providers.Adapter
	store    store.VMRecordStore
	probe    *probe.Client
	metrics  *metrics.Metrics
	assigner *assign.Assigner
	sched    *scheduler.Scheduler
	log      *logrus.Entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a PoolManager. It does not start any background work —
// call StartBackgroundJobs for that.
func New(pool types.PoolConfig, cfg Config, adapter providers.Adapter, s store.VMRecordStore, m *metrics.Metrics) *PoolManager {
	p := &PoolManager{
		pool:    pool,
		cfg:     cfg,
		adapter: adapter,
		store:   s,
		probe:   probe.New(cfg.Production, cfg.BootAgeBoundSeconds),
		metrics: m,
		log:     logrus.WithField("pool", pool.Name()),
	}
	p.assigner = assign.New(s, m, p.startVMWrapper)
	return p
}

// AssignVM leases a ready VM to (roomID, uid), starting a new one first if
// the pool carries no standing minimum and none is currently available.
func (p *PoolManager) AssignVM(ctx context.Context, roomID, uid string) (*types.AssignedVM, error) {
	return p.assigner.AssignVM(ctx, p.pool, roomID, uid)
}

// GetAvailableVBrowsers returns the vmids of every available record.
func (p *PoolManager) GetAvailableVBrowsers(ctx context.Context) ([]string, error) {
	recs, err := p.store.ListByStates(ctx, p.pool.Name(), types.StateAvailable)
	if err != nil {
		return nil, err
	}
	return vmids(recs), nil
}

// GetStagingVBrowsers returns the vmids of every staging record.
func (p *PoolManager) GetStagingVBrowsers(ctx context.Context) ([]string, error) {
	recs, err := p.store.ListStaging(ctx, p.pool.Name())
	if err != nil {
		return nil, err
	}
	return vmids(recs), nil
}

// ReconcileStatus reports the most recent pass of this pool's reconcile
// job: when it last ran, the error it returned (nil on success), and
// whether a pass is currently in flight. ok is false until
// StartBackgroundJobs has registered the job.
func (p *PoolManager) ReconcileStatus() (lastRun time.Time, lastErr error, running bool, ok bool) {
	if p.sched == nil {
		return time.Time{}, nil, false, false
	}
	return p.sched.Status((&reconcileJob{pool: p}).Name())
}

func vmids(recs []*types.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.VMID)
	}
	return out
}

// StartBackgroundJobs launches the five control loops. It is not idempotent
// across calls — calling it twice starts a second set of loops.
func (p *PoolManager) StartBackgroundJobs(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.sched = scheduler.New(ctx)
	p.sched.Register(&reconcileJob{pool: p})
	p.sched.Start()

	p.spawn(ctx, p.growLoop, 5*time.Second)
	p.spawn(ctx, p.shrinkLoop, 30*time.Second)
	p.spawn(ctx, p.statsLoop, 10*time.Second)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.stagingCheckLoop(ctx)
	}()
}

// Shutdown stops scheduling new iterations of every loop and waits for
// in-flight work to finish, addressing the shutdown-signal requirement in
// spec.md §9 ("the source lacks one; treat as required in the rewrite").
func (p *PoolManager) Shutdown() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.sched != nil {
		p.sched.Stop()
	}
	p.wg.Wait()
}

// spawn runs fn on a self-driving ticker: a fresh tick starts a new
// goroutine even if the prior tick's body hasn't returned, matching
// spec.md §5's explicit self-driving requirement for grow/shrink/stats.
// Each tick's invocation of fn is tracked on p.wg so Shutdown blocks until
// every in-flight pass, not just the ticker loop itself, has returned.
func (p *PoolManager) spawn(ctx context.Context, fn func(context.Context), interval time.Duration) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.wg.Add(1)
				go func() {
					defer p.wg.Done()
					fn(ctx)
				}()
			}
		}
	}()
}

// watermarks computes the current (low, high) targets for the pool.
func (p *PoolManager) watermarks() (int, int) {
	hour := time.Now().UTC().Hour()
	rampDown := []buffer.Window{{Start: p.pool.RampDownHours[0], End: p.pool.RampDownHours[1]}}
	rampUp := []buffer.Window{{Start: p.pool.RampUpHours[0], End: p.pool.RampUpHours[1]}}
	return buffer.Watermarks(p.pool.LimitSize, hour, rampDown, rampUp, p.pool.HasRampDown, p.pool.HasRampUp)
}
