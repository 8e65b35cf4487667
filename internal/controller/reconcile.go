package controller

import (
	"context"
	"time"

	"github.com/vbrowser-pool/controller/types"
)

// cleanupSpacer rate-limits the provider between successive reconcile
// targets within one pass.
const cleanupSpacer = 2 * time.Second

// heartbeatWindow is how recently a used record must have heartbeat to be
// kept alive by reconcile despite not being staging/available.
const heartbeatWindow = 5 * time.Minute

// reconcileJob adapts the lifecycle controller's drift-repair pass to the
// scheduler.Job contract.
type reconcileJob struct {
	pool *PoolManager
}

func (j *reconcileJob) Name() string            { return "reconcile-" + j.pool.pool.Name() }
func (j *reconcileJob) Interval() time.Duration { return 5 * time.Minute }
func (j *reconcileJob) RunOnStart() bool        { return true }

// Deadline bounds one reconcile pass to its own tick interval. Execute's
// per-target cleanupSpacer pause means a pool with enough orphaned VMs
// could otherwise still be running when the next tick fires; cutting it
// off at the interval keeps passes from overlapping.
func (j *reconcileJob) Deadline() time.Duration { return j.Interval() }

// Execute fetches the provider's full tagged VM list and resets every
// provider-side VM that is not in the keep-set (staging/available records,
// or used records with a recent heartbeat). A failure to list aborts the
// pass without partial action, per spec.md §4.6.
func (j *reconcileJob) Execute(ctx context.Context) error {
	p := j.pool
	log := p.log

	providerVMs, err := p.adapter.ListVMs(ctx, p.pool.Tag())
	if err != nil {
		log.WithError(err).Errorln("[CLEANUP] failed to list provider vms, aborting pass")
		return err
	}

	keep, err := p.keepSet(ctx)
	if err != nil {
		log.WithError(err).Errorln("[CLEANUP] failed to build keep-set, aborting pass")
		return err
	}

	for _, vm := range providerVMs {
		if keep[vm.ID] {
			continue
		}
		log.WithField("vmid", vm.ID).Infoln("[CLEANUP] orphaned provider vm, resetting")
		if err := p.ResetVM(ctx, vm.ID, ""); err != nil {
			log.WithError(err).WithField("vmid", vm.ID).Warnln("[CLEANUP] reset failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cleanupSpacer):
		}
	}
	return nil
}

func (p *PoolManager) keepSet(ctx context.Context) (map[string]bool, error) {
	keep := map[string]bool{}

	active, err := p.store.ListByStates(ctx, p.pool.Name(), types.StateStaging, types.StateAvailable)
	if err != nil {
		return nil, err
	}
	for _, r := range active {
		keep[r.VMID] = true
	}

	recentlyUsed, err := p.store.ListHeartbeatSince(ctx, p.pool.Name(), time.Now().Add(-heartbeatWindow))
	if err != nil {
		return nil, err
	}
	for _, r := range recentlyUsed {
		keep[r.VMID] = true
	}

	return keep, nil
}
