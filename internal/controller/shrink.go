package controller

import (
	"context"

	"github.com/vbrowser-pool/controller/types"
)

// shrinkLoop atomically decommissions the oldest-eligible available VM
// once per tick when the pool is over the high watermark, biasing
// terminations toward billing-hour boundaries (§4.2).
func (p *PoolManager) shrinkLoop(ctx context.Context) {
	log := p.log

	_, high := p.watermarks()

	available, err := p.store.Count(ctx, p.pool.Name(), types.StateAvailable)
	if err != nil {
		log.WithError(err).Warnln("[RESIZE-UNLAUNCH] failed to count available")
		return
	}
	if available <= high {
		return
	}

	rec, err := p.store.DeleteOldestEligible(ctx, p.pool.Name(), p.pool.MinSize, p.cfg.UptimeFloorSeconds)
	if err != nil {
		log.WithError(err).Errorln("[RESIZE-UNLAUNCH] failed to delete oldest eligible")
		return
	}
	if rec == nil {
		return
	}

	if err := p.adapter.TerminateVM(ctx, rec.VMID); err != nil {
		log.WithError(err).WithField("vmid", rec.VMID).Errorln("[TERMINATE] failed to terminate vm")
		return
	}
	log.WithField("vmid", rec.VMID).Infoln("[RESIZE-UNLAUNCH] decommissioned vm")
}
