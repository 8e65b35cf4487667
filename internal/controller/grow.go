package controller

import (
	"context"

	"github.com/vbrowser-pool/controller/types"
)

// growLoop launches at most one VM per tick when demand is below the low
// watermark and the pool has headroom, the linear-growth rate limiter
// spec.md §4.6 calls for.
func (p *PoolManager) growLoop(ctx context.Context) {
	log := p.log

	low, _ := p.watermarks()

	available, err := p.store.Count(ctx, p.pool.Name(), types.StateAvailable)
	if err != nil {
		log.WithError(err).Warnln("[RESIZE-LAUNCH] failed to count available")
		return
	}
	staging, err := p.store.Count(ctx, p.pool.Name(), types.StateStaging)
	if err != nil {
		log.WithError(err).Warnln("[RESIZE-LAUNCH] failed to count staging")
		return
	}
	if available+staging >= low {
		return
	}

	if p.pool.LimitSize > 0 {
		current, err := p.store.Count(ctx, p.pool.Name(), "")
		if err != nil {
			log.WithError(err).Warnln("[RESIZE-LAUNCH] failed to count current size")
			return
		}
		if current >= p.pool.LimitSize {
			return
		}
	}

	if err := p.startVMWrapper(ctx, p.pool); err != nil {
		log.WithError(err).Errorln("[RESIZE-LAUNCH] failed to launch vm")
		return
	}
	if p.metrics != nil {
		p.metrics.Launches.WithLabelValues(p.pool.Name()).Inc()
	}
	log.Infoln("[RESIZE-LAUNCH] launched vm")
}
