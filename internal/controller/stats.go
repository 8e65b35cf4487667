package controller

import (
	"context"

	"github.com/vbrowser-pool/controller/types"
)

// statsLoop emits currentSize/available/staging/buffer on every tick for
// observability, per spec.md §4.6's stats loop.
func (p *PoolManager) statsLoop(ctx context.Context) {
	log := p.log

	currentSize, err := p.store.Count(ctx, p.pool.Name(), "")
	if err != nil {
		log.WithError(err).Warnln("[STATS] failed to count current size")
		return
	}
	available, err := p.store.Count(ctx, p.pool.Name(), types.StateAvailable)
	if err != nil {
		log.WithError(err).Warnln("[STATS] failed to count available")
		return
	}
	staging, err := p.store.Count(ctx, p.pool.Name(), types.StateStaging)
	if err != nil {
		log.WithError(err).Warnln("[STATS] failed to count staging")
		return
	}
	low, _ := p.watermarks()

	if p.metrics != nil {
		p.metrics.PoolSize.WithLabelValues(p.pool.Name()).Set(float64(currentSize))
		p.metrics.Available.WithLabelValues(p.pool.Name()).Set(float64(available))
		p.metrics.Staging.WithLabelValues(p.pool.Name()).Set(float64(staging))
		p.metrics.Buffer.WithLabelValues(p.pool.Name()).Set(float64(low))
	}

	log.WithFields(map[string]interface{}{
		"currentSize": currentSize,
		"available":   available,
		"staging":     staging,
		"buffer":      low,
	}).Infoln("[STATS] pool snapshot")
}
