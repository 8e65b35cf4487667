package controller

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vbrowser-pool/controller/internal/perrors"
	"github.com/vbrowser-pool/controller/types"
)

// stagingGiveUpRetries is the retry count at which staging gives up on a
// VM and resets it instead of continuing to probe.
const stagingGiveUpRetries = 240

// stagingRecoveryInterval is the retry-count multiple at which the
// staging-check loop attempts a powerOn/attachToNetwork recovery.
const stagingRecoveryInterval = 150

// stagingFetchInterval throttles provider GetVM calls once past the
// initial post-minRetries fetch.
const stagingFetchInterval = 20

// stagingCheckLoop continuously runs staging-check passes, sleeping 1s
// between passes, each pass bounded to a 30s wall-clock budget.
func (p *PoolManager) stagingCheckLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.stagingCheckPass(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// stagingCheckPass fans out one check per staging row, settling against a
// 30s wall deadline. Each child swallows its own error (logged, never
// returned) so errgroup here is purely a cancellable wait group, mirroring
// spec.md §5's "Promise.allSettled-equivalent" description.
func (p *PoolManager) stagingCheckPass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	recs, err := p.store.ListStaging(passCtx, p.pool.Name())
	if err != nil {
		p.log.WithError(err).Warnln("[CHECKSTAGING] failed to list staging records")
		return
	}

	g, gctx := errgroup.WithContext(passCtx)
	for _, rec := range recs {
		rec := rec
		g.Go(func() error {
			p.checkStagingVM(gctx, rec)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *PoolManager) checkStagingVM(ctx context.Context, rec *types.Record) {
	log := p.log.WithField("vmid", rec.VMID)

	updated, err := p.store.IncrementRetries(ctx, p.pool.Name(), rec.VMID)
	if err != nil {
		log.WithError(err).Warnln("[CHECKSTAGING] failed to increment retries")
		return
	}
	if updated == nil {
		return // row was deleted or reset concurrently
	}
	retries := updated.Retries

	if retries < p.adapter.MinRetries() {
		return
	}

	descriptor := decodeOrNil(updated.Data)

	if retries == p.adapter.MinRetries()+1 || retries%stagingFetchInterval == 0 {
		fetched, err := p.adapter.GetVM(ctx, rec.VMID)
		switch {
		case perrors.IsNotFound(err):
			log.Warnln("[CHECKSTAGING] vm not found at provider, deleting record")
			_ = p.store.Delete(ctx, p.pool.Name(), rec.VMID)
			return
		case err != nil:
			log.WithError(err).Warnln("[CHECKSTAGING] failed to fetch descriptor")
		case fetched != nil:
			descriptor = fetched
			if fetched.Host != "" {
				if data, err := types.EncodeDescriptor(fetched); err == nil {
					_ = p.store.SetData(ctx, p.pool.Name(), rec.VMID, data)
				}
			}
		}
	}

	if descriptor == nil || descriptor.Host == "" {
		return
	}

	if p.probe.Ready(ctx, descriptor.Host) {
		data, _ := types.EncodeDescriptor(descriptor)
		if err := p.store.MarkAvailable(ctx, p.pool.Name(), rec.VMID, data); err != nil {
			log.WithError(err).Errorln("[CHECKSTAGING] failed to mark available")
			return
		}
		if p.metrics != nil {
			p.metrics.StageRetries.Push(retries)
		}
		log.Infoln("[CHECKSTAGING] vm ready")
		return
	}

	if retries >= stagingGiveUpRetries {
		if p.metrics != nil {
			p.metrics.StagingFails.WithLabelValues(p.pool.Name()).Inc()
			p.metrics.StageFailVMID.Push(rec.VMID)
		}
		log.Warnln("[CHECKSTAGING] giving up after too many retries, resetting")
		_ = p.ResetVM(ctx, rec.VMID, "")
		return
	}

	if retries%stagingRecoveryInterval == 0 {
		log.Infoln("[CHECKSTAGING] attempting recovery power cycle")
		_ = p.adapter.PowerOn(ctx, rec.VMID)
		_ = p.adapter.AttachToNetwork(ctx, rec.VMID)
	}
}

func decodeOrNil(data []byte) *types.Descriptor {
	if len(data) == 0 {
		return nil
	}
	d, err := types.DecodeDescriptor(data)
	if err != nil {
		return nil
	}
	return d
}
