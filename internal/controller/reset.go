package controller

import (
	"context"

	"github.com/vbrowser-pool/controller/internal/perrors"
)

// ResetVM returns a used or orphaned VM to staging: reboot the underlying
// VM, clear its lessee bookkeeping, and zero its retries. If uid is
// non-empty it must match the record's current lessee or the reset is a
// no-op (a stale client cannot reset a VM that has already been
// reassigned). If no record exists, the VM is terminated directly to avoid
// a leak — this is also how the reconcile loop disposes of orphans whose
// resetVM call finds nothing to adopt.
func (p *PoolManager) ResetVM(ctx context.Context, vmid, uid string) error {
	log := p.log.WithField("vmid", vmid)

	rec, err := p.store.Find(ctx, p.pool.Name(), vmid)
	if err != nil {
		log.WithError(err).Errorln("[RESET] failed to look up record")
		return err
	}

	if rec == nil {
		log.Infoln("[RESET] no record found, terminating directly")
		if err := p.adapter.TerminateVM(ctx, vmid); err != nil && !perrors.IsNotFound(err) {
			log.WithError(err).Errorln("[RESET] terminate failed")
			return err
		}
		return nil
	}

	if uid != "" && (rec.UID == nil || *rec.UID != uid) {
		log.Infoln("[RESET] uid mismatch, skipping reset of reassigned vm")
		return nil
	}

	if err := p.adapter.RebootVM(ctx, vmid); err != nil {
		if perrors.IsNotFound(err) {
			log.Infoln("[RESET] vm gone at provider, deleting record")
			return p.store.Delete(ctx, p.pool.Name(), vmid)
		}
		log.WithError(err).Warnln("[RESET] reboot failed")
		return err
	}

	found, err := p.store.ResetToStaging(ctx, p.pool.Name(), vmid)
	if err != nil {
		log.WithError(err).Errorln("[RESET] failed to reset record")
		return err
	}
	if !found {
		log.Infoln("[RESET] record disappeared mid-reset, terminating")
		return p.adapter.TerminateVM(ctx, vmid)
	}

	log.Infoln("[RESET] vm returned to staging")
	return nil
}
