package controller

import (
	"context"

	"github.com/dchest/uniuri"

	"github.com/vbrowser-pool/controller/types"
)

// startVMWrapper provisions a new VM with the provider and inserts its
// staging record. It is the write path both the grow loop and the
// assignment protocol's warm-on-demand fallback drive — the fallback calls
// it fire-and-forget from inside assign.Assigner, outside the assignment's
// own transaction, per spec.md §9's accepted double-launch drift under
// contention.
func (p *PoolManager) startVMWrapper(ctx context.Context, pool types.PoolConfig) error {
	name := uniuri.NewLen(20)
	vmid, err := p.adapter.StartVM(ctx, pool.Tag(), name)
	if err != nil {
		return err
	}
	_, err = p.store.Insert(ctx, &types.Record{Pool: pool.Name(), VMID: vmid})
	return err
}
