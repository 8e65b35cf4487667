// Package assign implements the assignment protocol (C5): leasing a
// ready VM to a waiting room under row-level locking, with a warm-on-demand
// fallback for pools that carry no standing minimum.
package assign

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vbrowser-pool/controller/internal/metrics"
	"github.com/vbrowser-pool/controller/internal/store"
	"github.com/vbrowser-pool/controller/types"
)

// StartVMFunc launches a new staging VM for pool. It owns its own write
// path (it is not part of the assignment protocol's transaction) and is
// invoked fire-and-forget by the warm-on-demand fallback.
type StartVMFunc func(ctx context.Context, pool types.PoolConfig) error

// retryInterval is the sleep between empty lease attempts.
const retryInterval = time.Second

// Assigner drives the lease retry loop against a VMRecordStore.
type Assigner struct {
	store   store.VMRecordStore
	metrics *metrics.Metrics
	startVM StartVMFunc
}

// New returns an Assigner. metrics may be nil in tests that don't care
// about observability.
func New(s store.VMRecordStore, m *metrics.Metrics, startVM StartVMFunc) *Assigner {
	return &Assigner{store: s, metrics: m, startVM: startVM}
}

// AssignVM leases the oldest available VM in pool to (roomID, uid). It
// returns nil, nil (not an error) when the room stops waiting before a
// lease succeeds.
func (a *Assigner) AssignVM(ctx context.Context, pool types.PoolConfig, roomID, uid string) (*types.AssignedVM, error) {
	started := time.Now()

	tx, commit, err := a.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer commit.Rollback() //nolint:errcheck

	if pool.MinSize == 0 {
		available, err := tx.Count(ctx, pool.Name(), types.StateAvailable)
		if err != nil {
			return nil, err
		}
		if available == 0 {
			a.fireAndForgetStart(pool)
		}
	}

	var leased *types.Record
	for {
		waiting, err := tx.RoomWaiting(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if !waiting {
			return nil, nil
		}

		leased, err = tx.LeaseOldestAvailable(ctx, pool.Name(), roomID, uid)
		if err != nil {
			return nil, err
		}
		if leased != nil {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}

	latencyMS := time.Since(started).Milliseconds()
	if a.metrics != nil {
		a.metrics.StartMS.Push(latencyMS)
	}

	if err := commit.Commit(); err != nil {
		return nil, err
	}

	var descriptor *types.Descriptor
	if len(leased.Data) > 0 {
		descriptor, _ = types.DecodeDescriptor(leased.Data)
	}

	return &types.AssignedVM{
		VMID:       leased.VMID,
		Descriptor: descriptor,
		AssignTime: *leased.AssignTime,
	}, nil
}

// fireAndForgetStart kicks off a new staging VM without blocking the
// caller's lease retry loop, matching the warm-on-demand fallback's
// description: the caller keeps retrying the lease regardless of whether
// this succeeds, failure is only logged.
func (a *Assigner) fireAndForgetStart(pool types.PoolConfig) {
	if a.startVM == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.startVM(ctx, pool); err != nil {
			logrus.WithError(err).WithField("pool", pool.Name()).Warnln("[ASSIGN] warm-on-demand start failed")
		}
	}()
}
