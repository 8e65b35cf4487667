// Package store defines the transactional state-store contract (C2): the
// atomic lease, atomic oldest-eligible delete, and the supporting CRUD the
// lifecycle controller and assignment protocol drive. Concrete
// implementations live in sibling packages (sql, memory).
package store

import (
	"context"
	"time"

	"github.com/vbrowser-pool/controller/types"
)

// Tx is the transaction handle the assignment protocol owns across its
// lease retry loop. Implementations return a store-specific type asserted
// back in Commit/Rollback; callers never inspect it.
type Tx interface {
	Commit() error
	Rollback() error
}

// VMRecordStore is the transactional store for VM records (C2).
type VMRecordStore interface {
	// Begin opens a transaction scoped store used by the assignment
	// protocol so it controls the commit/rollback boundary itself.
	Begin(ctx context.Context) (VMRecordTxStore, Tx, error)

	// Count returns the number of records in pool matching state, or all
	// states when state is empty.
	Count(ctx context.Context, pool string, state types.VMState) (int, error)

	// ListStaging returns every staging-state record in pool.
	ListStaging(ctx context.Context, pool string) ([]*types.Record, error)

	// ListByStates returns every record in pool whose state is in states.
	ListByStates(ctx context.Context, pool string, states ...types.VMState) ([]*types.Record, error)

	// ListHeartbeatSince returns used-state records in pool whose
	// heartbeat_time is at or after since.
	ListHeartbeatSince(ctx context.Context, pool string, since time.Time) ([]*types.Record, error)

	// Insert creates a new staging record and returns its assigned id.
	Insert(ctx context.Context, rec *types.Record) (int64, error)

	// Find returns the record for vmid in pool, or nil if absent.
	Find(ctx context.Context, pool, vmid string) (*types.Record, error)

	// IncrementRetries increments retries and returns the updated record.
	IncrementRetries(ctx context.Context, pool, vmid string) (*types.Record, error)

	// MarkAvailable transitions a staging record to available, setting
	// readyTime and persisting data when non-nil.
	MarkAvailable(ctx context.Context, pool, vmid string, data []byte) error

	// SetData persists the cached provider projection without changing
	// state.
	SetData(ctx context.Context, pool, vmid string, data []byte) error

	// ResetToStaging clears lessee fields, zeroes retries, and transitions
	// the record back to staging. found reports whether a row existed to
	// update — the caller falls back to a direct terminate when it did not,
	// to avoid leaking the underlying VM.
	ResetToStaging(ctx context.Context, pool, vmid string) (found bool, err error)

	// DeleteOldestEligible atomically deletes and returns the oldest
	// available record past minSize rows whose uptime has crossed the
	// hourly-billing-floor threshold, or nil if none qualifies.
	DeleteOldestEligible(ctx context.Context, pool string, minSize int, uptimeFloorSeconds int64) (*types.Record, error)

	// Delete removes the record for vmid unconditionally.
	Delete(ctx context.Context, pool, vmid string) error

	// Touch updates heartbeat_time to now for a used record.
	Touch(ctx context.Context, pool, vmid string) error
}

// VMRecordTxStore is the subset of operations available inside the
// assignment protocol's own transaction.
type VMRecordTxStore interface {
	// RoomWaiting reports whether roomID is still present in room_queue.
	RoomWaiting(ctx context.Context, roomID string) (bool, error)

	// LeaseOldestAvailable atomically claims the oldest available record
	// in pool, setting roomID/uid and transitioning it to used. Returns
	// nil, nil when no available record exists (not an error).
	LeaseOldestAvailable(ctx context.Context, pool, roomID, uid string) (*types.Record, error)

	// Count mirrors VMRecordStore.Count, scoped to the transaction.
	Count(ctx context.Context, pool string, state types.VMState) (int, error)
}
