// Package memory is an in-memory VMRecordStore used by unit tests and the
// noop/dev deployment profile, grounded on the teacher's store/database/mutex
// package (a mutex-guarded map standing in for a real database).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	internalstore "github.com/vbrowser-pool/controller/internal/store"
	"github.com/vbrowser-pool/controller/types"
)

var _ internalstore.VMRecordStore = (*Store)(nil)

// Store is a mutex-guarded in-memory VMRecordStore. It is not safe for use
// by more than one *Store instance against "the same" data — callers share
// a single *Store the way they'd share a single *sqlx.DB.
type Store struct {
	mu        sync.Mutex
	records   map[string]*types.Record // keyed by pool+"/"+vmid
	nextID    int64
	roomQueue *RoomQueue
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[string]*types.Record)}
}

func key(pool, vmid string) string { return pool + "/" + vmid }

func (s *Store) Begin(_ context.Context) (internalstore.VMRecordTxStore, internalstore.Tx, error) {
	return &txStore{s: s}, &noopTx{}, nil
}

// noopTx satisfies store.Tx; the in-memory store mutates immediately under
// its mutex, so commit/rollback are no-ops.
type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

func (s *Store) Count(_ context.Context, pool string, state types.VMState) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.Pool == pool && (state == "" || r.State == state) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListStaging(ctx context.Context, pool string) ([]*types.Record, error) {
	return s.ListByStates(ctx, pool, types.StateStaging)
}

func (s *Store) ListByStates(_ context.Context, pool string, states ...types.VMState) ([]*types.Record, error) {
	want := make(map[types.VMState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Record
	for _, r := range s.records {
		if r.Pool == pool && want[r.State] {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListHeartbeatSince(_ context.Context, pool string, since time.Time) ([]*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Record
	for _, r := range s.records {
		if r.Pool == pool && r.State == types.StateUsed && r.HeartbeatTime != nil && !r.HeartbeatTime.Before(since) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) Insert(_ context.Context, rec *types.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(rec)
}

func (s *Store) insertLocked(rec *types.Record) (int64, error) {
	s.nextID++
	cp := *rec
	cp.ID = s.nextID
	cp.State = types.StateStaging
	cp.CreationTime = time.Now()
	cp.Retries = 0
	s.records[key(cp.Pool, cp.VMID)] = &cp
	return cp.ID, nil
}

func (s *Store) Find(_ context.Context, pool, vmid string) (*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key(pool, vmid)]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *Store) IncrementRetries(_ context.Context, pool, vmid string) (*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key(pool, vmid)]
	if !ok {
		return nil, nil
	}
	r.Retries++
	cp := *r
	return &cp, nil
}

func (s *Store) MarkAvailable(_ context.Context, pool, vmid string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key(pool, vmid)]
	if !ok {
		return nil
	}
	now := time.Now()
	r.State = types.StateAvailable
	r.ReadyTime = &now
	if data != nil {
		r.Data = data
	}
	return nil
}

func (s *Store) SetData(_ context.Context, pool, vmid string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key(pool, vmid)]
	if !ok {
		return nil
	}
	r.Data = data
	return nil
}

func (s *Store) ResetToStaging(_ context.Context, pool, vmid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key(pool, vmid)]
	if !ok {
		return false, nil
	}
	now := time.Now()
	r.State = types.StateStaging
	r.Retries = 0
	r.RoomID = nil
	r.UID = nil
	r.AssignTime = nil
	r.ReadyTime = nil
	r.HeartbeatTime = nil
	r.Data = nil
	r.ResetTime = &now
	return true, nil
}

func (s *Store) DeleteOldestEligible(_ context.Context, pool string, minSize int, uptimeFloorSeconds int64) (*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var available []*types.Record
	for _, r := range s.records {
		if r.Pool == pool && r.State == types.StateAvailable {
			available = append(available, r)
		}
	}
	sort.Slice(available, func(i, j int) bool { return available[i].ID < available[j].ID })
	if len(available) <= minSize {
		return nil, nil
	}

	now := time.Now()
	for _, r := range available[minSize:] {
		age := int64(now.Sub(r.CreationTime).Seconds())
		if age%3600 > uptimeFloorSeconds {
			cp := *r
			delete(s.records, key(r.Pool, r.VMID))
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) Delete(_ context.Context, pool, vmid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key(pool, vmid))
	return nil
}

func (s *Store) Touch(_ context.Context, pool, vmid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key(pool, vmid)]
	if !ok {
		return nil
	}
	now := time.Now()
	r.HeartbeatTime = &now
	return nil
}

// RoomQueue is test/dev scaffolding standing in for the externally-owned
// room_queue table: a set of room ids currently waiting for a VM.
type RoomQueue struct {
	mu    sync.Mutex
	rooms map[string]bool
}

// NewRoomQueue returns an empty in-memory room queue.
func NewRoomQueue() *RoomQueue {
	return &RoomQueue{rooms: make(map[string]bool)}
}

// Push marks roomID as waiting.
func (q *RoomQueue) Push(roomID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rooms[roomID] = true
}

// Remove marks roomID as no longer waiting (e.g. the caller cancelled).
func (q *RoomQueue) Remove(roomID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.rooms, roomID)
}

// Waiting reports whether roomID is still waiting.
func (q *RoomQueue) Waiting(roomID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rooms[roomID]
}

// txStore is the transaction-scoped view backing Store.Begin. The in-memory
// store has no real transaction isolation, so it reuses Store's mutex
// directly for the duration of each call.
type txStore struct {
	s *Store
}

// BindRoomQueue lets tests install the room queue the transaction checks
// room membership against; without one, RoomWaiting always reports true
// (warm-on-demand pools that never populate a queue still work).
func (s *Store) BindRoomQueue(q *RoomQueue) { s.roomQueue = q }

func (t *txStore) RoomWaiting(_ context.Context, roomID string) (bool, error) {
	if t.s.roomQueue == nil {
		return true, nil
	}
	return t.s.roomQueue.Waiting(roomID), nil
}

func (t *txStore) LeaseOldestAvailable(_ context.Context, pool, roomID, uid string) (*types.Record, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	var best *types.Record
	for _, r := range t.s.records {
		if r.Pool == pool && r.State == types.StateAvailable {
			if best == nil || r.ID < best.ID {
				best = r
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	now := time.Now()
	best.State = types.StateUsed
	best.RoomID = &roomID
	best.UID = &uid
	best.AssignTime = &now
	cp := *best
	return &cp, nil
}

func (t *txStore) Count(ctx context.Context, pool string, state types.VMState) (int, error) {
	return t.s.Count(ctx, pool, state)
}
