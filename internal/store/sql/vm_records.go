package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	internalstore "github.com/vbrowser-pool/controller/internal/store"
	"github.com/vbrowser-pool/controller/types"
)

const vmRecordColumns = "id, pool, vmid, state, creation_time, ready_time, assign_time, " +
	"heartbeat_time, reset_time, retries, room_id, uid, data"

var _ internalstore.VMRecordStore = (*VMRecordStore)(nil)

// VMRecordStore is the PostgreSQL-backed VM record store.
type VMRecordStore struct {
	db *sqlx.DB
}

// NewVMRecordStore returns a new VMRecordStore.
func NewVMRecordStore(db *sqlx.DB) *VMRecordStore {
	return &VMRecordStore{db: db}
}

func (s *VMRecordStore) Begin(ctx context.Context) (internalstore.VMRecordTxStore, internalstore.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("sql: begin tx: %w", err)
	}
	return &vmRecordTxStore{tx: tx}, tx, nil
}

func (s *VMRecordStore) Count(ctx context.Context, pool string, state types.VMState) (int, error) {
	return countRecords(ctx, s.db, pool, state)
}

func countRecords(ctx context.Context, q sqlx.QueryerContext, pool string, state types.VMState) (int, error) {
	stmt := builder.Select("count(*)").From("vm_records").Where(squirrel.Eq{"pool": pool})
	if state != "" {
		stmt = stmt.Where(squirrel.Eq{"state": state})
	}
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := sqlx.GetContext(ctx, q, &n, sqlStr, args...); err != nil {
		return 0, fmt.Errorf("sql: count: %w", err)
	}
	return n, nil
}

func (s *VMRecordStore) ListStaging(ctx context.Context, pool string) ([]*types.Record, error) {
	return s.ListByStates(ctx, pool, types.StateStaging)
}

func (s *VMRecordStore) ListByStates(ctx context.Context, pool string, states ...types.VMState) ([]*types.Record, error) {
	stmt := builder.Select(vmRecordColumns).From("vm_records").
		Where(squirrel.Eq{"pool": pool, "state": states}).
		OrderBy("id ASC")
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return nil, err
	}
	dst := []*types.Record{}
	if err := s.db.SelectContext(ctx, &dst, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("sql: list by states: %w", err)
	}
	return dst, nil
}

func (s *VMRecordStore) ListHeartbeatSince(ctx context.Context, pool string, since time.Time) ([]*types.Record, error) {
	stmt := builder.Select(vmRecordColumns).From("vm_records").
		Where(squirrel.Eq{"pool": pool, "state": types.StateUsed}).
		Where(squirrel.GtOrEq{"heartbeat_time": since})
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return nil, err
	}
	dst := []*types.Record{}
	if err := s.db.SelectContext(ctx, &dst, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("sql: list heartbeat since: %w", err)
	}
	return dst, nil
}

func (s *VMRecordStore) Insert(ctx context.Context, rec *types.Record) (int64, error) {
	return insertRecord(ctx, s.db, rec)
}

func insertRecord(ctx context.Context, q sqlx.ExtContext, rec *types.Record) (int64, error) {
	stmt := builder.Insert("vm_records").
		Columns("pool", "vmid", "state", "creation_time", "retries").
		Values(rec.Pool, rec.VMID, types.StateStaging, squirrel.Expr("now()"), 0).
		Suffix("RETURNING id")
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := sqlx.GetContext(ctx, q, &id, sqlStr, args...); err != nil {
		return 0, fmt.Errorf("sql: insert record: %w", err)
	}
	return id, nil
}

func (s *VMRecordStore) Find(ctx context.Context, pool, vmid string) (*types.Record, error) {
	stmt := builder.Select(vmRecordColumns).From("vm_records").
		Where(squirrel.Eq{"pool": pool, "vmid": vmid})
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return nil, err
	}
	dst := new(types.Record)
	if err := s.db.GetContext(ctx, dst, sqlStr, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sql: find record: %w", err)
	}
	return dst, nil
}

func (s *VMRecordStore) IncrementRetries(ctx context.Context, pool, vmid string) (*types.Record, error) {
	stmt := builder.Update("vm_records").
		Set("retries", squirrel.Expr("retries + 1")).
		Where(squirrel.Eq{"pool": pool, "vmid": vmid}).
		Suffix("RETURNING " + vmRecordColumns)
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return nil, err
	}
	dst := new(types.Record)
	if err := s.db.GetContext(ctx, dst, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("sql: increment retries: %w", err)
	}
	return dst, nil
}

func (s *VMRecordStore) MarkAvailable(ctx context.Context, pool, vmid string, data []byte) error {
	stmt := builder.Update("vm_records").
		Set("state", types.StateAvailable).
		Set("ready_time", squirrel.Expr("now()"))
	if data != nil {
		stmt = stmt.Set("data", data)
	}
	stmt = stmt.Where(squirrel.Eq{"pool": pool, "vmid": vmid})
	return exec(ctx, s.db, stmt)
}

func (s *VMRecordStore) SetData(ctx context.Context, pool, vmid string, data []byte) error {
	stmt := builder.Update("vm_records").
		Set("data", data).
		Where(squirrel.Eq{"pool": pool, "vmid": vmid})
	return exec(ctx, s.db, stmt)
}

func (s *VMRecordStore) ResetToStaging(ctx context.Context, pool, vmid string) (bool, error) {
	stmt := builder.Update("vm_records").
		Set("state", types.StateStaging).
		Set("retries", 0).
		Set("room_id", nil).
		Set("uid", nil).
		Set("assign_time", nil).
		Set("ready_time", nil).
		Set("heartbeat_time", nil).
		Set("data", nil).
		Set("reset_time", squirrel.Expr("now()")).
		Where(squirrel.Eq{"pool": pool, "vmid": vmid})
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("sql: reset to staging: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sql: reset to staging rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteOldestEligible implements the oldest-eligible decommission primitive.
// It must order by id ascending and skip the first minSize rows *before*
// applying the uptime-floor filter, then delete the first remaining row
// whose time since creation, modulo an hour, exceeds the configured uptime
// floor — matching internal/store/memory's algorithm (sort, slice off the
// first minSize, then scan the remainder for the first eligible row).
// Filtering before the offset would shrink the wrong rows whenever an
// eligible row falls within the first minSize. Grounded on the teacher's
// outbox.go FindAndClaimPending CTE shape (candidate subquery with
// FOR UPDATE SKIP LOCKED, wrapped in a DELETE ... RETURNING).
func (s *VMRecordStore) DeleteOldestEligible(ctx context.Context, pool string, minSize int, uptimeFloorSeconds int64) (*types.Record, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sql: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rankedQuery := builder.Select("id", "creation_time").
		From("vm_records").
		Where(squirrel.Eq{"pool": pool, "state": types.StateAvailable}).
		OrderBy("id ASC").
		Offset(uint64(minSize)).
		Suffix("FOR UPDATE SKIP LOCKED")

	rankedSQL, rankedArgs, err := rankedQuery.ToSql()
	if err != nil {
		return nil, err
	}

	finalSQL := fmt.Sprintf(`
WITH ranked AS (
	%s
),
candidate AS (
	SELECT id FROM ranked
	WHERE extract(epoch FROM now() - creation_time)::bigint %% 3600 > $%d
	ORDER BY id ASC
	LIMIT 1
)
DELETE FROM vm_records
USING candidate
WHERE vm_records.id = candidate.id
RETURNING %s
`, rankedSQL, len(rankedArgs)+1, qualified(vmRecordColumns))

	args := append(rankedArgs, uptimeFloorSeconds)

	dst := new(types.Record)
	if err := sqlx.GetContext(ctx, tx, dst, finalSQL, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sql: delete oldest eligible: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sql: commit: %w", err)
	}
	return dst, nil
}

func (s *VMRecordStore) Delete(ctx context.Context, pool, vmid string) error {
	stmt := builder.Delete("vm_records").Where(squirrel.Eq{"pool": pool, "vmid": vmid})
	return exec(ctx, s.db, stmt)
}

func (s *VMRecordStore) Touch(ctx context.Context, pool, vmid string) error {
	stmt := builder.Update("vm_records").
		Set("heartbeat_time", squirrel.Expr("now()")).
		Where(squirrel.Eq{"pool": pool, "vmid": vmid})
	return exec(ctx, s.db, stmt)
}

type sqlizer interface {
	ToSql() (string, []interface{}, error)
}

func exec(ctx context.Context, db sqlx.ExecerContext, stmt sqlizer) error {
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("sql: exec: %w", err)
	}
	return nil
}

// vmRecordTxStore is the transaction-scoped handle the assignment protocol
// drives directly.
type vmRecordTxStore struct {
	tx *sqlx.Tx
}

func (t *vmRecordTxStore) RoomWaiting(ctx context.Context, roomID string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM room_queue WHERE room_id = $1)", roomID)
	if err != nil {
		return false, fmt.Errorf("sql: room waiting: %w", err)
	}
	return exists, nil
}

// LeaseOldestAvailable is the atomic lease primitive: the row of lowest id
// matching (pool, available) is claimed with FOR UPDATE SKIP LOCKED so
// concurrent lease attempts never collide, exactly the shape of the
// teacher's outbox.go FindAndClaimPending.
func (t *vmRecordTxStore) LeaseOldestAvailable(ctx context.Context, pool, roomID, uid string) (*types.Record, error) {
	subQuery := builder.Select("id").
		From("vm_records").
		Where(squirrel.Eq{"pool": pool, "state": types.StateAvailable}).
		OrderBy("id ASC").
		Limit(1).
		Suffix("FOR UPDATE SKIP LOCKED")

	subSQL, subArgs, err := subQuery.ToSql()
	if err != nil {
		return nil, err
	}

	nextPlaceholder := len(subArgs) + 1
	finalSQL := fmt.Sprintf(`
WITH candidate AS (
	%s
)
UPDATE vm_records
SET state = $%d, room_id = $%d, uid = $%d, assign_time = now()
FROM candidate
WHERE vm_records.id = candidate.id
RETURNING %s
`, subSQL, nextPlaceholder, nextPlaceholder+1, nextPlaceholder+2, qualified(vmRecordColumns))

	args := append(subArgs, types.StateUsed, roomID, uid)

	dst := new(types.Record)
	if err := sqlx.GetContext(ctx, t.tx, dst, finalSQL, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sql: lease oldest available: %w", err)
	}
	return dst, nil
}

func (t *vmRecordTxStore) Count(ctx context.Context, pool string, state types.VMState) (int, error) {
	return countRecords(ctx, t.tx, pool, state)
}

// qualified prefixes each bare column name with the table so a RETURNING
// clause following an UPDATE ... FROM candidate stays unambiguous.
func qualified(cols string) string {
	return "vm_records." + strings.ReplaceAll(cols, ", ", ", vm_records.")
}
