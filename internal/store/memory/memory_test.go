package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbrowser-pool/controller/types"
)

func TestInsertAndFind(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Insert(ctx, &types.Record{Pool: "p1", VMID: "vm-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	rec, err := s.Find(ctx, "p1", "vm-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StateStaging, rec.State)
}

func TestLeaseOldestAvailableAtMostOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, _ = s.Insert(ctx, &types.Record{Pool: "p1", VMID: "vm-1"})
	require.NoError(t, s.MarkAvailable(ctx, "p1", "vm-1", nil))

	tx1, _, _ := s.Begin(ctx)
	tx2, _, _ := s.Begin(ctx)

	got1, err1 := tx1.LeaseOldestAvailable(ctx, "p1", "room-a", "uid-a")
	require.NoError(t, err1)
	require.NotNil(t, got1)

	got2, err2 := tx2.LeaseOldestAvailable(ctx, "p1", "room-b", "uid-b")
	require.NoError(t, err2)
	assert.Nil(t, got2, "a second lease attempt must not double-claim the only available VM")
}

func TestDeleteOldestEligibleRespectsMinSize(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		vmid := string(rune('a' + i))
		_, _ = s.Insert(ctx, &types.Record{Pool: "p1", VMID: vmid})
		require.NoError(t, s.MarkAvailable(ctx, "p1", vmid, nil))
	}

	rec, err := s.DeleteOldestEligible(ctx, "p1", 3, 0)
	require.NoError(t, err)
	assert.Nil(t, rec, "deleting below minSize must not remove a row")

	rec, err = s.DeleteOldestEligible(ctx, "p1", 2, -1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "c", rec.VMID, "minSize 2 keeps a and b, leaving c as the oldest eligible row")
}

func TestResetToStagingClearsLesseeAndRetries(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, _ = s.Insert(ctx, &types.Record{Pool: "p1", VMID: "vm-1"})
	_, _ = s.IncrementRetries(ctx, "p1", "vm-1")
	_, _ = s.IncrementRetries(ctx, "p1", "vm-1")
	require.NoError(t, s.MarkAvailable(ctx, "p1", "vm-1", nil))

	tx, _, _ := s.Begin(ctx)
	_, err := tx.LeaseOldestAvailable(ctx, "p1", "room-a", "uid-a")
	require.NoError(t, err)

	found, err := s.ResetToStaging(ctx, "p1", "vm-1")
	require.NoError(t, err)
	assert.True(t, found)

	rec, err := s.Find(ctx, "p1", "vm-1")
	require.NoError(t, err)
	assert.Equal(t, types.StateStaging, rec.State)
	assert.Equal(t, 0, rec.Retries)
	assert.Nil(t, rec.RoomID)
	assert.Nil(t, rec.UID)
}

func TestRoomWaitingDefaultsTrueWithoutQueue(t *testing.T) {
	s := New()
	tx, _, _ := s.Begin(context.Background())
	waiting, err := tx.RoomWaiting(context.Background(), "room-a")
	require.NoError(t, err)
	assert.True(t, waiting)
}

func TestRoomWaitingTracksQueue(t *testing.T) {
	s := New()
	q := NewRoomQueue()
	s.BindRoomQueue(q)
	q.Push("room-a")

	tx, _, _ := s.Begin(context.Background())
	waiting, err := tx.RoomWaiting(context.Background(), "room-a")
	require.NoError(t, err)
	assert.True(t, waiting)

	q.Remove("room-a")
	waiting, err = tx.RoomWaiting(context.Background(), "room-a")
	require.NoError(t, err)
	assert.False(t, waiting)
}

func TestListHeartbeatSince(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.Insert(ctx, &types.Record{Pool: "p1", VMID: "vm-1"})
	require.NoError(t, s.MarkAvailable(ctx, "p1", "vm-1", nil))

	tx, _, _ := s.Begin(ctx)
	_, _ = tx.LeaseOldestAvailable(ctx, "p1", "room-a", "uid-a")
	require.NoError(t, s.Touch(ctx, "p1", "vm-1"))

	recs, err := s.ListHeartbeatSince(ctx, "p1", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
