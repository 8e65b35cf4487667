package controller

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbrowser-pool/controller/internal/metrics"
	"github.com/vbrowser-pool/controller/internal/providers/noop"
	"github.com/vbrowser-pool/controller/internal/store/memory"
	"github.com/vbrowser-pool/controller/types"
)

func testShrinkPool() types.PoolConfig {
	// LimitSize 20 -> low watermark 1, high watermark 2.
	return types.PoolConfig{ProviderID: "noop", Region: "dev", LimitSize: 20, MinSize: 1}
}

func seedAvailable(t *testing.T, ctx context.Context, s *memory.Store, adapter *noop.Adapter, pool types.PoolConfig, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := adapter.StartVM(ctx, pool.Tag(), "seed")
		require.NoError(t, err)
		_, err = s.Insert(ctx, &types.Record{Pool: pool.Name(), VMID: id})
		require.NoError(t, err)
		require.NoError(t, s.MarkAvailable(ctx, pool.Name(), id, nil))
		ids = append(ids, id)
	}
	return ids
}

func TestShrinkLoopDecommissionsOldestEligibleAboveHighWatermark(t *testing.T) {
	s := memory.New()
	adapter := noop.New()
	pool := testShrinkPool()
	p := New(pool, Config{UptimeFloorSeconds: -1}, adapter, s, metrics.New(prometheus.NewRegistry()))
	ctx := context.Background()

	ids := seedAvailable(t, ctx, s, adapter, pool, 3) // above high watermark (2)

	p.shrinkLoop(ctx)

	count, err := s.Count(ctx, pool.Name(), types.StateAvailable)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "minSize=1 skips the oldest record, leaving the second one (ids[1]) as the oldest eligible")

	rec, err := s.Find(ctx, pool.Name(), ids[1])
	require.NoError(t, err)
	assert.Nil(t, rec, "the second-oldest record must be the one decommissioned, not the first or third")

	_, err = adapter.GetVM(ctx, ids[1])
	assert.Error(t, err, "shrinkLoop must terminate the decommissioned vm at the provider too")
}

func TestShrinkLoopRespectsUptimeGate(t *testing.T) {
	s := memory.New()
	adapter := noop.New()
	pool := testShrinkPool()
	// An unreachable uptime floor means no record's age-mod-hour ever
	// exceeds it, so nothing is ever eligible for decommission.
	p := New(pool, Config{UptimeFloorSeconds: 1 << 30}, adapter, s, metrics.New(prometheus.NewRegistry()))
	ctx := context.Background()

	seedAvailable(t, ctx, s, adapter, pool, 3)

	p.shrinkLoop(ctx)

	count, err := s.Count(ctx, pool.Name(), types.StateAvailable)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "no record clears the uptime floor, shrinkLoop must leave the pool untouched")
}

func TestShrinkLoopNoopAtOrBelowHighWatermark(t *testing.T) {
	s := memory.New()
	adapter := noop.New()
	pool := testShrinkPool()
	p := New(pool, Config{UptimeFloorSeconds: -1}, adapter, s, metrics.New(prometheus.NewRegistry()))
	ctx := context.Background()

	seedAvailable(t, ctx, s, adapter, pool, 2) // equals the high watermark

	p.shrinkLoop(ctx)

	count, err := s.Count(ctx, pool.Name(), types.StateAvailable)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "shrinkLoop must not act while available sits at or below the high watermark")
}
