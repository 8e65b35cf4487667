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

func testStagingPool() types.PoolConfig {
	return types.PoolConfig{ProviderID: "noop", Region: "dev", LimitSize: 20, MinSize: 1}
}

func TestCheckStagingVMGivesUpAfterTooManyRetries(t *testing.T) {
	s := memory.New()
	adapter := noop.New()
	pool := testStagingPool()
	p := New(pool, Config{}, adapter, s, metrics.New(prometheus.NewRegistry()))
	ctx := context.Background()

	id, err := adapter.StartVM(ctx, pool.Tag(), "vm")
	require.NoError(t, err)
	_, err = s.Insert(ctx, &types.Record{Pool: pool.Name(), VMID: id})
	require.NoError(t, err)

	// Drive retries to one below the give-up threshold. The noop
	// adapter's own descriptor host ("<id>.local/") never resolves to a
	// real health endpoint, so the probe call checkStagingVM makes below
	// genuinely fails closed rather than needing a fake prober.
	for i := 0; i < stagingGiveUpRetries-1; i++ {
		_, err := s.IncrementRetries(ctx, pool.Name(), id)
		require.NoError(t, err)
	}

	rec, err := s.Find(ctx, pool.Name(), id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, stagingGiveUpRetries-1, rec.Retries)

	p.checkStagingVM(ctx, rec)

	got, err := s.Find(ctx, pool.Name(), id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.StateStaging, got.State, "give-up resets the vm back to staging rather than leaving it stuck")
	assert.Equal(t, 0, got.Retries, "a reset clears the retry counter")
}

// slowBootAdapter wraps the noop adapter with a higher MinRetries, standing
// in for a provider whose VMs take several staging passes before a reboot
// even finishes.
type slowBootAdapter struct {
	*noop.Adapter
}

func (slowBootAdapter) MinRetries() int { return 3 }

func TestCheckStagingVMSkipsBelowMinRetries(t *testing.T) {
	s := memory.New()
	adapter := slowBootAdapter{noop.New()}
	pool := testStagingPool()
	p := New(pool, Config{}, adapter, s, metrics.New(prometheus.NewRegistry()))
	ctx := context.Background()

	id, err := adapter.StartVM(ctx, pool.Tag(), "vm")
	require.NoError(t, err)
	_, err = s.Insert(ctx, &types.Record{Pool: pool.Name(), VMID: id})
	require.NoError(t, err)

	rec, err := s.Find(ctx, pool.Name(), id)
	require.NoError(t, err)

	p.checkStagingVM(ctx, rec)

	got, err := s.Find(ctx, pool.Name(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StateStaging, got.State, "one retry sits below the adapter's MinRetries (3), checkStagingVM must not probe yet")
	assert.Equal(t, 1, got.Retries)
}
