package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbrowser-pool/controller/internal/controller"
	"github.com/vbrowser-pool/controller/internal/metrics"
	"github.com/vbrowser-pool/controller/internal/providers/noop"
	"github.com/vbrowser-pool/controller/internal/store/memory"
	"github.com/vbrowser-pool/controller/types"
)

func newTestPool(t *testing.T) (*controller.PoolManager, types.PoolConfig) {
	t.Helper()
	pool := types.PoolConfig{ProviderID: "noop", Region: "dev", MinSize: 1, LimitSize: 10}
	s := memory.New()
	pm := controller.New(pool, controller.Config{}, noop.New(), s, metrics.New(prometheus.NewRegistry()))

	ctx := context.Background()
	_, err := s.Insert(ctx, &types.Record{Pool: pool.Name(), VMID: "vm-1"})
	require.NoError(t, err)
	require.NoError(t, s.MarkAvailable(ctx, pool.Name(), "vm-1", nil))

	return pm, pool
}

func TestGetAvailableEndpoint(t *testing.T) {
	pm, pool := newTestPool(t)
	reg := NewPoolRegistry(map[string]*controller.PoolManager{pool.Name(): pm})

	req := httptest.NewRequest(http.MethodGet, "/pools/"+pool.Name()+"/available", nil)
	rec := httptest.NewRecorder()
	Router(reg).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vm-1")
}

func TestReconcileStatusEndpointReportsUnscheduledBeforeBackgroundJobsStart(t *testing.T) {
	pm, pool := newTestPool(t)
	reg := NewPoolRegistry(map[string]*controller.PoolManager{pool.Name(): pm})

	req := httptest.NewRequest(http.MethodGet, "/pools/"+pool.Name()+"/jobs/reconcile", nil)
	rec := httptest.NewRecorder()
	Router(reg).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"scheduled":false`)
}

func TestUnknownPoolReturns404(t *testing.T) {
	pm, pool := newTestPool(t)
	reg := NewPoolRegistry(map[string]*controller.PoolManager{pool.Name(): pm})

	req := httptest.NewRequest(http.MethodGet, "/pools/does-not-exist/available", nil)
	rec := httptest.NewRecorder()
	Router(reg).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
