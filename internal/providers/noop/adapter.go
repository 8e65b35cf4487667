// Package noop is an in-memory provider adapter used by tests and local
// development, grounded on the teacher's internal/drivers/noop driver.
package noop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbrowser-pool/controller/internal/perrors"
	"github.com/vbrowser-pool/controller/internal/providers"
	"github.com/vbrowser-pool/controller/types"
)

var _ providers.Adapter = (*Adapter)(nil)

// Adapter is a fake provider that keeps VMs in memory. Its descriptors carry
// a "<id>.local/" host with no health endpoint behind it, so the readiness
// probe does not report them ready. BootDelay is not read by any method.
type Adapter struct {
	mu  sync.Mutex
	vms map[string]*types.Descriptor

	counter int64

	BootDelay time.Duration
	size      string
	largeSize string
	minRetry  int
}

// New returns a ready-to-use in-memory adapter.
func New() *Adapter {
	return &Adapter{
		vms:      make(map[string]*types.Descriptor),
		size:     "noop-small",
		largeSize: "noop-large",
		minRetry: 1,
	}
}

func (a *Adapter) StartVM(_ context.Context, tag, name string) (string, error) {
	id := fmt.Sprintf("noop-%d", atomic.AddInt64(&a.counter, 1))
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vms[id] = &types.Descriptor{
		ID:      id,
		Pass:    name,
		Host:    id + ".local/",
		State:   "running",
		Tags:    map[string]string{"pool": tag},
		Created: time.Now(),
	}
	return id, nil
}

func (a *Adapter) TerminateVM(_ context.Context, vmid string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.vms, vmid)
	return nil
}

func (a *Adapter) RebootVM(_ context.Context, vmid string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	vm, ok := a.vms[vmid]
	if !ok {
		return &perrors.NotFound{VMID: vmid}
	}
	vm.Pass = fmt.Sprintf("rotated-%d", time.Now().UnixNano())
	return nil
}

func (a *Adapter) GetVM(_ context.Context, vmid string) (*types.Descriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	vm, ok := a.vms[vmid]
	if !ok {
		return nil, &perrors.NotFound{VMID: vmid}
	}
	cp := *vm
	return &cp, nil
}

func (a *Adapter) ListVMs(_ context.Context, tag string) ([]*types.Descriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*types.Descriptor, 0, len(a.vms))
	for _, vm := range a.vms {
		if vm.Tags["pool"] == tag {
			cp := *vm
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (a *Adapter) PowerOn(_ context.Context, _ string) error         { return nil }
func (a *Adapter) AttachToNetwork(_ context.Context, _ string) error { return nil }
func (a *Adapter) UpdateSnapshot(_ context.Context) (string, error)  { return "noop-image", nil }

func (a *Adapter) Size() string      { return a.size }
func (a *Adapter) LargeSize() string { return a.largeSize }
func (a *Adapter) MinRetries() int   { return a.minRetry }
