// Package providers defines the pluggable provider-adapter contract (C1):
// the capability set a concrete cloud must furnish for the pool controller
// to start, terminate, reboot, and inspect VMs. Concrete implementations
// live in sibling packages (ec2, digitalocean, noop).
package providers

import (
	"context"

	"github.com/vbrowser-pool/controller/types"
)

// Adapter is the capability set a concrete provider must furnish. Every
// operation is asynchronous and, unless noted, fails with a transient
// transport/provider error the caller treats as retryable. GetVM reports a
// perrors.NotFound when the provider has no record of the VM (a 404-class
// response), which is distinguished from a transient failure.
type Adapter interface {
	// StartVM provisions a new VM tagged for the pool and returns its
	// provider id. name doubles as the initial password material; the
	// adapter owns that coupling, the controller never inspects it.
	StartVM(ctx context.Context, tag, name string) (vmid string, err error)
	// TerminateVM best-effort deletes a VM.
	TerminateVM(ctx context.Context, vmid string) error
	// RebootVM returns the VM to a clean boot with rotated credentials.
	// Providers that cannot rotate credentials in place must rename and
	// rebuild the VM to preserve the name/password coupling.
	RebootVM(ctx context.Context, vmid string) error
	// GetVM returns nil, nil when the descriptor is incomplete (e.g. the
	// VM has no IP yet). It returns a *perrors.NotFound when the provider
	// has no such VM.
	GetVM(ctx context.Context, vmid string) (*types.Descriptor, error)
	// ListVMs enumerates every provider-side VM bearing tag.
	ListVMs(ctx context.Context, tag string) ([]*types.Descriptor, error)
	// PowerOn and AttachToNetwork are idempotent recovery hooks used
	// during staging when a VM fails to come up cleanly.
	PowerOn(ctx context.Context, vmid string) error
	AttachToNetwork(ctx context.Context, vmid string) error
	// UpdateSnapshot is an operational maintenance path, not on the hot
	// path of any control loop.
	UpdateSnapshot(ctx context.Context) (imageID string, err error)

	// Size and LargeSize are the adapter's immutable instance-size
	// constants for the regular and "Large" pool variants.
	Size() string
	LargeSize() string
	// MinRetries is the lower bound on staging attempts before the
	// readiness probe is trusted — a proxy for reboot time.
	MinRetries() int
}
