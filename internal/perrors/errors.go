// Package perrors carries the small error taxonomy the controller uses to
// decide whether a failure is transient (retry next tick), permanent (stop
// trying, clean up), or a not-found signal from a provider.
package perrors

import "fmt"

// NotFound is returned by a ProviderAdapter when a VM no longer exists on
// the provider side (a 404-class response). The caller may remove the
// corresponding record.
type NotFound struct {
	VMID string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("vm %s not found", e.VMID)
}

// IsNotFound reports whether err signals a permanent, 404-class failure.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFound)
	return ok
}

// Transient wraps a provider or transport error the caller should treat as
// retryable on the next control-loop tick.
type Transient struct {
	Err error
}

func (e *Transient) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *Transient) Unwrap() error {
	return e.Err
}
