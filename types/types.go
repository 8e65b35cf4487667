// Package types holds the data model shared across the pool controller:
// the VM lifecycle state, the persisted VM record, and the provider-side
// VM descriptor the controller treats as mostly opaque.
package types

import (
	"encoding/json"
	"time"
)

// VMState is the lifecycle state of a managed VM record.
type VMState string

const (
	StateStaging   VMState = "staging"
	StateAvailable VMState = "available"
	StateUsed      VMState = "used"
)

// Descriptor is the provider's projection of a VM, as returned by
// GetVM/ListVMs. It is opaque to the controller except for Host (used by
// the readiness probe) and ID (the stable external identifier).
type Descriptor struct {
	ID        string            `json:"id"`
	Pass      string            `json:"pass"`
	Host      string            `json:"host"`
	PrivateIP string            `json:"private_ip"`
	State     string            `json:"state"`
	Tags      map[string]string `json:"tags"`
	Created   time.Time         `json:"creation_date"`
	Provider  string            `json:"provider"`
	Large     bool              `json:"large"`
	Region    string            `json:"region"`
}

// Record is one row in the state store: a managed VM and its current
// lease/readiness bookkeeping.
type Record struct {
	ID            int64      `db:"id"`
	Pool          string     `db:"pool"`
	VMID          string     `db:"vmid"`
	State         VMState    `db:"state"`
	CreationTime  time.Time  `db:"creation_time"`
	ReadyTime     *time.Time `db:"ready_time"`
	AssignTime    *time.Time `db:"assign_time"`
	HeartbeatTime *time.Time `db:"heartbeat_time"`
	ResetTime     *time.Time `db:"reset_time"`
	Retries       int        `db:"retries"`
	RoomID        *string    `db:"room_id"`
	UID           *string    `db:"uid"`
	Data          []byte     `db:"data"`
}

// AssignedVM is what the assignment protocol hands back to a caller.
type AssignedVM struct {
	VMID       string
	Descriptor *Descriptor
	AssignTime time.Time
}

// EncodeDescriptor serializes a descriptor for storage in Record.Data.
func EncodeDescriptor(d *Descriptor) ([]byte, error) {
	return json.Marshal(d)
}

// DecodeDescriptor deserializes a descriptor previously written by
// EncodeDescriptor.
func DecodeDescriptor(data []byte) (*Descriptor, error) {
	d := new(Descriptor)
	if err := json.Unmarshal(data, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Identity returns the pool identity string: providerId + ("Large"|"") + region.
func Identity(providerID, region string, large bool) string {
	if large {
		return providerID + "Large" + region
	}
	return providerID + region
}
