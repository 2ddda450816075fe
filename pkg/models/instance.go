package models

import (
	"fmt"
	"time"
)

// ProjectTag is the tag key used to group instances into projects
const ProjectTag = "Project"

// InstanceState is the power state reported by the provider
type InstanceState string

const (
	StatePending      InstanceState = "pending"
	StateRunning      InstanceState = "running"
	StateStopping     InstanceState = "stopping"
	StateStopped      InstanceState = "stopped"
	StateShuttingDown InstanceState = "shutting-down"
	StateTerminated   InstanceState = "terminated"
)

// SnapshotState is the lifecycle state of a volume snapshot
type SnapshotState string

const (
	SnapshotPending   SnapshotState = "pending"
	SnapshotCompleted SnapshotState = "completed"
	SnapshotError     SnapshotState = "error"
)

// Instance represents a cloud instance
type Instance struct {
	ID               string            `json:"id"`
	InstanceType     string            `json:"instance_type"`
	State            InstanceState     `json:"state"`
	PublicIP         string            `json:"public_ip,omitempty"`
	AvailabilityZone string            `json:"availability_zone"`
	Tags             map[string]string `json:"tags,omitempty"`
}

// Volume represents a block-storage volume attached to an instance
type Volume struct {
	ID         string `json:"id"`
	InstanceID string `json:"instance_id,omitempty"`
	State      string `json:"state"`
	SizeGiB    int64  `json:"size_gib"`
	Encrypted  bool   `json:"encrypted"`
}

// Snapshot represents a point-in-time snapshot of a volume
type Snapshot struct {
	ID          string        `json:"id"`
	VolumeID    string        `json:"volume_id"`
	State       SnapshotState `json:"state"`
	Progress    string        `json:"progress"`
	StartTime   time.Time     `json:"start_time"`
	Description string        `json:"description,omitempty"`
}

// Project returns the value of the Project tag, if any
func (i *Instance) Project() (string, bool) {
	v, ok := i.Tags[ProjectTag]
	return v, ok
}

// IsStopped reports whether the instance is fully stopped
func (i *Instance) IsStopped() bool {
	return i.State == StateStopped
}

// PublicAddress returns the public IP for display, or "None" when unassigned
func (i *Instance) PublicAddress() string {
	if i.PublicIP == "" {
		return "None"
	}
	return i.PublicIP
}

// SizeLabel formats the volume size for display
func (v *Volume) SizeLabel() string {
	return fmt.Sprintf("%dGiB", v.SizeGiB)
}

// EncryptionLabel formats the encryption flag for display
func (v *Volume) EncryptionLabel() string {
	if v.Encrypted {
		return "Encrypted"
	}
	return "Not Encrypted"
}

// IsCompleted reports whether the snapshot has finished
func (s *Snapshot) IsCompleted() bool {
	return s.State == SnapshotCompleted
}

// IsPending reports whether the snapshot is still being created
func (s *Snapshot) IsPending() bool {
	return s.State == SnapshotPending
}

// Age returns how long ago the snapshot started, truncated to whole seconds
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.StartTime).Truncate(time.Second)
}
