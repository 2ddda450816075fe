package cloud

import (
	"context"
	"errors"
	"fmt"

	"shotty/pkg/models"
)

// ErrInstanceNotFound is returned when an explicitly requested instance does not exist
var ErrInstanceNotFound = errors.New("instance not found")

// Provider defines the compute/storage calls the tool consumes from a cloud provider.
// Every list call returns fully materialized results; no call hides further network access.
type Provider interface {
	// ListInstances returns the instances matching the filter
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*models.Instance, error)

	// GetInstanceState returns the current power state of an instance
	GetInstanceState(ctx context.Context, instanceID string) (models.InstanceState, error)

	// StopInstance requests a stop without waiting for it to complete
	StopInstance(ctx context.Context, instanceID string) error

	// WaitUntilStopped blocks until the provider reports the instance stopped
	WaitUntilStopped(ctx context.Context, instanceID string) error

	// StartInstance requests a start without waiting for it to complete
	StartInstance(ctx context.Context, instanceID string) error

	// WaitUntilRunning blocks until the provider reports the instance running
	WaitUntilRunning(ctx context.Context, instanceID string) error

	// RebootInstance requests a reboot
	RebootInstance(ctx context.Context, instanceID string) error

	// ListVolumes returns the volumes attached to an instance
	ListVolumes(ctx context.Context, instanceID string) ([]*models.Volume, error)

	// ListSnapshots returns a volume's snapshots, most recent first
	ListSnapshots(ctx context.Context, volumeID string) ([]*models.Snapshot, error)

	// CreateSnapshot starts a snapshot of the volume
	CreateSnapshot(ctx context.Context, volumeID, description string) (*models.Snapshot, error)
}

// InstanceFilter selects instances. An explicit ID takes precedence over the project.
// The zero value selects every instance visible to the credentials.
type InstanceFilter struct {
	InstanceIDs []string
	Project     string
}

// ProviderError is a client error returned by the provider for a single resource
type ProviderError struct {
	Op         string
	ResourceID string
	Code       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.ResourceID, e.Message)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Op, e.ResourceID, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
