package snapshot

import (
	"context"
	"fmt"
	"time"

	"shotty/pkg/cloud"
	"shotty/pkg/models"
)

// VolumeState summarises a volume's snapshot listing
type VolumeState struct {
	Pending      bool
	HasCompleted bool
	CompletedAge time.Duration
}

// Inspector answers snapshot-state questions about a volume.
// Both queries trust the provider's listing order: the first entry is the most recent.
type Inspector struct {
	provider cloud.Provider
}

// NewInspector creates an inspector backed by the provider
func NewInspector(provider cloud.Provider) *Inspector {
	return &Inspector{provider: provider}
}

// Inspect fetches the volume's snapshots once and evaluates both queries against them
func (i *Inspector) Inspect(ctx context.Context, volumeID string, now time.Time) (VolumeState, error) {
	snapshots, err := i.provider.ListSnapshots(ctx, volumeID)
	if err != nil {
		return VolumeState{}, fmt.Errorf("failed to list snapshots of %s: %w", volumeID, err)
	}

	age, ok := MostRecentCompletedAge(snapshots, now)
	return VolumeState{
		Pending:      HasPendingSnapshot(snapshots),
		HasCompleted: ok,
		CompletedAge: age,
	}, nil
}

// HasPendingSnapshot reports whether the most recent snapshot is still pending
func HasPendingSnapshot(snapshots []*models.Snapshot) bool {
	return len(snapshots) > 0 && snapshots[0].IsPending()
}

// MostRecentCompletedAge returns the age of the first completed snapshot in listing order.
// The scan stops at that snapshot; ok is false when there is none.
func MostRecentCompletedAge(snapshots []*models.Snapshot, now time.Time) (age time.Duration, ok bool) {
	for _, s := range snapshots {
		if s.IsCompleted() {
			return s.Age(now), true
		}
	}
	return 0, false
}
