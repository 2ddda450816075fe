// Package cloudtest provides an in-memory cloud.Provider for unit tests.
package cloudtest

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"shotty/pkg/cloud"
	"shotty/pkg/models"
)

// Operation names recorded in Provider.Calls
const (
	OpListInstances  = "list-instances"
	OpGetState       = "get-state"
	OpStop           = "stop"
	OpWaitStopped    = "wait-stopped"
	OpStart          = "start"
	OpWaitRunning    = "wait-running"
	OpReboot         = "reboot"
	OpListVolumes    = "list-volumes"
	OpListSnapshots  = "list-snapshots"
	OpCreateSnapshot = "create-snapshot"
)

var mutations = []string{OpStop, OpStart, OpReboot, OpCreateSnapshot}

// Call is one recorded provider invocation
type Call struct {
	Op         string
	ResourceID string
}

// Provider is an in-memory implementation of cloud.Provider.
// Instances are returned in insertion order; snapshots in the order they were added.
type Provider struct {
	Now func() time.Time

	instances []*models.Instance
	volumes   map[string][]*models.Volume
	snapshots map[string][]*models.Snapshot
	errs      map[Call]error
	seq       int

	Calls []Call
}

// New returns an empty fake provider
func New() *Provider {
	return &Provider{
		Now:       time.Now,
		volumes:   make(map[string][]*models.Volume),
		snapshots: make(map[string][]*models.Snapshot),
		errs:      make(map[Call]error),
	}
}

// AddInstance registers an instance together with its attached volumes
func (p *Provider) AddInstance(instance *models.Instance, volumes ...*models.Volume) {
	p.instances = append(p.instances, instance)
	for _, v := range volumes {
		v.InstanceID = instance.ID
	}
	p.volumes[instance.ID] = append(p.volumes[instance.ID], volumes...)
}

// AddSnapshots appends snapshots to a volume's listing, most recent first
func (p *Provider) AddSnapshots(volumeID string, snapshots ...*models.Snapshot) {
	for _, s := range snapshots {
		s.VolumeID = volumeID
	}
	p.snapshots[volumeID] = append(p.snapshots[volumeID], snapshots...)
}

// FailOn makes the given operation on the given resource return err
func (p *Provider) FailOn(op, resourceID string, err error) {
	p.errs[Call{Op: op, ResourceID: resourceID}] = err
}

// CallsFor returns the recorded calls for an operation
func (p *Provider) CallsFor(op string) []Call {
	return lo.Filter(p.Calls, func(c Call, _ int) bool { return c.Op == op })
}

// MutationCount returns the number of recorded state-changing calls
func (p *Provider) MutationCount() int {
	return lo.CountBy(p.Calls, func(c Call) bool { return lo.Contains(mutations, c.Op) })
}

// Instance returns the registered instance by ID
func (p *Provider) Instance(id string) *models.Instance {
	inst, _ := lo.Find(p.instances, func(i *models.Instance) bool { return i.ID == id })
	return inst
}

func (p *Provider) record(op, id string) error {
	p.Calls = append(p.Calls, Call{Op: op, ResourceID: id})
	if err, ok := p.errs[Call{Op: op, ResourceID: id}]; ok {
		return err
	}
	return nil
}

func (p *Provider) lookup(id string) (*models.Instance, error) {
	inst := p.Instance(id)
	if inst == nil {
		return nil, fmt.Errorf("%s: %w", id, cloud.ErrInstanceNotFound)
	}
	return inst, nil
}

func (p *Provider) ListInstances(ctx context.Context, filter cloud.InstanceFilter) ([]*models.Instance, error) {
	if err := p.record(OpListInstances, filter.Project); err != nil {
		return nil, err
	}

	if len(filter.InstanceIDs) > 0 {
		var out []*models.Instance
		for _, id := range filter.InstanceIDs {
			inst, err := p.lookup(id)
			if err != nil {
				return nil, err
			}
			out = append(out, inst)
		}
		return out, nil
	}

	if filter.Project != "" {
		return lo.Filter(p.instances, func(i *models.Instance, _ int) bool {
			return i.Tags[models.ProjectTag] == filter.Project
		}), nil
	}

	return append([]*models.Instance(nil), p.instances...), nil
}

func (p *Provider) GetInstanceState(ctx context.Context, instanceID string) (models.InstanceState, error) {
	if err := p.record(OpGetState, instanceID); err != nil {
		return "", err
	}
	inst, err := p.lookup(instanceID)
	if err != nil {
		return "", err
	}
	return inst.State, nil
}

func (p *Provider) StopInstance(ctx context.Context, instanceID string) error {
	return p.transition(OpStop, instanceID, models.StateStopping)
}

func (p *Provider) WaitUntilStopped(ctx context.Context, instanceID string) error {
	return p.transition(OpWaitStopped, instanceID, models.StateStopped)
}

func (p *Provider) StartInstance(ctx context.Context, instanceID string) error {
	return p.transition(OpStart, instanceID, models.StatePending)
}

func (p *Provider) WaitUntilRunning(ctx context.Context, instanceID string) error {
	return p.transition(OpWaitRunning, instanceID, models.StateRunning)
}

func (p *Provider) RebootInstance(ctx context.Context, instanceID string) error {
	if err := p.record(OpReboot, instanceID); err != nil {
		return err
	}
	_, err := p.lookup(instanceID)
	return err
}

func (p *Provider) transition(op, instanceID string, next models.InstanceState) error {
	if err := p.record(op, instanceID); err != nil {
		return err
	}
	inst, err := p.lookup(instanceID)
	if err != nil {
		return err
	}
	inst.State = next
	return nil
}

func (p *Provider) ListVolumes(ctx context.Context, instanceID string) ([]*models.Volume, error) {
	if err := p.record(OpListVolumes, instanceID); err != nil {
		return nil, err
	}
	return p.volumes[instanceID], nil
}

func (p *Provider) ListSnapshots(ctx context.Context, volumeID string) ([]*models.Snapshot, error) {
	if err := p.record(OpListSnapshots, volumeID); err != nil {
		return nil, err
	}
	return p.snapshots[volumeID], nil
}

// CreateSnapshot records the call and prepends a pending snapshot to the volume's listing
func (p *Provider) CreateSnapshot(ctx context.Context, volumeID, description string) (*models.Snapshot, error) {
	if err := p.record(OpCreateSnapshot, volumeID); err != nil {
		return nil, err
	}
	p.seq++
	snap := &models.Snapshot{
		ID:          fmt.Sprintf("snap-%04d", p.seq),
		VolumeID:    volumeID,
		State:       models.SnapshotPending,
		Progress:    "0%",
		StartTime:   p.Now(),
		Description: description,
	}
	p.snapshots[volumeID] = append([]*models.Snapshot{snap}, p.snapshots[volumeID]...)
	return snap, nil
}

var _ cloud.Provider = (*Provider)(nil)
