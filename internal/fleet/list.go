package fleet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shotty/pkg/config"
	"shotty/pkg/models"
)

// ListInstances prints one line per instance selected by the project filter
func (d *Dispatcher) ListInstances(ctx context.Context, rc *config.RunContext) error {
	instances, err := d.filter.Resolve(ctx, rc.Project, "")
	if err != nil {
		return err
	}

	for _, inst := range instances {
		project, ok := inst.Project()
		if !ok {
			project = "<no project>"
		}
		d.printLine(
			inst.ID,
			inst.PublicAddress(),
			inst.InstanceType,
			inst.AvailabilityZone,
			string(inst.State),
			project,
		)
	}
	return nil
}

// ListVolumes prints one line per volume of each selected instance
func (d *Dispatcher) ListVolumes(ctx context.Context, rc *config.RunContext) error {
	instances, err := d.filter.Resolve(ctx, rc.Project, rc.InstanceID)
	if err != nil {
		return err
	}

	for _, inst := range instances {
		volumes, err := d.provider.ListVolumes(ctx, inst.ID)
		if err != nil {
			return fmt.Errorf("failed to list volumes of %s: %w", inst.ID, err)
		}
		for _, v := range volumes {
			d.printLine(v.ID, inst.ID, v.State, v.SizeLabel(), v.EncryptionLabel())
		}
	}
	return nil
}

// ListSnapshots prints snapshots per volume of each selected instance.
// Unless rc.ListAll is set, a volume's listing stops after its first completed snapshot.
func (d *Dispatcher) ListSnapshots(ctx context.Context, rc *config.RunContext) error {
	instances, err := d.filter.Resolve(ctx, rc.Project, "")
	if err != nil {
		return err
	}

	for _, inst := range instances {
		volumes, err := d.provider.ListVolumes(ctx, inst.ID)
		if err != nil {
			return fmt.Errorf("failed to list volumes of %s: %w", inst.ID, err)
		}
		for _, v := range volumes {
			snapshots, err := d.provider.ListSnapshots(ctx, v.ID)
			if err != nil {
				return fmt.Errorf("failed to list snapshots of %s: %w", v.ID, err)
			}
			d.printSnapshots(inst, v, snapshots, rc.ListAll)
		}
	}
	return nil
}

func (d *Dispatcher) printSnapshots(inst *models.Instance, v *models.Volume, snapshots []*models.Snapshot, all bool) {
	for _, s := range snapshots {
		d.printLine(
			s.ID,
			v.ID,
			inst.ID,
			string(s.State),
			s.Progress,
			s.StartTime.Format(time.ANSIC),
		)
		if s.IsCompleted() && !all {
			break
		}
	}
}

func (d *Dispatcher) printLine(fields ...string) {
	fmt.Fprintln(d.out, strings.Join(fields, ", "))
}
