package snapshot

import (
	"context"
	"fmt"
	"io"
	"time"

	"shotty/internal/fleet"
	"shotty/internal/utils"
	"shotty/pkg/cloud"
	"shotty/pkg/config"
	"shotty/pkg/models"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Description is attached to every snapshot this tool creates
const Description = "Created by shotty"

var (
	skipColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
)

// Orchestrator snapshots the volumes of a fleet, stopping each instance at most
// once around its snapshots and restarting it afterwards if the run stopped it.
type Orchestrator struct {
	provider  cloud.Provider
	inspector *Inspector
	filter    *fleet.Filter
	out       io.Writer
	logger    logrus.FieldLogger
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator writing progress lines to out
func NewOrchestrator(provider cloud.Provider, out io.Writer, logger logrus.FieldLogger) *Orchestrator {
	return &Orchestrator{
		provider:  provider,
		inspector: NewInspector(provider),
		filter:    fleet.NewFilter(provider),
		out:       out,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the time source used for snapshot ages
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Run resolves the instances selected by rc and snapshots them.
// Without a selector it returns config.ErrSelectorRequired before touching the provider.
func (o *Orchestrator) Run(ctx context.Context, rc *config.RunContext) (*Report, error) {
	if err := rc.RequireSelector(); err != nil {
		return nil, err
	}

	instances, err := o.filter.Resolve(ctx, rc.Project, rc.InstanceID)
	if err != nil {
		return nil, err
	}

	report := o.SnapshotFleet(ctx, instances, rc.AgeThreshold)
	fmt.Fprintln(o.out, "Complete!")
	return report, nil
}

// SnapshotFleet processes instances one at a time. A zero threshold disables age throttling.
func (o *Orchestrator) SnapshotFleet(ctx context.Context, instances []*models.Instance, threshold time.Duration) *Report {
	o.logger.WithFields(logrus.Fields{
		"instance_count": len(instances),
		"age_threshold":  threshold,
	}).Debug("Starting snapshot run")

	report := &Report{Instances: make([]InstanceResult, 0, len(instances))}
	for _, inst := range instances {
		report.Instances = append(report.Instances, o.snapshotInstance(ctx, inst, threshold))
	}
	return report
}

// instanceRun is the per-instance state of a snapshot run
type instanceRun struct {
	instance   *models.Instance
	original   models.InstanceState
	current    models.InstanceState
	stopIssued bool
	stopErr    error
	logger     *logrus.Entry
}

func (o *Orchestrator) snapshotInstance(ctx context.Context, inst *models.Instance, threshold time.Duration) InstanceResult {
	run := &instanceRun{
		instance: inst,
		original: inst.State,
		current:  inst.State,
		logger: o.logger.WithFields(logrus.Fields{
			"instance_id": inst.ID,
			"state":       inst.State,
		}),
	}
	result := InstanceResult{InstanceID: inst.ID, OriginalState: inst.State}

	volumes, err := o.provider.ListVolumes(ctx, inst.ID)
	if err != nil {
		result.Err = fmt.Errorf("failed to list volumes of %s: %w", inst.ID, err)
		run.logger.WithError(err).Error("Failed to list volumes")
		errColor.Fprintf(o.out, " Could not list volumes of %s. %v\n", inst.ID, err)
		return result
	}

	for _, v := range volumes {
		result.Volumes = append(result.Volumes, o.snapshotVolume(ctx, run, v, threshold))
	}

	result.StoppedByRun = run.stopIssued
	if run.stopIssued && run.original != models.StateStopped {
		result.StartErr = o.restart(ctx, run)
		result.Restarted = result.StartErr == nil
	}

	return result
}

func (o *Orchestrator) snapshotVolume(ctx context.Context, run *instanceRun, v *models.Volume, threshold time.Duration) VolumeResult {
	logger := run.logger.WithField("volume_id", v.ID)
	result := VolumeResult{InstanceID: run.instance.ID, VolumeID: v.ID}

	state, err := o.inspector.Inspect(ctx, v.ID, o.now())
	if err != nil {
		return o.failed(result, logger, err)
	}

	if threshold > 0 && state.HasCompleted && state.CompletedAge < threshold {
		logger.WithField("snapshot_age", state.CompletedAge).Debug("Latest completed snapshot is fresh")
		skipColor.Fprintf(o.out, " Skipping %s, last snapshot is %s old\n", v.ID, utils.FormatDuration(state.CompletedAge))
		result.Outcome = OutcomeSkippedFresh
		return result
	}

	if state.Pending {
		logger.Debug("Snapshot already in progress")
		skipColor.Fprintf(o.out, " Skipping %s, snapshot already in progress\n", v.ID)
		result.Outcome = OutcomeSkippedPending
		return result
	}

	fmt.Fprintf(o.out, "Creating snapshot of %s...\n", v.ID)
	if err := o.ensureStopped(ctx, run); err != nil {
		return o.failed(result, logger, err)
	}

	snap, err := o.provider.CreateSnapshot(ctx, v.ID, Description)
	if err != nil {
		return o.failed(result, logger, err)
	}

	logger.WithField("snapshot_id", snap.ID).Info("Snapshot created")
	result.Outcome = OutcomeCreated
	result.SnapshotID = snap.ID
	return result
}

// ensureStopped stops the instance once per run. A failed stop is remembered
// and returned for every later volume instead of being retried.
func (o *Orchestrator) ensureStopped(ctx context.Context, run *instanceRun) error {
	if run.current == models.StateStopped {
		return nil
	}
	if run.stopErr != nil {
		return run.stopErr
	}

	fmt.Fprintf(o.out, "Stopping %s...\n", run.instance.ID)
	if err := o.provider.StopInstance(ctx, run.instance.ID); err != nil {
		run.stopErr = fmt.Errorf("failed to stop instance %s: %w", run.instance.ID, err)
		return run.stopErr
	}
	run.stopIssued = true
	run.current = models.StateStopping

	if err := o.provider.WaitUntilStopped(ctx, run.instance.ID); err != nil {
		run.stopErr = fmt.Errorf("instance %s did not stop: %w", run.instance.ID, err)
		return run.stopErr
	}
	run.current = models.StateStopped
	run.logger.Info("Instance stopped for snapshot")
	return nil
}

func (o *Orchestrator) restart(ctx context.Context, run *instanceRun) error {
	fmt.Fprintf(o.out, "Starting %s...\n", run.instance.ID)

	err := o.provider.StartInstance(ctx, run.instance.ID)
	if err == nil {
		err = o.provider.WaitUntilRunning(ctx, run.instance.ID)
	}
	if err != nil {
		run.logger.WithError(err).Error("Failed to restart instance")
		errColor.Fprintf(o.out, " Could not start %s. %v\n", run.instance.ID, err)
		return fmt.Errorf("failed to restart instance %s: %w", run.instance.ID, err)
	}

	run.current = models.StateRunning
	run.logger.Info("Instance restarted")
	return nil
}

func (o *Orchestrator) failed(result VolumeResult, logger *logrus.Entry, err error) VolumeResult {
	logger.WithError(err).Warn("Snapshot failed")
	errColor.Fprintf(o.out, " Could not create snapshot %s. %v\n", result.VolumeID, err)
	result.Outcome = OutcomeFailed
	result.Err = err
	return result
}
