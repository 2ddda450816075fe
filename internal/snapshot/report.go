package snapshot

import (
	"fmt"
	"io"

	"shotty/pkg/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
)

// Outcome is what happened to one volume during a snapshot run
type Outcome string

const (
	OutcomeCreated        Outcome = "created"
	OutcomeSkippedPending Outcome = "skipped-pending"
	OutcomeSkippedFresh   Outcome = "skipped-fresh"
	OutcomeFailed         Outcome = "failed"
)

// VolumeResult records the outcome for a single volume
type VolumeResult struct {
	InstanceID string
	VolumeID   string
	Outcome    Outcome
	SnapshotID string
	Err        error
}

// InstanceResult records what a run did to one instance and its volumes
type InstanceResult struct {
	InstanceID    string
	OriginalState models.InstanceState
	StoppedByRun  bool
	Restarted     bool
	// Err is set when the instance's volumes could not be listed
	Err      error
	StartErr error
	Volumes  []VolumeResult
}

// Report aggregates the per-volume results of a snapshot run
type Report struct {
	Instances []InstanceResult
}

// Volumes returns every volume result in processing order
func (r *Report) Volumes() []VolumeResult {
	return lo.FlatMap(r.Instances, func(ir InstanceResult, _ int) []VolumeResult {
		return ir.Volumes
	})
}

// Counts returns the number of volumes per outcome
func (r *Report) Counts() map[Outcome]int {
	return lo.CountValuesBy(r.Volumes(), func(v VolumeResult) Outcome {
		return v.Outcome
	})
}

// Failures returns the volumes whose snapshot could not be created
func (r *Report) Failures() []VolumeResult {
	return lo.Filter(r.Volumes(), func(v VolumeResult, _ int) bool {
		return v.Outcome == OutcomeFailed
	})
}

// Instance returns the result for an instance
func (r *Report) Instance(id string) (InstanceResult, bool) {
	return lo.Find(r.Instances, func(ir InstanceResult) bool {
		return ir.InstanceID == id
	})
}

// Outcome returns the recorded outcome for a volume, or "" if it was not processed
func (r *Report) Outcome(volumeID string) Outcome {
	v, _ := lo.Find(r.Volumes(), func(v VolumeResult) bool {
		return v.VolumeID == volumeID
	})
	return v.Outcome
}

// Render writes a summary table of the run
func (r *Report) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Instance", "Volume", "Outcome", "Snapshot", "Detail"})

	for _, ir := range r.Instances {
		if ir.Err != nil {
			t.AppendRow(table.Row{ir.InstanceID, "-", OutcomeFailed, "-", ir.Err.Error()})
		}
		for _, v := range ir.Volumes {
			detail := ""
			if v.Err != nil {
				detail = v.Err.Error()
			}
			t.AppendRow(table.Row{v.InstanceID, v.VolumeID, v.Outcome, lo.Ternary(v.SnapshotID == "", "-", v.SnapshotID), detail})
		}
		if ir.StartErr != nil {
			t.AppendRow(table.Row{ir.InstanceID, "-", "restart-failed", "-", ir.StartErr.Error()})
		}
	}

	counts := r.Counts()
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d instances", len(r.Instances)),
		fmt.Sprintf("%d volumes", len(r.Volumes())),
		fmt.Sprintf("%d created", counts[OutcomeCreated]),
		fmt.Sprintf("%d skipped", counts[OutcomeSkippedPending]+counts[OutcomeSkippedFresh]),
		fmt.Sprintf("%d failed", counts[OutcomeFailed]),
	})
	t.Render()
}
