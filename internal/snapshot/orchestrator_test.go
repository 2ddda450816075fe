package snapshot_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shotty/internal/snapshot"
	"shotty/pkg/cloud"
	"shotty/pkg/cloud/cloudtest"
	"shotty/pkg/config"
	"shotty/pkg/models"
)

const week = 7 * 24 * time.Hour

func newOrchestrator(p *cloudtest.Provider) (*snapshot.Orchestrator, *bytes.Buffer, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	p.Now = func() time.Time { return now }
	out := &bytes.Buffer{}
	o := snapshot.NewOrchestrator(p, out, logger)
	o.SetClock(func() time.Time { return now })
	return o, out, hook
}

func instance(id string, state models.InstanceState) *models.Instance {
	return &models.Instance{ID: id, State: state, Tags: map[string]string{"Project": "valkyrie"}}
}

func volume(id string) *models.Volume {
	return &models.Volume{ID: id, SizeGiB: 8, State: "in-use"}
}

func ops(p *cloudtest.Provider) []string {
	var out []string
	for _, c := range p.Calls {
		if c.Op == cloudtest.OpListVolumes || c.Op == cloudtest.OpListSnapshots || c.Op == cloudtest.OpListInstances {
			continue
		}
		out = append(out, c.Op+":"+c.ResourceID)
	}
	return out
}

func TestSnapshotFleet_FreshVolumeIsSkipped(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-1"))
	p.AddSnapshots("vol-1", snap("s1", models.SnapshotCompleted, 3*24*time.Hour))
	o, out, _ := newOrchestrator(p)

	report := o.SnapshotFleet(context.Background(), []*models.Instance{p.Instance("i-1")}, week)

	assert.Equal(t, snapshot.OutcomeSkippedFresh, report.Outcome("vol-1"))
	assert.Empty(t, p.CallsFor(cloudtest.OpCreateSnapshot))
	assert.Zero(t, p.MutationCount())
	assert.Contains(t, out.String(), "Skipping vol-1, last snapshot is 3d old")
}

func TestSnapshotFleet_AgedOutVolumeIsSnapshotted(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-1"))
	p.AddSnapshots("vol-1", snap("s1", models.SnapshotCompleted, 10*24*time.Hour))
	o, _, _ := newOrchestrator(p)

	report := o.SnapshotFleet(context.Background(), []*models.Instance{p.Instance("i-1")}, week)

	assert.Equal(t, snapshot.OutcomeCreated, report.Outcome("vol-1"))
	assert.Equal(t, []string{
		"stop:i-1",
		"wait-stopped:i-1",
		"create-snapshot:vol-1",
		"start:i-1",
		"wait-running:i-1",
	}, ops(p))
}

func TestSnapshotFleet_ThresholdWithoutCompletedSnapshotIsAgedOut(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-1"))
	p.AddSnapshots("vol-1", snap("s1", models.SnapshotError, time.Hour))
	o, _, _ := newOrchestrator(p)

	report := o.SnapshotFleet(context.Background(), []*models.Instance{p.Instance("i-1")}, week)

	assert.Equal(t, snapshot.OutcomeCreated, report.Outcome("vol-1"))
}

func TestSnapshotFleet_NoThresholdAlwaysSnapshots(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-1"))
	p.AddSnapshots("vol-1", snap("s1", models.SnapshotCompleted, time.Minute))
	o, _, _ := newOrchestrator(p)

	report := o.SnapshotFleet(context.Background(), []*models.Instance{p.Instance("i-1")}, 0)

	assert.Equal(t, snapshot.OutcomeCreated, report.Outcome("vol-1"))
	require.Len(t, p.CallsFor(cloudtest.OpCreateSnapshot), 1)
}

func TestSnapshotFleet_StopsOnceForAllVolumes(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-1"), volume("vol-2"))
	o, out, _ := newOrchestrator(p)

	report := o.SnapshotFleet(context.Background(), []*models.Instance{p.Instance("i-1")}, 0)

	assert.Equal(t, []string{
		"stop:i-1",
		"wait-stopped:i-1",
		"create-snapshot:vol-1",
		"create-snapshot:vol-2",
		"start:i-1",
		"wait-running:i-1",
	}, ops(p))
	assert.Equal(t, 1, strings.Count(out.String(), "Stopping i-1..."))
	assert.Equal(t, 1, strings.Count(out.String(), "Starting i-1..."))

	ir, ok := report.Instance("i-1")
	require.True(t, ok)
	assert.True(t, ir.StoppedByRun)
	assert.True(t, ir.Restarted)
	assert.Equal(t, models.StateRunning, p.Instance("i-1").State)
	assert.Equal(t, 2, report.Counts()[snapshot.OutcomeCreated])
}

func TestSnapshotFleet_FailedVolumeDoesNotStopBatch(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-a"), volume("vol-b"))
	p.FailOn(cloudtest.OpCreateSnapshot, "vol-a", &cloud.ProviderError{
		Op: "create-snapshot", ResourceID: "vol-a", Code: "IncorrectState", Message: "volume busy",
	})
	o, out, hook := newOrchestrator(p)

	report := o.SnapshotFleet(context.Background(), []*models.Instance{p.Instance("i-1")}, 0)

	assert.Equal(t, snapshot.OutcomeFailed, report.Outcome("vol-a"))
	assert.Equal(t, snapshot.OutcomeCreated, report.Outcome("vol-b"))
	require.Len(t, report.Failures(), 1)

	var perr *cloud.ProviderError
	assert.True(t, errors.As(report.Failures()[0].Err, &perr))

	ir, _ := report.Instance("i-1")
	assert.True(t, ir.Restarted)
	assert.Equal(t, models.StateRunning, p.Instance("i-1").State)
	assert.Contains(t, out.String(), "Could not create snapshot vol-a.")

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["volume_id"] == "vol-a" {
			warned = true
		}
	}
	assert.True(t, warned, "expected a warning log for vol-a")
}

func TestSnapshotFleet_AlreadyStoppedInstanceStaysStopped(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateStopped), volume("vol-1"), volume("vol-2"))
	o, _, _ := newOrchestrator(p)

	report := o.SnapshotFleet(context.Background(), []*models.Instance{p.Instance("i-1")}, 0)

	assert.Equal(t, []string{"create-snapshot:vol-1", "create-snapshot:vol-2"}, ops(p))
	ir, _ := report.Instance("i-1")
	assert.False(t, ir.StoppedByRun)
	assert.False(t, ir.Restarted)
	assert.Equal(t, models.StateStopped, p.Instance("i-1").State)
}

func TestSnapshotFleet_PendingSnapshotIsSkipped(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-1"))
	p.AddSnapshots("vol-1",
		snap("s2", models.SnapshotPending, time.Minute),
		snap("s1", models.SnapshotCompleted, 30*24*time.Hour),
	)
	o, out, _ := newOrchestrator(p)

	report := o.SnapshotFleet(context.Background(), []*models.Instance{p.Instance("i-1")}, week)

	assert.Equal(t, snapshot.OutcomeSkippedPending, report.Outcome("vol-1"))
	assert.Zero(t, p.MutationCount())
	assert.Contains(t, out.String(), "Skipping vol-1, snapshot already in progress")
}

func TestSnapshotFleet_OnlyNeededVolumesTriggerStop(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-fresh"), volume("vol-old"))
	p.AddSnapshots("vol-fresh", snap("s1", models.SnapshotCompleted, 24*time.Hour))
	p.AddSnapshots("vol-old", snap("s2", models.SnapshotCompleted, 20*24*time.Hour))
	o, _, _ := newOrchestrator(p)

	report := o.SnapshotFleet(context.Background(), []*models.Instance{p.Instance("i-1")}, week)

	assert.Equal(t, snapshot.OutcomeSkippedFresh, report.Outcome("vol-fresh"))
	assert.Equal(t, snapshot.OutcomeCreated, report.Outcome("vol-old"))
	assert.Equal(t, []string{
		"stop:i-1",
		"wait-stopped:i-1",
		"create-snapshot:vol-old",
		"start:i-1",
		"wait-running:i-1",
	}, ops(p))
}

func TestSnapshotFleet_StopFailureFailsRemainingVolumes(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-1"), volume("vol-2"))
	p.FailOn(cloudtest.OpStop, "i-1", &cloud.ProviderError{Op: "stop", ResourceID: "i-1", Code: "UnsupportedOperation"})
	o, _, _ := newOrchestrator(p)

	report := o.SnapshotFleet(context.Background(), []*models.Instance{p.Instance("i-1")}, 0)

	assert.Equal(t, snapshot.OutcomeFailed, report.Outcome("vol-1"))
	assert.Equal(t, snapshot.OutcomeFailed, report.Outcome("vol-2"))
	assert.Len(t, p.CallsFor(cloudtest.OpStop), 1)
	assert.Empty(t, p.CallsFor(cloudtest.OpCreateSnapshot))
	assert.Empty(t, p.CallsFor(cloudtest.OpStart))

	ir, _ := report.Instance("i-1")
	assert.False(t, ir.StoppedByRun)
}

func TestSnapshotFleet_WaitFailureStillRestarts(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-1"))
	p.FailOn(cloudtest.OpWaitStopped, "i-1", errors.New("exceeded wait attempts"))
	o, _, _ := newOrchestrator(p)

	report := o.SnapshotFleet(context.Background(), []*models.Instance{p.Instance("i-1")}, 0)

	assert.Equal(t, snapshot.OutcomeFailed, report.Outcome("vol-1"))
	assert.Empty(t, p.CallsFor(cloudtest.OpCreateSnapshot))
	assert.Len(t, p.CallsFor(cloudtest.OpStart), 1)
}

func TestSnapshotFleet_RestartFailureIsRecorded(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-1"))
	p.AddInstance(instance("i-2", models.StateRunning), volume("vol-2"))
	p.FailOn(cloudtest.OpStart, "i-1", errors.New("insufficient capacity"))
	o, out, _ := newOrchestrator(p)

	report := o.SnapshotFleet(context.Background(), []*models.Instance{p.Instance("i-1"), p.Instance("i-2")}, 0)

	ir, _ := report.Instance("i-1")
	assert.Error(t, ir.StartErr)
	assert.False(t, ir.Restarted)
	assert.Contains(t, out.String(), "Could not start i-1.")

	ir2, _ := report.Instance("i-2")
	assert.True(t, ir2.Restarted)
	assert.Equal(t, snapshot.OutcomeCreated, report.Outcome("vol-2"))
}

func TestSnapshotFleet_VolumeListingErrorSkipsInstance(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-1"))
	p.AddInstance(instance("i-2", models.StateRunning), volume("vol-2"))
	p.FailOn(cloudtest.OpListVolumes, "i-1", errors.New("access denied"))
	o, _, _ := newOrchestrator(p)

	report := o.SnapshotFleet(context.Background(), []*models.Instance{p.Instance("i-1"), p.Instance("i-2")}, 0)

	ir, _ := report.Instance("i-1")
	assert.Error(t, ir.Err)
	assert.Empty(t, ir.Volumes)
	assert.Equal(t, snapshot.OutcomeCreated, report.Outcome("vol-2"))
	assert.Equal(t, []string{
		"stop:i-2",
		"wait-stopped:i-2",
		"create-snapshot:vol-2",
		"start:i-2",
		"wait-running:i-2",
	}, ops(p))
}

func TestRun_RequiresSelector(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-1"))
	o, _, _ := newOrchestrator(p)

	report, err := o.Run(context.Background(), &config.RunContext{Profile: "shotty", Region: "us-east-2"})

	assert.ErrorIs(t, err, config.ErrSelectorRequired)
	assert.Nil(t, report)
	assert.Empty(t, p.Calls)
}

func TestRun_ByProject(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-1"))
	p.AddInstance(&models.Instance{ID: "i-2", State: models.StateRunning}, volume("vol-2"))
	o, out, _ := newOrchestrator(p)

	report, err := o.Run(context.Background(), &config.RunContext{Project: "valkyrie"})
	require.NoError(t, err)

	require.Len(t, report.Instances, 1)
	assert.Equal(t, "i-1", report.Instances[0].InstanceID)
	assert.Equal(t, snapshot.OutcomeCreated, report.Outcome("vol-1"))
	assert.Empty(t, report.Outcome("vol-2"))
	assert.True(t, strings.HasSuffix(out.String(), "Complete!\n"))
}

func TestRun_UnknownInstance(t *testing.T) {
	p := cloudtest.New()
	o, _, _ := newOrchestrator(p)

	_, err := o.Run(context.Background(), &config.RunContext{InstanceID: "i-missing"})

	assert.ErrorIs(t, err, cloud.ErrInstanceNotFound)
	assert.Zero(t, p.MutationCount())
}

func TestRun_CreatedSnapshotIsPendingForNextRun(t *testing.T) {
	p := cloudtest.New()
	p.AddInstance(instance("i-1", models.StateRunning), volume("vol-1"))
	o, _, _ := newOrchestrator(p)
	rc := &config.RunContext{InstanceID: "i-1"}

	_, err := o.Run(context.Background(), rc)
	require.NoError(t, err)

	report, err := o.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, snapshot.OutcomeSkippedPending, report.Outcome("vol-1"))
	assert.Len(t, p.CallsFor(cloudtest.OpCreateSnapshot), 1)
}
