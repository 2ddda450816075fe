package fleet

import (
	"context"
	"fmt"
	"io"

	"shotty/pkg/cloud"
	"shotty/pkg/config"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Action is a power transition applied to every resolved instance
type Action string

const (
	ActionStart  Action = "start"
	ActionStop   Action = "stop"
	ActionReboot Action = "reboot"
)

var progressLabels = map[Action]string{
	ActionStart:  "Starting",
	ActionStop:   "Stopping",
	ActionReboot: "Rebooting",
}

var errColor = color.New(color.FgRed)

// TransitionResult records the outcome of one instance transition
type TransitionResult struct {
	InstanceID string
	Action     Action
	Err        error
}

// Dispatcher routes fleet commands to the provider, one call per instance
type Dispatcher struct {
	provider cloud.Provider
	filter   *Filter
	out      io.Writer
	logger   logrus.FieldLogger
}

// NewDispatcher creates a dispatcher writing result lines to out
func NewDispatcher(provider cloud.Provider, out io.Writer, logger logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		filter:   NewFilter(provider),
		out:      out,
		logger:   logger,
	}
}

// Transition applies action to every instance selected by rc. It refuses to run
// without a selector. Provider errors are recorded per instance and never stop the batch.
func (d *Dispatcher) Transition(ctx context.Context, action Action, rc *config.RunContext) ([]TransitionResult, error) {
	label, ok := progressLabels[action]
	if !ok {
		return nil, fmt.Errorf("unsupported action: %s", action)
	}
	if err := rc.RequireSelector(); err != nil {
		return nil, err
	}

	instances, err := d.filter.Resolve(ctx, rc.Project, rc.InstanceID)
	if err != nil {
		return nil, err
	}

	results := make([]TransitionResult, 0, len(instances))
	for _, inst := range instances {
		logger := d.logger.WithFields(logrus.Fields{
			"instance_id": inst.ID,
			"state":       inst.State,
			"action":      action,
		})

		fmt.Fprintf(d.out, "%s %s...\n", label, inst.ID)
		result := TransitionResult{InstanceID: inst.ID, Action: action}
		result.Err = d.apply(ctx, action, inst.ID)
		if result.Err != nil {
			logger.WithError(result.Err).Warn("Instance transition failed")
			errColor.Fprintf(d.out, " Could not %s %s. %v\n", action, inst.ID, result.Err)
		} else {
			logger.Debug("Instance transition requested")
		}
		results = append(results, result)
	}

	return results, nil
}

func (d *Dispatcher) apply(ctx context.Context, action Action, instanceID string) error {
	switch action {
	case ActionStart:
		return d.provider.StartInstance(ctx, instanceID)
	case ActionStop:
		return d.provider.StopInstance(ctx, instanceID)
	default:
		return d.provider.RebootInstance(ctx, instanceID)
	}
}
