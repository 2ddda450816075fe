package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"shotty/internal/fleet"
	"shotty/internal/snapshot"
	"shotty/internal/utils"
	"shotty/pkg/aws"
	"shotty/pkg/cloud"
	"shotty/pkg/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// providerFactory builds the cloud provider for a run
type providerFactory func(rc *config.RunContext) (cloud.Provider, error)

func newAWSProvider(rc *config.RunContext) (cloud.Provider, error) {
	provider, err := aws.NewProvider(rc.Profile, rc.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS provider: %w", err)
	}
	return provider, nil
}

// globalOptions are the flags shared by every command
type globalOptions struct {
	profile  string
	region   string
	verbose  bool
	logLevel string
}

// selectorOptions are the per-command flags choosing what to act on
type selectorOptions struct {
	instanceID string
	project    string
	force      bool
	all        bool
	age        string
}

// app wires the command tree to a provider factory and output streams
type app struct {
	global      globalOptions
	newProvider providerFactory
	stdout      io.Writer
	stderr      io.Writer
}

func main() {
	defaults, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd(defaults, newAWSProvider, os.Stdout, os.Stderr)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(defaults config.Defaults, newProvider providerFactory, stdout, stderr io.Writer) *cobra.Command {
	a := &app{newProvider: newProvider, stdout: stdout, stderr: stderr}

	var rootCmd = &cobra.Command{
		Use:           "shotty",
		Short:         "EC2 fleet and snapshot management tool",
		Long:          "Start, stop, reboot, list and snapshot groups of EC2 instances selected by Project tag",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVar(&a.global.profile, "profile", defaults.Profile, "AWS shared-config profile")
	rootCmd.PersistentFlags().StringVar(&a.global.region, "region", defaults.Region, "AWS region, e.g. us-east-1")
	rootCmd.PersistentFlags().BoolVarP(&a.global.verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&a.global.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	// Snapshots commands
	var snapshotsCmd = &cobra.Command{
		Use:   "snapshots",
		Short: "Commands for snapshots",
	}
	snapshotsCmd.AddCommand(a.newSnapshotsListCmd())

	// Volumes commands
	var volumesCmd = &cobra.Command{
		Use:   "volumes",
		Short: "Commands for volumes",
	}
	volumesCmd.AddCommand(a.newVolumesListCmd())

	// Instances commands
	var instancesCmd = &cobra.Command{
		Use:   "instances",
		Short: "Commands for instances",
	}
	instancesCmd.AddCommand(a.newInstancesListCmd())
	instancesCmd.AddCommand(a.newInstancesSnapshotCmd())
	instancesCmd.AddCommand(a.newTransitionCmd(fleet.ActionStart, "Start EC2 instances"))
	instancesCmd.AddCommand(a.newTransitionCmd(fleet.ActionStop, "Stop EC2 instances"))
	instancesCmd.AddCommand(a.newTransitionCmd(fleet.ActionReboot, "Reboot EC2 instances"))

	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(volumesCmd)
	rootCmd.AddCommand(instancesCmd)

	return rootCmd
}

func (a *app) newSnapshotsListCmd() *cobra.Command {
	var opts selectorOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List EC2 snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, provider, logger, err := a.setup(opts)
			if err != nil {
				return err
			}
			return fleet.NewDispatcher(provider, cmd.OutOrStdout(), logger).ListSnapshots(cmd.Context(), rc)
		},
	}
	cmd.Flags().StringVar(&opts.project, "project", "", "Only snapshots for project (tag Project:<name>)")
	cmd.Flags().BoolVar(&opts.all, "all", false, "List all snapshots for each volume, not just the most recent")
	return cmd
}

func (a *app) newVolumesListCmd() *cobra.Command {
	var opts selectorOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List EC2 volumes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, provider, logger, err := a.setup(opts)
			if err != nil {
				return err
			}
			return fleet.NewDispatcher(provider, cmd.OutOrStdout(), logger).ListVolumes(cmd.Context(), rc)
		},
	}
	cmd.Flags().StringVar(&opts.instanceID, "id", "", "The instance ID")
	cmd.Flags().StringVar(&opts.project, "project", "", "Only volumes for project (tag Project:<name>)")
	return cmd
}

func (a *app) newInstancesListCmd() *cobra.Command {
	var opts selectorOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List EC2 instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, provider, logger, err := a.setup(opts)
			if err != nil {
				return err
			}
			return fleet.NewDispatcher(provider, cmd.OutOrStdout(), logger).ListInstances(cmd.Context(), rc)
		},
	}
	cmd.Flags().StringVar(&opts.project, "project", "", "Only instances for project (tag Project:<name>)")
	return cmd
}

func (a *app) newInstancesSnapshotCmd() *cobra.Command {
	var opts selectorOptions
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create snapshots of all volumes",
		Long: "Create snapshots of every volume of the selected instances. Running instances are stopped " +
			"once before their first snapshot and started again afterwards.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, provider, logger, err := a.setup(opts)
			if err != nil {
				return err
			}

			report, err := snapshot.NewOrchestrator(provider, cmd.OutOrStdout(), logger).Run(cmd.Context(), rc)
			if err != nil {
				return a.reportSelectorError(cmd, err)
			}
			if a.global.verbose {
				report.Render(cmd.OutOrStdout())
			}
			return nil
		},
	}
	addSelectorFlags(cmd, &opts)
	cmd.Flags().StringVar(&opts.age, "age", "", "Days (or a duration such as 36h). Skip volumes whose most recent completed snapshot is younger")
	return cmd
}

func (a *app) newTransitionCmd(action fleet.Action, short string) *cobra.Command {
	var opts selectorOptions
	cmd := &cobra.Command{
		Use:   string(action),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, provider, logger, err := a.setup(opts)
			if err != nil {
				return err
			}

			_, err = fleet.NewDispatcher(provider, cmd.OutOrStdout(), logger).Transition(cmd.Context(), action, rc)
			return a.reportSelectorError(cmd, err)
		},
	}
	addSelectorFlags(cmd, &opts)
	return cmd
}

func addSelectorFlags(cmd *cobra.Command, opts *selectorOptions) {
	cmd.Flags().StringVar(&opts.instanceID, "id", "", "The instance ID")
	cmd.Flags().StringVar(&opts.project, "project", "", "Only instances for project (tag Project:<name>)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "All instances")
}

// reportSelectorError prints a missing-selector message instead of failing the process
func (a *app) reportSelectorError(cmd *cobra.Command, err error) error {
	if errors.Is(err, config.ErrSelectorRequired) {
		fmt.Fprintln(cmd.OutOrStdout(), err)
		return nil
	}
	return err
}

// setup builds the run context, logger and provider for a command
func (a *app) setup(opts selectorOptions) (*config.RunContext, cloud.Provider, logrus.FieldLogger, error) {
	age, err := utils.ParseAge(opts.age)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid age: %w", err)
	}

	rc := &config.RunContext{
		Profile:      a.global.profile,
		Region:       a.global.region,
		Project:      opts.project,
		InstanceID:   opts.instanceID,
		Force:        opts.force,
		ListAll:      opts.all,
		AgeThreshold: age,
	}
	if err := rc.Validate(); err != nil {
		return nil, nil, nil, err
	}

	logger := a.newLogger()
	logger.WithFields(logrus.Fields{
		"profile": rc.Profile,
		"region":  rc.Region,
		"project": rc.Project,
	}).Debug("Run context ready")

	provider, err := a.newProvider(rc)
	if err != nil {
		return nil, nil, nil, err
	}
	return rc, provider, logger, nil
}

func (a *app) newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(a.stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(getLogLevel(a.global.logLevel))
	if a.global.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// getLogLevel parses log level string to logrus level
func getLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
