package config

import (
	"errors"
	"fmt"
	"time"

	"shotty/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// ErrSelectorRequired is returned when a mutating command has no target selector
var ErrSelectorRequired = errors.New("This command requires an option. Please use --help for more information")

// Defaults holds values read from the environment before flags are applied
type Defaults struct {
	Profile string `envconfig:"SHOTTY_PROFILE" default:"shotty"`
	Region  string `envconfig:"SHOTTY_REGION" default:"us-east-2"`
}

// RunContext is the per-invocation configuration. It is built once at startup
// and passed to every component; nothing mutates it afterwards.
type RunContext struct {
	Profile    string `validate:"required"`
	Region     string `validate:"required"`
	Project    string
	InstanceID string `validate:"omitempty,startswith=i-"`
	Force      bool
	ListAll    bool

	// AgeThreshold skips volumes whose latest completed snapshot is younger than this.
	// Zero disables the check.
	AgeThreshold time.Duration `validate:"gte=0"`
}

// FromEnv loads defaults from SHOTTY_* environment variables
func FromEnv() (Defaults, error) {
	var d Defaults
	if err := envconfig.Process("", &d); err != nil {
		return Defaults{}, fmt.Errorf("failed to load environment: %w", err)
	}
	return d, nil
}

// Validate checks the run context
func (rc *RunContext) Validate() error {
	if err := validator.New().Struct(rc); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := utils.ValidateRegion(rc.Region); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if rc.InstanceID != "" {
		if err := utils.ValidateInstanceID(rc.InstanceID); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

// HasSelector reports whether the run names an instance, a project, or forces the whole fleet
func (rc *RunContext) HasSelector() bool {
	return rc.InstanceID != "" || rc.Project != "" || rc.Force
}

// RequireSelector returns ErrSelectorRequired when HasSelector is false
func (rc *RunContext) RequireSelector() error {
	if !rc.HasSelector() {
		return ErrSelectorRequired
	}
	return nil
}

// HasAgeThreshold reports whether age throttling is enabled
func (rc *RunContext) HasAgeThreshold() bool {
	return rc.AgeThreshold > 0
}
