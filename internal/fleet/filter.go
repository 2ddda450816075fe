package fleet

import (
	"context"
	"fmt"

	"shotty/pkg/cloud"
	"shotty/pkg/models"
)

// Filter resolves the set of instances a command acts on
type Filter struct {
	provider cloud.Provider
}

// NewFilter creates a filter backed by the provider
func NewFilter(provider cloud.Provider) *Filter {
	return &Filter{provider: provider}
}

// Resolve returns the instance with the given ID, or every instance tagged
// Project=project, or every visible instance when neither is set.
// An unknown instance ID yields an error wrapping cloud.ErrInstanceNotFound.
func (f *Filter) Resolve(ctx context.Context, project, instanceID string) ([]*models.Instance, error) {
	var filter cloud.InstanceFilter
	switch {
	case instanceID != "":
		filter.InstanceIDs = []string{instanceID}
	case project != "":
		filter.Project = project
	}

	instances, err := f.provider.ListInstances(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve instances: %w", err)
	}
	return instances, nil
}
