package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"shotty/pkg/cloud"
	"shotty/pkg/models"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/samber/lo"
)

// EC2 error codes that mean the requested instance does not exist
var notFoundCodes = []string{"InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed"}

// Provider implements the cloud.Provider interface for AWS EC2
type Provider struct {
	ec2Client ec2iface.EC2API
	region    string
}

// NewProvider creates an EC2 provider from the named shared-config profile
func NewProvider(profile, region string) (*Provider, error) {
	if region == "" {
		return nil, errors.New("region is required")
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Profile:           profile,
		SharedConfigState: session.SharedConfigEnable,
		Config: aws.Config{
			Region: aws.String(region),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewProviderWithClient(ec2.New(sess), region), nil
}

// NewProviderWithClient wraps an existing EC2 client
func NewProviderWithClient(client ec2iface.EC2API, region string) *Provider {
	return &Provider{
		ec2Client: client,
		region:    region,
	}
}

// Region returns the region the provider operates in
func (p *Provider) Region() string {
	return p.region
}

// ListInstances lists instances by explicit ID, by Project tag, or all of them
func (p *Provider) ListInstances(ctx context.Context, filter cloud.InstanceFilter) ([]*models.Instance, error) {
	input := &ec2.DescribeInstancesInput{}
	switch {
	case len(filter.InstanceIDs) > 0:
		input.InstanceIds = aws.StringSlice(filter.InstanceIDs)
	case filter.Project != "":
		input.Filters = []*ec2.Filter{
			{
				Name:   aws.String("tag:" + models.ProjectTag),
				Values: []*string{aws.String(filter.Project)},
			},
		}
	}

	var instances []*models.Instance
	err := p.ec2Client.DescribeInstancesPagesWithContext(ctx, input,
		func(page *ec2.DescribeInstancesOutput, lastPage bool) bool {
			for _, reservation := range page.Reservations {
				for _, instance := range reservation.Instances {
					instances = append(instances, convertInstance(instance))
				}
			}
			return true
		})
	if err != nil {
		return nil, wrapError("describe-instances", lo.FirstOrEmpty(filter.InstanceIDs), err)
	}

	if len(filter.InstanceIDs) > 0 && len(instances) == 0 {
		return nil, fmt.Errorf("%s: %w", filter.InstanceIDs[0], cloud.ErrInstanceNotFound)
	}

	return instances, nil
}

// GetInstanceState retrieves the power state of an instance
func (p *Provider) GetInstanceState(ctx context.Context, instanceID string) (models.InstanceState, error) {
	instances, err := p.ListInstances(ctx, cloud.InstanceFilter{InstanceIDs: []string{instanceID}})
	if err != nil {
		return "", err
	}
	return instances[0].State, nil
}

// StopInstance stops a running EC2 instance
func (p *Provider) StopInstance(ctx context.Context, instanceID string) error {
	_, err := p.ec2Client.StopInstancesWithContext(ctx, &ec2.StopInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil {
		return wrapError("stop", instanceID, err)
	}
	return nil
}

// WaitUntilStopped blocks until the instance reaches the stopped state.
// The SDK waiter bounds the wait with its own attempt limit.
func (p *Provider) WaitUntilStopped(ctx context.Context, instanceID string) error {
	err := p.ec2Client.WaitUntilInstanceStoppedWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil {
		return wrapError("wait-stopped", instanceID, err)
	}
	return nil
}

// StartInstance starts a stopped EC2 instance
func (p *Provider) StartInstance(ctx context.Context, instanceID string) error {
	_, err := p.ec2Client.StartInstancesWithContext(ctx, &ec2.StartInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil {
		return wrapError("start", instanceID, err)
	}
	return nil
}

// WaitUntilRunning blocks until the instance reaches the running state
func (p *Provider) WaitUntilRunning(ctx context.Context, instanceID string) error {
	err := p.ec2Client.WaitUntilInstanceRunningWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil {
		return wrapError("wait-running", instanceID, err)
	}
	return nil
}

// RebootInstance reboots an EC2 instance
func (p *Provider) RebootInstance(ctx context.Context, instanceID string) error {
	_, err := p.ec2Client.RebootInstancesWithContext(ctx, &ec2.RebootInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil {
		return wrapError("reboot", instanceID, err)
	}
	return nil
}

// ListVolumes lists the EBS volumes attached to an instance
func (p *Provider) ListVolumes(ctx context.Context, instanceID string) ([]*models.Volume, error) {
	input := &ec2.DescribeVolumesInput{
		Filters: []*ec2.Filter{
			{
				Name:   aws.String("attachment.instance-id"),
				Values: []*string{aws.String(instanceID)},
			},
		},
	}

	var volumes []*models.Volume
	err := p.ec2Client.DescribeVolumesPagesWithContext(ctx, input,
		func(page *ec2.DescribeVolumesOutput, lastPage bool) bool {
			for _, v := range page.Volumes {
				volumes = append(volumes, convertVolume(v, instanceID))
			}
			return true
		})
	if err != nil {
		return nil, wrapError("describe-volumes", instanceID, err)
	}

	return volumes, nil
}

// ListSnapshots lists the account's snapshots of a volume, most recent first.
// EC2 does not order DescribeSnapshots results, so they are sorted by start time here.
func (p *Provider) ListSnapshots(ctx context.Context, volumeID string) ([]*models.Snapshot, error) {
	input := &ec2.DescribeSnapshotsInput{
		OwnerIds: []*string{aws.String("self")},
		Filters: []*ec2.Filter{
			{
				Name:   aws.String("volume-id"),
				Values: []*string{aws.String(volumeID)},
			},
		},
	}

	var snapshots []*models.Snapshot
	err := p.ec2Client.DescribeSnapshotsPagesWithContext(ctx, input,
		func(page *ec2.DescribeSnapshotsOutput, lastPage bool) bool {
			for _, s := range page.Snapshots {
				snapshots = append(snapshots, convertSnapshot(s))
			}
			return true
		})
	if err != nil {
		return nil, wrapError("describe-snapshots", volumeID, err)
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].StartTime.After(snapshots[j].StartTime)
	})

	return snapshots, nil
}

// CreateSnapshot starts a snapshot of a volume
func (p *Provider) CreateSnapshot(ctx context.Context, volumeID, description string) (*models.Snapshot, error) {
	result, err := p.ec2Client.CreateSnapshotWithContext(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(volumeID),
		Description: aws.String(description),
	})
	if err != nil {
		return nil, wrapError("create-snapshot", volumeID, err)
	}
	return convertSnapshot(result), nil
}

func convertInstance(instance *ec2.Instance) *models.Instance {
	inst := &models.Instance{
		ID:           aws.StringValue(instance.InstanceId),
		InstanceType: aws.StringValue(instance.InstanceType),
		PublicIP:     aws.StringValue(instance.PublicIpAddress),
		Tags: lo.SliceToMap(instance.Tags, func(t *ec2.Tag) (string, string) {
			return aws.StringValue(t.Key), aws.StringValue(t.Value)
		}),
	}
	if instance.State != nil {
		inst.State = models.InstanceState(aws.StringValue(instance.State.Name))
	}
	if instance.Placement != nil {
		inst.AvailabilityZone = aws.StringValue(instance.Placement.AvailabilityZone)
	}
	return inst
}

func convertVolume(v *ec2.Volume, instanceID string) *models.Volume {
	return &models.Volume{
		ID:         aws.StringValue(v.VolumeId),
		InstanceID: instanceID,
		State:      aws.StringValue(v.State),
		SizeGiB:    aws.Int64Value(v.Size),
		Encrypted:  aws.BoolValue(v.Encrypted),
	}
}

func convertSnapshot(s *ec2.Snapshot) *models.Snapshot {
	return &models.Snapshot{
		ID:          aws.StringValue(s.SnapshotId),
		VolumeID:    aws.StringValue(s.VolumeId),
		State:       models.SnapshotState(aws.StringValue(s.State)),
		Progress:    aws.StringValue(s.Progress),
		StartTime:   aws.TimeValue(s.StartTime),
		Description: aws.StringValue(s.Description),
	}
}

// wrapError converts SDK client errors into cloud.ProviderError
func wrapError(op, resourceID string, err error) error {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return fmt.Errorf("failed to %s %s: %w", op, resourceID, err)
	}

	perr := &cloud.ProviderError{
		Op:         op,
		ResourceID: resourceID,
		Code:       aerr.Code(),
		Message:    aerr.Message(),
		Err:        err,
	}
	if lo.Contains(notFoundCodes, aerr.Code()) {
		perr.Err = cloud.ErrInstanceNotFound
	}
	return perr
}

var _ cloud.Provider = (*Provider)(nil)
