package ec2

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// maxFilterValues bounds the values in a single DescribeVolumes filter.
const maxFilterValues = 100

// Volume type recommendations.
const (
	RecommendGP3      = "Migrate to gp3"
	RecommendIO2      = "Migrate to io2"
	RecommendMagnetic = "Migrate magnetic volume to gp3"
	RecommendNone     = "No change"
)

// Recommend returns the volume-type recommendation for volumeType.
func Recommend(volumeType string) string {
	switch types.VolumeType(volumeType) {
	case types.VolumeTypeGp2:
		return RecommendGP3
	case types.VolumeTypeIo1:
		return RecommendIO2
	case types.VolumeTypeStandard:
		return RecommendMagnetic
	default:
		return RecommendNone
	}
}

// InstanceVolumes returns the EBS volumes attached to the given instances.
func (c *Client) InstanceVolumes(ctx context.Context, instanceIDs []string) ([]Volume, error) {
	var volumes []Volume
	for start := 0; start < len(instanceIDs); start += maxFilterValues {
		end := min(start+maxFilterValues, len(instanceIDs))
		input := &ec2.DescribeVolumesInput{
			Filters: []types.Filter{{
				Name:   aws.String("attachment.instance-id"),
				Values: instanceIDs[start:end],
			}},
		}
		paginator := ec2.NewDescribeVolumesPaginator(c.api, input)
		for paginator.HasMorePages() {
			out, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("describe volumes in %s: %w", c.region, err)
			}
			for _, v := range out.Volumes {
				volumes = append(volumes, c.toVolume(v))
			}
		}
	}
	return volumes, nil
}

// Snapshots summarises the snapshots owned by the account for volumeID.
func (c *Client) Snapshots(ctx context.Context, volumeID string) (SnapshotSummary, error) {
	input := &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
		Filters: []types.Filter{{
			Name:   aws.String("volume-id"),
			Values: []string{volumeID},
		}},
	}

	var summary SnapshotSummary
	paginator := ec2.NewDescribeSnapshotsPaginator(c.api, input)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return SnapshotSummary{}, fmt.Errorf("describe snapshots for %s: %w", volumeID, err)
		}
		for _, snap := range out.Snapshots {
			summary.Count++
			if snap.StartTime != nil && (summary.Latest == nil || snap.StartTime.After(*summary.Latest)) {
				summary.Latest = snap.StartTime
			}
		}
	}
	return summary, nil
}

func (c *Client) toVolume(v types.Volume) Volume {
	vol := Volume{
		ID:         aws.ToString(v.VolumeId),
		Region:     c.region,
		Type:       string(v.VolumeType),
		SizeGiB:    aws.ToInt32(v.Size),
		IOPS:       v.Iops,
		State:      string(v.State),
		CreateTime: v.CreateTime,
	}
	for _, att := range v.Attachments {
		if att.InstanceId != nil {
			vol.InstanceID = *att.InstanceId
			break
		}
	}
	return vol
}
