package ec2

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// StateStopped is the instance-state-name filter value for stopped instances.
const StateStopped = "stopped"

// StoppedInstances returns every instance in the stopped state, flattened
// across reservations and pages.
func (c *Client) StoppedInstances(ctx context.Context) ([]Instance, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []types.Filter{{
			Name:   aws.String("instance-state-name"),
			Values: []string{StateStopped},
		}},
	}

	var instances []Instance
	paginator := ec2.NewDescribeInstancesPaginator(c.api, input)
	page := 0
	for paginator.HasMorePages() {
		page++
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instances in %s: %w", c.region, err)
		}
		c.logger.Debug("Handling instance results", "region", c.region, "page", page, "reservations", len(out.Reservations))
		for _, reservation := range out.Reservations {
			for _, inst := range reservation.Instances {
				instances = append(instances, c.toInstance(inst))
			}
		}
	}
	return instances, nil
}

func (c *Client) toInstance(inst types.Instance) Instance {
	return Instance{
		ID:                    aws.ToString(inst.InstanceId),
		Type:                  string(inst.InstanceType),
		Region:                c.region,
		StateTransitionReason: inst.StateTransitionReason,
		LaunchTime:            inst.LaunchTime,
		Tags:                  tagsMap(inst.Tags),
		PrivateIP:             inst.PrivateIpAddress,
		VPCID:                 inst.VpcId,
		SubnetID:              inst.SubnetId,
	}
}

// tagsMap returns nil when there are no tags.
func tagsMap(tags []types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	result := make(map[string]string, len(tags))
	for _, tag := range tags {
		if tag.Key != nil && tag.Value != nil {
			result[*tag.Key] = *tag.Value
		}
	}
	return result
}
