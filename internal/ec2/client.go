package ec2

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

// API is the subset of the EC2 client used for inventory.
type API interface {
	ec2.DescribeInstancesAPIClient
	ec2.DescribeVolumesAPIClient
	ec2.DescribeSnapshotsAPIClient
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

// Client scans one account in one region.
type Client struct {
	api    API
	region string
	logger *slog.Logger
}

// NewClient wraps api for region.
func NewClient(api API, region string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, region: region, logger: logger}
}

// NewClientFromConfig builds an EC2 client from an account-scoped config.
func NewClientFromConfig(cfg aws.Config, logger *slog.Logger) *Client {
	return NewClient(ec2.NewFromConfig(cfg), cfg.Region, logger)
}

// Region returns the region this client queries.
func (c *Client) Region() string {
	return c.region
}

// ListRegions returns the regions enabled for the account.
func (c *Client) ListRegions(ctx context.Context) ([]string, error) {
	result, err := c.api.DescribeRegions(ctx, &ec2.DescribeRegionsInput{
		AllRegions: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list AWS regions: %w", err)
	}

	regions := make([]string, 0, len(result.Regions))
	for _, region := range result.Regions {
		if region.RegionName != nil {
			regions = append(regions, *region.RegionName)
		}
	}
	return regions, nil
}
