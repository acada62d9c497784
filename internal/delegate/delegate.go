// Package delegate exchanges a member account id for short-lived credentials
// by assuming a well-known role in that account.
package delegate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// DefaultRoleName is the role AWS Organizations creates in member accounts.
const DefaultRoleName = "OrganizationAccountAccessRole"

const sessionPrefix = "ec2spectre-"

var accountIDPattern = regexp.MustCompile(`^\d{12}$`)

var (
	// ErrInvalidAccountID is returned for ids that are not 12 digits.
	ErrInvalidAccountID = errors.New("invalid account id")
	// ErrDelegation wraps every role assumption failure.
	ErrDelegation = errors.New("role delegation failed")
)

// AssumeRoleAPI is the STS operation used for delegation.
type AssumeRoleAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Delegator assumes roleName in member accounts.
type Delegator struct {
	api       AssumeRoleAPI
	base      aws.Config
	roleName  string
	partition string
	logger    *slog.Logger
}

// New creates a Delegator. base is copied for every delegated config so
// retryer and HTTP settings carry over.
func New(api AssumeRoleAPI, base aws.Config, roleName string, logger *slog.Logger) *Delegator {
	if roleName == "" {
		roleName = DefaultRoleName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Delegator{
		api:       api,
		base:      base,
		roleName:  roleName,
		partition: "aws",
		logger:    logger,
	}
}

// NewFromConfig creates a Delegator using an STS client built from base.
func NewFromConfig(base aws.Config, roleName string, logger *slog.Logger) *Delegator {
	return New(sts.NewFromConfig(base), base, roleName, logger)
}

// SetPartition overrides the ARN partition (aws-cn, aws-us-gov).
func (d *Delegator) SetPartition(partition string) {
	if partition != "" {
		d.partition = partition
	}
}

// RoleName returns the role assumed in member accounts.
func (d *Delegator) RoleName() string {
	return d.roleName
}

// RoleARN returns the ARN of the delegation role in accountID.
func (d *Delegator) RoleARN(accountID string) string {
	return fmt.Sprintf("arn:%s:iam::%s:role/%s", d.partition, accountID, d.roleName)
}

// Delegate assumes the role in accountID and returns a config bound to the
// temporary credentials and region. Credentials are never reused across calls.
func (d *Delegator) Delegate(ctx context.Context, accountID, region string) (aws.Config, error) {
	if !accountIDPattern.MatchString(accountID) {
		return aws.Config{}, fmt.Errorf("%w: %q", ErrInvalidAccountID, accountID)
	}

	roleARN := d.RoleARN(accountID)
	out, err := d.api.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(sessionPrefix + accountID),
	})
	if err != nil {
		return aws.Config{}, fmt.Errorf("%w: assume %s: %w", ErrDelegation, roleARN, err)
	}
	if out.Credentials == nil {
		return aws.Config{}, fmt.Errorf("%w: assume %s: empty credentials", ErrDelegation, roleARN)
	}

	creds := out.Credentials
	d.logger.Debug("Assumed delegation role",
		"account_id", accountID,
		"role_arn", roleARN,
		"expires", aws.ToTime(creds.Expiration),
	)

	cfg := d.base.Copy()
	if region != "" {
		cfg.Region = region
	}
	cfg.Credentials = credentials.NewStaticCredentialsProvider(
		aws.ToString(creds.AccessKeyId),
		aws.ToString(creds.SecretAccessKey),
		aws.ToString(creds.SessionToken),
	)
	return cfg, nil
}
