// Package org enumerates member accounts of an AWS Organization.
package org

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
)

// StatusActive is the organizations status of an account in good standing.
const StatusActive = "ACTIVE"

// API is the subset of the Organizations client used by the enumerator.
type API interface {
	organizations.ListAccountsAPIClient
	DescribeOrganization(ctx context.Context, params *organizations.DescribeOrganizationInput, optFns ...func(*organizations.Options)) (*organizations.DescribeOrganizationOutput, error)
}

// Account is a member account as listed by the organization directory.
type Account struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Enumerator lists active member accounts.
type Enumerator struct {
	api          API
	managementID string
	exclude      map[string]bool
	logger       *slog.Logger
}

// Option configures an Enumerator.
type Option func(*Enumerator)

// WithManagementAccountID skips the DescribeOrganization lookup.
func WithManagementAccountID(id string) Option {
	return func(e *Enumerator) {
		e.managementID = id
	}
}

// WithExcludedAccounts drops the given account ids from the output.
func WithExcludedAccounts(ids []string) Option {
	return func(e *Enumerator) {
		for _, id := range ids {
			e.exclude[id] = true
		}
	}
}

// NewEnumerator creates an Enumerator backed by api.
func NewEnumerator(api API, logger *slog.Logger, opts ...Option) *Enumerator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Enumerator{
		api:     api,
		exclude: make(map[string]bool),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewFromConfig creates an Enumerator using an Organizations client built from cfg.
func NewFromConfig(cfg aws.Config, logger *slog.Logger, opts ...Option) *Enumerator {
	return NewEnumerator(organizations.NewFromConfig(cfg), logger, opts...)
}

// ManagementAccountID returns the organization's management account id.
func (e *Enumerator) ManagementAccountID(ctx context.Context) (string, error) {
	if e.managementID != "" {
		return e.managementID, nil
	}
	out, err := e.api.DescribeOrganization(ctx, &organizations.DescribeOrganizationInput{})
	if err != nil {
		return "", fmt.Errorf("describe organization: %w", err)
	}
	if out.Organization == nil || out.Organization.MasterAccountId == nil {
		return "", fmt.Errorf("describe organization: no management account in response")
	}
	e.managementID = *out.Organization.MasterAccountId
	return e.managementID, nil
}

// ActiveAccounts returns every ACTIVE account except the management account,
// in directory listing order. Errors from the directory are returned as-is.
func (e *Enumerator) ActiveAccounts(ctx context.Context) ([]Account, error) {
	managementID, err := e.ManagementAccountID(ctx)
	if err != nil {
		return nil, err
	}

	var accounts []Account
	paginator := organizations.NewListAccountsPaginator(e.api, &organizations.ListAccountsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		for _, acct := range page.Accounts {
			a := toAccount(acct)
			switch {
			case a.ID == managementID:
				e.logger.Debug("Skipping management account", "account_id", a.ID)
			case a.Status != StatusActive:
				e.logger.Debug("Skipping inactive account", "account_id", a.ID, "status", a.Status)
			case e.exclude[a.ID]:
				e.logger.Debug("Skipping excluded account", "account_id", a.ID)
			default:
				accounts = append(accounts, a)
			}
		}
	}

	e.logger.Info("Enumerated member accounts", "count", len(accounts))
	return accounts, nil
}

func toAccount(acct orgtypes.Account) Account {
	return Account{
		ID:     aws.ToString(acct.Id),
		Name:   aws.ToString(acct.Name),
		Status: string(acct.Status),
	}
}
