package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/ec2spectre/internal/collector"
	"github.com/ppiankov/ec2spectre/internal/org"
)

var accountsFlags struct {
	awsProfile          string
	awsRegion           string
	managementAccountID string
	excludeAccounts     []string
	outputFormat        string
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List the member accounts a scan would visit",
	Long: `Enumerates active member accounts of the organization, excluding the
management account and any --exclude-accounts, without assuming any roles.`,
	RunE: runAccounts,
}

func init() {
	accountsCmd.Flags().StringVar(&accountsFlags.awsProfile, "aws-profile", "", "AWS profile to use")
	accountsCmd.Flags().StringVar(&accountsFlags.awsRegion, "aws-region", "", "AWS region for organization calls")
	accountsCmd.Flags().StringVar(&accountsFlags.managementAccountID, "management-account-id", "", "Management account to skip (looked up when empty)")
	accountsCmd.Flags().StringSliceVar(&accountsFlags.excludeAccounts, "exclude-accounts", nil, "Account ids to skip (comma-separated)")
	accountsCmd.Flags().StringVarP(&accountsFlags.outputFormat, "format", "f", "text", "Output format: text or json")
}

func runAccounts(cmd *cobra.Command, args []string) error {
	if !cmd.Flags().Lookup("aws-profile").Changed && cfg.Profile != "" {
		accountsFlags.awsProfile = cfg.Profile
	}
	if !cmd.Flags().Lookup("aws-region").Changed && cfg.Region != "" {
		accountsFlags.awsRegion = cfg.Region
	}
	if !cmd.Flags().Lookup("management-account-id").Changed && cfg.ManagementAccountID != "" {
		accountsFlags.managementAccountID = cfg.ManagementAccountID
	}
	if !cmd.Flags().Lookup("exclude-accounts").Changed && len(cfg.ExcludeAccounts) > 0 {
		accountsFlags.excludeAccounts = cfg.ExcludeAccounts
	}

	ctx := context.Background()
	base, err := loadAWSConfig(ctx, accountsFlags.awsProfile, accountsFlags.awsRegion)
	if err != nil {
		return enhanceError("AWS client initialization", err, 1)
	}
	lister := org.NewFromConfig(base, logger,
		org.WithManagementAccountID(accountsFlags.managementAccountID),
		org.WithExcludedAccounts(accountsFlags.excludeAccounts),
	)
	return listAccounts(ctx, lister, cmd.OutOrStdout(), accountsFlags.outputFormat)
}

func listAccounts(ctx context.Context, lister collector.AccountLister, w io.Writer, format string) error {
	accounts, err := lister.ActiveAccounts(ctx)
	if err != nil {
		return enhanceError("account enumeration", err, 1)
	}

	switch format {
	case "json":
		if accounts == nil {
			accounts = []org.Account{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(accounts)
	case "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ACCOUNT ID\tNAME\tSTATUS")
		for _, a := range accounts {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", a.ID, a.Name, a.Status)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%d active member accounts\n", len(accounts))
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s (supported: text, json)", format)
	}
}
