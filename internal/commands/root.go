package commands

import (
	"log/slog"

	"github.com/ppiankov/ec2spectre/internal/config"
	"github.com/ppiankov/ec2spectre/internal/logging"
	"github.com/spf13/cobra"
)

var (
	verbose   bool
	logFormat string
	version   string
	commit    string
	date      string
	cfg       config.Config
	logger    = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "ec2spectre",
	Short: "EC2Spectre - stopped EC2 instance auditor for AWS Organizations",
	Long: `EC2Spectre walks every active member account of an AWS Organization,
assumes a delegation role in each, and inventories stopped EC2 instances
along with how long they have been stopped. Results are rendered locally
and optionally uploaded to S3 as date-partitioned CSV reports.

Part of the Spectre family of infrastructure cleanup tools.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.Init(verbose, logFormat)
		if err != nil {
			return err
		}
		logger = l
		loaded, err := config.Load(".")
		if err != nil {
			logger.Warn("Failed to load config file", "error", err)
		} else {
			cfg = loaded
		}
		return nil
	},
}

// Execute runs the root command with injected build info.
func Execute(v, c, d string) error {
	version = v
	commit = c
	date = d
	return rootCmd.Execute()
}

// GetVersion returns the current version.
func GetVersion() string {
	return version
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatText, "Log format: text or json")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(versionCmd)
}
