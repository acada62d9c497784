package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ppiankov/ec2spectre/internal/baseline"
	"github.com/ppiankov/ec2spectre/internal/collector"
	"github.com/ppiankov/ec2spectre/internal/delegate"
	"github.com/ppiankov/ec2spectre/internal/org"
	"github.com/ppiankov/ec2spectre/internal/report"
)

var scanFlags struct {
	awsProfile          string
	awsRegion           string
	roleName            string
	managementAccountID string
	excludeAccounts     []string
	allRegions          bool
	regions             []string
	longStoppedDays     int
	includeVolumes      bool
	maxConcurrency      int
	bucket              string
	prefix              string
	outputFormat        string
	outputFile          string
	failOnLongStopped   bool
	noProgress          bool
	timeout             time.Duration
	callTimeout         time.Duration
	baselinePath        string
	updateBaseline      bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Inventory stopped EC2 instances across the organization",
	Long: `Enumerates active member accounts, assumes the delegation role in each,
lists stopped EC2 instances, and infers how long each has been stopped from
its state transition reason (falling back to launch time). Instances stopped
longer than --long-stopped-days are reported separately.

With --bucket, CSV reports are uploaded to S3 under
<prefix>/<report>/YYYY/MM/DD/<report>_YYYYMMDD_HHMMSS.csv.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanFlags.awsProfile, "aws-profile", "", "AWS profile to use")
	scanCmd.Flags().StringVar(&scanFlags.awsRegion, "aws-region", "", "AWS region for organization and STS calls (defaults to profile default)")
	scanCmd.Flags().StringVar(&scanFlags.roleName, "role-name", delegate.DefaultRoleName, "Role assumed in each member account")
	scanCmd.Flags().StringVar(&scanFlags.managementAccountID, "management-account-id", "", "Management account to skip (looked up when empty)")
	scanCmd.Flags().StringSliceVar(&scanFlags.excludeAccounts, "exclude-accounts", nil, "Account ids to skip (comma-separated)")
	scanCmd.Flags().BoolVar(&scanFlags.allRegions, "all-regions", false, "Scan all regions enabled in each account")
	scanCmd.Flags().StringSliceVar(&scanFlags.regions, "regions", nil, "Specific regions to scan (comma-separated, default us-east-1)")
	scanCmd.Flags().IntVar(&scanFlags.longStoppedDays, "long-stopped-days", collector.DefaultLongStoppedDays, "Days after which a stopped instance is long-stopped")
	scanCmd.Flags().BoolVar(&scanFlags.includeVolumes, "volumes", false, "Audit EBS volumes attached to stopped instances")
	scanCmd.Flags().IntVar(&scanFlags.maxConcurrency, "concurrency", 1, "Accounts scanned in parallel")
	scanCmd.Flags().StringVar(&scanFlags.bucket, "bucket", "", "S3 bucket receiving CSV reports (no upload when empty)")
	scanCmd.Flags().StringVar(&scanFlags.prefix, "prefix", "ec2spectre", "S3 key prefix for CSV reports")
	scanCmd.Flags().StringVarP(&scanFlags.outputFormat, "format", "f", "text", "Output format: text, json, csv, or spectrehub")
	scanCmd.Flags().StringVarP(&scanFlags.outputFile, "output", "o", "", "Output file (default: stdout)")
	scanCmd.Flags().BoolVar(&scanFlags.failOnLongStopped, "fail-on-long-stopped", false, "Exit with error if long-stopped instances found")
	scanCmd.Flags().BoolVar(&scanFlags.noProgress, "no-progress", false, "Disable progress indicators")
	scanCmd.Flags().DurationVar(&scanFlags.timeout, "timeout", 0, "Total operation timeout (e.g. 5m, 30s). 0 means no timeout")
	scanCmd.Flags().DurationVar(&scanFlags.callTimeout, "call-timeout", 30*time.Second, "Timeout for each AWS call. 0 means no timeout")
	scanCmd.Flags().StringVar(&scanFlags.baselinePath, "baseline", "", "Path to previous JSON report for diff comparison")
	scanCmd.Flags().BoolVar(&scanFlags.updateBaseline, "update-baseline", false, "Write current results as the new baseline")
}

// reportEmitter uploads the CSV reports of a run.
type reportEmitter interface {
	Bucket() string
	EmitAll(ctx context.Context, ts time.Time, res *collector.Result, includeVolumes bool) ([]report.Upload, error)
}

// scanDeps are the AWS-backed collaborators of a scan.
type scanDeps struct {
	lister    collector.AccountLister
	delegator collector.Delegator
	factory   collector.ScannerFactory
	emitter   reportEmitter
	now       func() time.Time
	// homeRegion is the caller's region, valid in its partition.
	homeRegion string
}

func runScan(cmd *cobra.Command, args []string) error {
	// Apply config file defaults for flags not explicitly set
	applyConfigToScanFlags(cmd)

	ctx := context.Background()
	if scanFlags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, scanFlags.timeout)
		defer cancel()
	}

	printStatus("Initializing AWS clients...")
	base, err := loadAWSConfig(ctx, scanFlags.awsProfile, scanFlags.awsRegion)
	if err != nil {
		return enhanceError("AWS client initialization", err, scanFlags.maxConcurrency)
	}

	identity, err := delegate.CallerIdentity(ctx, sts.NewFromConfig(base))
	if err != nil {
		return enhanceError("credential check", err, scanFlags.maxConcurrency)
	}
	printStatus("Running as %s", identity.ARN)

	delegator := delegate.NewFromConfig(base, scanFlags.roleName, logger)
	delegator.SetPartition(identity.Partition)

	deps := scanDeps{
		lister: org.NewFromConfig(base, logger,
			org.WithManagementAccountID(scanFlags.managementAccountID),
			org.WithExcludedAccounts(scanFlags.excludeAccounts),
		),
		delegator:  delegator,
		now:        time.Now,
		homeRegion: base.Region,
	}
	if scanFlags.bucket != "" {
		deps.emitter = report.NewEmitterFromConfig(base, scanFlags.bucket, scanFlags.prefix, logger)
	}

	writer, closeOutput, err := openOutput(scanFlags.outputFile)
	if err != nil {
		return enhanceError("output file creation", err, scanFlags.maxConcurrency)
	}
	defer closeOutput()

	isTTY := term.IsTerminal(int(os.Stderr.Fd()))
	return executeScan(ctx, deps, writer, isTTY && !scanFlags.noProgress)
}

func executeScan(ctx context.Context, deps scanDeps, writer io.Writer, showProgress bool) error {
	start := time.Now()
	if deps.now == nil {
		deps.now = time.Now
	}

	reporter, err := selectReporter(scanFlags.outputFormat, writer)
	if err != nil {
		return err
	}

	collectorCfg := collector.Config{
		LongStoppedDays: scanFlags.longStoppedDays,
		IncludeVolumes:  scanFlags.includeVolumes,
		Concurrency:     scanFlags.maxConcurrency,
		CallTimeout:     scanFlags.callTimeout,
		HomeRegion:      deps.homeRegion,
		Now:             deps.now,
	}
	switch {
	case scanFlags.allRegions, len(scanFlags.regions) == 1 && strings.EqualFold(scanFlags.regions[0], "all"):
		collectorCfg.AllRegions = true
		printStatus("Scanning all enabled regions in each account")
	case len(scanFlags.regions) > 0:
		collectorCfg.Regions = scanFlags.regions
		printStatus("Scanning regions: %s", strings.Join(scanFlags.regions, ", "))
	default:
		printStatus("Scanning region: %s", collector.DefaultRegion)
	}

	coll := collector.New(deps.lister, deps.delegator, deps.factory, collectorCfg, logger)

	var sp *spinner.Spinner
	if showProgress {
		sp = spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		sp.Suffix = " Enumerating organization accounts ..."
		sp.Start()
		coll.SetProgressCallback(func(current, total int, account org.Account) {
			sp.Lock()
			sp.Suffix = fmt.Sprintf(" Scanned %d/%d accounts (%s) ...", current, total, account.Name)
			sp.Unlock()
		})
	}

	res, err := coll.Run(ctx)
	if sp != nil {
		sp.Stop()
	}
	if err != nil {
		return enhanceError("account enumeration", err, scanFlags.maxConcurrency)
	}

	data := report.NewData("ec2spectre", GetVersion(), deps.now(), report.Config{
		AWSProfile:      scanFlags.awsProfile,
		RoleName:        scanFlags.roleName,
		Regions:         collectorCfg.Regions,
		AllRegions:      collectorCfg.AllRegions,
		LongStoppedDays: scanFlags.longStoppedDays,
		Bucket:          scanFlags.bucket,
	}, res)

	// Upload failures do not suppress local output
	if deps.emitter != nil {
		printStatus("Uploading reports to s3://%s", deps.emitter.Bucket())
		uploads, err := deps.emitter.EmitAll(ctx, data.Timestamp, res, scanFlags.includeVolumes)
		data.Uploads = uploads
		if err != nil {
			data.Status = report.StatusEmitFailure
			data.EmitError = err.Error()
			logger.Error("Report emission failed", "error", err)
		}
	}

	if err := reporter.Generate(data); err != nil {
		return enhanceError("report generation", err, scanFlags.maxConcurrency)
	}

	if scanFlags.baselinePath != "" {
		if err := compareBaseline(data); err != nil {
			return enhanceError("baseline load", err, scanFlags.maxConcurrency)
		}
	}

	// Write updated baseline if requested
	if scanFlags.updateBaseline && scanFlags.baselinePath != "" {
		baselineData, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return enhanceError("baseline write", err, scanFlags.maxConcurrency)
		}
		if err := os.WriteFile(scanFlags.baselinePath, baselineData, 0644); err != nil {
			return enhanceError("baseline write", err, scanFlags.maxConcurrency)
		}
		logger.Info("Updated baseline", slog.String("path", scanFlags.baselinePath))
	}

	logger.Info("Scan complete",
		slog.Int("account_count", res.Summary.TotalAccounts),
		slog.Int("processed_accounts", res.Summary.ProcessedAccounts),
		slog.Int("accounts_with_errors", res.Summary.AccountsWithErrors),
		slog.Int("stopped_instances", res.Summary.TotalStoppedInstances),
		slog.Int("long_stopped_instances", res.Summary.LongStoppedInstances),
		slog.Int("status", data.Status),
		slog.Duration("duration", time.Since(start)),
	)

	if data.Status != report.StatusOK {
		return fmt.Errorf("report emission failed (status %d): %s", data.Status, data.EmitError)
	}
	if scanFlags.failOnLongStopped && res.Summary.LongStoppedInstances > 0 {
		return fmt.Errorf("found %d long-stopped instances", res.Summary.LongStoppedInstances)
	}
	return nil
}

func compareBaseline(data report.Data) error {
	baselineFindings, err := baseline.LoadBaseline(scanFlags.baselinePath)
	if err != nil {
		// A missing baseline is expected on the first --update-baseline run
		if scanFlags.updateBaseline && errors.Is(err, os.ErrNotExist) {
			logger.Info("No baseline yet", slog.String("path", scanFlags.baselinePath))
			return nil
		}
		return err
	}
	diff := baseline.Diff(baseline.FlattenFindings(data), baselineFindings)
	logger.Info("Baseline comparison",
		slog.Int("new", len(diff.New)),
		slog.Int("resolved", len(diff.Resolved)),
		slog.Int("unchanged", len(diff.Unchanged)),
	)
	for _, f := range diff.New {
		logger.Debug("New finding", "type", f.Type, "account_id", f.AccountID, "instance_id", f.InstanceID)
	}
	return nil
}

func applyConfigToScanFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if !flags.Lookup("aws-profile").Changed && cfg.Profile != "" {
		scanFlags.awsProfile = cfg.Profile
	}
	if !flags.Lookup("aws-region").Changed && cfg.Region != "" {
		scanFlags.awsRegion = cfg.Region
	}
	if !flags.Lookup("role-name").Changed && cfg.RoleName != "" {
		scanFlags.roleName = cfg.RoleName
	}
	if !flags.Lookup("management-account-id").Changed && cfg.ManagementAccountID != "" {
		scanFlags.managementAccountID = cfg.ManagementAccountID
	}
	if !flags.Lookup("exclude-accounts").Changed && len(cfg.ExcludeAccounts) > 0 {
		scanFlags.excludeAccounts = cfg.ExcludeAccounts
	}
	if !flags.Lookup("regions").Changed && !flags.Lookup("all-regions").Changed && len(cfg.Regions) > 0 {
		if cfg.AllRegions() {
			scanFlags.allRegions = true
		} else {
			scanFlags.regions = cfg.Regions
		}
	}
	if !flags.Lookup("long-stopped-days").Changed && cfg.LongStoppedDays > 0 {
		scanFlags.longStoppedDays = cfg.LongStoppedDays
	}
	if !flags.Lookup("volumes").Changed && cfg.IncludeVolumes {
		scanFlags.includeVolumes = true
	}
	if !flags.Lookup("concurrency").Changed && cfg.Concurrency > 0 {
		scanFlags.maxConcurrency = cfg.Concurrency
	}
	if !flags.Lookup("bucket").Changed && cfg.Bucket != "" {
		scanFlags.bucket = cfg.Bucket
	}
	if !flags.Lookup("prefix").Changed && cfg.Prefix != "" {
		scanFlags.prefix = cfg.Prefix
	}
	if !flags.Lookup("format").Changed && cfg.Format != "" {
		scanFlags.outputFormat = cfg.Format
	}
	if !flags.Lookup("timeout").Changed {
		if d := cfg.TimeoutDuration(); d > 0 {
			scanFlags.timeout = d
		}
	}
	if !flags.Lookup("call-timeout").Changed {
		if d := cfg.CallTimeoutDuration(); d > 0 {
			scanFlags.callTimeout = d
		}
	}
}
