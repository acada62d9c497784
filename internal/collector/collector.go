// Package collector drives the per-account pipeline across an organization:
// delegate credentials, scan stopped instances, infer stop times, and
// accumulate records while isolating account failures.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/ppiankov/ec2spectre/internal/ec2"
	"github.com/ppiankov/ec2spectre/internal/org"
	"github.com/ppiankov/ec2spectre/internal/stoptime"
)

// DefaultRegion is scanned when no region policy is configured.
const DefaultRegion = "us-east-1"

// ErrScan wraps failures after delegation succeeded.
var ErrScan = errors.New("scan failed")

// AccountLister lists the member accounts to visit.
type AccountLister interface {
	ActiveAccounts(ctx context.Context) ([]org.Account, error)
}

// Delegator returns a config scoped to an account and region.
type Delegator interface {
	Delegate(ctx context.Context, accountID, region string) (aws.Config, error)
}

// Scanner queries one account in one region.
type Scanner interface {
	Region() string
	ListRegions(ctx context.Context) ([]string, error)
	StoppedInstances(ctx context.Context) ([]ec2.Instance, error)
	InstanceVolumes(ctx context.Context, instanceIDs []string) ([]ec2.Volume, error)
	Snapshots(ctx context.Context, volumeID string) (ec2.SnapshotSummary, error)
}

// ScannerFactory builds a Scanner from an account-scoped config.
type ScannerFactory func(account org.Account, cfg aws.Config) Scanner

// Config controls a collection run.
type Config struct {
	// Regions lists regions to scan. Ignored when AllRegions is set.
	Regions []string
	// AllRegions scans every region enabled in each account.
	AllRegions bool
	// HomeRegion is where delegation and region discovery happen when
	// AllRegions is set. Defaults to DefaultRegion.
	HomeRegion      string
	LongStoppedDays int
	IncludeVolumes  bool
	// Concurrency bounds parallel accounts; values below 2 run sequentially.
	Concurrency int
	// CallTimeout bounds each delegation and scan call. Zero disables it.
	CallTimeout time.Duration
	// Now is the clock used for stopped-day arithmetic.
	Now func() time.Time
}

// ProgressCallback is called after each account completes.
type ProgressCallback func(current, total int, account org.Account)

// Collector runs the cross-account pipeline.
type Collector struct {
	lister     AccountLister
	delegator  Delegator
	newScanner ScannerFactory
	cfg        Config
	logger     *slog.Logger
	progress   ProgressCallback
}

// New creates a Collector. A nil factory scans with the EC2 SDK client.
func New(lister AccountLister, delegator Delegator, factory ScannerFactory, cfg Config, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LongStoppedDays <= 0 {
		cfg.LongStoppedDays = DefaultLongStoppedDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HomeRegion == "" {
		cfg.HomeRegion = DefaultRegion
	}
	if !cfg.AllRegions && len(cfg.Regions) == 0 {
		cfg.Regions = []string{DefaultRegion}
	}
	if factory == nil {
		factory = func(account org.Account, awsCfg aws.Config) Scanner {
			return ec2.NewClientFromConfig(awsCfg, logger.With("account_id", account.ID))
		}
	}
	return &Collector{
		lister:     lister,
		delegator:  delegator,
		newScanner: factory,
		cfg:        cfg,
		logger:     logger,
	}
}

// SetProgressCallback sets the per-account progress callback.
func (c *Collector) SetProgressCallback(cb ProgressCallback) {
	c.progress = cb
}

// Run visits every account. Only an enumeration failure is returned as an
// error; account failures are tallied in the result.
func (c *Collector) Run(ctx context.Context) (*Result, error) {
	accounts, err := c.lister.ActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate accounts: %w", err)
	}

	now := c.cfg.Now().UTC()
	results := c.visit(ctx, accounts, now)
	return c.accumulate(results), nil
}

func (c *Collector) visit(ctx context.Context, accounts []org.Account, now time.Time) []AccountResult {
	results := make([]AccountResult, len(accounts))

	if c.cfg.Concurrency < 2 {
		for i, acct := range accounts {
			results[i] = c.scanAccount(ctx, acct, now)
			c.reportProgress(i+1, len(accounts), acct)
		}
		return results
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	semaphore := make(chan struct{}, c.cfg.Concurrency)
	done := 0

	for i, acct := range accounts {
		wg.Add(1)
		go func(idx int, acct org.Account) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			res := c.scanAccount(ctx, acct, now)

			mu.Lock()
			results[idx] = res
			done++
			c.reportProgress(done, len(accounts), acct)
			mu.Unlock()
		}(i, acct)
	}
	wg.Wait()
	return results
}

func (c *Collector) reportProgress(current, total int, acct org.Account) {
	if c.progress != nil {
		c.progress(current, total, acct)
	}
}

// scanAccount runs delegation, scanning and inference for one account.
func (c *Collector) scanAccount(ctx context.Context, acct org.Account, now time.Time) AccountResult {
	logger := c.logger.With("account_id", acct.ID, "account_name", acct.Name)
	result := AccountResult{Account: acct}

	homeRegion := c.cfg.HomeRegion
	if !c.cfg.AllRegions {
		homeRegion = c.cfg.Regions[0]
	}

	callCtx, cancel := c.callContext(ctx)
	awsCfg, err := c.delegator.Delegate(callCtx, acct.ID, homeRegion)
	cancel()
	if err != nil {
		logger.Warn("Account delegation failed", "error", err)
		result.Err = err
		return result
	}

	regions, err := c.regionsFor(ctx, acct, awsCfg)
	if err != nil {
		logger.Warn("Region discovery failed", "error", err)
		result.Err = fmt.Errorf("%w: %w", ErrScan, err)
		return result
	}
	result.Regions = regions

	for _, region := range regions {
		regionCfg := awsCfg.Copy()
		regionCfg.Region = region
		scanner := c.newScanner(acct, regionCfg)

		records, volumes, err := c.scanRegion(ctx, acct, scanner, now, logger.With("region", region))
		if err != nil {
			logger.Warn("Account scan failed", "region", region, "error", err)
			return AccountResult{Account: acct, Regions: regions, Err: fmt.Errorf("%w: %w", ErrScan, err)}
		}
		result.Records = append(result.Records, records...)
		result.Volumes = append(result.Volumes, volumes...)
	}

	logger.Info("Account processed", "stopped_instances", len(result.Records), "regions", len(regions))
	return result
}

func (c *Collector) regionsFor(ctx context.Context, acct org.Account, awsCfg aws.Config) ([]string, error) {
	if !c.cfg.AllRegions {
		return c.cfg.Regions, nil
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	return c.newScanner(acct, awsCfg).ListRegions(callCtx)
}

func (c *Collector) scanRegion(ctx context.Context, acct org.Account, scanner Scanner, now time.Time, logger *slog.Logger) ([]Record, []VolumeRecord, error) {
	callCtx, cancel := c.callContext(ctx)
	instances, err := scanner.StoppedInstances(callCtx)
	cancel()
	if err != nil {
		return nil, nil, err
	}

	records := make([]Record, 0, len(instances))
	for _, inst := range instances {
		if inst.Region == "" {
			inst.Region = scanner.Region()
		}
		records = append(records, BuildRecord(acct, inst, now, logger))
	}

	if !c.cfg.IncludeVolumes || len(instances) == 0 {
		return records, nil, nil
	}

	volumes, err := c.auditVolumes(ctx, acct, scanner, instances, logger)
	if err != nil {
		return nil, nil, err
	}
	return records, volumes, nil
}

func (c *Collector) auditVolumes(ctx context.Context, acct org.Account, scanner Scanner, instances []ec2.Instance, logger *slog.Logger) ([]VolumeRecord, error) {
	ids := make([]string, len(instances))
	for i, inst := range instances {
		ids[i] = inst.ID
	}

	callCtx, cancel := c.callContext(ctx)
	volumes, err := scanner.InstanceVolumes(callCtx, ids)
	cancel()
	if err != nil {
		return nil, err
	}

	records := make([]VolumeRecord, 0, len(volumes))
	for _, v := range volumes {
		rec := VolumeRecord{
			AccountID:      acct.ID,
			AccountName:    acct.Name,
			Region:         v.Region,
			InstanceID:     v.InstanceID,
			VolumeID:       v.ID,
			VolumeType:     v.Type,
			SizeGiB:        v.SizeGiB,
			IOPS:           v.IOPS,
			State:          v.State,
			CreateTime:     v.CreateTime,
			Recommendation: ec2.Recommend(v.Type),
		}

		callCtx, cancel := c.callContext(ctx)
		snaps, err := scanner.Snapshots(callCtx, v.ID)
		cancel()
		if err != nil {
			// Snapshot metadata is informational; the volume is still reported.
			logger.Warn("Snapshot lookup failed", "volume_id", v.ID, "error", err)
		} else {
			rec.SnapshotCount = snaps.Count
			rec.LatestSnapshot = snaps.Latest
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Collector) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// accumulate folds per-account results into records and tallies.
func (c *Collector) accumulate(results []AccountResult) *Result {
	res := &Result{Accounts: results}
	res.Summary.TotalAccounts = len(results)

	for _, ar := range results {
		if !ar.Processed() {
			res.Summary.AccountsWithErrors++
			res.Summary.Errors = append(res.Summary.Errors, AccountError{
				AccountID:   ar.Account.ID,
				AccountName: ar.Account.Name,
				Error:       ar.Err.Error(),
			})
			continue
		}
		res.Summary.ProcessedAccounts++
		if len(ar.Records) == 0 {
			res.Summary.EmptyAccounts++
		}
		res.Instances = append(res.Instances, ar.Records...)
		res.Volumes = append(res.Volumes, ar.Volumes...)
	}

	res.LongStopped = Partition(res.Instances, c.cfg.LongStoppedDays)
	for _, r := range res.Instances {
		if r.StopTimeApproximated {
			res.Summary.ApproximatedStopTimes++
		}
	}
	res.Summary.TotalStoppedInstances = len(res.Instances)
	res.Summary.LongStoppedInstances = len(res.LongStopped)
	res.Summary.TotalVolumes = len(res.Volumes)
	return res
}

// Partition returns the records stopped for more than threshold days.
func Partition(records []Record, threshold int) []Record {
	var long []Record
	for _, r := range records {
		if r.LongStopped(threshold) {
			long = append(long, r)
		}
	}
	return long
}

// BuildRecord converts a scanned instance into a Record for acct, inferring
// its stop time relative to now.
func BuildRecord(acct org.Account, inst ec2.Instance, now time.Time, logger *slog.Logger) Record {
	if logger == nil {
		logger = slog.Default()
	}

	inferred := stoptime.Infer(inst.Reason(), inst.LaunchTime, now)
	if inferred.ParseErr != nil {
		logger.Warn("Could not parse stop time, using launch time",
			"instance_id", inst.ID,
			"text", inferred.Candidate,
			"error", inferred.ParseErr,
		)
	}
	if inferred.Implausible {
		logger.Warn("Stopped duration exceeds five years",
			"instance_id", inst.ID,
			"stopped_days", *inferred.Days,
			"approximated", inferred.Approximated,
		)
	}
	if inferred.Days != nil && *inferred.Days < 0 {
		logger.Debug("Stop time is in the future", "instance_id", inst.ID, "stopped_days", *inferred.Days)
	}

	name := inst.Name()
	if name == "" {
		name = NotAvailable
	}

	var launch *time.Time
	if inst.LaunchTime != nil {
		t := inst.LaunchTime.UTC()
		launch = &t
	}

	return Record{
		AccountID:            acct.ID,
		AccountName:          acct.Name,
		Region:               inst.Region,
		InstanceID:           inst.ID,
		Name:                 name,
		InstanceType:         inst.Type,
		PrivateIP:            orNotAvailable(inst.PrivateIP),
		VPCID:                orNotAvailable(inst.VPCID),
		SubnetID:             orNotAvailable(inst.SubnetID),
		LaunchTime:           launch,
		StopTime:             inferred.StopTime,
		StoppedDays:          inferred.Days,
		StopTimeApproximated: inferred.Approximated,
	}
}

func orNotAvailable(s *string) string {
	if s == nil || *s == "" {
		return NotAvailable
	}
	return *s
}
