package collector

import (
	"time"

	"github.com/ppiankov/ec2spectre/internal/org"
)

// NotAvailable fills optional fields that the API did not report.
const NotAvailable = "N/A"

// DefaultLongStoppedDays is the partition threshold for long-stopped instances.
const DefaultLongStoppedDays = 365

// Record is one stopped instance tagged with its owning account.
type Record struct {
	AccountID            string     `json:"account_id"`
	AccountName          string     `json:"account_name"`
	Region               string     `json:"region"`
	InstanceID           string     `json:"instance_id"`
	Name                 string     `json:"name"`
	InstanceType         string     `json:"instance_type"`
	PrivateIP            string     `json:"private_ip"`
	VPCID                string     `json:"vpc_id"`
	SubnetID             string     `json:"subnet_id"`
	LaunchTime           *time.Time `json:"launch_time,omitempty"`
	StopTime             *time.Time `json:"stop_time,omitempty"`
	StoppedDays          *int       `json:"stopped_days,omitempty"`
	StopTimeApproximated bool       `json:"stop_time_approximated"`
}

// LongStopped reports whether the record exceeds threshold days.
func (r Record) LongStopped(threshold int) bool {
	return r.StoppedDays != nil && *r.StoppedDays > threshold
}

// VolumeRecord is an EBS volume attached to a stopped instance.
type VolumeRecord struct {
	AccountID      string     `json:"account_id"`
	AccountName    string     `json:"account_name"`
	Region         string     `json:"region"`
	InstanceID     string     `json:"instance_id"`
	VolumeID       string     `json:"volume_id"`
	VolumeType     string     `json:"volume_type"`
	SizeGiB        int32      `json:"size_gib"`
	IOPS           *int32     `json:"iops,omitempty"`
	State          string     `json:"state"`
	CreateTime     *time.Time `json:"create_time,omitempty"`
	SnapshotCount  int        `json:"snapshot_count"`
	LatestSnapshot *time.Time `json:"latest_snapshot,omitempty"`
	Recommendation string     `json:"recommendation"`
}

// AccountResult is the outcome of the per-account pipeline.
type AccountResult struct {
	Account org.Account
	Regions []string
	Records []Record
	Volumes []VolumeRecord
	Err     error
}

// Processed reports whether the account pipeline completed.
func (r AccountResult) Processed() bool {
	return r.Err == nil
}

// AccountError is a failed account as surfaced in reports.
type AccountError struct {
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name"`
	Error       string `json:"error"`
}

// Summary tallies a collection run.
type Summary struct {
	TotalAccounts         int            `json:"total_accounts"`
	ProcessedAccounts     int            `json:"processed_accounts"`
	AccountsWithErrors    int            `json:"accounts_with_errors"`
	EmptyAccounts         int            `json:"empty_accounts"`
	TotalStoppedInstances int            `json:"total_stopped_instances"`
	LongStoppedInstances  int            `json:"long_stopped_instances"`
	ApproximatedStopTimes int            `json:"approximated_stop_times"`
	TotalVolumes          int            `json:"total_volumes,omitempty"`
	Errors                []AccountError `json:"errors,omitempty"`
}

// Result is everything a run accumulated.
type Result struct {
	Summary     Summary
	Instances   []Record
	LongStopped []Record
	Volumes     []VolumeRecord
	Accounts    []AccountResult
}
