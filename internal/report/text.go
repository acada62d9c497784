package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/ppiankov/ec2spectre/internal/collector"
)

// maxListed caps the instance rows printed per section.
const maxListed = 25

// TextReporter generates human-readable text reports
type TextReporter struct {
	writer io.Writer
}

// NewTextReporter creates a new text reporter
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{writer: w}
}

// Generate generates a text report
func (r *TextReporter) Generate(data Data) error {
	fmt.Fprintf(r.writer, "EC2Spectre Report\n")
	fmt.Fprintf(r.writer, "=================\n\n")
	fmt.Fprintf(r.writer, "Scan Time: %s\n", data.Timestamp.UTC().Format(TimeLayout))
	if data.Config.AWSProfile != "" {
		fmt.Fprintf(r.writer, "AWS Profile: %s\n", data.Config.AWSProfile)
	}
	fmt.Fprintf(r.writer, "Role: %s\n", data.Config.RoleName)
	if data.Config.AllRegions {
		fmt.Fprintf(r.writer, "Scanning: All enabled AWS regions\n")
	} else if len(data.Config.Regions) > 0 {
		fmt.Fprintf(r.writer, "Regions: %s\n", strings.Join(data.Config.Regions, ", "))
	}
	fmt.Fprintf(r.writer, "\n")

	r.printSummary(data)
	r.printInstances(data)
	r.printErrors(data.Summary.Errors)
	r.printUploads(data)

	return nil
}

func (r *TextReporter) printSummary(data Data) {
	s := data.Summary
	fmt.Fprintf(r.writer, "Summary\n")
	fmt.Fprintf(r.writer, "-------\n")
	fmt.Fprintf(r.writer, "Accounts: %s total, %s processed\n",
		humanize.Comma(int64(s.TotalAccounts)), humanize.Comma(int64(s.ProcessedAccounts)))
	if s.AccountsWithErrors > 0 {
		fmt.Fprintf(r.writer, "%s: %d\n", color.RedString("Accounts With Errors"), s.AccountsWithErrors)
	}
	if s.EmptyAccounts > 0 {
		fmt.Fprintf(r.writer, "Accounts Without Stopped Instances: %d\n", s.EmptyAccounts)
	}
	fmt.Fprintf(r.writer, "Stopped Instances: %s\n", humanize.Comma(int64(s.TotalStoppedInstances)))
	if s.LongStoppedInstances > 0 {
		fmt.Fprintf(r.writer, "%s: %s (over %d days)\n",
			color.YellowString("Long-Stopped Instances"),
			humanize.Comma(int64(s.LongStoppedInstances)),
			data.Config.LongStoppedDays)
	}
	if s.ApproximatedStopTimes > 0 {
		fmt.Fprintf(r.writer, "Stop Times Approximated From Launch: %d\n", s.ApproximatedStopTimes)
	}
	if s.TotalVolumes > 0 {
		fmt.Fprintf(r.writer, "Attached Volumes: %s (%s GiB)\n",
			humanize.Comma(int64(s.TotalVolumes)), humanize.Comma(totalGiB(data.Volumes)))
	}
	fmt.Fprintf(r.writer, "\n")
}

func (r *TextReporter) printInstances(data Data) {
	if len(data.LongStopped) == 0 {
		if len(data.Instances) == 0 {
			fmt.Fprintf(r.writer, "%s\n\n", color.GreenString("No stopped instances found"))
		}
		return
	}

	records := append([]collector.Record(nil), data.LongStopped...)
	sort.SliceStable(records, func(i, j int) bool {
		return days(records[i]) > days(records[j])
	})

	fmt.Fprintf(r.writer, "%s\n", color.YellowString("Long-Stopped Instances"))
	fmt.Fprintf(r.writer, "%s\n", strings.Repeat("-", 70))
	for i, rec := range records {
		if i == maxListed {
			fmt.Fprintf(r.writer, "  ... and %d more\n", len(records)-maxListed)
			break
		}
		fmt.Fprintf(r.writer, "  %s: %s (%s) in %s/%s\n",
			color.YellowString("[LONG_STOPPED]"),
			rec.InstanceID, rec.Name, rec.AccountName, rec.Region)
		stopped := "unknown"
		if rec.StopTime != nil {
			stopped = humanize.RelTime(*rec.StopTime, data.Timestamp, "ago", "from now")
		}
		fmt.Fprintf(r.writer, "    Stopped: %s (%s days)\n", stopped, formatInt(rec.StoppedDays))
		if rec.StopTimeApproximated {
			fmt.Fprintf(r.writer, "    Stop time approximated from launch time\n")
		}
	}
	fmt.Fprintf(r.writer, "\n")
}

func (r *TextReporter) printErrors(errs []collector.AccountError) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(r.writer, "%s\n", color.RedString("Account Errors"))
	fmt.Fprintf(r.writer, "%s\n", strings.Repeat("-", 70))
	for _, e := range errs {
		fmt.Fprintf(r.writer, "  %s: %s (%s)\n", color.RedString("[ERROR]"), e.AccountID, e.AccountName)
		fmt.Fprintf(r.writer, "    %s\n", e.Error)
	}
	fmt.Fprintf(r.writer, "\n")
}

func (r *TextReporter) printUploads(data Data) {
	if data.EmitError != "" {
		fmt.Fprintf(r.writer, "%s: %s\n\n", color.RedString("Upload Failed"), data.EmitError)
	}
	if len(data.Uploads) == 0 {
		return
	}
	fmt.Fprintf(r.writer, "Uploaded Reports\n")
	fmt.Fprintf(r.writer, "%s\n", strings.Repeat("-", 70))
	for _, u := range data.Uploads {
		fmt.Fprintf(r.writer, "  s3://%s/%s (%d rows)\n", u.Bucket, u.Key, u.Rows)
	}
	fmt.Fprintf(r.writer, "\n")
}

func days(r collector.Record) int {
	if r.StoppedDays == nil {
		return 0
	}
	return *r.StoppedDays
}

func totalGiB(volumes []collector.VolumeRecord) int64 {
	var total int64
	for _, v := range volumes {
		total += int64(v.SizeGiB)
	}
	return total
}
