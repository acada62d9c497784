package report

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/ppiankov/ec2spectre/internal/collector"
)

// TimeLayout formats every timestamp column.
const TimeLayout = "2006-01-02 15:04:05"

// InstanceColumns is the fixed stopped-instance column schema.
var InstanceColumns = []string{
	"AccountId", "AccountName", "InstanceName", "InstanceId", "InstanceType",
	"PrivateIP", "VPCID", "SubnetID", "LaunchTime", "StopTime", "StoppedDays",
}

// VolumeColumns is the attached-volume column schema.
var VolumeColumns = []string{
	"AccountId", "AccountName", "Region", "InstanceId", "VolumeId", "VolumeType",
	"SizeGiB", "IOPS", "State", "CreateTime", "SnapshotCount", "LatestSnapshot", "Recommendation",
}

// InstanceRow converts a record into a row ordered as InstanceColumns.
func InstanceRow(r collector.Record) []string {
	return []string{
		r.AccountID,
		r.AccountName,
		r.Name,
		r.InstanceID,
		r.InstanceType,
		r.PrivateIP,
		r.VPCID,
		r.SubnetID,
		formatTime(r.LaunchTime),
		formatTime(r.StopTime),
		formatInt(r.StoppedDays),
	}
}

// VolumeRow converts a volume record into a row ordered as VolumeColumns.
func VolumeRow(v collector.VolumeRecord) []string {
	iops := collector.NotAvailable
	if v.IOPS != nil {
		iops = strconv.Itoa(int(*v.IOPS))
	}
	return []string{
		v.AccountID,
		v.AccountName,
		v.Region,
		v.InstanceID,
		v.VolumeID,
		v.VolumeType,
		strconv.Itoa(int(v.SizeGiB)),
		iops,
		v.State,
		formatTime(v.CreateTime),
		strconv.Itoa(v.SnapshotCount),
		formatTime(v.LatestSnapshot),
		v.Recommendation,
	}
}

// WriteInstances writes records with a header row.
func WriteInstances(w io.Writer, records []collector.Record) error {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, InstanceRow(r))
	}
	return writeCSV(w, InstanceColumns, rows)
}

// WriteVolumes writes volume records with a header row.
func WriteVolumes(w io.Writer, volumes []collector.VolumeRecord) error {
	rows := make([][]string, 0, len(volumes))
	for _, v := range volumes {
		rows = append(rows, VolumeRow(v))
	}
	return writeCSV(w, VolumeColumns, rows)
}

// EncodeInstances returns the CSV encoding of records.
func EncodeInstances(records []collector.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteInstances(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeVolumes returns the CSV encoding of volumes.
func EncodeVolumes(volumes []collector.VolumeRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteVolumes(&buf, volumes); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return collector.NotAvailable
	}
	return t.UTC().Format(TimeLayout)
}

func formatInt(n *int) string {
	if n == nil {
		return collector.NotAvailable
	}
	return strconv.Itoa(*n)
}

// CSVReporter writes the stopped-instance CSV as the local report.
type CSVReporter struct {
	writer io.Writer
}

// NewCSVReporter creates a new CSV reporter
func NewCSVReporter(w io.Writer) *CSVReporter {
	return &CSVReporter{writer: w}
}

// Generate writes every stopped instance as CSV.
func (r *CSVReporter) Generate(data Data) error {
	return WriteInstances(r.writer, data.Instances)
}
