package report

import (
	"bytes"
	"encoding/csv"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/ec2spectre/internal/collector"
)

func TestInstanceRow_Formatting(t *testing.T) {
	launch := time.Date(2022, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600))
	stop := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := collector.Record{
		AccountID:    "111111111111",
		AccountName:  "alpha",
		Name:         "web",
		InstanceID:   "i-0aaa",
		InstanceType: "t3.micro",
		PrivateIP:    "10.0.0.5",
		VPCID:        "vpc-1",
		SubnetID:     "subnet-1",
		LaunchTime:   &launch,
		StopTime:     &stop,
		StoppedDays:  intPtr(31),
	}

	want := []string{
		"111111111111", "alpha", "web", "i-0aaa", "t3.micro",
		"10.0.0.5", "vpc-1", "subnet-1", "2022-03-04 04:06:07", "2023-01-01 12:00:00", "31",
	}
	if got := InstanceRow(rec); !reflect.DeepEqual(got, want) {
		t.Fatalf("InstanceRow = %v, want %v", got, want)
	}
}

func TestInstanceRow_MissingValues(t *testing.T) {
	row := InstanceRow(collector.Record{AccountID: "111111111111", InstanceID: "i-0aaa"})
	if len(row) != len(InstanceColumns) {
		t.Fatalf("row has %d columns, want %d", len(row), len(InstanceColumns))
	}
	for _, idx := range []int{8, 9, 10} {
		if row[idx] != collector.NotAvailable {
			t.Errorf("column %s = %q, want N/A", InstanceColumns[idx], row[idx])
		}
	}
}

func TestWriteInstances_RoundTrip(t *testing.T) {
	records := []collector.Record{
		{AccountID: "111111111111", AccountName: "Finance, Inc.", Name: `say "hi"`, InstanceID: "i-1", StoppedDays: intPtr(3)},
		{AccountID: "222222222222", AccountName: "multi\nline", Name: "N/A", InstanceID: "i-2"},
	}

	var buf bytes.Buffer
	if err := WriteInstances(&buf, records); err != nil {
		t.Fatalf("WriteInstances: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != len(records)+1 {
		t.Fatalf("expected %d rows, got %d", len(records)+1, len(rows))
	}
	if !reflect.DeepEqual(rows[0], InstanceColumns) {
		t.Fatalf("header = %v, want %v", rows[0], InstanceColumns)
	}
	for i, rec := range records {
		if !reflect.DeepEqual(rows[i+1], InstanceRow(rec)) {
			t.Errorf("row %d = %v, want %v", i, rows[i+1], InstanceRow(rec))
		}
	}
}

func TestWriteInstances_HeaderOnlyWhenEmpty(t *testing.T) {
	body, err := EncodeInstances(nil)
	if err != nil {
		t.Fatalf("EncodeInstances: %v", err)
	}
	want := strings.Join(InstanceColumns, ",") + "\n"
	if string(body) != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

func TestWriteVolumes(t *testing.T) {
	created := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	iops := int32(3000)
	vol := collector.VolumeRecord{
		AccountID: "111111111111", AccountName: "alpha", Region: "us-east-1",
		InstanceID: "i-1", VolumeID: "vol-1", VolumeType: "gp2", SizeGiB: 100,
		IOPS: &iops, State: "in-use", CreateTime: &created, SnapshotCount: 2,
		Recommendation: "Migrate to gp3",
	}

	body, err := EncodeVolumes([]collector.VolumeRecord{vol})
	if err != nil {
		t.Fatalf("EncodeVolumes: %v", err)
	}
	rows, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	want := []string{
		"111111111111", "alpha", "us-east-1", "i-1", "vol-1", "gp2", "100", "3000",
		"in-use", "2021-06-01 00:00:00", "2", "N/A", "Migrate to gp3",
	}
	if !reflect.DeepEqual(rows[1], want) {
		t.Fatalf("row = %v, want %v", rows[1], want)
	}
}

func TestCSVReporter_Generate(t *testing.T) {
	var buf bytes.Buffer
	if err := NewCSVReporter(&buf).Generate(sampleData()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
}
