package report

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/ec2spectre/internal/collector"
)

// Finding identifiers shared with baseline comparison.
const (
	FindingStoppedInstance     = "STOPPED_INSTANCE"
	FindingLongStoppedInstance = "LONG_STOPPED_INSTANCE"
	FindingAccountError        = "ACCOUNT_SCAN_ERROR"
)

// spectre/v1 envelope types

type spectreEnvelope struct {
	Schema    string           `json:"schema"`
	Tool      string           `json:"tool"`
	Version   string           `json:"version"`
	Timestamp string           `json:"timestamp"`
	Target    spectreTarget    `json:"target"`
	Findings  []spectreFinding `json:"findings"`
	Summary   spectreSummary   `json:"summary"`
}

type spectreTarget struct {
	Type    string `json:"type"`
	URIHash string `json:"uri_hash"`
}

type spectreFinding struct {
	ID       string         `json:"id"`
	Severity string         `json:"severity"`
	Location string         `json:"location"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type spectreSummary struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
	Info   int `json:"info"`
}

// HashTarget produces a sha256 hash of the scanned organization scope for target identification.
func HashTarget(roleName, profile string, regions []string) string {
	input := roleName + ":" + profile + ":" + strings.Join(regions, ",")
	h := sha256.Sum256([]byte(input))
	return fmt.Sprintf("sha256:%x", h)
}

// InstanceLocation is the resource locator of a stopped instance.
func InstanceLocation(r collector.Record) string {
	return fmt.Sprintf("aws://%s/%s/ec2/%s", r.AccountID, r.Region, r.InstanceID)
}

// FindingID classifies a record against the long-stopped threshold.
func FindingID(r collector.Record, threshold int) string {
	if r.LongStopped(threshold) {
		return FindingLongStoppedInstance
	}
	return FindingStoppedInstance
}

// SpectreHubReporter generates spectre/v1 JSON envelope output.
type SpectreHubReporter struct {
	writer io.Writer
}

// NewSpectreHubReporter creates a new SpectreHub reporter.
func NewSpectreHubReporter(w io.Writer) *SpectreHubReporter {
	return &SpectreHubReporter{writer: w}
}

// Generate writes scan results as a spectre/v1 envelope.
func (r *SpectreHubReporter) Generate(data Data) error {
	threshold := data.Config.LongStoppedDays
	if threshold <= 0 {
		threshold = collector.DefaultLongStoppedDays
	}

	envelope := spectreEnvelope{
		Schema:    "spectre/v1",
		Tool:      "ec2spectre",
		Version:   data.Version,
		Timestamp: data.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		Target: spectreTarget{
			Type:    "ec2",
			URIHash: HashTarget(data.Config.RoleName, data.Config.AWSProfile, data.Config.Regions),
		},
	}

	for _, rec := range data.Instances {
		severity := stoppedSeverity(rec, threshold)
		envelope.Findings = append(envelope.Findings, spectreFinding{
			ID:       FindingID(rec, threshold),
			Severity: severity,
			Location: InstanceLocation(rec),
			Message:  fmt.Sprintf("instance %s stopped for %s days", rec.InstanceID, formatInt(rec.StoppedDays)),
			Metadata: map[string]any{
				"account_name":           rec.AccountName,
				"instance_name":          rec.Name,
				"instance_type":          rec.InstanceType,
				"stop_time_approximated": rec.StopTimeApproximated,
			},
		})
		countSeverity(&envelope.Summary, severity)
	}

	for _, e := range data.Summary.Errors {
		envelope.Findings = append(envelope.Findings, spectreFinding{
			ID:       FindingAccountError,
			Severity: "medium",
			Location: "aws://" + e.AccountID,
			Message:  e.Error,
		})
		countSeverity(&envelope.Summary, "medium")
	}

	envelope.Summary.Total = len(envelope.Findings)
	if envelope.Findings == nil {
		envelope.Findings = []spectreFinding{}
	}

	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope)
}

func stoppedSeverity(rec collector.Record, threshold int) string {
	switch {
	case rec.StoppedDays == nil:
		return "info"
	case *rec.StoppedDays > 2*threshold:
		return "high"
	case *rec.StoppedDays > threshold:
		return "medium"
	default:
		return "low"
	}
}

func countSeverity(s *spectreSummary, severity string) {
	switch severity {
	case "high":
		s.High++
	case "medium":
		s.Medium++
	case "low":
		s.Low++
	case "info":
		s.Info++
	}
}
