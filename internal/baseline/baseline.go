package baseline

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ppiankov/ec2spectre/internal/collector"
	"github.com/ppiankov/ec2spectre/internal/report"
)

// Finding is a flattened, identity-comparable stopped instance from a run.
type Finding struct {
	Type       string `json:"type"`
	AccountID  string `json:"account_id"`
	Region     string `json:"region,omitempty"`
	InstanceID string `json:"instance_id"`
}

func (f Finding) key() string {
	return fmt.Sprintf("%s|%s|%s", f.Type, f.AccountID, f.InstanceID)
}

// DiffResult holds the outcome of comparing current findings against a baseline.
type DiffResult struct {
	New       []Finding
	Resolved  []Finding
	Unchanged []Finding
}

// FlattenFindings converts a report into a flat finding list.
func FlattenFindings(data report.Data) []Finding {
	threshold := data.Config.LongStoppedDays
	if threshold <= 0 {
		threshold = collector.DefaultLongStoppedDays
	}
	findings := make([]Finding, 0, len(data.Instances))
	for _, rec := range data.Instances {
		findings = append(findings, Finding{
			Type:       report.FindingID(rec, threshold),
			AccountID:  rec.AccountID,
			Region:     rec.Region,
			InstanceID: rec.InstanceID,
		})
	}
	return findings
}

// LoadBaseline reads a previous JSON report and extracts findings.
func LoadBaseline(path string) ([]Finding, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read baseline: %w", err)
	}
	var data report.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse baseline: %w", err)
	}
	return FlattenFindings(data), nil
}

// Diff compares current findings against a baseline.
func Diff(current, baseline []Finding) DiffResult {
	baseMap := make(map[string]struct{}, len(baseline))
	for _, f := range baseline {
		baseMap[f.key()] = struct{}{}
	}
	curMap := make(map[string]struct{}, len(current))
	for _, f := range current {
		curMap[f.key()] = struct{}{}
	}

	var result DiffResult
	for _, f := range current {
		if _, exists := baseMap[f.key()]; exists {
			result.Unchanged = append(result.Unchanged, f)
		} else {
			result.New = append(result.New, f)
		}
	}
	for _, f := range baseline {
		if _, exists := curMap[f.key()]; !exists {
			result.Resolved = append(result.Resolved, f)
		}
	}
	return result
}
