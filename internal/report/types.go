package report

import (
	"net/http"
	"time"

	"github.com/ppiankov/ec2spectre/internal/collector"
)

// Report names used as S3 namespaces.
const (
	StoppedInstancesReport     = "stopped-instances"
	LongStoppedInstancesReport = "long-stopped-instances"
	InstanceVolumesReport      = "stopped-instance-volumes"
)

// Run status codes, mirroring HTTP semantics for invokers.
const (
	StatusOK          = http.StatusOK
	StatusEmitFailure = http.StatusInternalServerError
)

// Reporter renders a run summary.
type Reporter interface {
	Generate(data Data) error
}

// Data contains all report data
type Data struct {
	Tool        string                   `json:"tool"`
	Version     string                   `json:"version"`
	Timestamp   time.Time                `json:"timestamp"`
	Status      int                      `json:"status"`
	Config      Config                   `json:"config"`
	Summary     collector.Summary        `json:"summary"`
	Instances   []collector.Record       `json:"instances"`
	LongStopped []collector.Record       `json:"long_stopped,omitempty"`
	Volumes     []collector.VolumeRecord `json:"volumes,omitempty"`
	Uploads     []Upload                 `json:"uploads,omitempty"`
	EmitError   string                   `json:"emit_error,omitempty"`
}

// Config contains scan configuration
type Config struct {
	AWSProfile      string   `json:"aws_profile,omitempty"`
	RoleName        string   `json:"role_name"`
	Regions         []string `json:"regions,omitempty"`
	AllRegions      bool     `json:"all_regions"`
	LongStoppedDays int      `json:"long_stopped_days"`
	Bucket          string   `json:"bucket,omitempty"`
}

// Upload records one emitted report object.
type Upload struct {
	Report string `json:"report"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Rows   int    `json:"rows"`
}

// NewData assembles report data from a collection result.
func NewData(tool, version string, ts time.Time, cfg Config, res *collector.Result) Data {
	data := Data{
		Tool:      tool,
		Version:   version,
		Timestamp: ts,
		Status:    StatusOK,
		Config:    cfg,
	}
	if res != nil {
		data.Summary = res.Summary
		data.Instances = res.Instances
		data.LongStopped = res.LongStopped
		data.Volumes = res.Volumes
	}
	return data
}
