package ec2

import "time"

// Instance is a stopped EC2 instance as reported by DescribeInstances.
// Pointer fields are absent in the API response when nil.
type Instance struct {
	ID                    string            `json:"id"`
	Type                  string            `json:"type"`
	Region                string            `json:"region"`
	StateTransitionReason *string           `json:"state_transition_reason,omitempty"`
	LaunchTime            *time.Time        `json:"launch_time,omitempty"`
	Tags                  map[string]string `json:"tags,omitempty"`
	PrivateIP             *string           `json:"private_ip,omitempty"`
	VPCID                 *string           `json:"vpc_id,omitempty"`
	SubnetID              *string           `json:"subnet_id,omitempty"`
}

// Name returns the Name tag, or "" when untagged.
func (i Instance) Name() string {
	return i.Tags["Name"]
}

// Reason returns the state transition reason, or "" when absent.
func (i Instance) Reason() string {
	if i.StateTransitionReason == nil {
		return ""
	}
	return *i.StateTransitionReason
}

// Volume is an EBS volume attached to a scanned instance.
type Volume struct {
	ID         string     `json:"id"`
	InstanceID string     `json:"instance_id"`
	Region     string     `json:"region"`
	Type       string     `json:"type"`
	SizeGiB    int32      `json:"size_gib"`
	IOPS       *int32     `json:"iops,omitempty"`
	State      string     `json:"state"`
	CreateTime *time.Time `json:"create_time,omitempty"`
}

// SnapshotSummary describes the snapshots taken of a volume.
type SnapshotSummary struct {
	Count  int        `json:"count"`
	Latest *time.Time `json:"latest,omitempty"`
}
