package policy

import (
	"time"

	"github.com/yairfalse/astra/types"
)

// Result types
type Result string

const (
	ResultAllow Result = "allow"
	ResultDeny  Result = "deny"
)

// Decision is the combined verdict of every loaded policy on one creation
type Decision struct {
	Name     string
	Result   Result
	Reasons  []string
	Policies []string // policies that expressed an opinion
}

// Allowed reports whether the creation may proceed
func (d Decision) Allowed() bool {
	return d.Result == ResultAllow
}

// PolicyInput is the document policies see as `input`
type PolicyInput struct {
	Database  DatabaseInput `json:"database"`
	Timestamp time.Time     `json:"timestamp"`
}

// DatabaseInput describes the database about to be created
type DatabaseInput struct {
	Name          string `json:"name"`
	CloudProvider string `json:"cloud_provider"`
	Region        string `json:"region"`
	Keyspace      string `json:"keyspace"`
	Tier          string `json:"tier"`
	CapacityUnits int    `json:"capacity_units"`
}

// BuildPolicyInput maps a creation request onto the policy input document
func BuildPolicyInput(spec types.DatabaseSpec, now time.Time) PolicyInput {
	return PolicyInput{
		Database: DatabaseInput{
			Name:          spec.Name,
			CloudProvider: string(spec.CloudProvider),
			Region:        spec.Region,
			Keyspace:      spec.Keyspace,
			Tier:          spec.Tier,
			CapacityUnits: spec.CapacityUnits,
		},
		Timestamp: now,
	}
}
