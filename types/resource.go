package types

import (
	"fmt"
	"time"
)

// DefaultKeyspace is the keyspace new databases are created with
const DefaultKeyspace = "default_keyspace"

// Database is the handle of a provisioned database as seen by the control plane
type Database struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Status          Status        `json:"status"`
	Region          string        `json:"region"`
	CloudProvider   CloudProvider `json:"cloud_provider"`
	Keyspace        string        `json:"keyspace,omitempty"`
	Keyspaces       []string      `json:"keyspaces,omitempty"`
	Tier            string        `json:"tier,omitempty"`
	OrgID           string        `json:"org_id,omitempty"`
	DataEndpointURL string        `json:"data_endpoint_url,omitempty"`
	CreatedAt       time.Time     `json:"created_at,omitempty"`
}

// DatabaseSpec defines a database to create
type DatabaseSpec struct {
	Name          string        `yaml:"name" json:"name"`
	CloudProvider CloudProvider `yaml:"cloud" json:"cloudProvider"`
	Region        string        `yaml:"region" json:"region"`
	Keyspace      string        `yaml:"keyspace,omitempty" json:"keyspace"`
	Tier          string        `yaml:"tier,omitempty" json:"tier"`
	CapacityUnits int           `yaml:"capacity_units,omitempty" json:"capacityUnits"`
}

// Filter narrows a database listing
type Filter struct {
	Status        Status        `json:"status,omitempty"`
	Region        string        `json:"region,omitempty"`
	CloudProvider CloudProvider `json:"cloud_provider,omitempty"`
	Names         []string      `json:"names,omitempty"`
}

// WithDefaults fills keyspace, tier and capacity when unset
func (s DatabaseSpec) WithDefaults() DatabaseSpec {
	if s.Keyspace == "" {
		s.Keyspace = DefaultKeyspace
	}
	if s.Tier == "" {
		s.Tier = "serverless"
	}
	if s.CapacityUnits == 0 {
		s.CapacityUnits = 1
	}
	return s
}

// Validate ensures the spec can be sent to the control plane
func (s DatabaseSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := ParseCloudProvider(string(s.CloudProvider)); err != nil {
		return err
	}
	if s.Region == "" {
		return fmt.Errorf("region is required")
	}
	return nil
}

// IsActive reports whether the database can serve traffic
func (d *Database) IsActive() bool {
	return d.Status == StatusActive
}

// Matches checks if database matches filter criteria
func (d *Database) Matches(filter Filter) bool {
	return d.matchesBasicFields(filter) && d.matchesNames(filter)
}

// matchesBasicFields checks status, region, provider
func (d *Database) matchesBasicFields(filter Filter) bool {
	if filter.Status != "" && d.Status != filter.Status {
		return false
	}
	if filter.Region != "" && d.Region != filter.Region {
		return false
	}
	if filter.CloudProvider != "" && d.CloudProvider != filter.CloudProvider {
		return false
	}
	return true
}

// matchesNames checks if database name is in filter list
func (d *Database) matchesNames(filter Filter) bool {
	if len(filter.Names) == 0 {
		return true
	}
	for _, name := range filter.Names {
		if d.Name == name {
			return true
		}
	}
	return false
}

// FilterDatabases returns the databases matching filter
func FilterDatabases(databases []Database, filter Filter) []Database {
	var out []Database
	for i := range databases {
		if databases[i].Matches(filter) {
			out = append(out, databases[i])
		}
	}
	return out
}
