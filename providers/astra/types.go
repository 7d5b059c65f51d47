package astra

import (
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/astra/types"
)

// databaseInfo is the "info" block of a DevOps database document
type databaseInfo struct {
	Name          string   `json:"name"`
	Keyspace      string   `json:"keyspace"`
	Keyspaces     []string `json:"keyspaces,omitempty"`
	CloudProvider string   `json:"cloudProvider"`
	Tier          string   `json:"tier"`
	CapacityUnits int      `json:"capacityUnits"`
	Region        string   `json:"region"`
}

// database is the DevOps API representation of a database
type database struct {
	ID              string       `json:"id"`
	OrgID           string       `json:"orgId"`
	Info            databaseInfo `json:"info"`
	CreationTime    string       `json:"creationTime"`
	Status          string       `json:"status"`
	DataEndpointURL string       `json:"dataEndpointUrl"`
}

// createRequest is the body of POST /v2/databases
type createRequest struct {
	Name          string `json:"name"`
	Keyspace      string `json:"keyspace"`
	CloudProvider string `json:"cloudProvider"`
	Tier          string `json:"tier"`
	CapacityUnits int    `json:"capacityUnits"`
	Region        string `json:"region"`
}

// errorResponse is the DevOps API error envelope
type errorResponse struct {
	Errors []struct {
		ID          int    `json:"ID"`
		Description string `json:"description"`
	} `json:"errors"`
}

// APIError is a non-success response from the DevOps API
type APIError struct {
	Op         string
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("%s: devops api returned HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: devops api returned HTTP %d: %s", e.Op, e.StatusCode, strings.Join(e.Messages, "; "))
}

// convertDatabase maps the wire document onto the handle
func convertDatabase(in database) types.Database {
	db := types.Database{
		ID:              in.ID,
		Name:            in.Info.Name,
		Status:          types.ParseStatus(in.Status),
		Region:          in.Info.Region,
		Keyspace:        in.Info.Keyspace,
		Keyspaces:       in.Info.Keyspaces,
		Tier:            in.Info.Tier,
		OrgID:           in.OrgID,
		DataEndpointURL: in.DataEndpointURL,
	}

	if cloud, err := types.ParseCloudProvider(in.Info.CloudProvider); err == nil {
		db.CloudProvider = cloud
	}
	if in.CreationTime != "" {
		if created, err := time.Parse(time.RFC3339, in.CreationTime); err == nil {
			db.CreatedAt = created
		}
	}

	return db
}

// buildCreateRequest maps a spec onto the wire body
func buildCreateRequest(spec types.DatabaseSpec) createRequest {
	return createRequest{
		Name:          spec.Name,
		Keyspace:      spec.Keyspace,
		CloudProvider: string(spec.CloudProvider),
		Tier:          spec.Tier,
		CapacityUnits: spec.CapacityUnits,
		Region:        spec.Region,
	}
}
