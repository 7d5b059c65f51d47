package astra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/yairfalse/astra/types"
)

const listLimit = 100

// ListNonTerminated returns every database not in TERMINATED state
func (c *Client) ListNonTerminated(ctx context.Context) ([]types.Database, error) {
	const op = "list databases"

	var (
		all           []types.Database
		startingAfter string
	)

	for {
		query := url.Values{}
		query.Set("include", "nonterminated")
		query.Set("provider", "ALL")
		query.Set("limit", fmt.Sprint(listLimit))
		if startingAfter != "" {
			query.Set("starting_after", startingAfter)
		}

		status, _, body, err := c.do(ctx, op, http.MethodGet, "/v2/databases?"+query.Encode(), nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, apiError(op, status, body)
		}

		var page []database
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", op, err)
		}

		for _, db := range page {
			converted := convertDatabase(db)
			if converted.Status.IsTerminated() {
				continue
			}
			all = append(all, converted)
		}

		if len(page) < listLimit {
			return all, nil
		}
		startingAfter = page[len(page)-1].ID
	}
}

// FindByName returns the non-terminated databases carrying name
func (c *Client) FindByName(ctx context.Context, name string) (types.Lookup, error) {
	live, err := c.ListNonTerminated(ctx)
	if err != nil {
		return nil, fmt.Errorf("find database by name %q: %w", name, err)
	}
	return types.LookupOf(types.FilterDatabases(live, types.Filter{Names: []string{name}})), nil
}

// FindByID fetches one database. A 404 is reported as not found, not as an error.
func (c *Client) FindByID(ctx context.Context, id string) (types.Database, bool, error) {
	const op = "get database"

	status, _, body, err := c.do(ctx, op, http.MethodGet, "/v2/databases/"+url.PathEscape(id), nil)
	if err != nil {
		return types.Database{}, false, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return types.Database{}, false, nil
	default:
		return types.Database{}, false, apiError(op, status, body)
	}

	var db database
	if err := json.Unmarshal(body, &db); err != nil {
		return types.Database{}, false, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return convertDatabase(db), true, nil
}

// Create asks the control plane for a new database and returns its id
func (c *Client) Create(ctx context.Context, spec types.DatabaseSpec) (string, error) {
	const op = "create database"

	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("%s: invalid spec: %w", op, err)
	}

	status, header, body, err := c.do(ctx, op, http.MethodPost, "/v2/databases", buildCreateRequest(spec))
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return "", apiError(op, status, body)
	}

	id := idFromLocation(header.Get("Location"))
	if id == "" {
		return "", fmt.Errorf("%s: response carried no database id", op)
	}

	c.logger.WithContext(ctx).Info().
		Str("database_id", id).
		Str("name", spec.Name).
		Str("cloud", string(spec.CloudProvider)).
		Str("region", spec.Region).
		Msg("database creation requested")

	return id, nil
}

// Delete requests termination of a database
func (c *Client) Delete(ctx context.Context, id string) error {
	const op = "terminate database"

	status, _, body, err := c.do(ctx, op, http.MethodPost, "/v2/databases/"+url.PathEscape(id)+"/terminate", nil)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted && status != http.StatusOK && status != http.StatusNoContent {
		return apiError(op, status, body)
	}

	c.logger.WithContext(ctx).Info().
		Str("database_id", id).
		Msg("database termination requested")
	return nil
}

// idFromLocation extracts the database id from a Location header
func idFromLocation(location string) string {
	if location == "" {
		return ""
	}
	if u, err := url.Parse(location); err == nil {
		location = u.Path
	}
	id := path.Base(location)
	if id == "." || id == "/" {
		return ""
	}
	return id
}
