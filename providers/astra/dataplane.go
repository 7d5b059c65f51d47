package astra

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yairfalse/astra/telemetry"
	"github.com/yairfalse/astra/types"
)

const (
	// DefaultEndpointTemplate is the REST endpoint of a database; {id} and
	// {region} are substituted
	DefaultEndpointTemplate = "https://{id}-{region}.apps.astra.datastax.com/api/rest"

	// DefaultResumeTimeout bounds a single resume request
	DefaultResumeTimeout = 20 * time.Second

	resumePath = "/v2/schemas/keyspace"
)

// DataPlane talks to the serving API of individual databases
type DataPlane struct {
	token            string
	endpointTemplate string
	resumeTimeout    time.Duration
	httpClient       *http.Client
	logger           *telemetry.Logger
}

// DataPlaneOption configures a DataPlane.
type DataPlaneOption func(*DataPlane)

// WithEndpointTemplate overrides how database endpoints are derived.
func WithEndpointTemplate(template string) DataPlaneOption {
	return func(d *DataPlane) {
		d.endpointTemplate = template
	}
}

// WithResumeTimeout bounds each resume request.
func WithResumeTimeout(timeout time.Duration) DataPlaneOption {
	return func(d *DataPlane) {
		d.resumeTimeout = timeout
	}
}

// WithDataPlaneHTTPClient sets a custom HTTP client (useful for testing).
func WithDataPlaneHTTPClient(hc *http.Client) DataPlaneOption {
	return func(d *DataPlane) {
		d.httpClient = hc
	}
}

// NewDataPlane creates a data plane client authenticating with token
func NewDataPlane(token string, opts ...DataPlaneOption) *DataPlane {
	d := &DataPlane{
		token:            token,
		endpointTemplate: DefaultEndpointTemplate,
		resumeTimeout:    DefaultResumeTimeout,
		httpClient:       &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:           telemetry.NewLogger("astra-dataplane"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Endpoint returns the REST base URL of db
func (d *DataPlane) Endpoint(db types.Database) string {
	if db.DataEndpointURL != "" {
		return strings.TrimRight(db.DataEndpointURL, "/")
	}
	r := strings.NewReplacer("{id}", db.ID, "{region}", db.Region)
	return strings.TrimRight(r.Replace(d.endpointTemplate), "/")
}

// Resume sends one request to a hibernated database to wake it up.
//
// Only an HTTP 500 is reported, as ResumeFailedError. Every other outcome
// (other statuses, timeouts, transport failures) is inconclusive and returns
// nil; whoever polls the control plane decides whether the database woke up.
// Cancellation of ctx is returned as an error.
func (d *DataPlane) Resume(ctx context.Context, db types.Database) error {
	endpoint := d.Endpoint(db) + resumePath
	logger := d.logger.WithContext(ctx)

	reqCtx, cancel := context.WithTimeout(ctx, d.resumeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("resume %s: build request: %w", db.ID, err)
	}
	req.Header.Set("X-Cassandra-Token", d.token)
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("resume %s: %w", db.ID, ctx.Err())
		}
		logger.Warn().
			Err(err).
			Str("database_id", db.ID).
			Msg("resume request inconclusive")
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusInternalServerError {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &types.ResumeFailedError{
			ID:         db.ID,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	event := logger.Info()
	if resp.StatusCode >= http.StatusBadRequest {
		event = logger.Warn()
	}
	event.
		Str("database_id", db.ID).
		Int("status", resp.StatusCode).
		Msg("resume request sent")

	return nil
}
