// Package client is a Go client for the buildstate controller API.
// It is used by the buildctl CLI and the stage runner.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"buildstate/pkg/api"
)

// Client handles API calls to the buildstate controller.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a new client with the given base URL and token.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
	BuildID    string
	Checkpoint *int
	Missing    []string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("API error (%d, %s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

func newAPIError(status int, body []byte) *APIError {
	var er api.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		msg := er.Error
		if er.Details != "" {
			msg += ": " + er.Details
		}
		return &APIError{
			StatusCode: status,
			Kind:       er.Kind,
			Message:    msg,
			BuildID:    er.BuildID,
			Checkpoint: er.Checkpoint,
			Missing:    er.Missing,
		}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

// do sends a request and decodes a 2xx JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rdr = bytes.NewReader(bodyBytes)
	}

	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	if body != nil {
		httpReq.Header.Add("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.do(ctx, method, path, query, c.Token, body, out)
}

// CreatePrincipal sends POST /principals, authenticated with the admin secret.
func (c *Client) CreatePrincipal(ctx context.Context, adminSecret string, req api.CreatePrincipalRequest) (*api.CreatePrincipalResponse, error) {
	var out api.CreatePrincipalResponse
	if err := c.do(ctx, http.MethodPost, "/principals", nil, adminSecret, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterReference sends POST /reference/{kind}.
func (c *Client) RegisterReference(ctx context.Context, kind, name string) error {
	return c.call(ctx, http.MethodPost, "/reference/"+url.PathEscape(kind), nil, api.RegisterReferenceRequest{Name: name}, nil)
}

// StartBuild sends POST /builds.
func (c *Client) StartBuild(ctx context.Context, req api.StartBuildRequest) (*api.BuildResponse, error) {
	var out api.BuildResponse
	if err := c.call(ctx, http.MethodPost, "/builds", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBuild sends GET /builds/{id}.
func (c *Client) GetBuild(ctx context.Context, buildID string) (*api.BuildResponse, error) {
	var out api.BuildResponse
	if err := c.call(ctx, http.MethodGet, "/builds/"+url.PathEscape(buildID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBuildByNumber sends GET /build-numbers/{number}.
func (c *Client) GetBuildByNumber(ctx context.Context, number string) (*api.BuildResponse, error) {
	var out api.BuildResponse
	if err := c.call(ctx, http.MethodGet, "/build-numbers/"+url.PathEscape(number), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBuildsOptions filters GET /builds. Zero values are omitted.
type ListBuildsOptions struct {
	Statuses []string
	Platform string
	Limit    int
	Offset   int
}

// ListBuilds sends GET /builds.
func (c *Client) ListBuilds(ctx context.Context, opts ListBuildsOptions) (*api.ListBuildsResponse, error) {
	q := url.Values{}
	if len(opts.Statuses) > 0 {
		q.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.Platform != "" {
		q.Set("platform", opts.Platform)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var out api.ListBuildsResponse
	if err := c.call(ctx, http.MethodGet, "/builds", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelBuild sends POST /builds/{id}/cancel.
func (c *Client) CancelBuild(ctx context.Context, buildID, reason string) (*api.BuildResponse, error) {
	var out api.BuildResponse
	path := "/builds/" + url.PathEscape(buildID) + "/cancel"
	if err := c.call(ctx, http.MethodPost, path, nil, api.CancelBuildRequest{Reason: reason}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transition sends POST /builds/{id}/transitions.
func (c *Client) Transition(ctx context.Context, buildID string, req api.TransitionRequest) (*api.LedgerEntryResponse, error) {
	var out api.LedgerEntryResponse
	path := "/builds/" + url.PathEscape(buildID) + "/transitions"
	if err := c.call(ctx, http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListLedger sends GET /builds/{id}/transitions.
func (c *Client) ListLedger(ctx context.Context, buildID string) ([]api.LedgerEntryResponse, error) {
	var out []api.LedgerEntryResponse
	path := "/builds/" + url.PathEscape(buildID) + "/transitions"
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordFailure sends POST /builds/{id}/failures.
func (c *Client) RecordFailure(ctx context.Context, buildID string, req api.RecordFailureRequest) (*api.FailureResponse, error) {
	var out api.FailureResponse
	path := "/builds/" + url.PathEscape(buildID) + "/failures"
	if err := c.call(ctx, http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFailures sends GET /builds/{id}/failures.
func (c *Client) ListFailures(ctx context.Context, buildID string, unresolvedOnly bool) ([]api.FailureResponse, error) {
	var q url.Values
	if unresolvedOnly {
		q = url.Values{"unresolved": {"true"}}
	}
	var out []api.FailureResponse
	path := "/builds/" + url.PathEscape(buildID) + "/failures"
	if err := c.call(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveFailure sends POST /failures/{id}/resolve.
func (c *Client) ResolveFailure(ctx context.Context, failureID, note string) (*api.FailureResponse, error) {
	var out api.FailureResponse
	path := "/failures/" + url.PathEscape(failureID) + "/resolve"
	if err := c.call(ctx, http.MethodPost, path, nil, api.ResolveFailureRequest{Note: note}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterArtifact sends POST /builds/{id}/artifacts.
func (c *Client) RegisterArtifact(ctx context.Context, buildID string, req api.RegisterArtifactRequest) (*api.ArtifactResponse, error) {
	var out api.ArtifactResponse
	path := "/builds/" + url.PathEscape(buildID) + "/artifacts"
	if err := c.call(ctx, http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListArtifactsOptions filters GET /builds/{id}/artifacts.
type ListArtifactsOptions struct {
	Checkpoint *int
	Resumable  *bool
	Final      *bool
}

// ListArtifacts sends GET /builds/{id}/artifacts.
func (c *Client) ListArtifacts(ctx context.Context, buildID string, opts ListArtifactsOptions) ([]api.ArtifactResponse, error) {
	q := url.Values{}
	if opts.Checkpoint != nil {
		q.Set("checkpoint", strconv.Itoa(*opts.Checkpoint))
	}
	if opts.Resumable != nil {
		q.Set("resumable", strconv.FormatBool(*opts.Resumable))
	}
	if opts.Final != nil {
		q.Set("final", strconv.FormatBool(*opts.Final))
	}

	var out []api.ArtifactResponse
	path := "/builds/" + url.PathEscape(buildID) + "/artifacts"
	if err := c.call(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetLatestArtifact sends GET /builds/{id}/artifacts/latest?checkpoint=N.
func (c *Client) GetLatestArtifact(ctx context.Context, buildID string, checkpoint int) (*api.ArtifactResponse, error) {
	var out api.ArtifactResponse
	path := "/builds/" + url.PathEscape(buildID) + "/artifacts/latest"
	q := url.Values{"checkpoint": {strconv.Itoa(checkpoint)}}
	if err := c.call(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetVariable sends PUT /builds/{id}/variables/{key}.
func (c *Client) SetVariable(ctx context.Context, buildID, key string, req api.SetVariableRequest) (*api.VariableResponse, error) {
	var out api.VariableResponse
	path := "/builds/" + url.PathEscape(buildID) + "/variables/" + url.PathEscape(key)
	if err := c.call(ctx, http.MethodPut, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVariable sends GET /builds/{id}/variables/{key}. The value is returned
// unmasked.
func (c *Client) GetVariable(ctx context.Context, buildID, key string) (*api.VariableResponse, error) {
	var out api.VariableResponse
	path := "/builds/" + url.PathEscape(buildID) + "/variables/" + url.PathEscape(key)
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListVariables sends GET /builds/{id}/variables. Sensitive values are masked.
func (c *Client) ListVariables(ctx context.Context, buildID string, requiredOnly bool) ([]api.VariableResponse, error) {
	var q url.Values
	if requiredOnly {
		q = url.Values{"required": {"true"}}
	}
	var out []api.VariableResponse
	path := "/builds/" + url.PathEscape(buildID) + "/variables"
	if err := c.call(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PlanResume sends GET /builds/{id}/resume. target may be nil.
func (c *Client) PlanResume(ctx context.Context, buildID string, target *int, requiredKeys []string) (*api.ResumePlanResponse, error) {
	q := url.Values{}
	if target != nil {
		q.Set("target", strconv.Itoa(*target))
	}
	if len(requiredKeys) > 0 {
		q.Set("require", strings.Join(requiredKeys, ","))
	}

	var out api.ResumePlanResponse
	path := "/builds/" + url.PathEscape(buildID) + "/resume"
	if err := c.call(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Summary sends GET /dashboard/summary.
func (c *Client) Summary(ctx context.Context) (*api.SummaryResponse, error) {
	var out api.SummaryResponse
	if err := c.call(ctx, http.MethodGet, "/dashboard/summary", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
