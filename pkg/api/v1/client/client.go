// Package client provides the API client for the docuflow HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/types"
)

// DefaultTimeout is the default timeout for API requests
const DefaultTimeout = 30 * time.Second

// DefaultBaseURL is the default API address
const DefaultBaseURL = "http://localhost:8080"

// Client is the interface for the API client
type Client interface {
	// Health Check
	HealthCheck(ctx context.Context) (map[string]string, error)

	// Job endpoints
	SubmitJob(ctx context.Context, req types.SubmitJobRequest) (types.SubmitJobResponse, error)
	GetJob(ctx context.Context, jobID string) (models.Job, error)
	ListJobs(ctx context.Context, opts *models.ListOptions) (types.ListJobsResponse, error)
	CancelJob(ctx context.Context, jobID string) (types.CancelJobResponse, error)

	// Config endpoints
	GetConfig(ctx context.Context) (types.ConfigResponse, error)
	UpdateConfig(ctx context.Context, req types.UpdateConfigRequest) (types.ConfigResponse, error)
}

var _ Client = &APIClient{}

// Options contains configuration options for the API client
type Options struct {
	// BaseURL is the base URL of the API
	BaseURL string

	// Timeout is the request timeout
	Timeout time.Duration
}

// DefaultOptions returns the default client options
func DefaultOptions() *Options {
	return &Options{
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// APIClient implements the Client interface
type APIClient struct {
	baseURL string
	timeout time.Duration
}

// NewClient creates a new API client with the given options
func NewClient(opts *Options) (*APIClient, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &APIClient{baseURL: opts.BaseURL, timeout: timeout}, nil
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Slug  string          `json:"slug"`
	Error string          `json:"error"`
	Data  json.RawMessage `json:"data"`
}

// createAgent creates a new Fiber Agent for the given method and endpoint
func (c *APIClient) createAgent(ctx context.Context, method, endpoint string, body interface{}) (*fiber.Agent, error) {
	fullURL := c.baseURL + endpoint

	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	case http.MethodPut:
		agent = fiber.Put(fullURL)
	case http.MethodDelete:
		agent = fiber.Delete(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	// Timeout from context deadline when present, client default otherwise
	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}

	agent.Set("Content-Type", "application/json")
	agent.Set("Accept", "application/json")
	if body != nil {
		agent.JSON(body)
	}
	return agent, nil
}

// executeRequest sends the request and decodes the enveloped response into v.
func (c *APIClient) executeRequest(ctx context.Context, method, endpoint string, body, v interface{}) error {
	agent, err := c.createAgent(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	statusCode, respBody, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("error sending request: %w", errs[0])
	}

	var env envelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil && statusCode < 300 {
			return fmt.Errorf("error decoding response: %w", err)
		}
	}

	if statusCode < 200 || statusCode >= 300 {
		message := env.Error
		if message == "" {
			message = string(respBody)
		}
		return &fiber.Error{Code: statusCode, Message: message}
	}

	if v != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return fmt.Errorf("error decoding response data: %w", err)
		}
	}
	return nil
}

// HealthCheck verifies the API is reachable.
func (c *APIClient) HealthCheck(ctx context.Context) (map[string]string, error) {
	agent, err := c.createAgent(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("error sending request: %w", errs[0])
	}
	if statusCode != http.StatusOK {
		return nil, &fiber.Error{Code: statusCode, Message: string(body)}
	}
	var result map[string]string
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	return result, nil
}

// SubmitJob submits a document for processing. A document that already has an
// active job comes back as a fiber.Error with code 409.
func (c *APIClient) SubmitJob(ctx context.Context, req types.SubmitJobRequest) (types.SubmitJobResponse, error) {
	var resp types.SubmitJobResponse
	err := c.executeRequest(ctx, http.MethodPost, "/api/v1/jobs", req, &resp)
	return resp, err
}

// GetJob returns the job snapshot.
func (c *APIClient) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	var job models.Job
	err := c.executeRequest(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), nil, &job)
	return job, err
}

// ListJobs lists jobs, newest first.
func (c *APIClient) ListJobs(ctx context.Context, opts *models.ListOptions) (types.ListJobsResponse, error) {
	endpoint := "/api/v1/jobs"
	if opts != nil {
		query := url.Values{}
		if opts.Limit > 0 {
			query.Set("limit", fmt.Sprintf("%d", opts.Limit))
		}
		if opts.Offset > 0 {
			query.Set("offset", fmt.Sprintf("%d", opts.Offset))
		}
		if opts.State != nil {
			query.Set("state", opts.State.String())
		}
		if encoded := query.Encode(); encoded != "" {
			endpoint += "?" + encoded
		}
	}
	var resp types.ListJobsResponse
	err := c.executeRequest(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CancelJob cancels a running job, or archives it when already terminal.
func (c *APIClient) CancelJob(ctx context.Context, jobID string) (types.CancelJobResponse, error) {
	var resp types.CancelJobResponse
	err := c.executeRequest(ctx, http.MethodDelete, "/api/v1/jobs/"+url.PathEscape(jobID), nil, &resp)
	return resp, err
}

// GetConfig returns the active settings snapshot.
func (c *APIClient) GetConfig(ctx context.Context) (types.ConfigResponse, error) {
	var resp types.ConfigResponse
	err := c.executeRequest(ctx, http.MethodGet, "/api/v1/config", nil, &resp)
	return resp, err
}

// UpdateConfig replaces the sections present in the request.
func (c *APIClient) UpdateConfig(ctx context.Context, req types.UpdateConfigRequest) (types.ConfigResponse, error) {
	var resp types.ConfigResponse
	err := c.executeRequest(ctx, http.MethodPut, "/api/v1/config", req, &resp)
	return resp, err
}
