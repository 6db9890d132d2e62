// Package mock provides a configurable test double for the API client.
package mock

import (
	"context"
	"fmt"

	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/types"
)

// Client is a mock API client. Each method delegates to the corresponding
// function field when set, and fails the call otherwise.
type Client struct {
	HealthCheckFunc  func(ctx context.Context) (map[string]string, error)
	SubmitJobFunc    func(ctx context.Context, req types.SubmitJobRequest) (types.SubmitJobResponse, error)
	GetJobFunc       func(ctx context.Context, jobID string) (models.Job, error)
	ListJobsFunc     func(ctx context.Context, opts *models.ListOptions) (types.ListJobsResponse, error)
	CancelJobFunc    func(ctx context.Context, jobID string) (types.CancelJobResponse, error)
	GetConfigFunc    func(ctx context.Context) (types.ConfigResponse, error)
	UpdateConfigFunc func(ctx context.Context, req types.UpdateConfigRequest) (types.ConfigResponse, error)
}

// HealthCheck implements client.Client
func (m *Client) HealthCheck(ctx context.Context) (map[string]string, error) {
	if m.HealthCheckFunc == nil {
		return nil, fmt.Errorf("HealthCheck not mocked")
	}
	return m.HealthCheckFunc(ctx)
}

// SubmitJob implements client.Client
func (m *Client) SubmitJob(ctx context.Context, req types.SubmitJobRequest) (types.SubmitJobResponse, error) {
	if m.SubmitJobFunc == nil {
		return types.SubmitJobResponse{}, fmt.Errorf("SubmitJob not mocked")
	}
	return m.SubmitJobFunc(ctx, req)
}

// GetJob implements client.Client
func (m *Client) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	if m.GetJobFunc == nil {
		return models.Job{}, fmt.Errorf("GetJob not mocked")
	}
	return m.GetJobFunc(ctx, jobID)
}

// ListJobs implements client.Client
func (m *Client) ListJobs(ctx context.Context, opts *models.ListOptions) (types.ListJobsResponse, error) {
	if m.ListJobsFunc == nil {
		return types.ListJobsResponse{}, fmt.Errorf("ListJobs not mocked")
	}
	return m.ListJobsFunc(ctx, opts)
}

// CancelJob implements client.Client
func (m *Client) CancelJob(ctx context.Context, jobID string) (types.CancelJobResponse, error) {
	if m.CancelJobFunc == nil {
		return types.CancelJobResponse{}, fmt.Errorf("CancelJob not mocked")
	}
	return m.CancelJobFunc(ctx, jobID)
}

// GetConfig implements client.Client
func (m *Client) GetConfig(ctx context.Context) (types.ConfigResponse, error) {
	if m.GetConfigFunc == nil {
		return types.ConfigResponse{}, fmt.Errorf("GetConfig not mocked")
	}
	return m.GetConfigFunc(ctx)
}

// UpdateConfig implements client.Client
func (m *Client) UpdateConfig(ctx context.Context, req types.UpdateConfigRequest) (types.ConfigResponse, error) {
	if m.UpdateConfigFunc == nil {
		return types.ConfigResponse{}, fmt.Errorf("UpdateConfig not mocked")
	}
	return m.UpdateConfigFunc(ctx, req)
}
