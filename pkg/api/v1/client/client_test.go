package client

import (
	"context"
	"errors"
	"net"
	"testing"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/types"
)

// startStubServer runs a minimal API double on a random port.
func startStubServer(t *testing.T) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	app.Post("/api/v1/jobs", func(c *fiber.Ctx) error {
		var req types.SubmitJobRequest
		if err := c.BodyParser(&req); err != nil || req.DocumentRef == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"slug": "invalid-input", "error": "document_ref is required",
			})
		}
		if req.DocumentRef == "docs/busy.pdf" {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"slug": "duplicate-job", "error": "document already has an active job",
			})
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"slug": "success",
			"data": types.SubmitJobResponse{JobID: "job-1", State: models.JobStateQueued},
		})
	})
	app.Get("/api/v1/jobs/:id", func(c *fiber.Ctx) error {
		if c.Params("id") != "job-1" {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"slug": "not-found", "error": "job not found",
			})
		}
		return c.JSON(fiber.Map{
			"slug": "success",
			"data": models.Job{JobID: "job-1", DocumentRef: "docs/a.pdf", State: models.JobStateCompleted},
		})
	})
	app.Get("/api/v1/jobs", func(c *fiber.Ctx) error {
		assert.Equal(t, "failed", c.Query("state"))
		return c.JSON(fiber.Map{
			"slug": "success",
			"data": types.ListJobsResponse{
				Jobs:       []models.Job{{JobID: "job-2", State: models.JobStateFailed}},
				Pagination: types.PaginationResponse{Total: 1, Limit: 10},
			},
		})
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	return "http://" + ln.Addr().String()
}

func testClient(t *testing.T) *APIClient {
	t.Helper()
	c, err := NewClient(&Options{BaseURL: startStubServer(t)})
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(&Options{BaseURL: "://not-a-url"})
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	c := testClient(t)
	status, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", status["status"])
}

func TestSubmitJob(t *testing.T) {
	c := testClient(t)
	resp, err := c.SubmitJob(context.Background(), types.SubmitJobRequest{DocumentRef: "docs/a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, models.JobStateQueued, resp.State)
}

func TestSubmitJobDuplicate(t *testing.T) {
	c := testClient(t)
	_, err := c.SubmitJob(context.Background(), types.SubmitJobRequest{DocumentRef: "docs/busy.pdf"})
	require.Error(t, err)

	var fiberErr *fiber.Error
	require.True(t, errors.As(err, &fiberErr))
	assert.Equal(t, fiber.StatusConflict, fiberErr.Code)
	assert.Contains(t, fiberErr.Message, "active job")
}

func TestGetJob(t *testing.T) {
	c := testClient(t)
	job, err := c.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, job.State)

	_, err = c.GetJob(context.Background(), "missing")
	var fiberErr *fiber.Error
	require.True(t, errors.As(err, &fiberErr))
	assert.Equal(t, fiber.StatusNotFound, fiberErr.Code)
}

func TestListJobsQueryParams(t *testing.T) {
	c := testClient(t)
	state := models.JobStateFailed
	resp, err := c.ListJobs(context.Background(), &models.ListOptions{Limit: 10, State: &state})
	require.NoError(t, err)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, models.JobStateFailed, resp.Jobs[0].State)
}
