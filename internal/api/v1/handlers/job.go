// Package handlers implements the v1 HTTP handlers.
package handlers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/pipeline"
	"github.com/docuflow/docuflow/internal/registry"
	"github.com/docuflow/docuflow/internal/types"
)

// JobHandler serves the job lifecycle endpoints.
type JobHandler struct {
	pipeline *pipeline.Orchestrator
	registry *registry.Registry
}

// NewJobHandler creates a job handler.
func NewJobHandler(p *pipeline.Orchestrator, r *registry.Registry) *JobHandler {
	return &JobHandler{pipeline: p, registry: r}
}

// SubmitJob handles POST /jobs. A document with an active job is rejected
// with 409.
func (h *JobHandler) SubmitJob(c *fiber.Ctx) error {
	var req types.SubmitJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(fmt.Sprintf("invalid request body: %v", err)))
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}

	job, err := h.pipeline.Submit(c.Context(), req.DocumentRef, req.DocumentClass)
	if err != nil {
		if errors.Is(err, registry.ErrDuplicateJob) {
			return c.Status(fiber.StatusConflict).JSON(errDuplicate(err.Error()))
		}
		return c.Status(fiber.StatusInternalServerError).JSON(errServer(fmt.Sprintf("failed to submit job: %v", err)))
	}

	return c.Status(fiber.StatusCreated).JSON(success(types.SubmitJobResponse{
		JobID: job.JobID,
		State: job.State,
	}))
}

// GetJob handles GET /jobs/:id.
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput("job id is required"))
	}

	job, err := h.pipeline.GetStatus(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, registry.ErrJobNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(errNotFound(err.Error()))
		}
		return c.Status(fiber.StatusInternalServerError).JSON(errServer(fmt.Sprintf("failed to get job: %v", err)))
	}
	return c.JSON(success(job))
}

// ListJobs handles GET /jobs with optional state filter and paging.
func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	opts := &models.ListOptions{
		Limit:  c.QueryInt("limit", models.DefaultLimit),
		Offset: c.QueryInt("offset", 0),
	}
	if stateStr := c.Query("state"); stateStr != "" {
		state, err := models.ParseJobState(stateStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
		}
		opts.State = &state
	}

	jobs, err := h.registry.List(c.Context(), opts)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errServer(fmt.Sprintf("failed to list jobs: %v", err)))
	}

	return c.JSON(success(types.ListJobsResponse{
		Jobs: jobs,
		Pagination: types.PaginationResponse{
			Total:  len(jobs),
			Limit:  opts.Limit,
			Offset: opts.Offset,
		},
	}))
}

// CancelJob handles DELETE /jobs/:id: best-effort cancel for running jobs,
// archive for jobs already terminal.
func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput("job id is required"))
	}

	cancelled, err := h.pipeline.Cancel(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, registry.ErrJobNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(errNotFound(err.Error()))
		}
		return c.Status(fiber.StatusInternalServerError).JSON(errServer(fmt.Sprintf("failed to cancel job: %v", err)))
	}

	resp := types.CancelJobResponse{JobID: jobID, Cancelled: cancelled}
	if !cancelled {
		// Already terminal: free the document ref instead
		if err := h.registry.RemoveIfTerminal(c.Context(), jobID); err == nil {
			resp.Archived = true
		}
	}
	return c.JSON(success(resp))
}
