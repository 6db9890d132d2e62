// Package types defines the request and response shapes shared by the API
// server and its clients.
package types

import (
	"fmt"

	"github.com/docuflow/docuflow/internal/db/models"
)

// SubmitJobRequest is the body of POST /api/v1/jobs.
type SubmitJobRequest struct {
	// DocumentRef is the opaque handle to the document in the document store
	DocumentRef string `json:"document_ref"`
	// DocumentClass optionally pre-labels the document (e.g. "invoice")
	DocumentClass string `json:"document_class,omitempty"`
}

// Validate checks the request for required fields.
func (r *SubmitJobRequest) Validate() error {
	if r.DocumentRef == "" {
		return fmt.Errorf("document_ref is required")
	}
	return nil
}

// SubmitJobResponse is returned from a successful submission.
type SubmitJobResponse struct {
	JobID string          `json:"job_id"`
	State models.JobState `json:"state"`
}

// ListJobsResponse is the body of GET /api/v1/jobs.
type ListJobsResponse struct {
	Jobs       []models.Job       `json:"jobs"`
	Pagination PaginationResponse `json:"pagination"`
}

// CancelJobResponse reports what DELETE /api/v1/jobs/:id did.
type CancelJobResponse struct {
	JobID string `json:"job_id"`
	// Cancelled is true when the job was still running and is now failed
	Cancelled bool `json:"cancelled"`
	// Archived is true when the job was already terminal and has been
	// removed from the active set
	Archived bool `json:"archived"`
}
