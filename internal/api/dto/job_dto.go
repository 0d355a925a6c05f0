package dto

import (
	"time"

	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
)

// CreateJobResponse is returned by POST /api/v1/jobs.
type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// OutcomeDTO is the tagged outcome: kind is processing, completed or failed
// and only the fields of that kind are set.
type OutcomeDTO struct {
	Kind     string         `json:"kind"`
	State    string         `json:"state,omitempty"`
	Progress string         `json:"progress,omitempty"`
	Result   *domain.Result `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type JobDTO struct {
	JobID           string         `json:"job_id"`
	Status          string         `json:"status"`
	Progress        string         `json:"progress"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
	StartedAt       string         `json:"started_at,omitempty"`
	FinishedAt      string         `json:"finished_at,omitempty"`
	WorkerID        string         `json:"worker_id,omitempty"`
	CancelRequested bool           `json:"cancel_requested,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ROI             *domain.BBox   `json:"roi,omitempty"`
	Outcome         OutcomeDTO     `json:"outcome"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// FromJob renders a job snapshot.
func FromJob(job *domain.Job) JobDTO {
	out := JobDTO{
		JobID:           job.ID,
		Status:          string(job.Status),
		Progress:        job.Progress,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339Nano),
		WorkerID:        job.WorkerID,
		CancelRequested: job.CancelRequested,
		Metadata:        job.Metadata,
		ROI:             job.ROI,
	}
	if job.StartedAt != nil {
		out.StartedAt = job.StartedAt.Format(time.RFC3339Nano)
	}
	if job.FinishedAt != nil {
		out.FinishedAt = job.FinishedAt.Format(time.RFC3339Nano)
	}

	switch o := job.Outcome().(type) {
	case domain.Processing:
		out.Outcome = OutcomeDTO{Kind: o.Kind(), State: string(o.State), Progress: o.Progress}
	case domain.Completed:
		res := o.Result
		out.Outcome = OutcomeDTO{Kind: o.Kind(), Result: &res}
	case domain.Failed:
		out.Outcome = OutcomeDTO{Kind: o.Kind(), Error: o.Error}
	}
	return out
}
