// Package storage keeps job records. Readers always get copies; the worker
// that claimed a job is the only writer of its progress and outcome.
package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
)

// Filter selects a page of jobs ordered by created_at DESC, job_id DESC.
type Filter struct {
	Status   domain.Status
	PageSize int
	Cursor   *Cursor
}

// Cursor is the position after which the next page starts.
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// Store is the job registry.
//
// List returns up to PageSize+1 jobs so callers can tell whether another page
// exists. Every mutating call enforces domain.Status.CanTransition and returns
// domain.ErrInvalidTransition otherwise.
type Store interface {
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter Filter) ([]*domain.Job, error)

	// Claim moves a queued job to processing for workerID.
	Claim(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	UpdateProgress(ctx context.Context, jobID, progress string) error
	// MarkAlignmentDegraded records that registration fell back to the
	// unwarped current image, so no alignment overlay will be written.
	MarkAlignmentDegraded(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, result *domain.Result) error
	Fail(ctx context.Context, jobID, message string) error

	// RequestCancel fails a queued job at once and flags a processing one.
	RequestCancel(ctx context.Context, jobID string) (*domain.Job, error)
	// Delete removes a terminal job.
	Delete(ctx context.Context, jobID string) error

	Ping(ctx context.Context) error
}

func after(job *domain.Job, c *Cursor) bool {
	if c == nil {
		return true
	}
	if job.CreatedAt.Equal(c.CreatedAt) {
		return job.ID < c.JobID
	}
	return job.CreatedAt.Before(c.CreatedAt)
}
