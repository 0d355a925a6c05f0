package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/visual-diff/internal/orchestrator"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/storage"
)

// JobService is the orchestrator surface the handlers use.
type JobService interface {
	Submit(ctx context.Context, sub orchestrator.Submission) (string, error)
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter storage.Filter) ([]*domain.Job, *storage.Cursor, error)
	Cancel(ctx context.Context, jobID string) (*domain.Job, error)
	Delete(ctx context.Context, jobID string) error
	Artifact(ctx context.Context, jobID, name string) ([]byte, error)
	Watch(ctx context.Context, jobID string, interval time.Duration) (<-chan *domain.Job, error)
	Health(ctx context.Context) orchestrator.HealthReport
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger            *slog.Logger
	Jobs              JobService
	ServiceName       string
	MaxUploadBytes    int64
	EventPollInterval time.Duration
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger         *slog.Logger
	jobs           JobService
	maxUploadBytes int64
	eventInterval  time.Duration
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 64 << 20
	}
	interval := deps.EventPollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &JobHandler{
		logger:         deps.Logger,
		jobs:           deps.Jobs,
		maxUploadBytes: maxUpload,
		eventInterval:  interval,
	}
}
