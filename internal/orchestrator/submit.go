package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/visual-diff/internal/artifact"
	"github.com/cuongbtq/visual-diff/internal/imaging"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
	"github.com/cuongbtq/visual-diff/shared/rabbitmq"
	"github.com/google/uuid"
)

// Submission is one comparison request.
type Submission struct {
	Baseline []byte
	Current  []byte
	Metadata map[string]any
	ROI      *domain.BBox
}

// Submit stores the inputs, records a queued job and enqueues it. It never
// waits for processing. Images are decoded by the worker, so a corrupt image
// is reported on the job rather than here.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (string, error) {
	if len(sub.Baseline) == 0 {
		return "", fmt.Errorf("%w: baseline image: %w", domain.ErrInvalidPayload, imaging.ErrEmptyInput)
	}
	if len(sub.Current) == 0 {
		return "", fmt.Errorf("%w: current image: %w", domain.ErrInvalidPayload, imaging.ErrEmptyInput)
	}
	if sub.ROI != nil && (sub.ROI.X0 == sub.ROI.X1 || sub.ROI.Y0 == sub.ROI.Y1) {
		return "", fmt.Errorf("%w: region of interest %s is empty", domain.ErrInvalidPayload, sub.ROI)
	}

	jobID := uuid.NewString()
	if err := o.artifacts.Put(ctx, jobID, artifact.InputBaseline, sub.Baseline); err != nil {
		return "", fmt.Errorf("store baseline input: %w", err)
	}
	if err := o.artifacts.Put(ctx, jobID, artifact.InputCurrent, sub.Current); err != nil {
		o.discardInputs(ctx, jobID)
		return "", fmt.Errorf("store current input: %w", err)
	}

	now := o.now()
	job := &domain.Job{
		ID:        jobID,
		Status:    domain.StatusQueued,
		Progress:  domain.ProgressQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  sub.Metadata,
		ROI:       sub.ROI,
	}
	if err := o.store.Create(ctx, job); err != nil {
		o.discardInputs(ctx, jobID)
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	if err := o.enqueue(ctx, jobID); err != nil {
		o.logger.Error("Failed to enqueue job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		o.abandon(ctx, jobID)
		return "", err
	}

	o.logger.Info("Job submitted",
		slog.String("job_id", jobID),
		slog.Int("baseline_bytes", len(sub.Baseline)),
		slog.Int("current_bytes", len(sub.Current)),
	)
	return jobID, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, jobID string) error {
	if o.rabbitClient != nil {
		body, err := json.Marshal(domain.JobMessage{JobID: jobID})
		if err != nil {
			return fmt.Errorf("failed to marshal job message: %w", err)
		}
		msg := rabbitmq.Message{ID: jobID, ContentType: "application/json", Body: body}
		if err := o.rabbitClient.PublishWithRetry(ctx, msg); err != nil {
			return fmt.Errorf("failed to publish job: %w", err)
		}
		return nil
	}

	select {
	case o.jobsChan <- &domain.JobMessage{JobID: jobID}:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// abandon removes a job that never reached the queue.
func (o *Orchestrator) abandon(ctx context.Context, jobID string) {
	ctx = context.WithoutCancel(ctx)
	if err := o.store.Fail(ctx, jobID, "not enqueued"); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		o.logger.Warn("Failed to fail abandoned job", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
	if err := o.store.Delete(ctx, jobID); err != nil {
		o.logger.Warn("Failed to delete abandoned job", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
	o.discardInputs(ctx, jobID)
}

func (o *Orchestrator) discardInputs(ctx context.Context, jobID string) {
	if err := o.artifacts.DeleteJob(context.WithoutCancel(ctx), jobID); err != nil {
		o.logger.Warn("Failed to remove job artifacts", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
}
