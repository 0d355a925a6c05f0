package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/visual-diff/internal/artifact"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/storage"
)

// Get returns a snapshot of the job.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return o.store.Get(ctx, jobID)
}

// List returns one page of jobs and the cursor of the next page, nil on the
// last one.
func (o *Orchestrator) List(ctx context.Context, filter storage.Filter) ([]*domain.Job, *storage.Cursor, error) {
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	jobs, err := o.store.List(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	if len(jobs) <= filter.PageSize {
		return jobs, nil, nil
	}
	jobs = jobs[:filter.PageSize]
	last := jobs[len(jobs)-1]
	return jobs, &storage.Cursor{CreatedAt: last.CreatedAt, JobID: last.ID}, nil
}

// Cancel stops a job. A queued job fails at once; a processing job is
// flagged and stops at its next stage boundary. Finished jobs return
// domain.ErrInvalidTransition.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.store.RequestCancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Job cancel requested",
		slog.String("job_id", jobID),
		slog.String("status", string(job.Status)),
	)
	return job, nil
}

// Delete removes a finished job and its artifacts.
func (o *Orchestrator) Delete(ctx context.Context, jobID string) error {
	if err := o.store.Delete(ctx, jobID); err != nil {
		return err
	}
	if err := o.artifacts.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("delete artifacts: %w", err)
	}
	o.logger.Info("Job deleted", slog.String("job_id", jobID))
	return nil
}

// Artifact returns a public artifact. A missing artifact is
// artifact.ErrNotReady while the job can still produce it and
// artifact.ErrNotFound once it cannot. A degraded alignment never writes an
// overlay, so that one is ErrNotFound as soon as the flag is set.
func (o *Orchestrator) Artifact(ctx context.Context, jobID, name string) ([]byte, error) {
	if !artifact.Public(name) {
		return nil, fmt.Errorf("%w: unknown artifact %q", artifact.ErrNotFound, name)
	}
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	data, err := o.artifacts.Get(ctx, jobID, name)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, artifact.ErrNotFound) {
		return nil, err
	}
	if name == artifact.AlignmentOverlay && job.AlignmentDegraded {
		return nil, fmt.Errorf("%w: %s (alignment degraded)", err, name)
	}
	if !job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s (job %s)", artifact.ErrNotReady, name, job.Status)
	}
	return nil, err
}

// Watch streams job snapshots whenever status or progress changes, polling
// every interval. The status sequence it emits never goes backwards. The
// channel closes after the terminal snapshot, when ctx ends or when the job
// disappears.
func (o *Orchestrator) Watch(ctx context.Context, jobID string, interval time.Duration) (<-chan *domain.Job, error) {
	first, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	out := make(chan *domain.Job, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := first
		select {
		case out <- first:
		case <-ctx.Done():
			return
		}

		for !last.Status.IsTerminal() {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			job, err := o.store.Get(ctx, jobID)
			if err != nil {
				return
			}
			if job.Status.Rank() < last.Status.Rank() {
				continue
			}
			if job.Status == last.Status && job.Progress == last.Progress {
				continue
			}
			last = job
			select {
			case out <- job:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
