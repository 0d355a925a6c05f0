package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/visual-diff/internal/artifact"
	"github.com/cuongbtq/visual-diff/internal/inference"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
	"github.com/cuongbtq/visual-diff/internal/pipeline"
)

var errShuttingDown = errors.New("interrupted: worker shutting down")

// processJob claims a job and runs it to a terminal state. The returned error
// only drives the ACK/NACK decision: a job that ends failed has been handled
// and returns nil.
func (o *Orchestrator) processJob(ctx context.Context, msg *domain.JobMessage, models *inference.Models) error {
	// Step 1: Claim job (queued → processing)
	job, err := o.store.Claim(ctx, msg.JobID, o.workerID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobAlreadyClaimed):
			o.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("job already claimed: %w", err)
		case errors.Is(err, domain.ErrJobNotFound):
			return fmt.Errorf("claim job: %w", err)
		}
		// Store error - could be transient
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	// Step 2: Bound the run and watch for cancel requests
	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, o.jobTimeout)
	defer cancelTimeout()
	jobCtx, cancelJob := context.WithCancelCause(timeoutCtx)
	defer cancelJob(nil)

	watchDone := make(chan struct{})
	go o.watchCancel(jobCtx, job.ID, cancelJob, watchDone)
	defer close(watchDone)

	// Step 3: Run the stages
	started := o.now()
	result, annotated, err := o.executeJob(jobCtx, job, models)

	// Step 4: Record the outcome on a context that outlives the job
	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelRecord()

	if err != nil {
		message := o.failureMessage(jobCtx, ctx, err)
		o.logger.Error("Job execution failed",
			slog.String("job_id", job.ID),
			slog.String("error", message),
			slog.Duration("elapsed", o.now().Sub(started)),
		)
		if failErr := o.store.Fail(recordCtx, job.ID, message); failErr != nil {
			o.logger.Error("Failed to update job status to failed",
				slog.String("job_id", job.ID),
				slog.String("error", failErr.Error()),
			)
			return fmt.Errorf("record failure: %w", failErr)
		}
		return nil
	}

	if err := o.store.Complete(recordCtx, job.ID, result); err != nil {
		o.logger.Error("Failed to update job status to completed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("record completion: %w", err)
	}

	o.logger.Info("Job completed successfully",
		slog.String("job_id", job.ID),
		slog.Int("num_changes", result.NumChanges),
		slog.Bool("alignment_degraded", result.Alignment.Degraded),
		slog.Duration("elapsed", o.now().Sub(started)),
	)

	if o.notifier != nil {
		done, getErr := o.store.Get(recordCtx, job.ID)
		if getErr == nil {
			if nErr := o.notifier.NotifyCompleted(recordCtx, done, annotated); nErr != nil {
				o.logger.Warn("Completion notification failed",
					slog.String("job_id", job.ID),
					slog.String("error", nErr.Error()),
				)
			}
		}
	}
	return nil
}

// failureMessage is the error text a failed job exposes.
func (o *Orchestrator) failureMessage(jobCtx, poolCtx context.Context, err error) string {
	switch {
	case errors.Is(context.Cause(jobCtx), domain.ErrJobCanceled):
		return domain.ErrJobCanceled.Error()
	case poolCtx.Err() != nil:
		return errShuttingDown.Error()
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("%s (job timeout %s exceeded)", err.Error(), o.jobTimeout)
	}
	return err.Error()
}

// watchCancel polls the job record and cancels the run once a cancel request
// shows up. Stages observe it at their next checkpoint.
func (o *Orchestrator) watchCancel(ctx context.Context, jobID string, cancel context.CancelCauseFunc, done <-chan struct{}) {
	ticker := time.NewTicker(o.cancelPoll)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := o.store.Get(ctx, jobID)
			if err != nil {
				o.logger.Debug("Cancel watch lookup failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if job.CancelRequested {
				o.logger.Info("Cancel requested, stopping job",
					slog.String("job_id", jobID),
				)
				cancel(domain.ErrJobCanceled)
				return
			}
		}
	}
}

// checkpoint stops the job between stages when it was canceled or timed out.
func checkpoint(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}

// progress records the stage marker. A failed write is logged, not fatal.
func (o *Orchestrator) progress(ctx context.Context, jobID, marker string) {
	if err := o.store.UpdateProgress(ctx, jobID, marker); err != nil {
		o.logger.Warn("Failed to update job progress",
			slog.String("job_id", jobID),
			slog.String("progress", marker),
			slog.String("error", err.Error()),
		)
		return
	}
	o.logger.Debug("Job progress", slog.String("job_id", jobID), slog.String("progress", marker))
}

func (o *Orchestrator) persist(ctx context.Context, jobID string, arts []pipeline.Artifact, names *[]string) error {
	for _, a := range arts {
		if err := o.artifacts.Put(ctx, jobID, a.Name, a.Data); err != nil {
			return pipeline.Wrap(pipeline.StagePersist, fmt.Errorf("store %s: %w", a.Name, err))
		}
		*names = append(*names, a.Name)
	}
	return nil
}

// executeJob runs the stages strictly in order, persisting each stage's
// artifacts as soon as they exist. It returns the result and the annotated
// current image for notifications.
func (o *Orchestrator) executeJob(ctx context.Context, job *domain.Job, models *inference.Models) (*domain.Result, []byte, error) {
	p := o.pipeline
	var names []string

	// load
	baselineData, err := o.input(ctx, job.ID, artifact.InputBaseline, "baseline")
	if err != nil {
		return nil, nil, err
	}
	currentData, err := o.input(ctx, job.ID, artifact.InputCurrent, "current")
	if err != nil {
		return nil, nil, err
	}
	pair, err := p.Load(ctx, baselineData, currentData)
	if err != nil {
		return nil, nil, err
	}
	roi, err := pipeline.ResolveROI(job.ROI, pair.Baseline.Rect.Dx(), pair.Baseline.Rect.Dy())
	if err != nil {
		return nil, nil, pipeline.Wrap(pipeline.StageLoad, err)
	}
	arts, err := pipeline.LoadArtifacts(pair)
	if err != nil {
		return nil, nil, pipeline.Wrap(pipeline.StagePersist, err)
	}
	if err := o.persist(ctx, job.ID, arts, &names); err != nil {
		return nil, nil, err
	}

	// align
	if err := checkpoint(ctx); err != nil {
		return nil, nil, err
	}
	o.progress(ctx, job.ID, domain.ProgressAligning)
	aligned, err := p.Align(ctx, models, pair)
	if err != nil {
		return nil, nil, err
	}
	if aligned.Degraded {
		if err := o.store.MarkAlignmentDegraded(ctx, job.ID); err != nil {
			o.logger.Warn("Failed to flag degraded alignment",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if arts, err = pipeline.AlignArtifacts(pair.Baseline, aligned); err != nil {
		return nil, nil, pipeline.Wrap(pipeline.StagePersist, err)
	}
	if err := o.persist(ctx, job.ID, arts, &names); err != nil {
		return nil, nil, err
	}

	// normalize
	if err := checkpoint(ctx); err != nil {
		return nil, nil, err
	}
	o.progress(ctx, job.ID, domain.ProgressNormalizing)
	norm, err := p.Normalize(ctx, pair.Baseline, aligned.Warped)
	if err != nil {
		return nil, nil, err
	}
	if p.Config().PersistNormalized {
		if arts, err = pipeline.NormalizeArtifacts(norm); err != nil {
			return nil, nil, pipeline.Wrap(pipeline.StagePersist, err)
		}
		if err := o.persist(ctx, job.ID, arts, &names); err != nil {
			return nil, nil, err
		}
	}

	// detect
	if err := checkpoint(ctx); err != nil {
		return nil, nil, err
	}
	o.progress(ctx, job.ID, domain.ProgressDetecting)
	regions, err := p.Detect(ctx, models, norm, roi)
	if err != nil {
		return nil, nil, err
	}

	// classify
	if err := checkpoint(ctx); err != nil {
		return nil, nil, err
	}
	o.progress(ctx, job.ID, fmt.Sprintf(domain.ProgressClassifying, len(regions)))
	labels, err := p.Classify(ctx, models, pair.Baseline, aligned.Warped, regions)
	if err != nil {
		return nil, nil, err
	}

	// render
	if err := checkpoint(ctx); err != nil {
		return nil, nil, err
	}
	o.progress(ctx, job.ID, domain.ProgressPersisting)
	if arts, err = pipeline.AnnotatedArtifacts(pair.Baseline, aligned.Warped, regions, aligned.Degraded); err != nil {
		return nil, nil, pipeline.Wrap(pipeline.StagePersist, err)
	}
	if err := o.persist(ctx, job.ID, arts, &names); err != nil {
		return nil, nil, err
	}
	var annotated []byte
	for _, a := range arts {
		if a.Name == artifact.AnnotatedCurrent {
			annotated = a.Data
		}
	}

	result := pipeline.BuildResult(aligned, norm, regions, labels, p.Config().EnableChangeDetection)
	result.Artifacts = names

	md, err := pipeline.NewMetadata(job, result).Artifact()
	if err != nil {
		return nil, nil, pipeline.Wrap(pipeline.StagePersist, err)
	}
	if err := o.persist(ctx, job.ID, []pipeline.Artifact{md}, &result.Artifacts); err != nil {
		return nil, nil, err
	}

	// the last chance to honour a cancel before the job is final
	if err := checkpoint(ctx); err != nil {
		return nil, nil, err
	}
	return result, annotated, nil
}

// input fetches a submitted image. A missing input fails the load stage and
// names the image.
func (o *Orchestrator) input(ctx context.Context, jobID, name, which string) ([]byte, error) {
	data, err := o.artifacts.Get(ctx, jobID, name)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.StageLoad, fmt.Errorf("%s image: %w", which, err))
	}
	return data, nil
}
