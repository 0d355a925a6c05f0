package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/visual-diff/internal/inference"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration.
// Each goroutine holds its own reference on the shared models.
func (o *Orchestrator) spawnWorkerPool(ctx context.Context) error {
	o.logger.Info("Spawning worker pool",
		slog.Int("concurrency", o.concurrency),
		slog.String("worker_id", o.workerID),
	)

	for i := 0; i < o.concurrency; i++ {
		models, err := o.models.Acquire()
		if err != nil {
			return fmt.Errorf("failed to acquire models: %w", err)
		}
		o.wg.Add(1)
		go o.workerLoop(ctx, i, models)
	}

	o.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", o.concurrency),
	)
	return nil
}

// workerLoop is the main processing loop for each worker goroutine
func (o *Orchestrator) workerLoop(ctx context.Context, workerNum int, models *inference.Models) {
	defer o.wg.Done()
	defer func() {
		if err := models.Release(); err != nil {
			o.logger.Warn("Failed to release models", slog.String("error", err.Error()))
		}
	}()

	workerName := fmt.Sprintf("%s-%d", o.workerID, workerNum)
	o.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
		slog.Int("worker_num", workerNum),
	)

	for {
		select {
		case <-o.stopChan:
			o.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			o.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-o.jobsChan:
			if !ok {
				return
			}

			o.logger.Info("Worker received job",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
			)

			err := o.processJob(ctx, msg, models)
			o.settle(workerName, msg, err)
		}
	}
}

// settle acknowledges a RabbitMQ delivery. In-process messages carry no
// delivery tag and need nothing.
func (o *Orchestrator) settle(workerName string, msg *domain.JobMessage, err error) {
	if err != nil {
		o.logger.Error("Job processing failed",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}
	if o.rabbitClient == nil || msg.DeliveryTag == 0 {
		return
	}

	if err != nil {
		requeue := shouldRequeueJob(err)
		if nackErr := o.rabbitClient.Nack(msg.DeliveryTag, requeue); nackErr != nil {
			o.logger.Error("Failed to NACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.String("error", nackErr.Error()),
			)
			return
		}
		o.logger.Info("Message NACKed",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
			slog.Bool("requeue", requeue),
		)
		return
	}

	if ackErr := o.rabbitClient.Ack(msg.DeliveryTag); ackErr != nil {
		o.logger.Error("Failed to ACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
			slog.String("error", ackErr.Error()),
		)
	}
}

// shouldRequeueJob determines if a job should be requeued based on the error type
func shouldRequeueJob(err error) bool {
	// Don't requeue if job already claimed by another worker
	if errors.Is(err, domain.ErrJobAlreadyClaimed) {
		return false
	}

	// Don't requeue if the job is gone or the message was malformed
	if errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}

	// Requeue for transient/retryable errors
	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
