package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer starts the RabbitMQ consumer. The prefetch count bounds
// unacknowledged deliveries to what the pool can hold.
func (o *Orchestrator) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := o.rabbitClient.Consume(o.workerID, o.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	o.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", o.workerID),
		slog.Int("prefetch_count", o.prefetchCount),
	)
	return deliveries, nil
}

// parseJobMessage decodes a queue body into a JobMessage.
func parseJobMessage(body []byte, tag uint64) (*domain.JobMessage, error) {
	var msg domain.JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return nil, fmt.Errorf("%w: job_id %q is not a UUID", domain.ErrInvalidPayload, msg.JobID)
	}
	msg.DeliveryTag = tag
	return &msg, nil
}

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches jobs to worker pool
func (o *Orchestrator) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	o.logger.Info("Message dispatcher started",
		slog.String("worker_id", o.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-o.stopChan:
			o.logger.Info("Message dispatcher stopped")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				o.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			msg, err := parseJobMessage(delivery.Body, delivery.DeliveryTag)
			if err != nil {
				o.logger.Error("Dropping malformed job message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// rejected without requeue: dead-lettered when the queue has a DLX
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					o.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			select {
			case o.jobsChan <- msg:
				o.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				o.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					o.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			case <-o.stopChan:
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					o.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}
