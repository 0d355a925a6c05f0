package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose id is taken
	ErrJobExists = errors.New("job already exists")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that is not queued
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in queued status")

	// ErrInvalidTransition is returned when a status change would move a job backwards or out of a terminal state
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrJobNotTerminal is returned when deleting a job that is still queued or processing
	ErrJobNotTerminal = errors.New("job is not finished")

	// ErrInvalidPayload is returned when a queue message or job input is malformed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrQueueFull is returned when the in-process queue cannot take another job
	ErrQueueFull = errors.New("job queue is full")

	// ErrJobCanceled is recorded when a job stops because cancellation was requested
	ErrJobCanceled = errors.New("canceled")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
