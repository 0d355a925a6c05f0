package domain

// Status is the lifecycle state of a job.
type Status string

// Job status constants
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Progress markers written by the processor.
const (
	ProgressQueued      = "queued"
	ProgressLoading     = "loading images"
	ProgressAligning    = "aligning images"
	ProgressNormalizing = "normalizing photometry"
	ProgressDetecting   = "detecting changes"
	ProgressClassifying = "classifying %d regions"
	ProgressPersisting  = "rendering artifacts"
	ProgressDone        = "done"
	ProgressFailed      = "failed"
	ProgressCanceled    = "canceled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Rank orders statuses: queued < processing < completed = failed.
func (s Status) Rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether s -> to is allowed. A job never moves back and
// leaves a terminal state never.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusQueued:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}
