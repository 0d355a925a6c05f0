package domain

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// BBox is a half-open pixel box in baseline coordinates.
type BBox struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

func (b BBox) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", b.X0, b.Y0, b.X1, b.Y1)
}

// Label is one ranked classification candidate.
type Label struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Region is one detected change with its classification.
type Region struct {
	ID                       int     `json:"id"`
	BBox                     BBox    `json:"bbox"`
	Area                     int     `json:"area"`
	ChangeConfidence         float64 `json:"change_confidence"`
	Kind                     string  `json:"kind"`
	ClassifiedLabel          string  `json:"classified_label"`
	ClassificationConfidence float64 `json:"classification_confidence"`
	// Alternatives holds at most two runner-up labels
	Alternatives        []Label `json:"alternatives"`
	ClassificationError string  `json:"classification_error,omitempty"`
}

// Alignment summarizes the registration stage.
type Alignment struct {
	Matches       int         `json:"matches"`
	Inliers       int         `json:"inliers"`
	InlierRatio   float64     `json:"inlier_ratio"`
	Degraded      bool        `json:"degraded"`
	DegradeReason string      `json:"degrade_reason,omitempty"`
	Coverage      float64     `json:"coverage"`
	Transform     *[9]float64 `json:"transform"`
}

// Normalization summarizes photometric similarity after normalization.
type Normalization struct {
	SSIM float64 `json:"ssim"`
	PSNR float64 `json:"psnr"`
}

// Result is the payload of a completed job.
type Result struct {
	NumChanges             int           `json:"num_changes"`
	Regions                []Region      `json:"regions"`
	Alignment              Alignment     `json:"alignment"`
	Normalization          Normalization `json:"normalization"`
	ChangeDetectionEnabled bool          `json:"change_detection_enabled"`
	Artifacts              []string      `json:"artifacts"`
}

// Clone returns a deep copy.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	c.Regions = make([]Region, len(r.Regions))
	for i, reg := range r.Regions {
		reg.Alternatives = slices.Clone(reg.Alternatives)
		c.Regions[i] = reg
	}
	c.Artifacts = slices.Clone(r.Artifacts)
	if r.Alignment.Transform != nil {
		t := *r.Alignment.Transform
		c.Alignment.Transform = &t
	}
	return &c
}

// Job is the orchestrator's record of one comparison.
type Job struct {
	ID              string         `json:"job_id"`
	Status          Status         `json:"status"`
	Progress        string         `json:"progress"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	WorkerID        string         `json:"worker_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ROI             *BBox          `json:"roi,omitempty"`
	Result          *Result        `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	CancelRequested bool           `json:"cancel_requested"`

	// AlignmentDegraded is set by the worker once registration fell back.
	AlignmentDegraded bool `json:"alignment_degraded"`
}

// Clone returns a copy that shares nothing mutable with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Metadata = maps.Clone(j.Metadata)
	c.Result = j.Result.Clone()
	if j.ROI != nil {
		roi := *j.ROI
		c.ROI = &roi
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Outcome is the tagged view of a job: exactly one of Processing, Completed
// or Failed.
type Outcome interface {
	Kind() string
	isOutcome()
}

// Processing covers queued and running jobs.
type Processing struct {
	State    Status `json:"state"`
	Progress string `json:"progress"`
}

// Completed carries the full result.
type Completed struct {
	Result Result `json:"result"`
}

// Failed carries the error that ended the job.
type Failed struct {
	Error string `json:"error"`
}

func (Processing) Kind() string { return "processing" }
func (Completed) Kind() string  { return "completed" }
func (Failed) Kind() string     { return "failed" }

func (Processing) isOutcome() {}
func (Completed) isOutcome()  {}
func (Failed) isOutcome()     {}

// Outcome derives the tagged view from the job's status.
func (j *Job) Outcome() Outcome {
	switch j.Status {
	case StatusCompleted:
		var res Result
		if j.Result != nil {
			res = *j.Result.Clone()
		}
		return Completed{Result: res}
	case StatusFailed:
		msg := j.Error
		if msg == "" {
			msg = "unknown error"
		}
		return Failed{Error: msg}
	default:
		return Processing{State: j.Status, Progress: j.Progress}
	}
}

// JobMessage represents a job message from the queue
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}
