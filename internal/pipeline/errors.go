package pipeline

import "errors"

// Stage names a pipeline step. It prefixes the error of a failed job.
type Stage string

const (
	StageLoad      Stage = "load"
	StageAlign     Stage = "align"
	StageNormalize Stage = "normalize"
	StageDetect    Stage = "detect"
	StageClassify  Stage = "classify"
	StagePersist   Stage = "persist"
)

// StageError records which stage aborted a job.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Wrap attributes err to stage unless it already carries a stage.
func Wrap(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage that produced err.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
