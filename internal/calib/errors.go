package calib

import (
	"fmt"

	"github.com/pkg/errors"
)

// Stage names the pipeline step a StageError came from.
type Stage string

// Pipeline stages.
const (
	StageConfig       Stage = "configuration"
	StageDetection    Stage = "detection"
	StageSolve        Stage = "solve"
	StageValidation   Stage = "validation"
	StageScoring      Stage = "scoring"
	StagePersistence  Stage = "persistence"
	StageUndistortion Stage = "undistortion"
)

var (
	// ErrNoImages is returned when the batch is empty.
	ErrNoImages = errors.New("no calibration images")
	// ErrNoViews is returned when the pattern was found in no image.
	ErrNoViews = errors.New("pattern not found in any image")
	// ErrInsufficientViews is returned when fewer than the minimum views were accepted.
	ErrInsufficientViews = errors.New("not enough usable views")
	// ErrSolveFailed is returned when the solver gives up or diverges.
	ErrSolveFailed = errors.New("calibration solve failed")
)

// StageError reports which stage of a session failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("calibration %s stage failed: %v", e.Stage, e.Err)
}

// Unwrap supports errors.Is and errors.As.
func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the failed stage of err, or "" if err is not a StageError.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
