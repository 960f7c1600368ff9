package pipeline

import (
	"errors"
	"fmt"
)

// Stage names a step of the per-item state machine
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageNormalize Stage = "normalize"
	StageTreat     Stage = "treat"
	StageDeliver   Stage = "deliver"
)

// ErrBatchInFlight is returned when a batch is started while another runs
var ErrBatchInFlight = errors.New("pipeline: a batch is already in flight")

// ErrNoFolder is returned for a batch whose folder name is blank
var ErrNoFolder = errors.New("pipeline: batch folder name is empty")

// StageError records which stage failed an item
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
