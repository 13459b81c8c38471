package pipeline

import (
	"errors"
	"fmt"
)

// ActionFailedError is returned when an action fails and halts the pipeline.
type ActionFailedError struct {
	Stage  string
	Action string
	Err    error
}

func (e *ActionFailedError) Error() string {
	return fmt.Sprintf("action %s/%s failed: %v", e.Stage, e.Action, e.Err)
}

func (e *ActionFailedError) Unwrap() error {
	return e.Err
}

// IsActionFailed returns true if err is or wraps an ActionFailedError.
func IsActionFailed(err error) bool {
	var af *ActionFailedError
	return errors.As(err, &af)
}

// AbortedError is returned when a run is cancelled at a stage boundary.
// Stage is the first stage that did not start.
type AbortedError struct {
	Stage string
	Err   error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("pipeline aborted before stage %s: %v", e.Stage, e.Err)
}

func (e *AbortedError) Unwrap() error {
	return e.Err
}

// IsAborted returns true if err is or wraps an AbortedError.
func IsAborted(err error) bool {
	var ae *AbortedError
	return errors.As(err, &ae)
}
