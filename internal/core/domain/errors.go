package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ConfigError is a pipeline construction error. It is always detected before
// any action runs.
type ConfigError struct {
	Stage  string
	Action string
	Reason string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Stage != "" && e.Action != "":
		return fmt.Sprintf("pipeline configuration: %s/%s: %s", e.Stage, e.Action, e.Reason)
	case e.Stage != "":
		return fmt.Sprintf("pipeline configuration: %s: %s", e.Stage, e.Reason)
	default:
		return "pipeline configuration: " + e.Reason
	}
}

// IsConfigError returns true if err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
