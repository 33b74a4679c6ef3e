package ledger

import (
	"errors"
	"fmt"
)

// Sentinel errors for ledger operations.
var (
	// ErrNotAJob indicates a directory exists but lacks the launch script marker.
	ErrNotAJob = errors.New("not a job directory")

	// ErrJobNotFound indicates the job directory does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidName indicates a namespace or job id that cannot be used as a path element.
	ErrInvalidName = errors.New("invalid name")

	// ErrEmptyCommand indicates a create request without a command to run.
	ErrEmptyCommand = errors.New("command is required")

	// ErrOutsideRoot indicates a resolved path escapes the experiments root.
	ErrOutsideRoot = errors.New("path is outside the experiments root")

	// ErrIDExhausted indicates every generated job id collided with an existing directory.
	ErrIDExhausted = errors.New("could not allocate a unique job id")

	// ErrNotVersionControlled indicates the working directory is not a git checkout.
	ErrNotVersionControlled = errors.New("working directory is not under version control")
)

// OpError wraps ledger errors with the job they concern.
type OpError struct {
	// Op is the operation that failed (e.g., "read", "delete").
	Op string

	Namespace string
	JobID     string

	// Detail is optional human context.
	Detail string

	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	if e.JobID != "" {
		return fmt.Sprintf("ledger %s %s/%s: %s", e.Op, e.Namespace, e.JobID, msg)
	}
	if e.Namespace != "" {
		return fmt.Sprintf("ledger %s %s: %s", e.Op, e.Namespace, msg)
	}
	return fmt.Sprintf("ledger %s: %s", e.Op, msg)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OpError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error means the job is absent or not a valid job.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrNotAJob)
}

// IsInvalid returns true if the error was caused by caller input.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidName) || errors.Is(err, ErrOutsideRoot) || errors.Is(err, ErrEmptyCommand)
}
