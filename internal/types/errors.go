package types

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a prompt (or other record) does not exist
var ErrNotFound = errors.New("not found")

// ErrTimeout is returned when a bounded operation does not settle in time.
// It is handled exactly like any other transient failure.
var ErrTimeout = errors.New("operation timed out")

// ValidationError rejects a request before any state is mutated
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TransientError wraps a failed persistence, transform or agent call.
// The caller has already rolled back or reverted by the time it sees one.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ExternalStateError reports a remote agent status that was unknown or failed.
// It never blocks the local update; the prompt lands on a safe status.
type ExternalStateError struct {
	AgentID   string
	RawStatus string
	Reason    string
}

func (e *ExternalStateError) Error() string {
	return fmt.Sprintf("agent %s reported %q: %s", e.AgentID, e.RawStatus, e.Reason)
}

// Transient wraps err as a TransientError unless it is nil or already a
// ValidationError, which must reach the caller unchanged.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}
	var terr *TransientError
	if errors.As(err, &terr) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
