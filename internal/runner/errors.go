package runner

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidState   = errors.New("runner: invalid state")
	ErrNoEnvironment  = errors.New("runner: no environment selected")
	ErrAlreadyRunning = errors.New("runner: tool already running")
	ErrLifecycleOrder = errors.New("runner: invalid lifecycle transition")
	ErrReadOnly       = errors.New("runner: host is read-only")
)

// StateReason tells callers why a runner rejected an operation.
type StateReason string

const (
	ReasonInactive  StateReason = "inactive"
	ReasonDestroyed StateReason = "destroyed"
)

// StateError is returned when the runner is not active. It matches ErrInvalidState.
type StateError struct {
	Reason StateReason
}

func (e *StateError) Error() string {
	if e.Reason == ReasonDestroyed {
		return "runner: extension is destroyed"
	}
	return "runner: extension is not active"
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ErrorCode classifies remote execution failures.
type ErrorCode string

const (
	CodeUnreachable        ErrorCode = "unreachable"
	CodeRejected           ErrorCode = "rejected"
	CodeUnknownEnvironment ErrorCode = "unknown_environment"
	CodeUnknownTool        ErrorCode = "unknown_tool"
	CodeUnknownRun         ErrorCode = "unknown_run"
	CodeCanceled           ErrorCode = "canceled"
	CodeInternal           ErrorCode = "internal"
)

// RemoteError is the descriptor delivered for every failure decided by the
// remote boundary. It is never returned synchronously by Runner or Runtime.
type RemoteError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("runner: remote %s: %s", e.Code, e.Message)
}

// NewRemoteError builds a descriptor with a formatted message.
func NewRemoteError(code ErrorCode, format string, args ...any) *RemoteError {
	return &RemoteError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsRemoteError normalizes any backend error into a RemoteError.
// Errors that do not carry a code are reported as unreachable.
func AsRemoteError(err error) *RemoteError {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &RemoteError{Code: CodeCanceled, Message: err.Error()}
	}
	return &RemoteError{Code: CodeUnreachable, Message: err.Error()}
}

func destroyedError() error {
	return &StateError{Reason: ReasonDestroyed}
}

func transitionError(from, to Phase) error {
	return fmt.Errorf("%w: %s -> %s", ErrLifecycleOrder, from, to)
}
