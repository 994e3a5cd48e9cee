// Package errors provides structured error types for the chat sync engine.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeDecodeFailure     ErrorCode = "DECODE_FAILURE"
	ErrCodeConnectionFailure ErrorCode = "CONNECTION_FAILURE"
	ErrCodeLivenessTimeout   ErrorCode = "LIVENESS_TIMEOUT"
	ErrCodePendingTimeout    ErrorCode = "PENDING_TIMEOUT"
	ErrCodeCancelled         ErrorCode = "CANCELLED"
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeNetworkFailure    ErrorCode = "NETWORK_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
)

// Operation represents the engine operation during which an error occurred
type Operation string

const (
	OpDecode     Operation = "decode"
	OpDispatch   Operation = "dispatch"
	OpConnect    Operation = "connect"
	OpDisconnect Operation = "disconnect"
	OpPing       Operation = "ping"
	OpTransition Operation = "transition"
	OpSend       Operation = "send"
	OpFetch      Operation = "fetch"
	OpStore      Operation = "store"
	OpLoad       Operation = "load"
	OpAwait      Operation = "await"
	OpClose      Operation = "close"
)

// Kind classifies an error independently of the operation that produced it.
type Kind string

const (
	KindOther     Kind = ""
	KindInvalid   Kind = "invalid"
	KindInternal  Kind = "internal"
	KindTimeout   Kind = "timeout"
	KindCanceled  Kind = "canceled"
	KindNotFound  Kind = "not_found"
	KindClosed    Kind = "closed"
	KindTransport Kind = "transport"
)

// Component names the subsystem that produced an error.
type Component string

// SyncError represents an error that occurred inside the sync engine
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "pipeline")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Kind classifies the failure
	Kind Kind

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	if e.Err == nil {
		return msg
	}
	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewDecodeError reports a frame that could not be parsed into a known event.
func NewDecodeError(cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeDecodeFailure,
		Op:        OpDecode,
		Component: "events",
		Kind:      KindInvalid,
		Err:       cause,
	}
}

// NewConnectionError reports a transport-level failure.
func NewConnectionError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeConnectionFailure,
		Op:        op,
		Component: "connection",
		Kind:      KindTransport,
		Err:       cause,
		Retryable: true,
	}
}

// NewLivenessTimeoutError reports that the keep-alive controller gave up after
// the given number of consecutive missed ping responses.
func NewLivenessTimeoutError(missed int) *SyncError {
	return &SyncError{
		Code:      ErrCodeLivenessTimeout,
		Op:        OpPing,
		Component: "keepalive",
		Kind:      KindTimeout,
		Err:       fmt.Errorf("%d consecutive liveness pings unanswered", missed),
		Retryable: true,
		Metadata:  map[string]interface{}{"missed": missed},
	}
}

// NewPendingTimeoutError reports a suspended caller whose event never arrived.
func NewPendingTimeoutError(key string) *SyncError {
	return &SyncError{
		Code:      ErrCodePendingTimeout,
		Op:        OpAwait,
		Component: "pending",
		Kind:      KindTimeout,
		Err:       fmt.Errorf("no confirmation received for %q", key),
		Metadata:  map[string]interface{}{"key": key},
	}
}

// NewCancellationError reports a suspended caller that gave up waiting.
func NewCancellationError(key string, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeCancelled,
		Op:        OpAwait,
		Component: "pending",
		Kind:      KindCanceled,
		Err:       cause,
		Metadata:  map[string]interface{}{"key": key},
	}
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Kind:      KindInternal,
		Err:       cause,
		Retryable: true,
	}
}

// NewNetworkError creates a new network-related SyncError
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "transport",
		Kind:      KindTransport,
		Err:       cause,
		Retryable: true,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Kind:      KindInvalid,
		Err:       cause,
		Retryable: false,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewRetryable creates a new retryable SyncError
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// E builds a SyncError from a loose list of arguments. Recognised argument
// types are Operation, Component, Kind, ErrorCode, error and string (joined
// into a context message). A nil error argument is ignored.
func E(args ...interface{}) error {
	e := &SyncError{}
	var msgs []string
	for _, arg := range args {
		switch a := arg.(type) {
		case Operation:
			e.Op = a
		case Component:
			e.Component = string(a)
		case Kind:
			e.Kind = a
		case ErrorCode:
			e.Code = a
		case *SyncError:
			e.Err = a
			if e.Kind == KindOther {
				e.Kind = a.Kind
			}
			if e.Code == "" {
				e.Code = a.Code
			}
			e.Retryable = e.Retryable || a.Retryable
		case error:
			e.Err = a
		case string:
			msgs = append(msgs, a)
		case bool:
			e.Retryable = a
		}
	}
	if len(msgs) > 0 {
		msg := strings.Join(msgs, ": ")
		if e.Err != nil {
			e.Err = fmt.Errorf("%s: %w", msg, e.Err)
		} else {
			e.Err = errors.New(msg)
		}
	}
	return e
}

// Op converts a string into an Operation for use with E.
func Op(s string) Operation { return Operation(s) }

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// HasCode reports whether any SyncError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var syncErr *SyncError
		if !errors.As(err, &syncErr) {
			return false
		}
		if syncErr.Code == code {
			return true
		}
		err = syncErr.Err
	}
	return false
}

// KindOf returns the Kind of the outermost SyncError in err's chain.
func KindOf(err error) Kind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return KindOther
}

// Is, As and Join re-export the standard helpers so callers importing this
// package under the name errors keep access to them.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)
