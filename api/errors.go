// File: api/errors.go
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-events.

package api

import (
	"errors"
	"fmt"
)

// Sentinel errors used across the library. All synchronous configuration
// failures and slot-level failures wrap one of these, so callers can test
// with errors.Is regardless of the added context.
var (
	// ErrInvalidConfiguration is returned by dispatcher construction for an
	// unsupported mode flag combination, a non-zero thread priority, an
	// undersized consumer pool, or an unresolvable parameter serializer.
	ErrInvalidConfiguration = errors.New("invalid dispatcher configuration")

	// ErrConsumerNotSet is returned when a dispatcher is asked to consume
	// events but the event link has no matching consumer pool registered.
	ErrConsumerNotSet = errors.New("consumer not set on event link")

	// ErrCapacityExceeded is returned by AddListener once the fixed listener
	// array is full.
	ErrCapacityExceeded = errors.New("listener capacity exceeded")

	// ErrNoAnswerConfigured is returned by WaitForAnswer for a slot that was
	// reserved without an answer location.
	ErrNoAnswerConfigured = errors.New("event was not reserved with an answer location")

	// ErrConsumerFailure is surfaced to a waiting producer when the
	// answerfull consumer body failed before releasing the answer.
	ErrConsumerFailure = errors.New("consumer failed")

	// ErrShutdownObserved is surfaced to producers woken out of a parked
	// operation by dispatcher teardown.
	ErrShutdownObserved = errors.New("dispatcher is shutting down")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidConfiguration
	ErrCodeConsumerNotSet
	ErrCodeCapacityExceeded
	ErrCodeNoAnswerConfigured
	ErrCodeConsumerFailure
	ErrCodeShutdownObserved
)

// sentinelFor maps codes onto the package sentinels for errors.Is support.
var sentinelFor = map[ErrorCode]error{
	ErrCodeInvalidConfiguration: ErrInvalidConfiguration,
	ErrCodeConsumerNotSet:       ErrConsumerNotSet,
	ErrCodeCapacityExceeded:     ErrCapacityExceeded,
	ErrCodeNoAnswerConfigured:   ErrNoAnswerConfigured,
	ErrCodeConsumerFailure:      ErrConsumerFailure,
	ErrCodeShutdownObserved:     ErrShutdownObserved,
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the sentinel matching the error code.
func (e *Error) Unwrap() error {
	return sentinelFor[e.Code]
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
