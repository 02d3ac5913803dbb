// Package serviceerr carries the coded error type returned by every judging service.
package serviceerr

import (
	"errors"
	"fmt"
)

// ServiceError pairs a dotted "operation.reason" code with its underlying cause.
type ServiceError struct {
	code   string
	reason string
	err    error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the full "operation.reason" code.
func (e *ServiceError) Code() string {
	return e.code
}

// Reason returns the trailing reason segment of the code.
func (e *ServiceError) Reason() string {
	return e.reason
}

// New builds a ServiceError for the operation and reason wrapping cause.
func New(operation, reason string, cause error) error {
	return &ServiceError{
		code:   fmt.Sprintf("%s.%s", operation, reason),
		reason: reason,
		err:    cause,
	}
}

// Code extracts the service error code from err, or "" when err carries none.
func Code(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

// Reason extracts the reason segment from err, or "" when err carries none.
func Reason(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Reason()
	}
	return ""
}
