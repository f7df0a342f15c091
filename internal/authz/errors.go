package authz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// StatusClientClosedRequest is recorded when the client went away before a
// decision was made. Nothing is written to the client in that case.
const StatusClientClosedRequest = 499

// Common authorization errors.
var (
	// ErrNotAllowed matches every *RejectionError.
	ErrNotAllowed = errors.New("not allowed")

	// ErrOracleUnavailable indicates that no oracle could be resolved for
	// the request. It points at a wiring problem, not a policy decision.
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// ErrOracleMissing is returned by Extract when no middleware published
	// an oracle for the request.
	ErrOracleMissing = &ExtractionError{Reason: ExtractionMissing}
)

// StatusCoder is implemented by errors that choose their own HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// RejectionError is returned by a decision function to decline a request.
type RejectionError struct {
	// Status is the HTTP status of the rejection response.
	Status int

	// Message is the client-facing message.
	Message string

	// Err is the underlying cause, if any. It is never sent to the client.
	Err error
}

// Error returns the error message.
func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.message(), e.Err)
	}
	return e.message()
}

// Unwrap returns the underlying error.
func (e *RejectionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrNotAllowed.
func (e *RejectionError) Is(target error) bool {
	return target == ErrNotAllowed
}

// StatusCode implements StatusCoder.
func (e *RejectionError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusUnauthorized
	}
	return e.Status
}

func (e *RejectionError) message() string {
	if e.Message == "" {
		return ErrNotAllowed.Error()
	}
	return e.Message
}

// Reject creates a 401 rejection with message.
func Reject(message string) *RejectionError {
	return &RejectionError{Status: http.StatusUnauthorized, Message: message}
}

// RejectWithStatus creates a rejection answered with status.
func RejectWithStatus(status int, message string) *RejectionError {
	return &RejectionError{Status: status, Message: message}
}

// RejectErr creates a 401 "not allowed" rejection caused by err.
func RejectErr(err error) *RejectionError {
	return &RejectionError{Status: http.StatusUnauthorized, Err: err}
}

// ExtractionReason describes why extraction failed.
type ExtractionReason int

// Extraction failure reasons.
const (
	// ExtractionMissing means no oracle was published for the request.
	ExtractionMissing ExtractionReason = iota + 1
)

// ExtractionError is returned when a handler asks for the oracle and none is
// available.
type ExtractionError struct {
	Reason ExtractionReason
}

// Error returns the error message.
func (e *ExtractionError) Error() string {
	return "no oracle could be extracted"
}

// Is matches any ExtractionError with the same reason.
func (e *ExtractionError) Is(target error) bool {
	var other *ExtractionError
	if errors.As(target, &other) {
		return other.Reason == e.Reason
	}
	return false
}

// StatusCode implements StatusCoder.
func (e *ExtractionError) StatusCode() int {
	return http.StatusBadRequest
}

// StatusFor maps an error to the HTTP status of its rejection response.
func StatusFor(err error) int {
	var sc StatusCoder
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &sc):
		return sc.StatusCode()
	case errors.Is(err, ErrOracleUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	default:
		return http.StatusUnauthorized
	}
}

// MessageFor returns the client-facing message for err. Causes wrapped in a
// rejection are never exposed.
func MessageFor(err error) string {
	var rejection *RejectionError
	var extraction *ExtractionError
	switch {
	case errors.As(err, &rejection):
		return rejection.message()
	case errors.As(err, &extraction):
		return extraction.Error()
	case errors.Is(err, ErrOracleUnavailable):
		return ErrOracleUnavailable.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "authorization timeout"
	default:
		return ErrNotAllowed.Error()
	}
}
