// Package svcerr provides the closed-set structured error type used across
// the control plane: a code+message+HTTPStatus+Details shape keyed on named
// error kinds rather than numeric codes.
package svcerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the closed set of error kinds this package recognizes.
type Kind string

const (
	SignatureMissing  Kind = "SignatureMissing"
	SignatureInvalid  Kind = "SignatureInvalid"
	Malformed         Kind = "Malformed"
	PayloadTooLarge   Kind = "PayloadTooLarge"
	RateLimited       Kind = "RateLimited"
	Unauthorized      Kind = "Unauthorized"
	NotFound          Kind = "NotFound"
	Conflict          Kind = "Conflict"
	Validation        Kind = "Validation"
	BackupFailed      Kind = "BackupFailed"
	ApplyFailed       Kind = "ApplyFailed"
	HealthCheckFailed Kind = "HealthCheckFailed"
	Timeout           Kind = "Timeout"
	Cancelled         Kind = "Cancelled"
	RollbackFailed    Kind = "RollbackFailed"
	Internal          Kind = "Internal"
)

// httpStatus maps each kind to its stable HTTP status code.
var httpStatus = map[Kind]int{
	SignatureMissing:  http.StatusUnauthorized,
	SignatureInvalid:  http.StatusUnauthorized,
	Malformed:         http.StatusBadRequest,
	PayloadTooLarge:   http.StatusRequestEntityTooLarge,
	RateLimited:       http.StatusTooManyRequests,
	Unauthorized:      http.StatusUnauthorized,
	NotFound:          http.StatusNotFound,
	Conflict:          http.StatusConflict,
	Validation:        http.StatusBadRequest,
	BackupFailed:      http.StatusInternalServerError,
	ApplyFailed:       http.StatusInternalServerError,
	HealthCheckFailed: http.StatusInternalServerError,
	Timeout:           http.StatusGatewayTimeout,
	Cancelled:         http.StatusConflict,
	RollbackFailed:    http.StatusInternalServerError,
	Internal:          http.StatusInternalServerError,
}

// defaultRetriable marks the kinds a stage's retry policy is allowed to
// re-attempt by default: Timeout, HealthCheckFailed (during verify), and
// transient ApplyFailed subclasses are decided by the caller via WithRetriable.
var defaultRetriable = map[Kind]bool{
	Timeout:           true,
	HealthCheckFailed: true,
}

// Error is the structured error carried across component boundaries.
type Error struct {
	Kind       Kind
	Message    string
	Stage      string
	Retriable  bool
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails attaches a key/value pair to the error's Details map.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithStage annotates the error with the stage it occurred in.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithRetriable overrides the kind's default retriability.
func (e *Error) WithRetriable(retriable bool) *Error {
	e.Retriable = retriable
	return e
}

// New constructs an Error of the given kind with the kind's default HTTP
// status and retriability.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:       kind,
		Message:    message,
		HTTPStatus: httpStatus[kind],
		Retriable:  defaultRetriable[kind],
	}
}

// Wrap constructs an Error of the given kind that wraps err.
func Wrap(kind Kind, message string, err error) *Error {
	e := New(kind, message)
	e.Err = err
	return e
}

// StatusFor returns the HTTP status associated with kind.
func StatusFor(kind Kind) int {
	if s, ok := httpStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// As extracts an *Error from err, following the errors.As chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else Internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

// Convenience constructors mirroring the common call sites.

func NewSignatureMissing() *Error { return New(SignatureMissing, "signature header missing") }
func NewSignatureInvalid() *Error { return New(SignatureInvalid, "signature verification failed") }
func NewMalformed(msg string) *Error { return New(Malformed, msg) }
func NewPayloadTooLarge(limit int64) *Error {
	return New(PayloadTooLarge, fmt.Sprintf("payload exceeds %d bytes", limit))
}
func NewRateLimited() *Error { return New(RateLimited, "rate limit exceeded") }
func NewNotFound(resource string) *Error {
	return New(NotFound, fmt.Sprintf("%s not found", resource))
}
func NewConflict(msg string) *Error  { return New(Conflict, msg) }
func NewValidation(msg string) *Error { return New(Validation, msg) }
func NewInternal(err error) *Error    { return Wrap(Internal, "internal error", err) }
func NewTimeout(stage string) *Error  { return New(Timeout, "stage timed out").WithStage(stage) }
