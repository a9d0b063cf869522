package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Sentinel errors for the billing domain. Handlers map these to HTTP status
// codes through HTTPStatusFromErr; services mark errors with exactly one
// sentinel via the builder in builder.go.
var (
	ErrValidation   = new(ErrCodeValidation, "validation error")
	ErrUnauthorized = new(ErrCodeUnauthorized, "unauthorized")
	ErrForbidden    = new(ErrCodeForbidden, "forbidden")
	ErrNotFound     = new(ErrCodeNotFound, "resource not found")
	ErrConflict     = new(ErrCodeConflict, "conflict")
	ErrRateLimited  = new(ErrCodeRateLimited, "rate limit exceeded")
	ErrGateway      = new(ErrCodeGateway, "payment gateway error")
	ErrDatabase     = new(ErrCodeDatabase, "database error")
	ErrInternal     = new(ErrCodeInternal, "internal error")

	statusCodeMap = map[error]int{
		ErrValidation:   http.StatusBadRequest,
		ErrUnauthorized: http.StatusUnauthorized,
		ErrForbidden:    http.StatusForbidden,
		ErrNotFound:     http.StatusNotFound,
		ErrConflict:     http.StatusConflict,
		ErrRateLimited:  http.StatusTooManyRequests,
		ErrGateway:      http.StatusBadGateway,
		ErrDatabase:     http.StatusInternalServerError,
		ErrInternal:     http.StatusInternalServerError,
	}
)

const (
	ErrCodeValidation   = "validation_error"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "rate_limit_exceeded"
	ErrCodeGateway      = "gateway_error"
	ErrCodeDatabase     = "database_error"
	ErrCodeInternal     = "internal_error"
)

// InternalError is the root of every sentinel; Code is machine-readable,
// Message is the default human-readable text.
type InternalError struct {
	Code    string
	Message string
	Op      string
	Err     error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is matches on Code so marked errors compare equal to their sentinel.
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func IsGateway(err error) bool {
	return errors.Is(err, ErrGateway)
}

func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// HTTPStatusFromErr is the single dispatch table from error kind to status
// code. Unrecognized errors are treated as internal faults.
func HTTPStatusFromErr(err error) int {
	for e, status := range statusCodeMap {
		if errors.Is(err, e) {
			return status
		}
	}
	return http.StatusInternalServerError
}
