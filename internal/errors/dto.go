package errors

import (
	"github.com/cockroachdb/errors"
)

// ErrorResponse is the wire shape for every error reply:
// {"error":{"code":<http>,"message":...}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the HTTP code and caller-facing message.
type ErrorDetail struct {
	Code       int            `json:"code"`
	Message    string         `json:"message"`
	RetryAfter *int           `json:"retry_after,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// NewErrorResponse builds the response payload for err. Hints attached via
// the builder become the message; without hints the sentinel default is used.
func NewErrorResponse(err error) *ErrorResponse {
	msg := errors.FlattenHints(err)
	if msg == "" {
		var ie *InternalError
		if errors.As(err, &ie) {
			msg = ie.Message
		} else {
			msg = "internal error"
		}
	}

	return &ErrorResponse{
		Error: ErrorDetail{
			Code:    HTTPStatusFromErr(err),
			Message: msg,
		},
	}
}
