package calendar

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a provider failure into the shared cross-provider taxonomy.
// Callers branch on these codes, never on provider identity.
type Code string

const (
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"
	CodePermissionDenied     Code = "PERMISSION_DENIED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeConflict             Code = "CONFLICT"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeSyncTokenExpired     Code = "SYNC_TOKEN_EXPIRED"
	CodeUnknown              Code = "UNKNOWN_ERROR"
)

// retryableCodes are the classifications worth retrying with backoff.
// Auth and permission failures instead require the user to reconnect.
var retryableCodes = map[Code]bool{
	CodeRateLimited:        true,
	CodeServiceUnavailable: true,
	CodeConflict:           true,
}

// Error is a classified provider failure.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error with the retryable flag derived from the code.
func NewError(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: retryableCodes[code],
	}
}

// WrapError classifies an underlying error under the given code.
func WrapError(code Code, err error) *Error {
	return &Error{
		Code:      code,
		Message:   err.Error(),
		Retryable: retryableCodes[code],
		Err:       err,
	}
}

// ClassifyStatus maps an HTTP status shared across providers onto the
// taxonomy. Provider clients layer their own signals (Google reason strings,
// Graph error codes) on top of this.
func ClassifyStatus(status int, message string) *Error {
	var code Code
	switch {
	case status == http.StatusUnauthorized:
		code = CodeAuthenticationFailed
	case status == http.StatusForbidden:
		code = CodePermissionDenied
	case status == http.StatusNotFound:
		code = CodeNotFound
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		code = CodeConflict
	case status == http.StatusTooManyRequests:
		code = CodeRateLimited
	case status == http.StatusGone:
		code = CodeSyncTokenExpired
	case status >= 500:
		code = CodeServiceUnavailable
	default:
		code = CodeUnknown
	}

	e := NewError(code, message)
	e.HTTPStatus = status
	return e
}

// CodeOf returns the classification of err, or CodeUnknown if it carries none.
func CodeOf(err error) Code {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return CodeUnknown
}

// IsCode returns true if err is classified under the given code.
func IsCode(err error, code Code) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Code == code
}

// IsRetryable reports whether err is a classified, retryable failure.
// Unclassified errors are never retried.
func IsRetryable(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Retryable
}

// RequiresReconnect reports whether err means the user must re-authorize the
// connection: retrying cannot help and the condition is surfaced on the
// connection record instead.
func RequiresReconnect(err error) bool {
	switch CodeOf(err) {
	case CodeAuthenticationFailed, CodePermissionDenied:
		return true
	}
	return false
}
