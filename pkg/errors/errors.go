package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrAuthentication    = errors.New("authentication error")
	ErrConfiguration     = errors.New("configuration error")
	ErrHTTPRequest       = errors.New("HTTP request error")
	ErrHTTPResponse      = errors.New("HTTP response error")
	ErrPagination        = errors.New("pagination error")
	ErrValidation        = errors.New("validation error")
	ErrUnrecognizedShape = errors.New("unrecognized response shape")
	ErrStorage           = errors.New("storage error")
	ErrBatch             = errors.New("batch error")
)

// WrapError wraps an error with a standard error type.
// Both the type and the cause stay reachable through errors.Is.
func WrapError(err error, errType error, message string) error {
	return fmt.Errorf("%w: %s: %w", errType, message, err)
}

// ResponseError is an API level failure: the server answered, but not with
// something the caller can use. HTML holds the raw body when it was not JSON.
type ResponseError struct {
	StatusCode int
	Header     http.Header
	HTML       string
	Body       []byte
}

func (e *ResponseError) Error() string {
	if e.HTML != "" {
		return fmt.Sprintf("HTTP %d: non-JSON response (%d bytes)", e.StatusCode, len(e.HTML))
	}
	if len(e.Body) > 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, truncate(string(e.Body), 512))
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Is lets errors.Is(err, ErrHTTPResponse) match any ResponseError.
func (e *ResponseError) Is(target error) bool {
	return target == ErrHTTPResponse
}

// UnrecognizedShapeError reports a page that is neither an embedded collection,
// a single record nor a bare array. It is not retryable.
type UnrecognizedShapeError struct {
	URL  string
	Body []byte
}

func (e *UnrecognizedShapeError) Error() string {
	return fmt.Sprintf("unrecognized response shape from %s: %s", e.URL, truncate(string(e.Body), 512))
}

func (e *UnrecognizedShapeError) Is(target error) bool {
	return target == ErrUnrecognizedShape
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// Is provides a convenience wrapper around errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As provides a convenience wrapper around errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap provides a convenience wrapper around errors.Unwrap
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
