package tsa

import (
	"fmt"
	"strings"
)

// ConnectionError indicates the TSA could not be reached or answered
// outside the HTTP success range.
type ConnectionError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("TSA %s unreachable after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ResponseError indicates the TSA answered but the response was rejected,
// malformed, or inconsistent with the request.
type ResponseError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("TSA %s returned an unusable response after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// FailoverExhaustedError reports that every configured TSA failed. It
// names every attempted URL and wraps the last underlying error.
type FailoverExhaustedError struct {
	AttemptedURLs []string
	LastErr       error
}

func (e *FailoverExhaustedError) Error() string {
	return fmt.Sprintf("all timestamp servers failed (attempted: %s): %v",
		strings.Join(e.AttemptedURLs, ", "), e.LastErr)
}

func (e *FailoverExhaustedError) Unwrap() error {
	return e.LastErr
}

// TimestampValidationError indicates a token failed verification against
// the data it claims to cover.
type TimestampValidationError struct {
	Msg string
}

func (e *TimestampValidationError) Error() string {
	return e.Msg
}

// UsageError indicates the caller passed an unusable argument.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return e.Msg
}
