package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrRequestBlocked is returned when the error budget forbids new requests.
	ErrRequestBlocked = errors.New("request blocked: error budget critical")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and error budget blocks.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Error codes carried by Error. They follow the codes front-end HTTP
// clients report, so UI code can switch on them.
const (
	CodeNetwork       = "ERR_NETWORK"
	CodeBadRequest    = "ERR_BAD_REQUEST"
	CodeBadResponse   = "ERR_BAD_RESPONSE"
	CodeRateLimited   = "ERR_RATE_LIMITED"
	CodeCanceled      = "ERR_CANCELED"
	CodeDecode        = "ERR_DECODE"
	CodeEmptyResponse = "ERR_EMPTY_RESPONSE"
)

// Error describes a failed request. It is the value the GET helper
// returns instead of raising; Code is empty when the failure has no code.
type Error struct {
	Code       string
	Message    string
	StatusCode int
	ErrorClass ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	code := e.Code
	if code == "" {
		code = "ERR_UNKNOWN"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", code, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the transport would retry this failure.
func (e *Error) Retryable() bool {
	return shouldRetry(e.ErrorClass)
}

// AsError converts any error into an *Error, classifying it on the way.
// A nil error yields nil.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	if errors.Is(err, context.Canceled) {
		return &Error{Code: CodeCanceled, Message: "request canceled", Err: err}
	}

	return &Error{
		Code:       CodeNetwork,
		Message:    "Network Error",
		ErrorClass: ErrorClassNetwork,
		Err:        err,
	}
}

// statusError builds the Error for a non-2xx response.
func statusError(resp *http.Response, message string) *Error {
	class := classifyStatus(resp.StatusCode)

	code := CodeBadRequest
	switch class {
	case ErrorClassServer:
		code = CodeBadResponse
	case ErrorClassRateLimit:
		code = CodeRateLimited
	}

	if message == "" {
		message = resp.Status
	}

	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: resp.StatusCode,
		ErrorClass: class,
	}
}

// classifyStatus categorizes an HTTP status for observability and retry.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors are the caller's fault; repeating them only burns budget
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
