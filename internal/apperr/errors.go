// Package apperr defines the error kinds shared by the tracking client,
// the analysis client and the orchestrator.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error.
type Kind string

const (
	KindConfiguration     Kind = "configuration"
	KindAuthentication    Kind = "authentication"
	KindNotFound          Kind = "not_found"
	KindBackend           Kind = "backend"
	KindMalformedResponse Kind = "malformed_response"
	KindRateLimited       Kind = "rate_limited"
	KindLLM               Kind = "llm_api"
	KindWorkflow          Kind = "workflow"
)

// Error is the typed error carried across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	// StatusCode is the HTTP status returned by the remote service, if any.
	StatusCode int
	// RetryAfter is the server-suggested wait in seconds for rate-limited calls.
	RetryAfter *int
	// Transient marks errors that the retry policy may repeat.
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Configuration reports invalid or missing settings.
func Configuration(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Authentication reports rejected credentials.
func Authentication(status int, msg string) *Error {
	return &Error{Kind: KindAuthentication, Message: msg, StatusCode: status}
}

// NotFound reports a missing work item.
func NotFound(workItemID int) *Error {
	return &Error{
		Kind:       KindNotFound,
		Message:    fmt.Sprintf("work item %d not found", workItemID),
		StatusCode: 404,
	}
}

// Backend reports a failure of the tracking service. Server errors and
// network failures are transient.
func Backend(status int, msg string, err error) *Error {
	return &Error{
		Kind:       KindBackend,
		Message:    msg,
		StatusCode: status,
		Transient:  status == 0 || status == 429 || status >= 500,
		Err:        err,
	}
}

// MalformedResponse reports LLM output that no parsing strategy could decode.
func MalformedResponse(err error) *Error {
	return &Error{Kind: KindMalformedResponse, Message: "failed to parse analysis response", Err: err}
}

// RateLimited reports a 429 from the LLM API.
func RateLimited(retryAfter *int, err error) *Error {
	msg := "rate limit exceeded"
	if retryAfter != nil {
		msg = fmt.Sprintf("rate limit exceeded, retry after %d seconds", *retryAfter)
	}
	return &Error{Kind: KindRateLimited, Message: msg, StatusCode: 429, RetryAfter: retryAfter, Err: err}
}

// LLM reports a non rate-limit failure of the LLM API.
func LLM(status int, transient bool, err error) *Error {
	return &Error{Kind: KindLLM, Message: "LLM API request failed", StatusCode: status, Transient: transient, Err: err}
}

// Workflow reports an orchestration failure.
func Workflow(msg string, err error) *Error {
	return &Error{Kind: KindWorkflow, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether err may be retried.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Transient
	}
	return false
}
