// Package apierr defines the closed error taxonomy of the access layer.
// Callers dispatch on Kind instead of probing ad hoc fields, and the retry
// controller uses Retryable to classify failures.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind enumerates the failure classes an access-layer call can surface.
type Kind int

const (
	// KindValidation reports a caller mistake (e.g. missing company ID).
	// Never retried.
	KindValidation Kind = iota + 1

	// KindAuth reports a missing/invalid refresh token or a token-endpoint
	// failure. Fatal for the call; requires re-authorization out of band.
	KindAuth

	// KindRateLimited reports an upstream HTTP 429. The retry controller
	// honours RetryAfter before the next attempt.
	KindRateLimited

	// KindTransientUpstream reports 408 or 5xx upstream responses.
	KindTransientUpstream

	// KindPermanentUpstream reports other 4xx upstream responses.
	KindPermanentUpstream

	// KindNetwork reports connection-level failures before any HTTP status
	// was received.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindTransientUpstream:
		return "transient_upstream"
	case KindPermanentUpstream:
		return "permanent_upstream"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error is the typed error surfaced by the access layer.
type Error struct {
	Kind   Kind
	Status int    // HTTP status, when one was received
	Msg    string // human-readable detail

	// RetryAfter carries an explicit wait parsed from Retry-After or
	// X-RateLimit-Reset headers on 429 responses. Zero when absent.
	RetryAfter time.Duration

	Err error // underlying cause, if any
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Status != 0:
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Msg)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Status != 0:
		return fmt.Sprintf("%s (status %d)", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the retry controller may re-attempt the call.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTransientUpstream, KindNetwork:
		return true
	default:
		return false
	}
}

// Validation builds a caller-error.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg}
}

// Auth builds an authorization failure. status may be 0 when the failure is
// local (e.g. no refresh token stored).
func Auth(status int, msg string) *Error {
	return &Error{Kind: KindAuth, Status: status, Msg: msg}
}

// Network wraps a connection-level failure.
func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Err: err}
}

// FromStatus classifies a non-2xx upstream HTTP status.
func FromStatus(status int, msg string) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Status: status, Msg: msg}
	case status == http.StatusRequestTimeout || status >= 500:
		return &Error{Kind: KindTransientUpstream, Status: status, Msg: msg}
	default:
		return &Error{Kind: KindPermanentUpstream, Status: status, Msg: msg}
	}
}

// Retryable reports whether err is a retryable access-layer error. Errors
// outside the taxonomy are never retried.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// KindOf extracts the Kind of err, or 0 when err is outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// ExhaustedError wraps the last failure after the retry budget is spent.
type ExhaustedError struct {
	Attempts int // number of retries performed (excludes the initial attempt)
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }
