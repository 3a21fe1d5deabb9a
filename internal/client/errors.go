package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Class is the failure classification for an upstream error
type Class int

const (
	// ClassAuthentication is fatal for the call and never retried.
	ClassAuthentication Class = iota
	// ClassRateLimited is retryable; any retry-after hint is honored.
	ClassRateLimited
	// ClassTimeout is transient and counts toward the circuit breaker.
	ClassTimeout
	// ClassNetwork is transient and counts toward the circuit breaker.
	ClassNetwork
	// ClassServiceUnavailable is transient and counts toward the breaker.
	ClassServiceUnavailable
	// ClassUnknown is retried once conservatively, then surfaced.
	ClassUnknown
)

// String returns the class name
func (c Class) String() string {
	switch c {
	case ClassAuthentication:
		return "authentication"
	case ClassRateLimited:
		return "rate_limited"
	case ClassTimeout:
		return "timeout"
	case ClassNetwork:
		return "network"
	case ClassServiceUnavailable:
		return "service_unavailable"
	default:
		return "unknown"
	}
}

// APIError is a classified upstream failure
type APIError struct {
	Class      Class
	StatusCode int
	Message    string
	RetryAfter time.Duration // retry-after hint for rate-limited errors, 0 if none
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream error (%s, status %d): %s", e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream error (%s): %s", e.Class, e.Message)
}

// Retryable reports whether this class may be retried at all
func (e *APIError) Retryable() bool {
	return e.Class != ClassAuthentication
}

// CountsTowardBreaker reports whether this failure feeds the circuit
// breaker's failure window.
func (e *APIError) CountsTowardBreaker() bool {
	switch e.Class {
	case ClassTimeout, ClassNetwork, ClassServiceUnavailable:
		return true
	}
	return false
}

// ClassifyStatus maps an HTTP status code to a failure class
func ClassifyStatus(code int) Class {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ClassAuthentication
	case http.StatusTooManyRequests:
		return ClassRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ClassTimeout
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return ClassServiceUnavailable
	default:
		return ClassUnknown
	}
}

// ClassifyError wraps a transport-level error into an APIError. Deadline
// expiry is treated as a transient timeout per the resource model.
func ClassifyError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Class: ClassTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &APIError{Class: ClassTimeout, Message: err.Error()}
		}
		return &APIError{Class: ClassNetwork, Message: err.Error()}
	}

	return &APIError{Class: ClassUnknown, Message: err.Error()}
}
