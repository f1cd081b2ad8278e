// Package provider implements a resilient client for OpenAI-compatible
// chat-completion endpoints and a router that dispatches pipeline stages
// to configured providers.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrCircuitOpen is returned without any network I/O while a client's
// circuit breaker is open. Callers must wait out the cool-down.
var ErrCircuitOpen = errors.New("provider: circuit breaker is open")

// Reason categorizes why a provider request failed. The classification
// drives retry decisions: only transient reasons are retried.
type Reason string

const (
	// ReasonRateLimit indicates HTTP 429.
	ReasonRateLimit Reason = "rate_limit"

	// ReasonTimeout indicates a per-attempt timeout.
	ReasonTimeout Reason = "timeout"

	// ReasonServerError indicates HTTP 5xx.
	ReasonServerError Reason = "server_error"

	// ReasonConnection indicates the request never reached the endpoint.
	ReasonConnection Reason = "connection"

	// ReasonAuth indicates HTTP 401/403. Never retried.
	ReasonAuth Reason = "auth"

	// ReasonInvalidRequest indicates HTTP 400/404 and other client-side
	// failures. Never retried.
	ReasonInvalidRequest Reason = "invalid_request"

	// ReasonUnknown indicates an unclassified error.
	ReasonUnknown Reason = "unknown"
)

// IsRetryable reports whether a retry may succeed. Only rate limits,
// timeouts, connection failures, and server errors qualify; auth and
// validation failures fail the call immediately.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError, ReasonConnection:
		return true
	default:
		return false
	}
}

// RequestError is a structured error from a provider request attempt.
type RequestError struct {
	Reason   Reason
	Provider string
	Model    string
	Status   int
	Cause    error
}

func (e *RequestError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *RequestError) Unwrap() error { return e.Cause }

// ExhaustedError is returned after the retry budget is spent. It wraps the
// last transient failure.
type ExhaustedError struct {
	Provider string
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("provider %s: %d attempts exhausted: %v", e.Provider, e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

// UnknownProviderError is returned when a request names a provider that is
// not registered with the router. It is a configuration error and is never
// retried.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("provider %q is not configured", e.Provider)
}

// ConfigError reports a client misconfiguration such as missing
// credentials. Fatal, never retried.
type ConfigError struct {
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Reason)
}

// Classify inspects an error from the wire client and returns its Reason.
func Classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reasonFromStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reasonFromStatus(reqErr.HTTPStatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ReasonConnection
	}

	return classifyMessage(err.Error())
}

func reasonFromStatus(status int) Reason {
	switch {
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status >= 500:
		return ReasonServerError
	case status >= 400:
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

// classifyMessage is a last-resort classification for errors that carry no
// status code, matching on well-known substrings.
func classifyMessage(msg string) Reason {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return ReasonRateLimit
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return ReasonConnection
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key"):
		return ReasonAuth
	default:
		return ReasonUnknown
	}
}

// IsRetryable reports whether an error should be retried.
func IsRetryable(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Reason.IsRetryable()
	}
	return Classify(err).IsRetryable()
}
