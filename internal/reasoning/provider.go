// Package reasoning talks to external inference endpoints without ever
// trusting them. Every response is schema-checked and every cited fact id is
// verified against the evidence ledger before a payload reaches the rest of
// the pipeline.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

var (
	// ErrNoProvider means reasoning is disabled; callers fall back to
	// their deterministic paths.
	ErrNoProvider = errors.New("reasoning: no provider configured")

	// ErrSchemaViolation means the response could not be decoded into the
	// expected payload, failed payload validation, or cited a fact id the
	// ledger does not contain.
	ErrSchemaViolation = errors.New("reasoning: schema violation")

	// ErrUpstreamTimeout means the call exceeded its per-call budget.
	ErrUpstreamTimeout = errors.New("reasoning: upstream timeout")

	// ErrUpstreamError means the endpoint answered with a failure status.
	ErrUpstreamError = errors.New("reasoning: upstream error")
)

// Provider is one inference endpoint.
type Provider interface {
	// Name returns the provider name used for rate limiting and cache keys.
	Name() string

	// Complete sends one prompt and returns the raw completion.
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// IsAvailable checks whether the endpoint is configured and reachable.
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest is a single prompt.
type CompletionRequest struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Completion is the raw model output before any validation.
type Completion struct {
	Text       string
	Model      string
	TokensUsed int
}

// UpstreamError carries the HTTP status a provider returned, plus any
// Retry-After hint, so the retry loop can tell transient failures from
// permanent ones.
type UpstreamError struct {
	Status     int
	RetryAfter time.Duration
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
}

// Unwrap maps the status onto the package sentinels.
func (e *UpstreamError) Unwrap() error {
	if e.Status == http.StatusRequestTimeout || e.Status == http.StatusGatewayTimeout {
		return ErrUpstreamTimeout
	}
	return ErrUpstreamError
}

// Retryable reports whether the status is worth another attempt.
func (e *UpstreamError) Retryable() bool {
	switch {
	case e.Status == http.StatusRequestTimeout:
		return true
	case e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	default:
		return false
	}
}

// retryAfterHint pulls the Retry-After delay out of an error chain.
func retryAfterHint(err error) time.Duration {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.RetryAfter
	}
	return 0
}

// isRetryable classifies transport and upstream failures.
func isRetryable(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	return errors.Is(err, ErrUpstreamTimeout)
}

// parseRetryAfter reads a Retry-After header value in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// classifyTransport maps client-side failures onto the sentinels. Deadline
// and net timeouts become ErrUpstreamTimeout; everything else passes through
// wrapped.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, ErrUpstreamTimeout)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%v: %w", err, ErrUpstreamTimeout)
	}
	return fmt.Errorf("execute request: %w", err)
}
