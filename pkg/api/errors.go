package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"
)

// Sentinel errors for errors.Is matching.
var (
	ErrDecode              = errors.New("malformed stream frame")
	ErrMissingChoices      = errors.New("response contains no choices")
	ErrMissingToolCalls    = errors.New("finish reason tool_calls without tool calls")
	ErrMaxDepthExceeded    = errors.New("maximum tool call chain depth exceeded")
	ErrUnknownFinishReason = errors.New("unknown finish reason")

	ErrRateLimited         = errors.New("rate limited")
	ErrProviderRequest     = errors.New("provider request failed")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// DecodeError reports a non-empty stream line that is neither the end
// sentinel nor valid JSON.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding stream frame %q: %v", truncateLine(e.Line), e.Err)
}

// Unwrap exposes both ErrDecode and the underlying JSON error.
func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// truncateLine shortens s to at most 120 bytes without splitting a rune.
func truncateLine(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// ProviderError is a failed HTTP exchange with the backend. Kind is one of
// ErrRateLimited, ErrProviderRequest, or ErrProviderUnavailable.
type ProviderError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string

	// RetryAfter is the server's retry hint on 429 responses, zero if absent.
	RetryAfter time.Duration

	Kind  error
	Cause error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Cause != nil:
		return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Cause)
	case e.Type != "":
		return fmt.Sprintf("%s: HTTP %d (%s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	default:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
}

func (e *ProviderError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Retryable reports whether establishing the call again may succeed.
// Rate limits are surfaced to the caller and never retried.
func (e *ProviderError) Retryable() bool {
	if errors.Is(e.Kind, ErrProviderUnavailable) {
		return true
	}
	return e.StatusCode >= http.StatusInternalServerError
}

// IsRetryable reports whether err is a retryable ProviderError.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

// RetryAfter returns the retry hint carried by a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) && errors.Is(pe.Kind, ErrRateLimited) {
		return pe.RetryAfter, true
	}
	return 0, false
}
