package openaicompat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/chatrelay/pkg/api"
)

// MapHTTPError converts a non-2xx response into a *api.ProviderError. The
// error type and message are taken from the body when it has the Chat
// Completions error shape. 429 responses carry the retry-after hint.
func MapHTTPError(providerName string, resp *http.Response) *api.ProviderError {
	errType, message := ExtractError(resp.Body)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	if message == "" {
		message = fmt.Sprintf("unexpected backend status %d", resp.StatusCode)
	}

	pe := &api.ProviderError{
		Provider:   providerName,
		StatusCode: resp.StatusCode,
		Type:       errType,
		Message:    message,
		Kind:       api.ErrProviderRequest,
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		pe.Kind = api.ErrRateLimited
		pe.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return pe
}

// MapNetworkError wraps a transport failure (connection refused, DNS, TLS).
func MapNetworkError(providerName string, err error) *api.ProviderError {
	return &api.ProviderError{
		Provider: providerName,
		Kind:     api.ErrProviderUnavailable,
		Cause:    err,
	}
}

// ExtractError reads at most 4KB of body and returns the error type and
// message if the body is a Chat Completions error. A non-JSON body is
// returned as the message.
func ExtractError(body io.Reader) (errType, message string) {
	if body == nil {
		return "", ""
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return "", ""
	}

	var errResp ChatErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil {
		if errResp.Error.Message != "" || errResp.Error.Type != "" {
			return errResp.Error.Type, errResp.Error.Message
		}
		return "", ""
	}
	return "", strings.TrimSpace(string(data))
}

// ParseRetryAfter interprets a Retry-After header given as delay seconds or
// as an HTTP date. It returns zero when the header is absent or invalid.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
