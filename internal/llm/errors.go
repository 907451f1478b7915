package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrRateLimit is returned when the vendor answers 429.
type ErrRateLimit struct {
	// RetryAfter is the vendor's requested wait, zero when it gave none.
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRateLimit) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry in %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *ErrRateLimit) Unwrap() error { return e.Err }

// ErrInvalidResponse is returned when content is missing, is not JSON, or
// does not match the request schema. Content holds what the model sent.
type ErrInvalidResponse struct {
	Content json.RawMessage
	Err     error
}

func (e *ErrInvalidResponse) Error() string {
	return "invalid generation response: " + e.Err.Error()
}

func (e *ErrInvalidResponse) Unwrap() error { return e.Err }

// ErrProviderUnavailable covers 5xx answers, unreachable endpoints and an
// empty mock queue.
type ErrProviderUnavailable struct {
	Err error
}

func (e *ErrProviderUnavailable) Error() string {
	if e.Err == nil {
		return "generation provider unavailable"
	}
	return "generation provider unavailable: " + e.Err.Error()
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Err }

// ErrMaxTokensExceeded is returned when structured output was cut off at
// the token limit.
type ErrMaxTokensExceeded struct {
	Content json.RawMessage
}

func (e *ErrMaxTokensExceeded) Error() string {
	return "generation response truncated at max tokens"
}

// classifyStatus turns a vendor HTTP status into one of the error types
// above. Client errors other than 429 are treated like outages: the tutor
// falls back either way.
func classifyStatus(status int, header http.Header, err error) error {
	if status == http.StatusTooManyRequests {
		return &ErrRateLimit{RetryAfter: retryAfter(header), Err: err}
	}
	return &ErrProviderUnavailable{Err: err}
}

func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// FallbackReason names the class of a generation failure. It appears in
// logs and in the degraded flags of a turn.
func FallbackReason(err error) string {
	if err == nil {
		return ""
	}
	var (
		rl      *ErrRateLimit
		maxTok  *ErrMaxTokensExceeded
		invalid *ErrInvalidResponse
		unavail *ErrProviderUnavailable
	)
	reasons := []struct {
		match bool
		name  string
	}{
		{errors.Is(err, ErrNoProvider), "no_provider"},
		{errors.Is(err, context.DeadlineExceeded), "timeout"},
		{errors.Is(err, context.Canceled), "canceled"},
		{errors.As(err, &rl), "rate_limited"},
		{errors.As(err, &maxTok), "max_tokens"},
		{errors.As(err, &invalid), "invalid_response"},
		{errors.As(err, &unavail), "unavailable"},
	}
	for _, r := range reasons {
		if r.match {
			return r.name
		}
	}
	return "error"
}
