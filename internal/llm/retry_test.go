package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var (
	down       = MockResponse{Err: &ErrProviderUnavailable{Err: errors.New("503")}}
	offSchema  = MockResponse{Err: &ErrInvalidResponse{Content: json.RawMessage(`{"intent":7}`), Err: errors.New("intent: want string")}}
	truncated  = MockResponse{Err: &ErrMaxTokensExceeded{}}
	throttled  = MockResponse{Err: &ErrRateLimit{RetryAfter: time.Millisecond, Err: errors.New("429")}}
	classified = MockResponse{Content: json.RawMessage(`{"intent":"question"}`)}
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2}
}

func TestRetryProvider(t *testing.T) {
	tests := []struct {
		name      string
		queue     []MockResponse
		attempts  int
		wantCalls int
		wantErr   error
	}{
		{"first reply used", []MockResponse{classified}, 3, 1, nil},
		{"outage then reply", []MockResponse{down, classified}, 3, 2, nil},
		{"throttled then reply", []MockResponse{throttled, classified}, 3, 2, nil},
		{"attempts exhausted", []MockResponse{down, down, down, classified}, 3, 3, &ErrProviderUnavailable{}},
		{"truncation is final", []MockResponse{truncated, classified}, 3, 1, &ErrMaxTokensExceeded{}},
		{"one schema retry", []MockResponse{offSchema, classified}, 3, 2, nil},
		{"second schema failure is final", []MockResponse{offSchema, offSchema, classified}, 3, 2, &ErrInvalidResponse{}},
		{"zero attempts still calls once", []MockResponse{down, classified}, 0, 1, &ErrProviderUnavailable{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockProvider(tt.queue...)
			resp, err := WithRetry(mock, fastRetry(tt.attempts)).Generate(context.Background(), Request{})

			if got := mock.CallCount(); got != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", got, tt.wantCalls)
			}
			if tt.wantErr == nil {
				if err != nil || string(resp.Content) != `{"intent":"question"}` {
					t.Fatalf("resp = %+v, err = %v", resp, err)
				}
				return
			}
			if FallbackReason(err) != FallbackReason(tt.wantErr) {
				t.Fatalf("err = %v, want a %T", err, tt.wantErr)
			}
		})
	}
}

func TestRetryProvider_CanceledContext(t *testing.T) {
	mock := NewMockProvider(down, down, classified)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithRetry(mock, fastRetry(3)).Generate(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// A turn's generation budget is short; the wrapper must not sleep through
// it waiting for a retry that could not finish in time.
func TestRetryProvider_RespectsDeadline(t *testing.T) {
	mock := NewMockProvider(down, classified)
	p := WithRetry(mock, RetryConfig{MaxAttempts: 3, InitialWait: time.Second, MaxWait: time.Second, Multiplier: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Generate(ctx, Request{})
	if FallbackReason(err) != "unavailable" || mock.CallCount() != 1 {
		t.Fatalf("err = %v after %d calls", err, mock.CallCount())
	}
	if time.Since(start) > 40*time.Millisecond {
		t.Fatal("slept despite the short deadline")
	}
	if p.ModelID() != "mock" {
		t.Errorf("ModelID = %q", p.ModelID())
	}
}

func TestRetryProvider_BackoffBounds(t *testing.T) {
	r := &RetryProvider{config: RetryConfig{MaxAttempts: 5, InitialWait: 100 * time.Millisecond, MaxWait: 300 * time.Millisecond, Multiplier: 2}}
	for attempt, base := range []time.Duration{100, 200, 300, 300} {
		base *= time.Millisecond
		got := r.wait(attempt, errors.New("x"))
		if got < base*8/10 || got > base*12/10 {
			t.Errorf("wait(%d) = %v, want within 20%% of %v", attempt, got, base)
		}
	}
	if got := r.wait(0, &ErrRateLimit{RetryAfter: 2 * time.Second}); got != 2*time.Second {
		t.Errorf("Retry-After wait = %v", got)
	}
}
