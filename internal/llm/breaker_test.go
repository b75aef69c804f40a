package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type flakyProvider struct {
	calls int
	err   error
}

func (f *flakyProvider) Classify(ctx context.Context, req ClassifyRequest) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{}`), nil
}

func (f *flakyProvider) Reply(ctx context.Context, instructions string, history []ChatMessage) (string, error) {
	f.calls++
	return "", f.err
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	p := &flakyProvider{err: errors.New("upstream 503")}
	b := NewBreaker(p, BreakerOptions{Name: "test-open", ConsecutiveFailures: 2, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		if _, err := b.Classify(context.Background(), ClassifyRequest{}); err == nil {
			t.Fatalf("expected provider error")
		}
	}
	_, err := b.Classify(context.Background(), ClassifyRequest{})
	if !IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if p.calls != 2 {
		t.Fatalf("expected provider to be skipped while open, got %d calls", p.calls)
	}
}

func TestBreakerIgnoresRejectedRequests(t *testing.T) {
	p := &flakyProvider{err: &RejectedError{Provider: "x", Status: 400, Message: "bad"}}
	b := NewBreaker(p, BreakerOptions{Name: "test-rejected", ConsecutiveFailures: 1, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := b.Classify(context.Background(), ClassifyRequest{})
		if !IsRejected(err) {
			t.Fatalf("expected rejected error, got %v", err)
		}
	}
	if p.calls != 3 {
		t.Fatalf("expected every call to reach provider, got %d", p.calls)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{400, false}, {401, false}, {404, false}, {408, true}, {429, true}, {500, true}, {503, true},
	}
	for _, tt := range tests {
		if got := Retryable(tt.status); got != tt.want {
			t.Fatalf("Retryable(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
