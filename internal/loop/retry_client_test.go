package loop

import (
	"context"
	"errors"
	"testing"

	"github.com/noema-systems/noema/internal/backoff"
)

var errConnect = errors.New("connect refused")

type flakyLLM struct {
	failures int
	calls    int
}

func (f *flakyLLM) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errConnect
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func TestRetryingLLMClientSucceedsAfterTransientFailures(t *testing.T) {
	inner := &flakyLLM{failures: 2}
	client := &RetryingLLMClient{
		Client:      inner,
		Policy:      backoff.BackoffPolicy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0},
		MaxAttempts: 3,
	}

	ch, err := client.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
	chunk := <-ch
	if !chunk.Done {
		t.Fatalf("expected terminal chunk from underlying client")
	}
}

func TestRetryingLLMClientExhaustsAttempts(t *testing.T) {
	inner := &flakyLLM{failures: 10}
	client := &RetryingLLMClient{
		Client:      inner,
		Policy:      backoff.BackoffPolicy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0},
		MaxAttempts: 3,
	}

	_, err := client.Stream(context.Background(), Request{})
	if !errors.Is(err, backoff.ErrMaxAttemptsExhausted) {
		t.Fatalf("Stream() error = %v, want ErrMaxAttemptsExhausted", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryingLLMClientNoRetryOnFirstSuccess(t *testing.T) {
	inner := &flakyLLM{failures: 0}
	client := NewRetryingLLMClient(inner)

	if _, err := client.Stream(context.Background(), Request{}); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 attempt on immediate success, got %d", inner.calls)
	}
}

func TestNewRetryingLLMClientDefaults(t *testing.T) {
	client := NewRetryingLLMClient(&flakyLLM{})
	if client.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", client.MaxAttempts)
	}
	if client.Policy.InitialMs != backoff.DefaultPolicy().InitialMs {
		t.Errorf("expected default policy to be applied")
	}
}
