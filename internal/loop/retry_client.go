package loop

import (
	"context"

	"github.com/noema-systems/noema/internal/backoff"
)

// RetryingLLMClient wraps an LLMClient and retries the initial Stream call
// with exponential backoff when it fails to establish, e.g. a dropped
// connection or a transient 5xx before any chunk has been delivered. It
// never retries mid-stream: once Stream returns a channel, a later error
// chunk is a transport error the loop surfaces directly as an Error output
// event, not something this wrapper papers over.
type RetryingLLMClient struct {
	Client      LLMClient
	Policy      backoff.BackoffPolicy
	MaxAttempts int
}

// NewRetryingLLMClient wraps client with DefaultPolicy and a 3-attempt cap.
func NewRetryingLLMClient(client LLMClient) *RetryingLLMClient {
	return &RetryingLLMClient{
		Client:      client,
		Policy:      backoff.DefaultPolicy(),
		MaxAttempts: 3,
	}
}

// Stream implements LLMClient, retrying only the connection attempt.
func (r *RetryingLLMClient) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	result, err := backoff.RetryWithBackoff(ctx, r.Policy, maxAttempts, func(int) (<-chan StreamChunk, error) {
		return r.Client.Stream(ctx, req)
	})
	return result.Value, err
}
