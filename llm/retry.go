package llm

import (
	"context"

	"github.com/fabfab/fiscal-qa/remote"
)

type retryClient struct {
	next    Client
	retrier *remote.Retrier
}

// WithRetry retries completions that failed on rate limits, server errors or
// the network. Rejected requests and cancellation are returned immediately.
func WithRetry(next Client, p remote.Policy) Client {
	return &retryClient{next: next, retrier: remote.NewRetrier(p)}
}

func (c *retryClient) Generate(ctx context.Context, messages []Message) (string, error) {
	return remote.Do(ctx, c.retrier, func(ctx context.Context) (string, error) {
		return c.next.Generate(ctx, messages)
	})
}
