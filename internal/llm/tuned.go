package llm

import (
	"context"
	"time"
)

// Tuned wraps a client with per-agent defaults: requests that leave
// temperature or max tokens unset get the configured values, and every call
// runs under the configured timeout.
func Tuned(c Client, temperature float64, maxTokens int, timeout time.Duration) Client {
	return &tunedClient{
		inner:       c,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
	}
}

type tunedClient struct {
	inner       Client
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

func (t *tunedClient) fill(req Request) Request {
	if req.Temperature == 0 {
		req.Temperature = t.temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = t.maxTokens
	}
	return req
}

func (t *tunedClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.inner.Complete(ctx, t.fill(req))
}

func (t *tunedClient) CompleteJSON(ctx context.Context, req Request, out any) (*Response, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.inner.CompleteJSON(ctx, t.fill(req), out)
}
