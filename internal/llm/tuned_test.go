package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureClient records the request and context each call arrived with.
type captureClient struct {
	req      Request
	deadline time.Time
	hasDL    bool
}

func (c *captureClient) capture(ctx context.Context, req Request) {
	c.req = req
	c.deadline, c.hasDL = ctx.Deadline()
}

func (c *captureClient) Complete(ctx context.Context, req Request) (*Response, error) {
	c.capture(ctx, req)
	return &Response{Text: "ok"}, nil
}

func (c *captureClient) CompleteJSON(ctx context.Context, req Request, out any) (*Response, error) {
	c.capture(ctx, req)
	return &Response{Text: "{}"}, nil
}

func TestTunedFillsDefaultsAndDeadline(t *testing.T) {
	inner := &captureClient{}
	c := Tuned(inner, 0.7, 500, 30*time.Second)

	_, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 0.7, inner.req.Temperature)
	assert.Equal(t, 500, inner.req.MaxTokens)
	require.True(t, inner.hasDL, "call should carry the configured timeout")
	assert.WithinDuration(t, time.Now().Add(30*time.Second), inner.deadline, 5*time.Second)
}

func TestTunedKeepsExplicitValues(t *testing.T) {
	inner := &captureClient{}
	c := Tuned(inner, 0.7, 500, 30*time.Second)

	_, err := c.CompleteJSON(context.Background(), Request{Temperature: 0.1, MaxTokens: 64}, &struct{}{})
	require.NoError(t, err)
	assert.Equal(t, 0.1, inner.req.Temperature)
	assert.Equal(t, 64, inner.req.MaxTokens)
}

func TestTunedZeroTimeoutAddsNoDeadline(t *testing.T) {
	inner := &captureClient{}
	c := Tuned(inner, 0, 0, 0)

	_, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.False(t, inner.hasDL)
}
