package world

import (
	"context"
	"fmt"
	"testing"

	"autofrotz/internal/llm"
)

// scriptClient replays canned model responses in order. CompleteJSON parses
// them exactly the way a production client would.
type scriptClient struct {
	t         *testing.T
	responses []string
	calls     int
}

func (c *scriptClient) next() string {
	if c.calls >= len(c.responses) {
		c.t.Fatalf("script exhausted after %d calls", c.calls)
	}
	r := c.responses[c.calls]
	c.calls++
	return r
}

func (c *scriptClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: c.next(), InputTokens: 10, OutputTokens: 5}, nil
}

func (c *scriptClient) CompleteJSON(ctx context.Context, req llm.Request, out any) (*llm.Response, error) {
	resp := &llm.Response{Text: c.next(), InputTokens: 10, OutputTokens: 5}
	if err := llm.UnmarshalResponse(resp.Text, out); err != nil {
		return resp, llm.ErrSchemaGaveUp
	}
	return resp, nil
}

// errClient fails every call, standing in for a dead or timed-out backend.
type errClient struct{}

func (errClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return nil, fmt.Errorf("model backend unreachable")
}

func (errClient) CompleteJSON(ctx context.Context, req llm.Request, out any) (*llm.Response, error) {
	return nil, fmt.Errorf("model backend unreachable")
}

func roomJSON(name, desc string, exits ...string) string {
	exitList := "["
	for i, e := range exits {
		if i > 0 {
			exitList += ","
		}
		exitList += fmt.Sprintf("%q", e)
	}
	exitList += "]"
	return fmt.Sprintf(`{"room_changed": true, "room_name": %q, "description": %q, "exits": %s, "is_dark": false, "items_seen": []}`,
		name, desc, exitList)
}

func noRoomChangeJSON() string {
	return `{"room_changed": false, "room_name": "", "description": "", "exits": [], "is_dark": false, "items_seen": []}`
}
