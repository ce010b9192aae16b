// Package llm defines the contract between the turn orchestrator and the
// language-model providers. The core consumes four logical agents by name
// (game_agent, puzzle_agent, map_parser, item_parser), each of which may be
// backed by a differently configured provider. Provider HTTP code lives
// outside this module; anything satisfying Client plugs in.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Logical agent names used to look up clients in a Registry.
const (
	AgentGame       = "game_agent"
	AgentPuzzle     = "puzzle_agent"
	AgentMapParser  = "map_parser"
	AgentItemParser = "item_parser"
)

// Message is a single conversation message.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request carries everything a provider needs for one completion.
type Request struct {
	Messages     []Message
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Response is the provider's answer plus usage accounting.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	CachedTokens int
	CostEstimate float64
	LatencyMS    float64
}

// Client is the minimal provider interface the core depends on.
//
// CompleteJSON must unmarshal the model output into out; validation failures
// are retried up to three times with the prior attempt and error appended as
// feedback before giving up with ErrSchemaGaveUp. Providers without native
// structured output can wrap themselves in a JSONRetrier.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	CompleteJSON(ctx context.Context, req Request, out any) (*Response, error)
}

// ErrSchemaGaveUp is returned by CompleteJSON when all structured-output
// retries failed. Callers treat it as an empty delta, never as fatal.
var ErrSchemaGaveUp = errors.New("llm: structured output failed after retries")

// ErrUnknownAgent is returned by Registry.Client for unregistered names.
var ErrUnknownAgent = errors.New("llm: unknown agent name")

// Metric records the usage of a single model call for journaling.
type Metric struct {
	GameID       int64
	TurnNumber   int
	AgentName    string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CachedTokens int
	CostEstimate float64
	LatencyMS    float64
}

// Registry maps logical agent names to configured clients.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds a registry from an agent-name -> client map.
func NewRegistry(clients map[string]Client) *Registry {
	cp := make(map[string]Client, len(clients))
	for name, c := range clients {
		cp[name] = c
	}
	return &Registry{clients: cp}
}

// Client returns the client registered under name.
func (r *Registry) Client(name string) (Client, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return c, nil
}

// MustClient is Client for names known to exist at startup.
func (r *Registry) MustClient(name string) Client {
	c, err := r.Client(name)
	if err != nil {
		panic(err)
	}
	return c
}
