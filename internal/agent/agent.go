// Package agent holds the game agent: the model-driven player that decides
// the next command each normal turn. Everything it knows arrives through a
// Context assembled by the orchestrator; the agent itself keeps no state
// between turns.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"autofrotz/internal/llm"
	"autofrotz/internal/world"
)

// Context is the per-turn briefing assembled for the agent.
type Context struct {
	Turn       int
	Transcript string // recent command/output pairs, oldest first

	CurrentRoom *world.Room
	MapSummary  world.MapSummary
	Inventory   []*world.Item
	RoomItems   []*world.Item

	ActivePuzzles []*world.Puzzle
	Suggestions   []string

	// NavHint is the direction toward the nearest unexplored exit, "" when
	// the known map is exhausted or unreachable.
	NavHint string
	// SpecialInstructions carry death advice and stuck nudges. Cleared by
	// the orchestrator once consumed.
	SpecialInstructions []string
}

// Decision is the agent's answer for one turn.
type Decision struct {
	Command   string
	Reasoning string
	// Risky marks commands that plausibly end the game, prompting a save.
	Risky bool
}

// Agent wraps the game-agent model client.
type Agent struct {
	client llm.Client
	logger *zap.Logger

	lastMetric *llm.Metric
}

// New builds an agent on the given client.
func New(client llm.Client, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{client: client, logger: logger}
}

// LastMetric returns usage accounting for the most recent decision, or nil.
func (a *Agent) LastMetric() *llm.Metric { return a.lastMetric }

const systemPrompt = `You are playing a classic text adventure. Your goal is to explore, solve puzzles, collect treasure, and win.
Think briefly, then end your reply with exactly one line of the form:
ACTION: <command>
The command must be a single game command like "north", "take lamp", or "open door".`

// DecideAction asks the model for the next command. A reply without an
// ACTION line gets one retry with a reminder; if that also fails the agent
// falls back to the first puzzle suggestion, then to "look".
func (a *Agent) DecideAction(ctx context.Context, c Context) (Decision, error) {
	a.lastMetric = nil

	messages := []llm.Message{{Role: "user", Content: buildBriefing(c)}}
	var totalMetric llm.Metric

	for attempt := 0; attempt < 2; attempt++ {
		resp, err := a.client.Complete(ctx, llm.Request{
			SystemPrompt: systemPrompt,
			Messages:     messages,
		})
		if err != nil {
			// A timed-out or failing model is not a dead game; fall through
			// to the suggestion or look fallback below.
			a.logger.Warn("game agent call failed", zap.Error(err))
			break
		}
		totalMetric.InputTokens += resp.InputTokens
		totalMetric.OutputTokens += resp.OutputTokens
		totalMetric.CachedTokens += resp.CachedTokens
		totalMetric.CostEstimate += resp.CostEstimate
		totalMetric.LatencyMS += resp.LatencyMS

		if cmd, reasoning, ok := parseAction(resp.Text); ok {
			a.finishMetric(totalMetric, c.Turn)
			return Decision{Command: cmd, Reasoning: reasoning, Risky: isRisky(cmd)}, nil
		}

		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Text},
			llm.Message{Role: "user", Content: `Your reply had no ACTION line. Reply again ending with exactly one line "ACTION: <command>".`},
		)
	}

	a.finishMetric(totalMetric, c.Turn)
	if len(c.Suggestions) > 0 {
		cmd := c.Suggestions[0]
		a.logger.Warn("no action line, using puzzle suggestion", zap.String("command", cmd))
		return Decision{Command: cmd, Reasoning: "fallback to puzzle suggestion", Risky: isRisky(cmd)}, nil
	}
	a.logger.Warn("no action line and no suggestion, looking around")
	return Decision{Command: "look", Reasoning: "fallback"}, nil
}

func (a *Agent) finishMetric(m llm.Metric, turn int) {
	if m.InputTokens == 0 && m.OutputTokens == 0 {
		return
	}
	m.AgentName = llm.AgentGame
	m.TurnNumber = turn
	a.lastMetric = &m
}

func buildBriefing(c Context) string {
	var sb strings.Builder

	if len(c.SpecialInstructions) > 0 {
		sb.WriteString("IMPORTANT:\n")
		for _, s := range c.SpecialInstructions {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
		sb.WriteString("\n")
	}

	if c.CurrentRoom != nil {
		fmt.Fprintf(&sb, "Location: %s\n", c.CurrentRoom.Name)
		if c.CurrentRoom.Description != "" {
			fmt.Fprintf(&sb, "%s\n", c.CurrentRoom.Description)
		}
	}
	fmt.Fprintf(&sb, "Explored: %d rooms, %d unexplored exits remain.\n",
		c.MapSummary.RoomsVisited, c.MapSummary.UnexploredCount)
	if c.NavHint != "" {
		fmt.Fprintf(&sb, "Nearest unexplored exit: head %s.\n", c.NavHint)
	}

	sb.WriteString("\nInventory:")
	if len(c.Inventory) == 0 {
		sb.WriteString(" (empty)")
	}
	sb.WriteString("\n")
	for _, it := range c.Inventory {
		fmt.Fprintf(&sb, "- %s\n", it.Name)
	}
	if len(c.RoomItems) > 0 {
		sb.WriteString("Items here:\n")
		for _, it := range c.RoomItems {
			fmt.Fprintf(&sb, "- %s\n", it.Name)
		}
	}

	if len(c.ActivePuzzles) > 0 {
		sb.WriteString("\nOpen puzzles:\n")
		for _, p := range c.ActivePuzzles {
			fmt.Fprintf(&sb, "- %s (at %s)\n", p.Description, p.Location)
		}
	}
	if len(c.Suggestions) > 0 {
		sb.WriteString("Suggestions:\n")
		for _, s := range c.Suggestions {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
	}

	if c.Transcript != "" {
		fmt.Fprintf(&sb, "\nRecent transcript:\n%s\n", c.Transcript)
	}
	sb.WriteString("\nWhat is your next command?")
	return sb.String()
}

// parseAction extracts the command from the last ACTION line in the reply.
// Everything before that line is kept as reasoning.
func parseAction(text string) (command, reasoning string, ok bool) {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		rest, found := strings.CutPrefix(line, "ACTION:")
		if !found {
			rest, found = strings.CutPrefix(line, "Action:")
		}
		if !found {
			continue
		}
		cmd := strings.TrimSpace(rest)
		if cmd == "" {
			return "", "", false
		}
		return cmd, strings.TrimSpace(strings.Join(lines[:i], "\n")), true
	}
	return "", "", false
}

// Verbs that have a real chance of ending the game.
var riskyVerbs = []string{
	"attack", "kill", "fight", "hit", "stab",
	"jump", "leap", "dive", "climb down",
	"eat", "drink", "swallow",
	"burn", "light", "ignite",
	"pray", "dig", "swim",
}

func isRisky(command string) bool {
	cmd := strings.ToLower(strings.TrimSpace(command))
	for _, v := range riskyVerbs {
		if cmd == v || strings.HasPrefix(cmd, v+" ") {
			return true
		}
	}
	return false
}
