// Package puzzle tracks open obstacles across turns and notices when the
// agent is stuck. Puzzle discovery is model-driven; stuck detection is
// purely algorithmic so it keeps working when the model is having a bad day.
package puzzle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"autofrotz/internal/llm"
	"autofrotz/internal/world"
)

// Config tunes evaluation cadence and de-prioritization.
type Config struct {
	// EvalInterval is how many turns pass between routine evaluations.
	// Certain events (entering a new room, getting stuck) force one early.
	EvalInterval int
	// AttemptThreshold is how many recorded failures push a puzzle to the
	// bottom of the suggestion order.
	AttemptThreshold int
}

func (c *Config) defaults() {
	if c.EvalInterval <= 0 {
		c.EvalInterval = 3
	}
	if c.AttemptThreshold <= 0 {
		c.AttemptThreshold = 5
	}
}

// Tracker owns the puzzle list and the stuck detector.
type Tracker struct {
	client llm.Client
	logger *zap.Logger
	cfg    Config

	puzzles      map[int64]*world.Puzzle
	pending      []*world.Puzzle // created but not yet journaled, no id
	lastEvalTurn int
	forceEval    bool

	// suggestions from the most recent evaluation, consumed by the agent.
	suggestions []suggestion

	// solvedRecently holds ids marked solved since the last drain.
	solvedRecently []int64

	// Progress tracking for stuck detection.
	lastProgressTurn int
	stuckFired       bool
	recentFailures   []string

	lastMetric *llm.Metric
	dirty      map[int64]bool
}

// NewTracker builds a tracker backed by the puzzle-agent client.
func NewTracker(client llm.Client, cfg Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.defaults()
	return &Tracker{
		client:  client,
		logger:  logger,
		cfg:     cfg,
		puzzles: make(map[int64]*world.Puzzle),
		dirty:   make(map[int64]bool),
	}
}

// LastMetric returns usage accounting for the most recent evaluation call,
// or nil when no call was made.
func (t *Tracker) LastMetric() *llm.Metric { return t.lastMetric }

// Suggestions returns the advice produced by the latest evaluation.
func (t *Tracker) Suggestions() []string {
	out := make([]string, 0, len(t.suggestions))
	for _, s := range t.suggestions {
		out = append(out, s.Command)
	}
	return out
}

// SuggestionPuzzle maps a command back to the puzzle a suggestion came from,
// so failed tries land on that puzzle's attempt record.
func (t *Tracker) SuggestionPuzzle(command string) (int64, bool) {
	for _, s := range t.suggestions {
		if s.PuzzleID != 0 && strings.EqualFold(strings.TrimSpace(s.Command), strings.TrimSpace(command)) {
			return s.PuzzleID, true
		}
	}
	return 0, false
}

// ForceEvaluation makes the next ShouldEvaluate return true regardless of
// cadence. Called on new rooms, notable item changes, and stuck detection.
func (t *Tracker) ForceEvaluation() { t.forceEval = true }

// ShouldEvaluate reports whether an evaluation is due this turn.
func (t *Tracker) ShouldEvaluate(turn int) bool {
	if t.forceEval {
		return true
	}
	return turn-t.lastEvalTurn >= t.cfg.EvalInterval
}

// suggestion is one proposed next action, tied back to the puzzle it is
// meant to advance (0 for general advice).
type suggestion struct {
	Command  string `json:"command"`
	PuzzleID int64  `json:"puzzle_id"`
}

// evalResult is the puzzle agent's structured answer.
type evalResult struct {
	NewPuzzles []struct {
		Description  string   `json:"description"`
		Location     string   `json:"location"`
		RelatedItems []string `json:"related_items"`
	} `json:"new_puzzles"`
	SolvedPuzzleIDs []int64      `json:"solved_puzzle_ids"`
	Suggestions     []suggestion `json:"suggestions"`
}

func (r evalResult) Validate() error {
	for i, p := range r.NewPuzzles {
		if strings.TrimSpace(p.Description) == "" {
			return fmt.Errorf("new puzzle %d has empty description", i)
		}
	}
	return nil
}

const evalPrompt = `You track puzzles in a text adventure.
Given recent game transcript, the open puzzle list, and current location, respond with only a JSON object:
{"new_puzzles": [{"description": str, "location": str, "related_items": [str]}], "solved_puzzle_ids": [int], "suggestions": [{"command": str, "puzzle_id": int}]}
new_puzzles are obstacles not already in the list. solved_puzzle_ids are listed ids the transcript shows solved.
suggestions are up to three short concrete next commands, each with the id of the listed puzzle it advances (0 if none). Empty lists are valid.`

// Evaluate runs the puzzle agent over the recent transcript and applies its
// findings. Model failures are not fatal; the puzzle list stays as it was.
func (t *Tracker) Evaluate(ctx context.Context, transcript, currentRoomID string, turn int) error {
	t.lastMetric = nil
	t.lastEvalTurn = turn
	t.forceEval = false

	var sb strings.Builder
	fmt.Fprintf(&sb, "Current location: %s\n\nOpen puzzles:\n", currentRoomID)
	open := t.ActivePuzzles()
	if len(open) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, p := range open {
		fmt.Fprintf(&sb, "- [%d] %s (at %s, %d attempts)\n",
			p.PuzzleID, p.Description, p.Location, len(p.Attempts))
	}
	fmt.Fprintf(&sb, "\nRecent transcript:\n%s", transcript)

	var result evalResult
	resp, err := t.client.CompleteJSON(ctx, llm.Request{
		SystemPrompt: evalPrompt,
		Messages:     []llm.Message{{Role: "user", Content: sb.String()}},
	}, &result)
	if resp != nil {
		t.lastMetric = &llm.Metric{
			AgentName:    llm.AgentPuzzle,
			TurnNumber:   turn,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			CachedTokens: resp.CachedTokens,
			CostEstimate: resp.CostEstimate,
			LatencyMS:    resp.LatencyMS,
		}
	}
	if err != nil {
		if errors.Is(err, llm.ErrSchemaGaveUp) {
			t.logger.Warn("puzzle agent gave up, keeping puzzle list as is", zap.Int("turn", turn))
		} else {
			t.logger.Warn("puzzle evaluation failed, keeping puzzle list as is",
				zap.Int("turn", turn), zap.Error(err))
		}
		return nil
	}

	for _, np := range result.NewPuzzles {
		loc := np.Location
		if loc == "" {
			loc = currentRoomID
		}
		p := &world.Puzzle{
			Description:  np.Description,
			Status:       world.PuzzleOpen,
			Location:     loc,
			RelatedItems: np.RelatedItems,
			CreatedTurn:  turn,
		}
		t.pending = append(t.pending, p)
		t.logger.Info("puzzle discovered", zap.String("description", np.Description))
	}
	for _, id := range result.SolvedPuzzleIDs {
		t.MarkSolved(id, turn)
	}
	t.suggestions = result.Suggestions
	return nil
}

// Note records a puzzle discovered without the model, such as a dark maze or
// a marker item vanishing. Duplicate descriptions are dropped.
func (t *Tracker) Note(description, location string, relatedItems []string, turn int) {
	desc := strings.TrimSpace(description)
	if desc == "" {
		return
	}
	for _, p := range t.puzzles {
		if strings.EqualFold(p.Description, desc) && p.Status != world.PuzzleSolved {
			return
		}
	}
	for _, p := range t.pending {
		if strings.EqualFold(p.Description, desc) {
			return
		}
	}
	t.pending = append(t.pending, &world.Puzzle{
		Description:  desc,
		Status:       world.PuzzleOpen,
		Location:     location,
		RelatedItems: relatedItems,
		CreatedTurn:  turn,
	})
	t.logger.Info("puzzle noted", zap.String("description", desc))
}

// Register adopts a puzzle after the journal assigned it an id.
func (t *Tracker) Register(p *world.Puzzle) {
	if p.PuzzleID != 0 {
		t.puzzles[p.PuzzleID] = p
	}
}

// Pending drains puzzles awaiting journal ids. The caller persists each one
// and passes it back through Register.
func (t *Tracker) Pending() []*world.Puzzle {
	out := t.pending
	t.pending = nil
	return out
}

// Puzzle returns a puzzle by id, or nil.
func (t *Tracker) Puzzle(id int64) *world.Puzzle { return t.puzzles[id] }

// ActivePuzzles returns open and in-progress puzzles, fresh ones first:
// puzzles past the attempt threshold sort last so the agent stops banging on
// them.
func (t *Tracker) ActivePuzzles() []*world.Puzzle {
	var out []*world.Puzzle
	for _, p := range t.puzzles {
		if p.Status == world.PuzzleOpen || p.Status == world.PuzzleInProgress {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, k int) bool {
		di := len(out[i].Attempts) >= t.cfg.AttemptThreshold
		dk := len(out[k].Attempts) >= t.cfg.AttemptThreshold
		if di != dk {
			return !di
		}
		return out[i].PuzzleID < out[k].PuzzleID
	})
	return out
}

// RelatedItemIDs returns the union of item ids tied to active puzzles.
func (t *Tracker) RelatedItemIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, p := range t.ActivePuzzles() {
		for _, id := range p.RelatedItems {
			ids[id] = true
		}
	}
	return ids
}

// RecordAttempt appends one try to a puzzle and bumps it to in-progress.
func (t *Tracker) RecordAttempt(id int64, action, result string, turn int) {
	p, ok := t.puzzles[id]
	if !ok {
		return
	}
	p.Attempts = append(p.Attempts, world.Attempt{Action: action, Result: result, Turn: turn})
	if p.Status == world.PuzzleOpen {
		p.Status = world.PuzzleInProgress
	}
	t.dirty[id] = true
}

// MarkSolved closes a puzzle and counts as progress for stuck detection.
func (t *Tracker) MarkSolved(id int64, turn int) {
	p, ok := t.puzzles[id]
	if !ok || p.Status == world.PuzzleSolved {
		return
	}
	p.Status = world.PuzzleSolved
	p.SolvedTurn = turn
	t.dirty[id] = true
	t.solvedRecently = append(t.solvedRecently, id)
	t.NoteProgress(turn)
	t.logger.Info("puzzle solved", zap.Int64("puzzle_id", id), zap.Int("turn", turn))
}

// RecentlySolved drains ids marked solved since the last call.
func (t *Tracker) RecentlySolved() []int64 {
	out := t.solvedRecently
	t.solvedRecently = nil
	return out
}

// NoteProgress resets the stuck clock. Called on new rooms, inventory
// changes, and solved puzzles.
func (t *Tracker) NoteProgress(turn int) {
	t.lastProgressTurn = turn
	t.stuckFired = false
	t.recentFailures = nil
}

// Stuck-detection thresholds.
const (
	repeatActionLimit  = 3
	repeatWindow       = 10
	cycleWindow        = 15
	cycleMaxRooms      = 3
	noProgressLimit    = 15
	failureRepeatLimit = 3
	failureWindow      = 10
)

// NoteFailure remembers the verb of a failed command and the normalized text
// of its rejection, so the same brush-off coming back against variations of
// one verb reads as stuck.
func (t *Tracker) NoteFailure(command, output string) {
	norm := world.NormalizeDescription(output)
	if norm == "" {
		return
	}
	verb := ""
	if fields := strings.Fields(strings.ToLower(command)); len(fields) > 0 {
		verb = fields[0]
	}
	t.recentFailures = append(t.recentFailures, verb+"\x00"+norm)
	if len(t.recentFailures) > failureWindow {
		t.recentFailures = t.recentFailures[len(t.recentFailures)-failureWindow:]
	}
}

// DetectStuck runs algorithmic checks over recent history: the same action
// repeated, pacing around a handful of rooms, the same rejection text coming
// back, and a long dry spell with no progress. It fires at most once per dry
// spell; any progress re-arms it.
func (t *Tracker) DetectStuck(recentActions, recentRooms []string, turn int) (reason string, stuck bool) {
	if t.stuckFired {
		return "", false
	}

	if n := len(recentActions); n > 0 {
		window := recentActions
		if n > repeatWindow {
			window = recentActions[n-repeatWindow:]
		}
		counts := make(map[string]int)
		for _, a := range window {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			counts[a]++
			if counts[a] >= repeatActionLimit {
				t.stuckFired = true
				return fmt.Sprintf("repeated action %q %d times in the last %d turns",
					a, counts[a], len(window)), true
			}
		}
	}

	if n := len(recentRooms); n >= cycleWindow {
		distinct := make(map[string]bool)
		for _, r := range recentRooms[n-cycleWindow:] {
			distinct[r] = true
		}
		if len(distinct) <= cycleMaxRooms {
			t.stuckFired = true
			return fmt.Sprintf("cycling between %d rooms for %d turns", len(distinct), cycleWindow), true
		}
	}

	failures := make(map[string]int)
	for _, f := range t.recentFailures {
		failures[f]++
		if failures[f] >= failureRepeatLimit {
			verb, _, _ := strings.Cut(f, "\x00")
			t.stuckFired = true
			return fmt.Sprintf("%q commands rejected the same way %d times", verb, failures[f]), true
		}
	}

	if turn-t.lastProgressTurn >= noProgressLimit {
		t.stuckFired = true
		return fmt.Sprintf("no progress for %d turns", turn-t.lastProgressTurn), true
	}
	return "", false
}

// Flush drains puzzles changed since the last call, sorted by id.
func (t *Tracker) Flush() []*world.Puzzle {
	ids := make([]int64, 0, len(t.dirty))
	for id := range t.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })
	out := make([]*world.Puzzle, 0, len(ids))
	for _, id := range ids {
		if p, ok := t.puzzles[id]; ok {
			out = append(out, p)
		}
	}
	t.dirty = make(map[int64]bool)
	return out
}

// Load replaces tracker contents with journaled state, for crash resume.
func (t *Tracker) Load(puzzles []*world.Puzzle, turn int) {
	t.puzzles = make(map[int64]*world.Puzzle, len(puzzles))
	for _, p := range puzzles {
		t.puzzles[p.PuzzleID] = p
	}
	t.pending = nil
	t.dirty = make(map[int64]bool)
	t.solvedRecently = nil
	t.lastProgressTurn = turn
	t.stuckFired = false
	t.recentFailures = nil
}
