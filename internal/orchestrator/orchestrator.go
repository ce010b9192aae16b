// Package orchestrator runs the turn loop: decide a command, execute it,
// parse what happened, persist everything, and deal with death, victory,
// mazes, and getting stuck. It is the only package that touches every
// subsystem.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"autofrotz/internal/agent"
	"autofrotz/internal/config"
	"autofrotz/internal/hooks"
	"autofrotz/internal/journal"
	"autofrotz/internal/llm"
	"autofrotz/internal/puzzle"
	"autofrotz/internal/world"
)

const (
	recentActionsWindow = 20
	transcriptWindow    = 8
)

// ErrNoSave means resume found an unfinished game but no save the
// interpreter could restore, so the session cannot be reattached.
var ErrNoSave = errors.New("no usable save to resume from")

type exchange struct {
	command string
	output  string
}

// Orchestrator drives one game from start to finish.
type Orchestrator struct {
	cfg     *config.Config
	journal *journal.Journal
	interp  Interpreter
	agent   *agent.Agent
	graph   *world.Graph
	items   *world.Registry
	mazes   *world.MazeTracker
	puzzles *puzzle.Tracker
	hooks   []hooks.Hook
	logger  *zap.Logger

	// sessionID distinguishes this process run in logs and save-slot names,
	// so saves from a crashed run can never be overwritten by slot-number
	// collision before resume has read them.
	sessionID string

	gameID int64
	turn   int

	recentActions []string
	transcript    []exchange
	special       []string

	nextSlot int

	maze *mazeRun

	victory bool
	dead    bool

	pendingMetrics []llm.Metric
}

// New wires an orchestrator from its parts. The registry must carry clients
// for all four logical agents.
func New(cfg *config.Config, jrnl *journal.Journal, interp Interpreter, registry *llm.Registry, hks []hooks.Hook, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Each client is wrapped with its agent's configured temperature, token
	// limit, and call timeout.
	tuned := func(name string) (llm.Client, error) {
		c, err := registry.Client(name)
		if err != nil {
			return nil, err
		}
		ac, ok := cfg.Agents[name]
		if !ok {
			return c, nil
		}
		return llm.Tuned(c, ac.Temperature, ac.MaxTokens, ac.TimeoutDuration()), nil
	}
	mapClient, err := tuned(llm.AgentMapParser)
	if err != nil {
		return nil, err
	}
	itemClient, err := tuned(llm.AgentItemParser)
	if err != nil {
		return nil, err
	}
	puzzleClient, err := tuned(llm.AgentPuzzle)
	if err != nil {
		return nil, err
	}
	gameClient, err := tuned(llm.AgentGame)
	if err != nil {
		return nil, err
	}

	sessionID := strings.Split(uuid.NewString(), "-")[0]
	logger = logger.With(zap.String("session", sessionID))

	graph := world.NewGraph(mapClient, logger.Named("map"))
	return &Orchestrator{
		sessionID: sessionID,
		cfg:     cfg,
		journal: jrnl,
		interp:  interp,
		agent:   agent.New(gameClient, logger.Named("agent")),
		graph:   graph,
		items:   world.NewRegistry(itemClient, logger.Named("items")),
		mazes:   world.NewMazeTracker(graph, cfg.Maze.SimilarityThreshold, logger.Named("maze")),
		puzzles: puzzle.NewTracker(puzzleClient, puzzle.Config{
			EvalInterval:     cfg.Puzzle.EvalInterval,
			AttemptThreshold: cfg.Puzzle.AttemptThreshold,
		}, logger.Named("puzzle")),
		hooks:  hks,
		logger: logger,
	}, nil
}

// GameID returns the journal id of the running game, 0 before Start.
func (o *Orchestrator) GameID() int64 { return o.gameID }

// Turn returns the current turn number.
func (o *Orchestrator) Turn() int { return o.turn }

// Start opens a fresh game session and processes the intro text.
func (o *Orchestrator) Start(ctx context.Context) error {
	id, err := o.journal.CreateGame(o.cfg.Game.File)
	if err != nil {
		return err
	}
	o.gameID = id

	intro, err := o.interp.Intro(ctx)
	if err != nil {
		return fmt.Errorf("failed to start game: %w", err)
	}
	o.fire(func(h hooks.Hook) { h.OnGameStart(o.gameID, o.cfg.Game.File) })
	o.fire(func(h hooks.Hook) { h.OnGameOutput(0, intro) })

	// The intro usually describes the starting location, so it goes through
	// the parsers like any other look.
	if err := o.parseOutput(ctx, "look", intro); err != nil {
		return err
	}
	o.pushTranscript("(intro)", intro)
	if err := o.persistTurn("(intro)", intro, ""); err != nil {
		return err
	}
	return nil
}

// Resume reattaches to the most recent unfinished game after a crash: world
// state reloads from the journal, the interpreter restores the newest save,
// and a look resynchronizes the current room.
func (o *Orchestrator) Resume(ctx context.Context) error {
	id, _, ok, err := o.journal.GetActiveGame()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no unfinished game to resume")
	}
	o.gameID = id

	latest, err := o.journal.GetLatestTurn(id)
	if err != nil {
		return err
	}
	currentRoom := ""
	if latest != nil {
		o.turn = latest.TurnNumber
		currentRoom = latest.CurrentRoom
	}

	rooms, err := o.journal.GetRooms(id)
	if err != nil {
		return err
	}
	conns, err := o.journal.GetConnections(id)
	if err != nil {
		return err
	}
	o.graph.Load(rooms, conns, currentRoom)

	items, err := o.journal.GetItems(id)
	if err != nil {
		return err
	}
	o.items.Load(items)

	puzzles, err := o.journal.GetPuzzles(id)
	if err != nil {
		return err
	}
	o.puzzles.Load(puzzles, o.turn)

	groups, err := o.journal.GetMazeGroups(id)
	if err != nil {
		return err
	}
	o.mazes.Load(groups)
	if g := o.mazes.ActiveGroup(); g != nil {
		o.maze = resumeMazeRun(g)
	}

	slot, ok := o.restoreNewest(ctx)
	if !ok {
		return fmt.Errorf("cannot resume game %d: %w", id, ErrNoSave)
	}
	o.logger.Info("restored save", zap.String("slot", slot), zap.Int("turn", o.turn))
	look, err := o.interp.DoCommand(ctx, "look")
	if err != nil {
		return fmt.Errorf("failed to resync after resume: %w", err)
	}
	if err := o.parseOutput(ctx, "look", look); err != nil {
		return err
	}
	o.pushTranscript("look", look)
	o.fire(func(h hooks.Hook) { h.OnGameStart(o.gameID, o.cfg.Game.File) })
	o.logger.Info("resumed game", zap.Int64("game_id", id), zap.Int("turn", o.turn))
	return nil
}

// Run plays until victory, unrecoverable death, max turns, or context
// cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.interp.Quit(context.WithoutCancel(ctx))

	for o.turn < o.cfg.Game.MaxTurns && !o.victory && !o.dead {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := o.runTurn(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// A turn that cannot complete means the interpreter is gone; the
			// game cannot be won or lost from here, only abandoned.
			o.logger.Error("turn failed, abandoning game", zap.Int("turn", o.turn), zap.Error(err))
			if endErr := o.journal.EndGame(o.gameID, journal.StatusAbandoned, o.turn); endErr != nil {
				o.logger.Warn("failed to journal abandoned game", zap.Error(endErr))
			}
			o.fire(func(h hooks.Hook) { h.OnGameEnd(o.gameID, journal.StatusAbandoned, o.turn) })
			return err
		}
		o.fire(func(h hooks.Hook) { h.OnTurnEnd(o.turn) })
	}

	status := journal.StatusAbandoned
	switch {
	case o.victory:
		status = journal.StatusWon
	case o.dead:
		status = journal.StatusLost
	}
	if err := o.journal.EndGame(o.gameID, status, o.turn); err != nil {
		return err
	}
	o.fire(func(h hooks.Hook) { h.OnGameEnd(o.gameID, status, o.turn) })
	return nil
}

func (o *Orchestrator) runTurn(ctx context.Context) error {
	o.turn++
	o.fire(func(h hooks.Hook) { h.OnTurnStart(o.turn) })

	dec, err := o.decide(ctx)
	if err != nil {
		return err
	}
	o.fire(func(h hooks.Hook) { h.OnActionDecided(o.turn, dec.Command, dec.Reasoning) })

	if dec.Risky && o.cfg.Game.SaveOnRisky {
		o.save(ctx)
	}

	output, err := o.interp.DoCommand(ctx, dec.Command)
	if err != nil {
		return fmt.Errorf("command failed on turn %d: %w", o.turn, err)
	}
	o.fire(func(h hooks.Hook) { h.OnGameOutput(o.turn, output) })

	o.recordAction(dec.Command)
	o.pushTranscript(dec.Command, output)

	if IsDeath(output) {
		return o.handleDeath(ctx, dec, output)
	}
	if IsVictory(output) {
		o.victory = true
	}

	roomBefore := o.graph.CurrentRoomID()
	roomUpdate, itemUpdates, err := o.parseOutputBoth(ctx, dec.Command, output)
	if err != nil {
		return err
	}
	o.fire(func(h hooks.Hook) { h.OnMapUpdated(o.turn, roomUpdate) })
	if roomUpdate.RoomChanged && roomUpdate.RoomID != "" {
		rid := roomUpdate.RoomID
		o.fire(func(h hooks.Hook) { h.OnRoomEnter(o.turn, rid) })
	}
	o.fire(func(h hooks.Hook) { h.OnItemsUpdated(o.turn, itemUpdates) })

	if roomUpdate.NewRoom {
		o.puzzles.NoteProgress(o.turn)
		o.puzzles.ForceEvaluation()
	}
	carried := false
	for _, u := range itemUpdates {
		u := u
		switch u.ChangeType {
		case world.ChangeNew:
			o.fire(func(h hooks.Hook) { h.OnItemFound(o.turn, u.ItemID) })
		case world.ChangeTaken:
			o.fire(func(h hooks.Hook) { h.OnItemTaken(o.turn, u.ItemID) })
			carried = true
		case world.ChangeDropped:
			carried = true
		}
	}
	if carried {
		o.puzzles.NoteProgress(o.turn)
		o.puzzles.ForceEvaluation()
	}

	if IsCarryLimit(output) {
		o.items.NoteCarryLimit()
	}
	if target, ok := takeTarget(dec.Command); ok && IsUntakeable(output) {
		o.items.NoteUntakeable(world.NormalizeID(target), o.turn)
	}
	if dir := world.ExtractDirection(dec.Command); dir != "" && roomBefore != "" && IsMovementFailure(output) {
		o.graph.MarkBlocked(roomBefore, dir, firstLine(output))
	}
	if IsFailure(output) {
		o.puzzles.NoteFailure(dec.Command, output)
		if id, ok := o.puzzles.SuggestionPuzzle(dec.Command); ok {
			o.puzzles.RecordAttempt(id, dec.Command, firstLine(output), o.turn)
		}
		o.puzzles.ForceEvaluation()
	}

	o.mazeStep(dec, roomUpdate, output)

	if !o.victory && o.puzzles.ShouldEvaluate(o.turn) {
		if err := o.evaluatePuzzles(ctx); err != nil {
			return err
		}
	}

	if reason, stuck := o.puzzles.DetectStuck(o.recentActions, o.graph.RecentRooms(), o.turn); stuck {
		o.special = append(o.special, "You appear to be stuck: "+reason+". Try a different approach.")
		o.puzzles.ForceEvaluation()
		o.fire(func(h hooks.Hook) { h.OnStuck(o.turn, reason) })
	}

	if err := o.persistTurn(dec.Command, output, dec.Reasoning); err != nil {
		return err
	}

	if every := o.cfg.Game.AutosaveEvery; every > 0 && o.turn%every == 0 {
		o.save(ctx)
	}
	return nil
}

// decide picks the next command: the maze driver while a maze is being
// mapped, the game agent otherwise.
func (o *Orchestrator) decide(ctx context.Context) (agent.Decision, error) {
	if o.maze != nil {
		if dec, ok := o.maze.decide(o); ok {
			return dec, nil
		}
	}

	dec, err := o.agent.DecideAction(ctx, o.buildContext())
	if err != nil {
		return agent.Decision{}, err
	}
	o.special = nil
	o.recordMetric(o.agent.LastMetric())
	return dec, nil
}

func (o *Orchestrator) buildContext() agent.Context {
	cur := o.graph.Room(o.graph.CurrentRoomID())

	navHint := ""
	if cur != nil {
		if exit, path, found := o.graph.GetNearestUnexplored(cur.RoomID); found {
			if exit.RoomID == cur.RoomID {
				navHint = exit.Direction
			} else if len(path) > 0 {
				navHint = path[0]
			}
		}
	}

	roomItems := []*world.Item{}
	if cur != nil {
		roomItems = o.items.ItemsInRoom(cur.RoomID)
	}

	return agent.Context{
		Turn:                o.turn,
		Transcript:          o.transcriptText(),
		CurrentRoom:         cur,
		MapSummary:          o.graph.Summary(),
		Inventory:           o.items.Inventory(),
		RoomItems:           roomItems,
		ActivePuzzles:       o.puzzles.ActivePuzzles(),
		Suggestions:         o.puzzles.Suggestions(),
		NavHint:             navHint,
		SpecialInstructions: o.special,
	}
}

// parseOutputBoth runs the map and item parsers concurrently; their model
// calls dominate turn latency and touch disjoint state.
func (o *Orchestrator) parseOutputBoth(ctx context.Context, command, output string) (*world.RoomUpdate, []world.ItemUpdate, error) {
	roomBefore := o.graph.CurrentRoomID()

	var roomUpdate *world.RoomUpdate
	var itemUpdates []world.ItemUpdate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		roomUpdate, err = o.graph.UpdateFromGameOutput(gctx, command, output, o.turn)
		return err
	})
	g.Go(func() error {
		var err error
		itemUpdates, err = o.items.UpdateFromGameOutput(gctx, command, output, roomBefore, o.turn)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	o.recordMetric(o.graph.LastMetric())
	o.recordMetric(o.items.LastMetric())
	return roomUpdate, itemUpdates, nil
}

// parseOutput runs both parsers for non-turn outputs (intro, post-restore
// look) without hook events.
func (o *Orchestrator) parseOutput(ctx context.Context, command, output string) error {
	_, _, err := o.parseOutputBoth(ctx, command, output)
	return err
}

func (o *Orchestrator) evaluatePuzzles(ctx context.Context) error {
	if err := o.puzzles.Evaluate(ctx, o.transcriptText(), o.graph.CurrentRoomID(), o.turn); err != nil {
		return err
	}
	o.recordMetric(o.puzzles.LastMetric())
	if err := o.registerPending(); err != nil {
		return err
	}
	active := o.puzzles.ActivePuzzles()
	suggestions := o.puzzles.Suggestions()
	o.fire(func(h hooks.Hook) { h.OnPuzzleEvaluated(o.turn, active, suggestions) })
	return nil
}

// registerPending journals newly discovered puzzles, promotes them into the
// tracker, and announces discoveries and solves through the hooks. Puzzles
// can arrive from evaluation or be noted directly by the maze driver.
func (o *Orchestrator) registerPending() error {
	for _, p := range o.puzzles.Pending() {
		if err := o.journal.SavePuzzle(o.gameID, p); err != nil {
			return err
		}
		o.puzzles.Register(p)
		p := p
		o.fire(func(h hooks.Hook) { h.OnPuzzleFound(o.turn, p) })
	}
	for _, id := range o.puzzles.RecentlySolved() {
		id := id
		o.fire(func(h hooks.Hook) { h.OnPuzzleSolved(o.turn, id) })
	}
	return nil
}

// handleDeath journals the fatal turn, rewinds to the newest save, and arms
// the agent with advice about what killed it. With no save to rewind to the
// game is lost.
func (o *Orchestrator) handleDeath(ctx context.Context, dec agent.Decision, output string) error {
	if err := o.persistTurn(dec.Command, output, dec.Reasoning); err != nil {
		return err
	}

	if !o.cfg.Game.SaveOnDeath {
		o.logger.Info("death restore disabled, game over", zap.Int("turn", o.turn))
		o.fire(func(h hooks.Hook) { h.OnDeath(o.turn, "") })
		o.dead = true
		return nil
	}
	slot, ok := o.restoreNewest(ctx)
	if !ok {
		o.logger.Warn("died with no save to restore", zap.Int("turn", o.turn))
		o.fire(func(h hooks.Hook) { h.OnDeath(o.turn, "") })
		o.dead = true
		return nil
	}
	o.fire(func(h hooks.Hook) { h.OnDeath(o.turn, slot) })

	o.special = append(o.special, fmt.Sprintf(
		"You died on turn %d after %q: %s. The game was restored from a save; do not repeat that mistake.",
		o.turn, dec.Command, firstLine(output)))

	look, err := o.interp.DoCommand(ctx, "look")
	if err != nil {
		return fmt.Errorf("failed to resync after restore: %w", err)
	}
	if err := o.parseOutput(ctx, "look", look); err != nil {
		return err
	}
	o.pushTranscript("look", look)
	o.puzzles.ForceEvaluation()
	return nil
}

func (o *Orchestrator) save(ctx context.Context) {
	slots := o.cfg.Game.SaveSlots
	if slots <= 0 {
		slots = 1
	}
	slot := fmt.Sprintf("%s-slot%d", o.sessionID, o.nextSlot%slots)
	if err := o.interp.Save(ctx, slot); err != nil {
		o.logger.Warn("save failed", zap.String("slot", slot), zap.Error(err))
		return
	}
	o.nextSlot++
	if err := o.journal.RecordSave(o.gameID, slot, o.turn); err != nil {
		o.logger.Warn("failed to journal save", zap.Error(err))
	}
	o.fire(func(h hooks.Hook) { h.OnSave(o.turn, slot) })
}

func (o *Orchestrator) restoreNewest(ctx context.Context) (string, bool) {
	saves, err := o.journal.GetSaves(o.gameID)
	if err != nil {
		o.logger.Warn("failed to list saves", zap.Error(err))
		return "", false
	}
	for _, s := range saves {
		if err := o.interp.Restore(ctx, s.Slot); err != nil {
			o.logger.Warn("restore failed, trying older save",
				zap.String("slot", s.Slot), zap.Error(err))
			continue
		}
		return s.Slot, true
	}
	return "", false
}

// persistTurn journals the turn record and flushes every subsystem's
// accumulated changes in one pass.
func (o *Orchestrator) persistTurn(command, output, reasoning string) error {
	if err := o.registerPending(); err != nil {
		return err
	}
	rec := journal.TurnRecord{
		GameID:            o.gameID,
		TurnNumber:        o.turn,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		CommandSent:       command,
		GameOutput:        output,
		CurrentRoom:       o.graph.CurrentRoomID(),
		InventorySnapshot: o.items.InventoryIDs(),
		AgentReasoning:    reasoning,
	}
	if err := o.journal.SaveTurn(rec); err != nil {
		return err
	}

	delta := o.graph.Flush()
	for _, id := range delta.DeletedRooms {
		if err := o.journal.DeleteRoom(o.gameID, id); err != nil {
			return err
		}
	}
	for _, key := range delta.DeletedConnections {
		if err := o.journal.DeleteConnection(o.gameID, key[0], key[1]); err != nil {
			return err
		}
	}
	for _, r := range delta.Rooms {
		if err := o.journal.SaveRoom(o.gameID, r); err != nil {
			return err
		}
	}
	for _, c := range delta.Connections {
		if err := o.journal.SaveConnection(o.gameID, c); err != nil {
			return err
		}
	}
	for _, it := range o.items.Flush() {
		if err := o.journal.SaveItem(o.gameID, it); err != nil {
			return err
		}
	}
	for _, g := range o.mazes.Flush() {
		if err := o.journal.SaveMazeGroup(o.gameID, g); err != nil {
			return err
		}
	}
	for _, p := range o.puzzles.Flush() {
		if err := o.journal.SavePuzzle(o.gameID, p); err != nil {
			return err
		}
	}

	for _, m := range o.pendingMetrics {
		if err := o.journal.SaveMetric(m); err != nil {
			return err
		}
	}
	o.pendingMetrics = nil
	return nil
}

func (o *Orchestrator) recordMetric(m *llm.Metric) {
	if m == nil {
		return
	}
	metric := *m
	metric.GameID = o.gameID
	metric.TurnNumber = o.turn
	if ac, ok := o.cfg.Agents[metric.AgentName]; ok {
		metric.Provider = ac.Provider
		metric.Model = ac.Model
	}
	o.pendingMetrics = append(o.pendingMetrics, metric)
}

func (o *Orchestrator) recordAction(command string) {
	o.recentActions = append(o.recentActions, command)
	if len(o.recentActions) > recentActionsWindow {
		o.recentActions = o.recentActions[len(o.recentActions)-recentActionsWindow:]
	}
}

func (o *Orchestrator) pushTranscript(command, output string) {
	o.transcript = append(o.transcript, exchange{command: command, output: output})
	if len(o.transcript) > transcriptWindow {
		o.transcript = o.transcript[len(o.transcript)-transcriptWindow:]
	}
}

func (o *Orchestrator) transcriptText() string {
	var sb []byte
	for _, e := range o.transcript {
		sb = append(sb, "> "...)
		sb = append(sb, e.command...)
		sb = append(sb, '\n')
		sb = append(sb, e.output...)
		sb = append(sb, "\n\n"...)
	}
	return string(sb)
}

// fire delivers an event to every hook, isolating panics so a broken hook
// cannot take the run down.
func (o *Orchestrator) fire(f func(hooks.Hook)) {
	for _, h := range o.hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("hook panicked", zap.Any("panic", r))
				}
			}()
			f(h)
		}()
	}
}
