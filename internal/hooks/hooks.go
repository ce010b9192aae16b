// Package hooks defines the observer interface fired at each notable point
// of a turn. Hooks are for side channels such as logging, dashboards, and
// test recorders; they cannot alter the turn, and a panicking hook is isolated
// so it cannot kill a run.
package hooks

import (
	"go.uber.org/zap"

	"autofrotz/internal/world"
)

// Hook receives lifecycle events. Implementations must be fast; they run
// inline in the turn loop.
type Hook interface {
	OnGameStart(gameID int64, gameFile string)
	OnTurnStart(turn int)
	OnTurnEnd(turn int)
	OnActionDecided(turn int, command, reasoning string)
	OnGameOutput(turn int, output string)
	OnMapUpdated(turn int, update *world.RoomUpdate)
	OnRoomEnter(turn int, roomID string)
	OnItemsUpdated(turn int, updates []world.ItemUpdate)
	OnItemFound(turn int, itemID string)
	OnItemTaken(turn int, itemID string)
	OnPuzzleEvaluated(turn int, active []*world.Puzzle, suggestions []string)
	OnPuzzleFound(turn int, puzzle *world.Puzzle)
	OnPuzzleSolved(turn int, puzzleID int64)
	OnMazeDetected(turn int, groupID string)
	OnMazeRoomMarked(turn int, roomID, itemID string)
	OnMazeCompleted(turn int, groupID string)
	OnDeath(turn int, restoredSlot string)
	OnSave(turn int, slot string)
	OnStuck(turn int, reason string)
	OnGameEnd(gameID int64, status string, totalTurns int)
}

// Nop is an embeddable no-op implementation so hooks only override what they
// care about.
type Nop struct{}

func (Nop) OnGameStart(int64, string)                        {}
func (Nop) OnTurnStart(int)                                  {}
func (Nop) OnTurnEnd(int)                                    {}
func (Nop) OnActionDecided(int, string, string)              {}
func (Nop) OnGameOutput(int, string)                         {}
func (Nop) OnMapUpdated(int, *world.RoomUpdate)              {}
func (Nop) OnRoomEnter(int, string)                          {}
func (Nop) OnItemsUpdated(int, []world.ItemUpdate)           {}
func (Nop) OnItemFound(int, string)                          {}
func (Nop) OnItemTaken(int, string)                          {}
func (Nop) OnPuzzleEvaluated(int, []*world.Puzzle, []string) {}
func (Nop) OnPuzzleFound(int, *world.Puzzle)                 {}
func (Nop) OnPuzzleSolved(int, int64)                        {}
func (Nop) OnMazeDetected(int, string)                       {}
func (Nop) OnMazeRoomMarked(int, string, string)             {}
func (Nop) OnMazeCompleted(int, string)                      {}
func (Nop) OnDeath(int, string)                              {}
func (Nop) OnSave(int, string)                               {}
func (Nop) OnStuck(int, string)                              {}
func (Nop) OnGameEnd(int64, string, int)                     {}

var _ Hook = Nop{}

// LogHook narrates the run through a zap logger.
type LogHook struct {
	Nop
	Logger *zap.Logger
}

func (h LogHook) OnGameStart(gameID int64, gameFile string) {
	h.Logger.Info("game started", zap.Int64("game_id", gameID), zap.String("file", gameFile))
}

func (h LogHook) OnActionDecided(turn int, command, reasoning string) {
	h.Logger.Info("action", zap.Int("turn", turn), zap.String("command", command))
}

func (h LogHook) OnMapUpdated(turn int, update *world.RoomUpdate) {
	if update != nil && update.NewRoom {
		h.Logger.Info("new room discovered", zap.Int("turn", turn), zap.String("room", update.RoomID))
	}
}

func (h LogHook) OnPuzzleFound(turn int, puzzle *world.Puzzle) {
	h.Logger.Info("puzzle found", zap.Int("turn", turn), zap.String("description", puzzle.Description))
}

func (h LogHook) OnPuzzleSolved(turn int, puzzleID int64) {
	h.Logger.Info("puzzle solved", zap.Int("turn", turn), zap.Int64("puzzle_id", puzzleID))
}

func (h LogHook) OnMazeDetected(turn int, groupID string) {
	h.Logger.Info("maze detected", zap.Int("turn", turn), zap.String("group", groupID))
}

func (h LogHook) OnMazeCompleted(turn int, groupID string) {
	h.Logger.Info("maze mapped", zap.Int("turn", turn), zap.String("group", groupID))
}

func (h LogHook) OnDeath(turn int, restoredSlot string) {
	h.Logger.Warn("died", zap.Int("turn", turn), zap.String("restored_from", restoredSlot))
}

func (h LogHook) OnSave(turn int, slot string) {
	h.Logger.Debug("saved", zap.Int("turn", turn), zap.String("slot", slot))
}

func (h LogHook) OnStuck(turn int, reason string) {
	h.Logger.Warn("stuck", zap.Int("turn", turn), zap.String("reason", reason))
}

func (h LogHook) OnGameEnd(gameID int64, status string, totalTurns int) {
	h.Logger.Info("game ended",
		zap.Int64("game_id", gameID),
		zap.String("status", status),
		zap.Int("turns", totalTurns))
}
