// Package journal is the durable, append-only record of everything that
// happens in a game: turns, rooms, connections, items, puzzles, maze groups,
// and per-call model metrics. It is the sole source of truth for crash
// resume. SQLite runs in WAL mode so dashboard readers never block a live
// turn; all writers serialize through one process-wide handle.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Game statuses.
const (
	StatusPlaying   = "playing"
	StatusWon       = "won"
	StatusLost      = "lost"
	StatusAbandoned = "abandoned"
)

// TurnRecord is one complete turn: the command sent, what came back, and the
// world snapshot at commit time.
type TurnRecord struct {
	GameID            int64
	TurnNumber        int
	Timestamp         string
	CommandSent       string
	GameOutput        string
	CurrentRoom       string
	InventorySnapshot []string
	AgentReasoning    string
}

// GameSession is the metadata row for one play-through.
type GameSession struct {
	GameID     int64
	GameFile   string
	StartTime  string
	EndTime    string
	Status     string
	TotalTurns int
}

// Journal wraps the SQLite handle. A single Journal is shared process-wide;
// the mutex serializes writers while WAL lets readers observe committed
// state concurrently.
type Journal struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
	path   string
}

// Open initializes the journal at path, creating the schema if needed.
// Use ":memory:" for tests.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create journal directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// A single connection keeps writes serialized beneath the mutex.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	j := &Journal{db: db, logger: logger, path: path}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("journal opened", zap.String("path", path))
	return j, nil
}

func (j *Journal) initSchema() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS games (
			game_id INTEGER PRIMARY KEY AUTOINCREMENT,
			game_file TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT,
			status TEXT NOT NULL DEFAULT 'playing',
			total_turns INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id INTEGER PRIMARY KEY AUTOINCREMENT,
			game_id INTEGER NOT NULL,
			turn_number INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			command_sent TEXT NOT NULL,
			game_output TEXT NOT NULL,
			current_room TEXT NOT NULL,
			inventory_snapshot TEXT NOT NULL DEFAULT '[]',
			agent_reasoning TEXT,
			FOREIGN KEY (game_id) REFERENCES games(game_id),
			UNIQUE(game_id, turn_number)
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			game_id INTEGER NOT NULL,
			room_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			visited INTEGER NOT NULL DEFAULT 0,
			visit_count INTEGER NOT NULL DEFAULT 0,
			maze_group TEXT,
			maze_marker_item TEXT,
			is_dark INTEGER NOT NULL DEFAULT 0,
			first_visited_turn INTEGER,
			last_visited_turn INTEGER,
			exits TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (game_id, room_id),
			FOREIGN KEY (game_id) REFERENCES games(game_id)
		)`,
		`CREATE TABLE IF NOT EXISTS connections (
			connection_id INTEGER PRIMARY KEY AUTOINCREMENT,
			game_id INTEGER NOT NULL,
			from_room_id TEXT NOT NULL,
			to_room_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			bidirectional INTEGER NOT NULL DEFAULT 1,
			blocked INTEGER NOT NULL DEFAULT 0,
			block_reason TEXT,
			teleport INTEGER NOT NULL DEFAULT 0,
			random INTEGER NOT NULL DEFAULT 0,
			observed_destinations TEXT NOT NULL DEFAULT '[]',
			FOREIGN KEY (game_id) REFERENCES games(game_id),
			UNIQUE(game_id, from_room_id, direction)
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			game_id INTEGER NOT NULL,
			item_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			location TEXT NOT NULL DEFAULT 'unknown',
			portable INTEGER,
			properties TEXT NOT NULL DEFAULT '{}',
			first_seen_turn INTEGER NOT NULL DEFAULT 0,
			last_seen_turn INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (game_id, item_id),
			FOREIGN KEY (game_id) REFERENCES games(game_id)
		)`,
		`CREATE TABLE IF NOT EXISTS puzzles (
			puzzle_id INTEGER PRIMARY KEY AUTOINCREMENT,
			game_id INTEGER NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			location TEXT NOT NULL,
			related_items TEXT NOT NULL DEFAULT '[]',
			attempts TEXT NOT NULL DEFAULT '[]',
			created_turn INTEGER NOT NULL,
			solved_turn INTEGER,
			FOREIGN KEY (game_id) REFERENCES games(game_id)
		)`,
		`CREATE TABLE IF NOT EXISTS maze_groups (
			game_id INTEGER NOT NULL,
			group_id TEXT NOT NULL,
			entry_room_id TEXT NOT NULL,
			room_ids TEXT NOT NULL DEFAULT '[]',
			exit_room_ids TEXT NOT NULL DEFAULT '[]',
			markers TEXT NOT NULL DEFAULT '{}',
			fully_mapped INTEGER NOT NULL DEFAULT 0,
			created_turn INTEGER NOT NULL,
			completed_turn INTEGER,
			PRIMARY KEY (game_id, group_id),
			FOREIGN KEY (game_id) REFERENCES games(game_id)
		)`,
		`CREATE TABLE IF NOT EXISTS saves (
			game_id INTEGER NOT NULL,
			slot TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (game_id, slot),
			FOREIGN KEY (game_id) REFERENCES games(game_id)
		)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			metric_id INTEGER PRIMARY KEY AUTOINCREMENT,
			game_id INTEGER NOT NULL,
			turn_number INTEGER NOT NULL,
			agent_name TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cached_tokens INTEGER NOT NULL DEFAULT 0,
			cost_estimate REAL NOT NULL DEFAULT 0.0,
			latency_ms REAL NOT NULL DEFAULT 0.0,
			FOREIGN KEY (game_id) REFERENCES games(game_id)
		)`,
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_turns_game_turn ON turns(game_id, turn_number)",
		"CREATE INDEX IF NOT EXISTS idx_rooms_game ON rooms(game_id)",
		"CREATE INDEX IF NOT EXISTS idx_items_game ON items(game_id)",
		"CREATE INDEX IF NOT EXISTS idx_puzzles_game ON puzzles(game_id)",
		"CREATE INDEX IF NOT EXISTS idx_metrics_game ON metrics(game_id)",
	}

	for _, stmt := range append(tables, indexes...) {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// CreateGame opens a new game session and returns its id.
func (j *Journal) CreateGame(gameFile string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.db.Exec(
		"INSERT INTO games (game_file, start_time, status, total_turns) VALUES (?, ?, 'playing', 0)",
		gameFile, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create game: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	j.logger.Info("created game session", zap.Int64("game_id", id), zap.String("file", gameFile))
	return id, nil
}

// EndGame marks a session finished with a final status.
func (j *Journal) EndGame(gameID int64, status string, totalTurns int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		"UPDATE games SET end_time = ?, status = ?, total_turns = ? WHERE game_id = ?",
		time.Now().UTC().Format(time.RFC3339), status, totalTurns, gameID,
	)
	if err != nil {
		return fmt.Errorf("failed to end game: %w", err)
	}
	return nil
}

// GetActiveGame returns the most recent session still marked playing, for
// crash recovery. ok is false when none exists.
func (j *Journal) GetActiveGame() (id int64, gameFile string, ok bool, err error) {
	row := j.db.QueryRow(
		"SELECT game_id, game_file FROM games WHERE status = 'playing' ORDER BY game_id DESC LIMIT 1",
	)
	switch err = row.Scan(&id, &gameFile); err {
	case nil:
		return id, gameFile, true, nil
	case sql.ErrNoRows:
		return 0, "", false, nil
	default:
		return 0, "", false, err
	}
}

// GetGame returns the session row for gameID, or nil when absent.
func (j *Journal) GetGame(gameID int64) (*GameSession, error) {
	row := j.db.QueryRow("SELECT game_id, game_file, start_time, COALESCE(end_time, ''), status, total_turns FROM games WHERE game_id = ?", gameID)
	var g GameSession
	if err := row.Scan(&g.GameID, &g.GameFile, &g.StartTime, &g.EndTime, &g.Status, &g.TotalTurns); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

// GetAllGames lists every session, newest first.
func (j *Journal) GetAllGames() ([]GameSession, error) {
	rows, err := j.db.Query("SELECT game_id, game_file, start_time, COALESCE(end_time, ''), status, total_turns FROM games ORDER BY game_id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []GameSession
	for rows.Next() {
		var g GameSession
		if err := rows.Scan(&g.GameID, &g.GameFile, &g.StartTime, &g.EndTime, &g.Status, &g.TotalTurns); err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// SaveSlot records that a game save was written to a slot. Slots rotate, so
// the row is upserted per (game_id, slot).
type SaveSlot struct {
	Slot       string
	TurnNumber int
}

// RecordSave upserts the save-slot row so crash recovery can find the
// newest restorable state.
func (j *Journal) RecordSave(gameID int64, slot string, turnNumber int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`
		INSERT INTO saves (game_id, slot, turn_number, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(game_id, slot) DO UPDATE SET
			turn_number = excluded.turn_number,
			created_at = excluded.created_at`,
		gameID, slot, turnNumber, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record save: %w", err)
	}
	return nil
}

// GetSaves lists a game's save slots, newest first.
func (j *Journal) GetSaves(gameID int64) ([]SaveSlot, error) {
	rows, err := j.db.Query(
		"SELECT slot, turn_number FROM saves WHERE game_id = ? ORDER BY turn_number DESC",
		gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var saves []SaveSlot
	for rows.Next() {
		var s SaveSlot
		if err := rows.Scan(&s.Slot, &s.TurnNumber); err != nil {
			return nil, err
		}
		saves = append(saves, s)
	}
	return saves, rows.Err()
}

// SaveTurn upserts a turn record on (game_id, turn_number) so a crash replay
// of the same turn is idempotent.
func (j *Journal) SaveTurn(t TurnRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	inv, err := json.Marshal(t.InventorySnapshot)
	if err != nil {
		return fmt.Errorf("failed to encode inventory: %w", err)
	}

	_, err = j.db.Exec(`
		INSERT INTO turns (
			game_id, turn_number, timestamp, command_sent, game_output,
			current_room, inventory_snapshot, agent_reasoning
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_id, turn_number) DO UPDATE SET
			timestamp = excluded.timestamp,
			command_sent = excluded.command_sent,
			game_output = excluded.game_output,
			current_room = excluded.current_room,
			inventory_snapshot = excluded.inventory_snapshot,
			agent_reasoning = excluded.agent_reasoning`,
		t.GameID, t.TurnNumber, t.Timestamp, t.CommandSent, t.GameOutput,
		t.CurrentRoom, string(inv), t.AgentReasoning,
	)
	if err != nil {
		return fmt.Errorf("failed to save turn %d: %w", t.TurnNumber, err)
	}
	return nil
}

func scanTurn(row interface{ Scan(...any) error }) (*TurnRecord, error) {
	var t TurnRecord
	var inv string
	var reasoning sql.NullString
	if err := row.Scan(&t.GameID, &t.TurnNumber, &t.Timestamp, &t.CommandSent,
		&t.GameOutput, &t.CurrentRoom, &inv, &reasoning); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(inv), &t.InventorySnapshot); err != nil {
		return nil, fmt.Errorf("corrupt inventory snapshot: %w", err)
	}
	t.AgentReasoning = reasoning.String
	return &t, nil
}

const turnColumns = "game_id, turn_number, timestamp, command_sent, game_output, current_room, inventory_snapshot, agent_reasoning"

// GetTurn fetches a single turn, or nil when absent.
func (j *Journal) GetTurn(gameID int64, turnNumber int) (*TurnRecord, error) {
	row := j.db.QueryRow(
		"SELECT "+turnColumns+" FROM turns WHERE game_id = ? AND turn_number = ?",
		gameID, turnNumber,
	)
	t, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// GetLatestTurn fetches the highest-numbered turn, or nil when the game has
// no turns yet.
func (j *Journal) GetLatestTurn(gameID int64) (*TurnRecord, error) {
	row := j.db.QueryRow(
		"SELECT "+turnColumns+" FROM turns WHERE game_id = ? ORDER BY turn_number DESC LIMIT 1",
		gameID,
	)
	t, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// GetTurns returns all turns for a game in turn order.
func (j *Journal) GetTurns(gameID int64) ([]TurnRecord, error) {
	rows, err := j.db.Query(
		"SELECT "+turnColumns+" FROM turns WHERE game_id = ? ORDER BY turn_number",
		gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []TurnRecord
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, *t)
	}
	return turns, rows.Err()
}
