package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"autofrotz/internal/llm"
	"autofrotz/internal/world"
)

// SaveRoom upserts a room snapshot.
func (j *Journal) SaveRoom(gameID int64, r *world.Room) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	exits, err := json.Marshal(r.Exits)
	if err != nil {
		return fmt.Errorf("failed to encode exits: %w", err)
	}

	_, err = j.db.Exec(`
		INSERT INTO rooms (
			game_id, room_id, name, description, visited, visit_count,
			maze_group, maze_marker_item, is_dark,
			first_visited_turn, last_visited_turn, exits
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_id, room_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			visited = excluded.visited,
			visit_count = excluded.visit_count,
			maze_group = excluded.maze_group,
			maze_marker_item = excluded.maze_marker_item,
			is_dark = excluded.is_dark,
			first_visited_turn = excluded.first_visited_turn,
			last_visited_turn = excluded.last_visited_turn,
			exits = excluded.exits`,
		gameID, r.RoomID, r.Name, r.Description, boolInt(r.Visited), r.VisitCount,
		nullStr(r.MazeGroup), nullStr(r.MazeMarkerItem), boolInt(r.IsDark),
		r.FirstVisitedTurn, r.LastVisitedTurn, string(exits),
	)
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", r.RoomID, err)
	}
	return nil
}

// DeleteRoom removes a room row. Used when maze detection renames rooms.
func (j *Journal) DeleteRoom(gameID int64, roomID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec("DELETE FROM rooms WHERE game_id = ? AND room_id = ?", gameID, roomID)
	return err
}

// GetRooms loads every room for a game.
func (j *Journal) GetRooms(gameID int64) ([]*world.Room, error) {
	rows, err := j.db.Query(`
		SELECT room_id, name, COALESCE(description, ''), visited, visit_count,
			COALESCE(maze_group, ''), COALESCE(maze_marker_item, ''), is_dark,
			COALESCE(first_visited_turn, 0), COALESCE(last_visited_turn, 0), exits
		FROM rooms WHERE game_id = ?`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []*world.Room
	for rows.Next() {
		var r world.Room
		var visited, dark int
		var exits string
		if err := rows.Scan(&r.RoomID, &r.Name, &r.Description, &visited, &r.VisitCount,
			&r.MazeGroup, &r.MazeMarkerItem, &dark,
			&r.FirstVisitedTurn, &r.LastVisitedTurn, &exits); err != nil {
			return nil, err
		}
		r.Visited = visited != 0
		r.IsDark = dark != 0
		if err := json.Unmarshal([]byte(exits), &r.Exits); err != nil {
			return nil, fmt.Errorf("corrupt exits for room %s: %w", r.RoomID, err)
		}
		rooms = append(rooms, &r)
	}
	return rooms, rows.Err()
}

// SaveConnection upserts a directed edge on (game_id, from, direction).
func (j *Journal) SaveConnection(gameID int64, c *world.Connection) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	observed, err := json.Marshal(c.ObservedDestinations)
	if err != nil {
		return fmt.Errorf("failed to encode observed destinations: %w", err)
	}

	_, err = j.db.Exec(`
		INSERT INTO connections (
			game_id, from_room_id, to_room_id, direction,
			bidirectional, blocked, block_reason, teleport, random,
			observed_destinations
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_id, from_room_id, direction) DO UPDATE SET
			to_room_id = excluded.to_room_id,
			bidirectional = excluded.bidirectional,
			blocked = excluded.blocked,
			block_reason = excluded.block_reason,
			teleport = excluded.teleport,
			random = excluded.random,
			observed_destinations = excluded.observed_destinations`,
		gameID, c.FromRoomID, c.ToRoomID, c.Direction,
		boolInt(c.Bidirectional), boolInt(c.Blocked), nullStr(c.BlockReason),
		boolInt(c.Teleport), boolInt(c.Random), string(observed),
	)
	if err != nil {
		return fmt.Errorf("failed to save connection %s-%s: %w", c.FromRoomID, c.Direction, err)
	}
	return nil
}

// DeleteConnection removes a directed edge, used by reciprocity demotion.
func (j *Journal) DeleteConnection(gameID int64, fromRoomID, direction string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(
		"DELETE FROM connections WHERE game_id = ? AND from_room_id = ? AND direction = ?",
		gameID, fromRoomID, direction,
	)
	return err
}

// GetConnections loads every edge for a game.
func (j *Journal) GetConnections(gameID int64) ([]*world.Connection, error) {
	rows, err := j.db.Query(`
		SELECT from_room_id, to_room_id, direction, bidirectional, blocked,
			COALESCE(block_reason, ''), teleport, random, observed_destinations
		FROM connections WHERE game_id = ?`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*world.Connection
	for rows.Next() {
		var c world.Connection
		var bidir, blocked, teleport, random int
		var observed string
		if err := rows.Scan(&c.FromRoomID, &c.ToRoomID, &c.Direction, &bidir, &blocked,
			&c.BlockReason, &teleport, &random, &observed); err != nil {
			return nil, err
		}
		c.Bidirectional = bidir != 0
		c.Blocked = blocked != 0
		c.Teleport = teleport != 0
		c.Random = random != 0
		if err := json.Unmarshal([]byte(observed), &c.ObservedDestinations); err != nil {
			return nil, fmt.Errorf("corrupt destinations for %s-%s: %w", c.FromRoomID, c.Direction, err)
		}
		conns = append(conns, &c)
	}
	return conns, rows.Err()
}

// SaveItem upserts an item snapshot.
func (j *Journal) SaveItem(gameID int64, it *world.Item) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	props, err := json.Marshal(it.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}

	var portable any
	switch it.Portable {
	case world.TristateTrue:
		portable = 1
	case world.TristateFalse:
		portable = 0
	default:
		portable = nil
	}

	_, err = j.db.Exec(`
		INSERT INTO items (
			game_id, item_id, name, description, location, portable,
			properties, first_seen_turn, last_seen_turn
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_id, item_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			location = excluded.location,
			portable = excluded.portable,
			properties = excluded.properties,
			first_seen_turn = excluded.first_seen_turn,
			last_seen_turn = excluded.last_seen_turn`,
		gameID, it.ItemID, it.Name, it.Description, it.Location, portable,
		string(props), it.FirstSeenTurn, it.LastSeenTurn,
	)
	if err != nil {
		return fmt.Errorf("failed to save item %s: %w", it.ItemID, err)
	}
	return nil
}

// GetItems loads every item for a game.
func (j *Journal) GetItems(gameID int64) ([]*world.Item, error) {
	rows, err := j.db.Query(`
		SELECT item_id, name, COALESCE(description, ''), location, portable,
			properties, first_seen_turn, last_seen_turn
		FROM items WHERE game_id = ?`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*world.Item
	for rows.Next() {
		var it world.Item
		var portable sql.NullInt64
		var props string
		if err := rows.Scan(&it.ItemID, &it.Name, &it.Description, &it.Location,
			&portable, &props, &it.FirstSeenTurn, &it.LastSeenTurn); err != nil {
			return nil, err
		}
		switch {
		case !portable.Valid:
			it.Portable = world.TristateUnknown
		case portable.Int64 != 0:
			it.Portable = world.TristateTrue
		default:
			it.Portable = world.TristateFalse
		}
		if err := json.Unmarshal([]byte(props), &it.Properties); err != nil {
			return nil, fmt.Errorf("corrupt properties for item %s: %w", it.ItemID, err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// SavePuzzle inserts a new puzzle (PuzzleID zero) or updates an existing one.
// On insert the assigned id is written back into p.
func (j *Journal) SavePuzzle(gameID int64, p *world.Puzzle) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	related, err := json.Marshal(p.RelatedItems)
	if err != nil {
		return fmt.Errorf("failed to encode related items: %w", err)
	}
	attempts, err := json.Marshal(p.Attempts)
	if err != nil {
		return fmt.Errorf("failed to encode attempts: %w", err)
	}

	var solved any
	if p.SolvedTurn > 0 {
		solved = p.SolvedTurn
	}

	if p.PuzzleID == 0 {
		res, err := j.db.Exec(`
			INSERT INTO puzzles (
				game_id, description, status, location, related_items,
				attempts, created_turn, solved_turn
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			gameID, p.Description, p.Status, p.Location, string(related),
			string(attempts), p.CreatedTurn, solved,
		)
		if err != nil {
			return fmt.Errorf("failed to insert puzzle: %w", err)
		}
		p.PuzzleID, err = res.LastInsertId()
		return err
	}

	_, err = j.db.Exec(`
		UPDATE puzzles SET
			description = ?, status = ?, location = ?, related_items = ?,
			attempts = ?, solved_turn = ?
		WHERE puzzle_id = ? AND game_id = ?`,
		p.Description, p.Status, p.Location, string(related),
		string(attempts), solved, p.PuzzleID, gameID,
	)
	if err != nil {
		return fmt.Errorf("failed to update puzzle %d: %w", p.PuzzleID, err)
	}
	return nil
}

// GetPuzzles loads puzzles for a game, optionally narrowed to the given
// statuses.
func (j *Journal) GetPuzzles(gameID int64, statuses ...string) ([]*world.Puzzle, error) {
	query := `
		SELECT puzzle_id, description, status, location, related_items,
			attempts, created_turn, COALESCE(solved_turn, 0)
		FROM puzzles WHERE game_id = ?`
	args := []any{gameID}
	if len(statuses) > 0 {
		query += " AND status IN (?" + strings.Repeat(", ?", len(statuses)-1) + ")"
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += " ORDER BY puzzle_id"
	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var puzzles []*world.Puzzle
	for rows.Next() {
		var p world.Puzzle
		var related, attempts string
		if err := rows.Scan(&p.PuzzleID, &p.Description, &p.Status, &p.Location,
			&related, &attempts, &p.CreatedTurn, &p.SolvedTurn); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(related), &p.RelatedItems); err != nil {
			return nil, fmt.Errorf("corrupt related items for puzzle %d: %w", p.PuzzleID, err)
		}
		if err := json.Unmarshal([]byte(attempts), &p.Attempts); err != nil {
			return nil, fmt.Errorf("corrupt attempts for puzzle %d: %w", p.PuzzleID, err)
		}
		puzzles = append(puzzles, &p)
	}
	return puzzles, rows.Err()
}

// SaveMazeGroup upserts a maze group on (game_id, group_id).
func (j *Journal) SaveMazeGroup(gameID int64, g *world.MazeGroup) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	roomIDs, err := json.Marshal(g.RoomIDs)
	if err != nil {
		return fmt.Errorf("failed to encode room ids: %w", err)
	}
	exitIDs, err := json.Marshal(g.ExitRoomIDs)
	if err != nil {
		return fmt.Errorf("failed to encode exit ids: %w", err)
	}
	markers, err := json.Marshal(g.Markers)
	if err != nil {
		return fmt.Errorf("failed to encode markers: %w", err)
	}

	var completed any
	if g.CompletedTurn > 0 {
		completed = g.CompletedTurn
	}

	_, err = j.db.Exec(`
		INSERT INTO maze_groups (
			game_id, group_id, entry_room_id, room_ids, exit_room_ids,
			markers, fully_mapped, created_turn, completed_turn
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_id, group_id) DO UPDATE SET
			entry_room_id = excluded.entry_room_id,
			room_ids = excluded.room_ids,
			exit_room_ids = excluded.exit_room_ids,
			markers = excluded.markers,
			fully_mapped = excluded.fully_mapped,
			completed_turn = excluded.completed_turn`,
		gameID, g.GroupID, g.EntryRoomID, string(roomIDs), string(exitIDs),
		string(markers), boolInt(g.FullyMapped), g.CreatedTurn, completed,
	)
	if err != nil {
		return fmt.Errorf("failed to save maze group %s: %w", g.GroupID, err)
	}
	return nil
}

// GetMazeGroups loads every maze group for a game.
func (j *Journal) GetMazeGroups(gameID int64) ([]*world.MazeGroup, error) {
	rows, err := j.db.Query(`
		SELECT group_id, entry_room_id, room_ids, exit_room_ids, markers,
			fully_mapped, created_turn, COALESCE(completed_turn, 0)
		FROM maze_groups WHERE game_id = ?`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*world.MazeGroup
	for rows.Next() {
		var g world.MazeGroup
		var roomIDs, exitIDs, markers string
		var mapped int
		if err := rows.Scan(&g.GroupID, &g.EntryRoomID, &roomIDs, &exitIDs, &markers,
			&mapped, &g.CreatedTurn, &g.CompletedTurn); err != nil {
			return nil, err
		}
		g.FullyMapped = mapped != 0
		if err := json.Unmarshal([]byte(roomIDs), &g.RoomIDs); err != nil {
			return nil, fmt.Errorf("corrupt room ids for maze %s: %w", g.GroupID, err)
		}
		if err := json.Unmarshal([]byte(exitIDs), &g.ExitRoomIDs); err != nil {
			return nil, fmt.Errorf("corrupt exit ids for maze %s: %w", g.GroupID, err)
		}
		if err := json.Unmarshal([]byte(markers), &g.Markers); err != nil {
			return nil, fmt.Errorf("corrupt markers for maze %s: %w", g.GroupID, err)
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// SaveMetric appends one model-call usage record.
func (j *Journal) SaveMetric(m llm.Metric) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`
		INSERT INTO metrics (
			game_id, turn_number, agent_name, provider, model,
			input_tokens, output_tokens, cached_tokens, cost_estimate, latency_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.GameID, m.TurnNumber, m.AgentName, m.Provider, m.Model,
		m.InputTokens, m.OutputTokens, m.CachedTokens, m.CostEstimate, m.LatencyMS,
	)
	if err != nil {
		return fmt.Errorf("failed to save metric: %w", err)
	}
	return nil
}

// AgentUsage is the per-agent rollup returned by GetUsageSummary.
type AgentUsage struct {
	AgentName    string
	Calls        int
	InputTokens  int
	OutputTokens int
	CostEstimate float64
	AvgLatencyMS float64
}

// GetUsageSummary aggregates model usage per agent for one game.
func (j *Journal) GetUsageSummary(gameID int64) ([]AgentUsage, error) {
	rows, err := j.db.Query(`
		SELECT agent_name, COUNT(*), SUM(input_tokens), SUM(output_tokens),
			SUM(cost_estimate), AVG(latency_ms)
		FROM metrics WHERE game_id = ?
		GROUP BY agent_name ORDER BY agent_name`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usages []AgentUsage
	for rows.Next() {
		var u AgentUsage
		if err := rows.Scan(&u.AgentName, &u.Calls, &u.InputTokens, &u.OutputTokens,
			&u.CostEstimate, &u.AvgLatencyMS); err != nil {
			return nil, err
		}
		usages = append(usages, u)
	}
	return usages, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
