package orchestrator

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"autofrotz/internal/agent"
	"autofrotz/internal/hooks"
	"autofrotz/internal/world"
)

// The maze driver replaces the game agent while a maze is being mapped.
// Identical room descriptions make model navigation useless there, so the
// driver works the classic way: drop a distinct item in each room, tell
// rooms apart by which marker is on the floor, and walk a DFS until every
// exit is charted. Markers are picked back up afterwards.

type mazePhase int

const (
	// mazePreparing waits for enough droppable items to mark rooms with.
	mazePreparing mazePhase = iota
	// mazeExploring drops markers and walks unexplored exits.
	mazeExploring
	// mazeRetrieving collects the markers back up after mapping finishes.
	mazeRetrieving
)

type mazeRun struct {
	groupID string
	phase   mazePhase

	// lastRoom/lastDir is the maze move in flight, resolved by mazeStep.
	lastRoom string
	lastDir  string

	// pendingDrop/pendingTake is the marker item a drop or take command is
	// operating on.
	pendingDrop string
	pendingTake string

	// instructed dedupes the standing preparation instruction.
	instructed bool
}

// resumeMazeRun rebuilds driver state for a group left unfinished by a
// crash. The first decide call settles the phase.
func resumeMazeRun(g *world.MazeGroup) *mazeRun {
	return &mazeRun{groupID: g.GroupID, phase: mazeExploring}
}

// decide picks the next maze command. ok is false when the driver wants the
// game agent to take this turn instead.
func (m *mazeRun) decide(o *Orchestrator) (agent.Decision, bool) {
	group := o.mazes.Group(m.groupID)
	if group == nil || o.mazes.ActiveGroup() == nil {
		o.maze = nil
		return agent.Decision{}, false
	}
	cur := o.graph.Room(o.graph.CurrentRoomID())
	if cur == nil {
		return agent.Decision{}, false
	}

	switch m.phase {
	case mazePreparing:
		droppable := o.items.DroppableItems(o.puzzles.RelatedItemIDs())
		if len(droppable) >= o.cfg.Maze.MinMarkers {
			m.phase = mazeExploring
			m.instructed = false
			return m.decide(o)
		}
		if !m.instructed {
			o.special = append(o.special, fmt.Sprintf(
				"A maze begins at %s. Collect portable items elsewhere first; at least %d are needed as markers (you can drop %d).",
				group.EntryRoomID, o.cfg.Maze.MinMarkers, len(droppable)))
			m.instructed = true
		}
		return agent.Decision{}, false

	case mazeExploring:
		if cur.IsDark {
			return m.abandonDark(o, cur.RoomID)
		}
		if cur.MazeGroup != m.groupID {
			// Stepped outside; walk back in through the entry or any known
			// maze room.
			targets := append([]string{group.EntryRoomID}, group.RoomIDs...)
			for _, rid := range targets {
				if rid == "" {
					continue
				}
				if step := o.graph.GetNextStep(cur.RoomID, rid); step != "" {
					return agent.Decision{Command: step, Reasoning: "returning to the maze"}, true
				}
			}
			o.mazes.Abandon()
			o.maze = nil
			return agent.Decision{}, false
		}
		if cur.MazeMarkerItem != "" {
			if it := o.items.Item(cur.MazeMarkerItem); it != nil && it.Location == world.LocUnknown {
				o.logger.Warn("maze marker vanished from its room",
					zap.String("item", cur.MazeMarkerItem), zap.String("room", cur.RoomID))
				o.puzzles.Note(fmt.Sprintf(
					"The %s left as a maze marker has vanished; something in the maze is taking dropped items.", it.Name),
					cur.RoomID, []string{it.ItemID}, o.turn)
				o.mazes.ClearMarker(cur.RoomID)
			}
		}
		if cur.MazeMarkerItem == "" {
			droppable := o.items.DroppableItems(o.puzzles.RelatedItemIDs())
			if len(droppable) == 0 {
				// Out of markers with rooms still unmarked; fall back to
				// collecting what we dropped.
				m.phase = mazeRetrieving
				return m.decide(o)
			}
			it := droppable[0]
			m.pendingDrop = it.ItemID
			return agent.Decision{
				Command:   "drop " + it.Name,
				Reasoning: "marking maze room",
			}, true
		}
		if dir, ok := pendingExit(cur, o.graph); ok {
			m.lastRoom = cur.RoomID
			m.lastDir = dir
			return agent.Decision{Command: dir, Reasoning: "exploring maze exit"}, true
		}
		// Nothing pending here; head for the nearest maze room that still
		// has one.
		if step, ok := m.stepTowardPendingExit(o, group, cur.RoomID); ok {
			return agent.Decision{Command: step, Reasoning: "walking to unexplored maze exit"}, true
		}
		m.phase = mazeRetrieving
		return m.decide(o)

	case mazeRetrieving:
		if cur.MazeGroup == m.groupID && cur.MazeMarkerItem != "" {
			itemID := cur.MazeMarkerItem
			name := itemID
			if it := o.items.Item(itemID); it != nil {
				name = it.Name
			}
			m.pendingTake = itemID
			return agent.Decision{Command: "take " + name, Reasoning: "collecting maze marker"}, true
		}
		rooms := make([]string, 0, len(group.Markers))
		for rid := range group.Markers {
			rooms = append(rooms, rid)
		}
		sort.Strings(rooms)
		for _, rid := range rooms {
			if rid == cur.RoomID {
				continue
			}
			if step := o.graph.GetNextStep(cur.RoomID, rid); step != "" {
				return agent.Decision{Command: step, Reasoning: "walking to maze marker"}, true
			}
		}
		// No reachable markers remain.
		for _, rid := range rooms {
			o.logger.Warn("abandoning unreachable maze marker", zap.String("room", rid))
			o.mazes.ClearMarker(rid)
		}
		m.finish(o, group)
		return agent.Decision{}, false
	}
	return agent.Decision{}, false
}

func (m *mazeRun) finish(o *Orchestrator, group *world.MazeGroup) {
	o.mazes.Complete(o.turn)
	o.maze = nil
	gid := group.GroupID
	o.fire(func(h hooks.Hook) { h.OnMazeCompleted(o.turn, gid) })
	o.special = append(o.special, fmt.Sprintf(
		"The maze at %s is fully mapped (%d rooms, %d exits). Navigation through it now works normally.",
		group.EntryRoomID, len(group.RoomIDs), len(group.ExitRoomIDs)))
}

func (m *mazeRun) abandonDark(o *Orchestrator, roomID string) (agent.Decision, bool) {
	o.mazes.Abandon()
	o.maze = nil
	o.special = append(o.special,
		"The maze is pitch dark and cannot be mapped. Find a light source before going back.")
	o.puzzles.Note("A dark maze cannot be mapped; a light source is needed to enter it.",
		roomID, nil, o.turn)
	return agent.Decision{}, false
}

// pendingExit returns the first untraversed, unblocked exit of a room.
func pendingExit(room *world.Room, g *world.Graph) (string, bool) {
	dirs := make([]string, 0, len(room.Exits))
	for d := range room.Exits {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	for _, d := range dirs {
		if room.Exits[d] != "" {
			continue
		}
		if conn := g.Edge(room.RoomID, d); conn != nil && conn.Blocked {
			continue
		}
		return d, true
	}
	return "", false
}

func (m *mazeRun) stepTowardPendingExit(o *Orchestrator, group *world.MazeGroup, from string) (string, bool) {
	bestLen := -1
	bestStep := ""
	for _, rid := range group.RoomIDs {
		room := o.graph.Room(rid)
		if room == nil || rid == from {
			continue
		}
		if _, ok := pendingExit(room, o.graph); !ok {
			continue
		}
		path := o.graph.GetPath(from, rid)
		if path == nil || len(path) == 0 {
			continue
		}
		if bestLen < 0 || len(path) < bestLen {
			bestLen = len(path)
			bestStep = path[0]
		}
	}
	return bestStep, bestStep != ""
}

// mazeStep runs after each turn's parsing: it detects new mazes and resolves
// the maze move or marker operation that was in flight.
func (o *Orchestrator) mazeStep(dec agent.Decision, roomUpdate *world.RoomUpdate, output string) {
	if o.maze == nil {
		suspects, detected := o.mazes.Check()
		if !detected {
			return
		}
		group := o.mazes.StartGroup(suspects, o.turn)
		gid := group.GroupID
		o.fire(func(h hooks.Hook) { h.OnMazeDetected(o.turn, gid) })

		run := &mazeRun{groupID: gid, phase: mazeExploring}
		if len(o.items.DroppableItems(o.puzzles.RelatedItemIDs())) < o.cfg.Maze.MinMarkers {
			run.phase = mazePreparing
		}
		o.maze = run
		return
	}

	m := o.maze
	cur := o.graph.CurrentRoomID()

	if m.pendingDrop != "" {
		it := o.items.Item(m.pendingDrop)
		if it != nil && it.Location != world.LocInventory && !IsFailure(output) {
			o.mazes.AssignMarker(cur, m.pendingDrop)
			itemID := m.pendingDrop
			o.fire(func(h hooks.Hook) { h.OnMazeRoomMarked(o.turn, cur, itemID) })
		} else {
			o.logger.Warn("maze marker drop failed",
				zap.String("item", m.pendingDrop), zap.String("room", cur))
		}
		m.pendingDrop = ""
		return
	}
	if m.pendingTake != "" {
		it := o.items.Item(m.pendingTake)
		if it == nil || it.Location != world.LocInventory {
			o.logger.Warn("maze marker lost", zap.String("item", m.pendingTake))
			name := m.pendingTake
			if it != nil {
				name = it.Name
			}
			o.puzzles.Note(fmt.Sprintf(
				"The %s left as a maze marker has vanished; something in the maze is taking dropped items.", name),
				cur, []string{m.pendingTake}, o.turn)
		}
		o.mazes.ClearMarker(cur)
		m.pendingTake = ""
		return
	}

	if m.phase != mazeExploring || m.lastDir == "" {
		return
	}
	lastRoom, lastDir := m.lastRoom, m.lastDir
	m.lastRoom, m.lastDir = "", ""

	landed := roomUpdate.RoomID
	if landed == "" || landed == lastRoom {
		// Bounced off a wall; the exit is a dead end.
		o.graph.MarkBlocked(lastRoom, lastDir, firstLine(output))
		return
	}
	room := o.graph.Room(landed)
	if room == nil {
		return
	}

	// A marker on the floor names the room outright.
	for _, seen := range roomUpdate.ItemsSeen {
		if rid, ok := o.mazes.IdentifyRoomByMarker(world.NormalizeID(seen)); ok {
			if rid != landed {
				o.graph.MergeRoom(landed, rid)
			}
			return
		}
	}

	if room.MazeGroup == m.groupID {
		return
	}
	if o.mazes.IsMazeLike(landed) {
		o.mazes.AddRoom(landed)
		return
	}
	// Outside the maze: remember which maze room leads out.
	o.mazes.RecordExit(lastRoom)
}
