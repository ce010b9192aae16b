package world

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

const descBufferSize = 30

// descEntry pairs a room with its normalized description for maze detection.
type descEntry struct {
	roomID     string
	normalized string
}

func (g *Graph) pushDescription(roomID, description string) {
	norm := NormalizeDescription(description)
	if norm == "" {
		return
	}
	g.descBuffer = append(g.descBuffer, descEntry{roomID: roomID, normalized: norm})
	if len(g.descBuffer) > descBufferSize {
		g.descBuffer = g.descBuffer[len(g.descBuffer)-descBufferSize:]
	}
}

// MazeTracker watches the graph for maze signatures and owns maze group
// lifecycle. At most one group is active at a time; rooms inside an active
// group carry synthetic ids so identical descriptions cannot collide.
type MazeTracker struct {
	graph  *Graph
	logger *zap.Logger

	// similarityThreshold is the minimum description similarity for two rooms
	// to count as maze-alike.
	similarityThreshold float64
	// minSimilarRooms distinct alike rooms trip the primary trigger.
	minSimilarRooms int
	// reciprocityFailureLimit consecutive contradicted reverse edges trip the
	// secondary trigger.
	reciprocityFailureLimit int

	groups    map[string]*MazeGroup
	nextGroup int
	activeID  string

	dirty map[string]bool
}

// NewMazeTracker builds a tracker over g with the given similarity threshold.
func NewMazeTracker(g *Graph, similarityThreshold float64, logger *zap.Logger) *MazeTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if similarityThreshold <= 0 {
		similarityThreshold = 0.95
	}
	return &MazeTracker{
		graph:                   g,
		logger:                  logger,
		similarityThreshold:     similarityThreshold,
		minSimilarRooms:         3,
		reciprocityFailureLimit: 4,
		groups:                  make(map[string]*MazeGroup),
		dirty:                   make(map[string]bool),
	}
}

// ActiveGroup returns the group currently being mapped, or nil.
func (m *MazeTracker) ActiveGroup() *MazeGroup {
	if m.activeID == "" {
		return nil
	}
	return m.groups[m.activeID]
}

// Group returns a group by id, or nil.
func (m *MazeTracker) Group(groupID string) *MazeGroup { return m.groups[groupID] }

// Groups lists all groups sorted by id.
func (m *MazeTracker) Groups() []*MazeGroup {
	ids := make([]string, 0, len(m.groups))
	for id := range m.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*MazeGroup, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.groups[id])
	}
	return out
}

// Check decides whether the player just entered a maze. It fires on either
// of two signals: several recent rooms sharing near-identical descriptions,
// or a streak of traversals whose assumed reverse edges kept being wrong.
// It never fires while a group is already active, and never re-fires inside
// a completed group's rooms.
func (m *MazeTracker) Check() (suspects []string, detected bool) {
	if m.activeID != "" {
		return nil, false
	}
	cur := m.graph.Room(m.graph.CurrentRoomID())
	if cur == nil || cur.MazeGroup != "" {
		return nil, false
	}

	curNorm := NormalizeDescription(cur.Description)
	if curNorm != "" {
		alike := map[string]bool{cur.RoomID: true}
		for _, e := range m.graph.descBuffer {
			if alike[e.roomID] {
				continue
			}
			if r := m.graph.Room(e.roomID); r != nil && r.MazeGroup != "" {
				continue
			}
			if SimilarityRatio(curNorm, e.normalized) >= m.similarityThreshold {
				alike[e.roomID] = true
			}
		}
		if len(alike) >= m.minSimilarRooms {
			for id := range alike {
				suspects = append(suspects, id)
			}
			sort.Strings(suspects)
			m.logger.Info("maze detected by description similarity",
				zap.Int("alike_rooms", len(suspects)))
			return suspects, true
		}
	}

	if m.graph.ConsecutiveReciprocityFailures() >= m.reciprocityFailureLimit {
		m.logger.Info("maze detected by reciprocity failures",
			zap.Int("streak", m.graph.ConsecutiveReciprocityFailures()))
		return []string{cur.RoomID}, true
	}
	return nil, false
}

// StartGroup opens a new maze group containing the suspect rooms, renaming
// each to a synthetic id so future identical descriptions cannot merge them.
// The current room gets sequence 0; the entry is the last distinct room
// visited before the duplicates began, the doorway into the maze.
func (m *MazeTracker) StartGroup(suspects []string, turn int) *MazeGroup {
	groupID := fmt.Sprintf("g%d", m.nextGroup)
	m.nextGroup++

	group := &MazeGroup{
		GroupID:     groupID,
		Markers:     make(map[string]string),
		CreatedTurn: turn,
	}
	m.groups[groupID] = group
	m.activeID = groupID

	entryOld := m.graph.CurrentRoomID()
	suspectSet := map[string]bool{entryOld: true}
	for _, id := range suspects {
		suspectSet[id] = true
	}
	group.EntryRoomID = m.findEntryRoom(suspectSet)

	ordered := make([]string, 0, len(suspects))
	for _, id := range suspects {
		if id != entryOld {
			ordered = append(ordered, id)
		}
	}
	ordered = append([]string{entryOld}, ordered...)

	for _, oldID := range ordered {
		room := m.graph.Room(oldID)
		if room == nil {
			continue
		}
		newID := m.nextRoomID(group)
		m.graph.RenameRoom(oldID, newID)
		room.MazeGroup = groupID
		group.RoomIDs = append(group.RoomIDs, newID)
	}

	m.dirty[groupID] = true
	m.logger.Info("maze group opened",
		zap.String("group", groupID),
		zap.String("entry", group.EntryRoomID),
		zap.Strings("rooms", group.RoomIDs),
		zap.Int("turn", turn))
	return group
}

// findEntryRoom scans the description buffer backwards for the most recent
// room that is neither a suspect nor maze-alike: the last unique room walked
// through before the duplicates.
func (m *MazeTracker) findEntryRoom(suspects map[string]bool) string {
	curNorm := ""
	if cur := m.graph.Room(m.graph.CurrentRoomID()); cur != nil {
		curNorm = NormalizeDescription(cur.Description)
	}
	for i := len(m.graph.descBuffer) - 1; i >= 0; i-- {
		e := m.graph.descBuffer[i]
		if suspects[e.roomID] {
			continue
		}
		if r := m.graph.Room(e.roomID); r == nil || r.MazeGroup != "" {
			continue
		}
		if curNorm != "" && SimilarityRatio(curNorm, e.normalized) >= m.similarityThreshold {
			continue
		}
		return e.roomID
	}
	if prev := m.graph.prevRoomID; prev != "" && !suspects[prev] {
		return prev
	}
	return ""
}

func (m *MazeTracker) nextRoomID(g *MazeGroup) string {
	return fmt.Sprintf("maze_%s_%d", g.GroupID, len(g.RoomIDs))
}

// AddRoom registers a freshly entered, so-far-unmarked maze room under the
// active group, renaming it to a synthetic id. Returns the new id.
func (m *MazeTracker) AddRoom(provisionalID string) string {
	group := m.ActiveGroup()
	if group == nil {
		return provisionalID
	}
	room := m.graph.Room(provisionalID)
	if room == nil {
		return provisionalID
	}
	if room.MazeGroup == group.GroupID {
		return provisionalID
	}
	newID := m.nextRoomID(group)
	m.graph.RenameRoom(provisionalID, newID)
	room.MazeGroup = group.GroupID
	group.RoomIDs = append(group.RoomIDs, newID)
	m.dirty[group.GroupID] = true
	return newID
}

// IsMazeLike reports whether a room's description matches any room already
// in the active group closely enough to belong to the maze.
func (m *MazeTracker) IsMazeLike(roomID string) bool {
	group := m.ActiveGroup()
	if group == nil {
		return false
	}
	room := m.graph.Room(roomID)
	if room == nil {
		return false
	}
	a := NormalizeDescription(room.Description)
	if a == "" {
		return false
	}
	for _, rid := range group.RoomIDs {
		member := m.graph.Room(rid)
		if member == nil {
			continue
		}
		b := NormalizeDescription(member.Description)
		if b != "" && SimilarityRatio(a, b) >= m.similarityThreshold {
			return true
		}
	}
	return false
}

// AssignMarker records that itemID was dropped in roomID as its marker.
func (m *MazeTracker) AssignMarker(roomID, itemID string) {
	group := m.ActiveGroup()
	if group == nil {
		return
	}
	group.Markers[roomID] = itemID
	if room := m.graph.Room(roomID); room != nil {
		room.MazeMarkerItem = itemID
		m.graph.dirtyRooms[roomID] = true
	}
	m.dirty[group.GroupID] = true
}

// IdentifyRoomByMarker resolves which maze room the player is in from the
// marker item visible on the floor. ok is false for unknown markers.
func (m *MazeTracker) IdentifyRoomByMarker(itemID string) (roomID string, ok bool) {
	group := m.ActiveGroup()
	if group == nil {
		return "", false
	}
	for rid, marker := range group.Markers {
		if marker == itemID {
			return rid, true
		}
	}
	return "", false
}

// ClearMarker removes a marker assignment after the item is picked back up.
func (m *MazeTracker) ClearMarker(roomID string) {
	group := m.ActiveGroup()
	if group == nil {
		return
	}
	delete(group.Markers, roomID)
	if room := m.graph.Room(roomID); room != nil && room.MazeMarkerItem != "" {
		room.MazeMarkerItem = ""
		m.graph.dirtyRooms[roomID] = true
	}
	m.dirty[group.GroupID] = true
}

// RecordExit notes a maze room whose exit leads outside the maze.
func (m *MazeTracker) RecordExit(roomID string) {
	group := m.ActiveGroup()
	if group == nil {
		return
	}
	for _, id := range group.ExitRoomIDs {
		if id == roomID {
			return
		}
	}
	group.ExitRoomIDs = append(group.ExitRoomIDs, roomID)
	m.dirty[group.GroupID] = true
}

// Complete closes the active group as fully mapped. Its synthetic room ids
// and learned edges stay in the graph for normal navigation.
func (m *MazeTracker) Complete(turn int) {
	group := m.ActiveGroup()
	if group == nil {
		return
	}
	group.FullyMapped = true
	group.CompletedTurn = turn
	m.activeID = ""
	m.dirty[group.GroupID] = true
	m.logger.Info("maze group completed",
		zap.String("group", group.GroupID),
		zap.Int("rooms", len(group.RoomIDs)),
		zap.Int("turn", turn))
}

// Abandon closes the active group without marking it mapped, e.g. when the
// maze turns out to be dark and unmappable.
func (m *MazeTracker) Abandon() {
	group := m.ActiveGroup()
	if group == nil {
		return
	}
	m.activeID = ""
	m.dirty[group.GroupID] = true
	m.logger.Warn("maze group abandoned", zap.String("group", group.GroupID))
}

// Flush drains groups changed since the last call.
func (m *MazeTracker) Flush() []*MazeGroup {
	ids := make([]string, 0, len(m.dirty))
	for id := range m.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*MazeGroup, 0, len(ids))
	for _, id := range ids {
		if g, ok := m.groups[id]; ok {
			out = append(out, g)
		}
	}
	m.dirty = make(map[string]bool)
	return out
}

// Load replaces tracker state with journaled groups, for crash resume. An
// unfinished group becomes active again.
func (m *MazeTracker) Load(groups []*MazeGroup) {
	m.groups = make(map[string]*MazeGroup, len(groups))
	m.activeID = ""
	m.nextGroup = 0
	for _, g := range groups {
		if g.Markers == nil {
			g.Markers = make(map[string]string)
		}
		m.groups[g.GroupID] = g
		var n int
		if _, err := fmt.Sscanf(g.GroupID, "g%d", &n); err == nil && n >= m.nextGroup {
			m.nextGroup = n + 1
		}
		if !g.FullyMapped && g.CompletedTurn == 0 {
			m.activeID = g.GroupID
		}
	}
	m.dirty = make(map[string]bool)
}
