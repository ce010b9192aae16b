package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"autofrotz/internal/llm"
)

const recentRoomsWindow = 50

// edgeKey identifies a directed edge for the implicit and dirty sets.
type edgeKey struct {
	from, direction string
}

// Graph is the in-memory room graph. It is built incrementally from parsed
// game output and never forgets a room; wrong guesses about connectivity are
// corrected by later traversals rather than by rebuilding.
//
// Graph methods are not goroutine safe; the orchestrator serializes all
// access within the turn loop.
type Graph struct {
	parser llm.Client
	logger *zap.Logger

	rooms map[string]*Room
	// edges[from][direction] is the edge leaving from in direction.
	edges map[string]map[string]*Connection

	currentRoomID string
	prevRoomID    string

	// implicit marks edges created as assumed reverses of a traversal. They
	// are deleted, not corrected, when contradicted.
	implicit map[edgeKey]bool

	// consecutiveReciprocityFailures counts back-to-back traversals that
	// contradicted an implicit reverse edge, a maze tell.
	consecutiveReciprocityFailures int

	recentRooms []string
	descBuffer  []descEntry

	lastMetric *llm.Metric

	dirtyRooms   map[string]bool
	dirtyEdges   map[edgeKey]bool
	deletedRooms []string
	deletedEdges []edgeKey
}

// NewGraph builds an empty graph backed by the map-parser client.
func NewGraph(parser llm.Client, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		parser:     parser,
		logger:     logger,
		rooms:      make(map[string]*Room),
		edges:      make(map[string]map[string]*Connection),
		implicit:   make(map[edgeKey]bool),
		dirtyRooms: make(map[string]bool),
		dirtyEdges: make(map[edgeKey]bool),
	}
}

// CurrentRoomID returns the id of the room the player is in, "" before the
// first parsed output.
func (g *Graph) CurrentRoomID() string { return g.currentRoomID }

// Room returns the room with the given id, or nil.
func (g *Graph) Room(roomID string) *Room { return g.rooms[roomID] }

// RoomCount returns the number of known rooms.
func (g *Graph) RoomCount() int { return len(g.rooms) }

// RecentRooms returns the ids of the most recently entered rooms, newest
// last, bounded by a fixed window.
func (g *Graph) RecentRooms() []string {
	out := make([]string, len(g.recentRooms))
	copy(out, g.recentRooms)
	return out
}

// LastMetric returns usage accounting for the most recent parser call, or
// nil when the last update made no model call.
func (g *Graph) LastMetric() *llm.Metric { return g.lastMetric }

const mapParserPrompt = `You extract location facts from text adventure output.
Given the command the player sent and the game's response, respond with only a JSON object:
{"room_changed": bool, "room_name": str, "description": str, "exits": [str], "is_dark": bool, "items_seen": [str]}
room_changed is true when the response shows the player in a location (a "look" counts, its name is the current location).
room_name is the location's title line. exits lists direction words mentioned as leaving the location.
is_dark is true when the response says it is pitch black or too dark to see.`

// UpdateFromGameOutput parses one turn's output and applies the resulting
// room and connection changes. The returned update has RoomID and NewRoom
// filled in. A structured-output failure is not fatal: the turn proceeds
// with no map change.
func (g *Graph) UpdateFromGameOutput(ctx context.Context, command, output string, turn int) (*RoomUpdate, error) {
	g.lastMetric = nil

	var update RoomUpdate
	resp, err := g.parser.CompleteJSON(ctx, llm.Request{
		SystemPrompt: mapParserPrompt,
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Command: %s\n\nGame output:\n%s", command, output),
		}},
	}, &update)
	if resp != nil {
		g.lastMetric = &llm.Metric{
			AgentName:    llm.AgentMapParser,
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
			g.logger.Warn("map parser gave up, skipping map update", zap.Int("turn", turn))
		} else {
			g.logger.Warn("map parse failed, skipping map update",
				zap.Int("turn", turn), zap.Error(err))
		}
		return &RoomUpdate{RoomID: g.currentRoomID}, nil
	}

	g.apply(&update, command, turn)
	return &update, nil
}

func (g *Graph) apply(update *RoomUpdate, command string, turn int) {
	if !update.RoomChanged || update.RoomName == "" {
		update.RoomID = g.currentRoomID
		return
	}

	roomID := NormalizeID(update.RoomName)
	if roomID == "" {
		update.RoomID = g.currentRoomID
		return
	}

	room, exists := g.rooms[roomID]
	if !exists {
		room = &Room{
			RoomID:           roomID,
			Name:             update.RoomName,
			Description:      update.Description,
			Visited:          true,
			VisitCount:       1,
			IsDark:           update.IsDark,
			FirstVisitedTurn: turn,
			LastVisitedTurn:  turn,
			Exits:            make(map[string]string),
		}
		for _, dir := range update.Exits {
			room.Exits[strings.ToLower(dir)] = ""
		}
		g.rooms[roomID] = room
		update.NewRoom = true
		g.logger.Debug("new room", zap.String("room", roomID), zap.Int("turn", turn))
	} else {
		room.VisitCount++
		room.LastVisitedTurn = turn
		room.IsDark = update.IsDark
		if len(update.Description) > len(room.Description) {
			room.Description = update.Description
		}
		for _, dir := range update.Exits {
			d := strings.ToLower(dir)
			if _, ok := room.Exits[d]; !ok {
				room.Exits[d] = ""
			}
		}
	}
	update.RoomID = roomID
	g.dirtyRooms[roomID] = true

	if roomID != g.currentRoomID {
		g.prevRoomID = g.currentRoomID
		g.currentRoomID = roomID
		g.recentRooms = append(g.recentRooms, roomID)
		if len(g.recentRooms) > recentRoomsWindow {
			g.recentRooms = g.recentRooms[len(g.recentRooms)-recentRoomsWindow:]
		}
		g.pushDescription(roomID, update.Description)

		if dir := ExtractDirection(command); dir != "" && g.prevRoomID != "" {
			g.recordTraversal(g.prevRoomID, dir, roomID)
		}
	}
}

// recordTraversal commits the fact that moving dir from from landed in to,
// creating or correcting edges and the assumed reverse.
func (g *Graph) recordTraversal(from, dir, to string) {
	key := edgeKey{from, dir}
	conn := g.edge(from, dir)

	switch {
	case conn == nil:
		conn = &Connection{
			FromRoomID:           from,
			ToRoomID:             to,
			Direction:            dir,
			Bidirectional:        true,
			ObservedDestinations: []string{to},
		}
		g.setEdge(conn)
	case conn.ToRoomID == to:
		// Confirmed. If it was an assumed reverse it is now real, and the
		// reciprocity streak breaks.
		if g.implicit[key] {
			delete(g.implicit, key)
			g.consecutiveReciprocityFailures = 0
		}
		conn.ObservedDestinations = addDestination(conn.ObservedDestinations, to)
	default:
		// Contradiction. Implicit edges were guesses, so delete and replace;
		// confirmed edges that lead somewhere new are random connections.
		if g.implicit[key] {
			delete(g.implicit, key)
			g.consecutiveReciprocityFailures++
			g.logger.Debug("reciprocity failure",
				zap.String("from", from), zap.String("direction", dir),
				zap.String("expected", conn.ToRoomID), zap.String("actual", to),
				zap.Int("streak", g.consecutiveReciprocityFailures))
			conn.ToRoomID = to
			conn.ObservedDestinations = addDestination(conn.ObservedDestinations, to)
		} else {
			conn.Random = true
			conn.Bidirectional = false
			conn.ObservedDestinations = addDestination(conn.ObservedDestinations, to)
			conn.ToRoomID = to
			g.logger.Info("random connection detected",
				zap.String("from", from), zap.String("direction", dir))
		}
	}
	g.dirtyEdges[key] = true

	if fromRoom := g.rooms[from]; fromRoom != nil {
		fromRoom.Exits[dir] = to
		g.dirtyRooms[from] = true
	}

	// Assume the reverse until a traversal says otherwise.
	if rev := ReverseDirection(dir); rev != "" && !conn.Random {
		revKey := edgeKey{to, rev}
		if g.edge(to, rev) == nil {
			g.setEdge(&Connection{
				FromRoomID:           to,
				ToRoomID:             from,
				Direction:            rev,
				Bidirectional:        true,
				ObservedDestinations: []string{from},
			})
			g.implicit[revKey] = true
			g.dirtyEdges[revKey] = true
			if toRoom := g.rooms[to]; toRoom != nil {
				if dest, ok := toRoom.Exits[rev]; !ok || dest == "" {
					toRoom.Exits[rev] = from
					g.dirtyRooms[to] = true
				}
			}
		}
	}
}

// ConsecutiveReciprocityFailures reports how many traversals in a row have
// contradicted assumed reverse edges.
func (g *Graph) ConsecutiveReciprocityFailures() int {
	return g.consecutiveReciprocityFailures
}

func (g *Graph) edge(from, dir string) *Connection {
	return g.edges[from][dir]
}

// Edge returns the connection leaving from in dir, or nil.
func (g *Graph) Edge(from, dir string) *Connection { return g.edge(from, dir) }

func (g *Graph) setEdge(c *Connection) {
	m := g.edges[c.FromRoomID]
	if m == nil {
		m = make(map[string]*Connection)
		g.edges[c.FromRoomID] = m
	}
	m[c.Direction] = c
}

func addDestination(dests []string, to string) []string {
	for _, d := range dests {
		if d == to {
			return dests
		}
	}
	return append(dests, to)
}

// MarkBlocked flags the edge leaving from in dir as impassable with a reason.
func (g *Graph) MarkBlocked(from, dir, reason string) {
	conn := g.edge(from, dir)
	if conn == nil {
		conn = &Connection{FromRoomID: from, ToRoomID: "", Direction: dir}
		g.setEdge(conn)
	}
	conn.Blocked = true
	conn.BlockReason = reason
	g.dirtyEdges[edgeKey{from, dir}] = true
}

// Unblock clears a blocked flag, e.g. after a puzzle opens a door.
func (g *Graph) Unblock(from, dir string) {
	if conn := g.edge(from, dir); conn != nil && conn.Blocked {
		conn.Blocked = false
		conn.BlockReason = ""
		g.dirtyEdges[edgeKey{from, dir}] = true
	}
}

// GetPath returns the direction sequence of a shortest path from one room to
// another, skipping blocked and random edges. nil means no known path.
func (g *Graph) GetPath(fromID, toID string) []string {
	if fromID == toID {
		return []string{}
	}
	type hop struct {
		room string
		via  string
		prev int
	}
	queue := []hop{{room: fromID, prev: -1}}
	seen := map[string]bool{fromID: true}

	for i := 0; i < len(queue); i++ {
		cur := queue[i]
		dirs := g.sortedDirections(cur.room)
		for _, dir := range dirs {
			conn := g.edges[cur.room][dir]
			if conn.Blocked || conn.Random || conn.ToRoomID == "" || seen[conn.ToRoomID] {
				continue
			}
			next := hop{room: conn.ToRoomID, via: dir, prev: i}
			if conn.ToRoomID == toID {
				var path []string
				for h := &next; h.prev >= 0; {
					path = append([]string{h.via}, path...)
					h = &queue[h.prev]
				}
				return path
			}
			seen[conn.ToRoomID] = true
			queue = append(queue, next)
		}
	}
	return nil
}

// GetNextStep returns the first direction on a shortest path to toID, or ""
// when unreachable or already there.
func (g *Graph) GetNextStep(fromID, toID string) string {
	path := g.GetPath(fromID, toID)
	if len(path) == 0 {
		return ""
	}
	return path[0]
}

func (g *Graph) sortedDirections(roomID string) []string {
	m := g.edges[roomID]
	dirs := make([]string, 0, len(m))
	for d := range m {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// UnexploredExit is a known exit whose destination is still unknown.
type UnexploredExit struct {
	RoomID    string
	Direction string
}

// GetUnexploredExits lists every pending exit in the graph, stably ordered.
func (g *Graph) GetUnexploredExits() []UnexploredExit {
	roomIDs := make([]string, 0, len(g.rooms))
	for id := range g.rooms {
		roomIDs = append(roomIDs, id)
	}
	sort.Strings(roomIDs)

	var exits []UnexploredExit
	for _, id := range roomIDs {
		room := g.rooms[id]
		dirs := make([]string, 0, len(room.Exits))
		for d := range room.Exits {
			dirs = append(dirs, d)
		}
		sort.Strings(dirs)
		for _, d := range dirs {
			if room.Exits[d] != "" {
				continue
			}
			if conn := g.edge(id, d); conn != nil && conn.Blocked {
				continue
			}
			exits = append(exits, UnexploredExit{RoomID: id, Direction: d})
		}
	}
	return exits
}

// GetNearestUnexplored finds the unexplored exit closest to fromID and the
// path to its room. found is false when the whole known map is explored.
func (g *Graph) GetNearestUnexplored(fromID string) (exit UnexploredExit, path []string, found bool) {
	best := -1
	for _, e := range g.GetUnexploredExits() {
		p := g.GetPath(fromID, e.RoomID)
		if p == nil {
			continue
		}
		if best < 0 || len(p) < best {
			best = len(p)
			exit, path, found = e, p, true
		}
	}
	return exit, path, found
}

// Summary returns the compact exploration snapshot for agent context.
func (g *Graph) Summary() MapSummary {
	visited := 0
	for _, r := range g.rooms {
		if r.Visited {
			visited++
		}
	}
	return MapSummary{
		RoomsVisited:    visited,
		RoomsTotal:      len(g.rooms),
		UnexploredCount: len(g.GetUnexploredExits()),
		CurrentRoom:     g.currentRoomID,
	}
}

// RenameRoom moves a room to a new id, rewriting every edge and exit that
// referenced the old id. Used when maze detection assigns synthetic ids.
func (g *Graph) RenameRoom(oldID, newID string) {
	room, ok := g.rooms[oldID]
	if !ok || oldID == newID {
		return
	}
	delete(g.rooms, oldID)
	room.RoomID = newID
	g.rooms[newID] = room
	g.deletedRooms = append(g.deletedRooms, oldID)
	g.dirtyRooms[newID] = true

	if m, ok := g.edges[oldID]; ok {
		delete(g.edges, oldID)
		g.edges[newID] = m
		for dir, conn := range m {
			conn.FromRoomID = newID
			g.deletedEdges = append(g.deletedEdges, edgeKey{oldID, dir})
			g.dirtyEdges[edgeKey{newID, dir}] = true
			if g.implicit[edgeKey{oldID, dir}] {
				delete(g.implicit, edgeKey{oldID, dir})
				g.implicit[edgeKey{newID, dir}] = true
			}
		}
	}
	for from, m := range g.edges {
		for dir, conn := range m {
			if conn.ToRoomID == oldID {
				conn.ToRoomID = newID
				g.dirtyEdges[edgeKey{from, dir}] = true
			}
			conn.ObservedDestinations = renameAll(conn.ObservedDestinations, oldID, newID)
		}
	}
	for _, r := range g.rooms {
		for dir, dest := range r.Exits {
			if dest == oldID {
				r.Exits[dir] = newID
				g.dirtyRooms[r.RoomID] = true
			}
		}
	}
	if g.currentRoomID == oldID {
		g.currentRoomID = newID
	}
	if g.prevRoomID == oldID {
		g.prevRoomID = newID
	}
	for i, id := range g.recentRooms {
		if id == oldID {
			g.recentRooms[i] = newID
		}
	}
	for i := range g.descBuffer {
		if g.descBuffer[i].roomID == oldID {
			g.descBuffer[i].roomID = newID
		}
	}
}

// MergeRoom folds a provisional room into an established one: every edge in
// or out of fromID is redirected to intoID and fromID disappears. Used when
// a maze marker proves a "new" room is one we already mapped.
func (g *Graph) MergeRoom(fromID, intoID string) {
	from, okFrom := g.rooms[fromID]
	into, okInto := g.rooms[intoID]
	if !okFrom || !okInto || fromID == intoID {
		return
	}

	into.VisitCount += from.VisitCount
	into.LastVisitedTurn = max(into.LastVisitedTurn, from.LastVisitedTurn)
	for dir, dest := range from.Exits {
		if cur, ok := into.Exits[dir]; !ok || cur == "" {
			into.Exits[dir] = dest
		}
	}

	if m, ok := g.edges[fromID]; ok {
		delete(g.edges, fromID)
		for dir, conn := range m {
			g.deletedEdges = append(g.deletedEdges, edgeKey{fromID, dir})
			delete(g.implicit, edgeKey{fromID, dir})
			if g.edge(intoID, dir) == nil {
				conn.FromRoomID = intoID
				g.setEdge(conn)
				g.dirtyEdges[edgeKey{intoID, dir}] = true
			}
		}
	}
	for from2, m := range g.edges {
		for dir, conn := range m {
			if conn.ToRoomID == fromID {
				conn.ToRoomID = intoID
				g.dirtyEdges[edgeKey{from2, dir}] = true
			}
			conn.ObservedDestinations = renameAll(conn.ObservedDestinations, fromID, intoID)
		}
	}
	for _, r := range g.rooms {
		for dir, dest := range r.Exits {
			if dest == fromID {
				r.Exits[dir] = intoID
				g.dirtyRooms[r.RoomID] = true
			}
		}
	}

	delete(g.rooms, fromID)
	g.deletedRooms = append(g.deletedRooms, fromID)
	g.dirtyRooms[intoID] = true
	delete(g.dirtyRooms, fromID)

	if g.currentRoomID == fromID {
		g.currentRoomID = intoID
	}
	if g.prevRoomID == fromID {
		g.prevRoomID = intoID
	}
	for i, id := range g.recentRooms {
		if id == fromID {
			g.recentRooms[i] = intoID
		}
	}
	for i := range g.descBuffer {
		if g.descBuffer[i].roomID == fromID {
			g.descBuffer[i].roomID = intoID
		}
	}
}

func renameAll(ids []string, oldID, newID string) []string {
	for i, id := range ids {
		if id == oldID {
			ids[i] = newID
		}
	}
	return ids
}

// GraphDelta is the set of changes accumulated since the last Flush, in the
// shape the journal persists.
type GraphDelta struct {
	Rooms              []*Room
	Connections        []*Connection
	DeletedRooms       []string
	DeletedConnections [][2]string // from, direction
}

// Flush drains and returns all pending changes.
func (g *Graph) Flush() GraphDelta {
	var d GraphDelta
	for id := range g.dirtyRooms {
		if r, ok := g.rooms[id]; ok {
			d.Rooms = append(d.Rooms, r)
		}
	}
	for key := range g.dirtyEdges {
		if conn := g.edge(key.from, key.direction); conn != nil {
			d.Connections = append(d.Connections, conn)
		}
	}
	d.DeletedRooms = g.deletedRooms
	for _, key := range g.deletedEdges {
		d.DeletedConnections = append(d.DeletedConnections, [2]string{key.from, key.direction})
	}
	sort.Slice(d.Rooms, func(i, k int) bool { return d.Rooms[i].RoomID < d.Rooms[k].RoomID })
	sort.Slice(d.Connections, func(i, k int) bool {
		a, b := d.Connections[i], d.Connections[k]
		if a.FromRoomID != b.FromRoomID {
			return a.FromRoomID < b.FromRoomID
		}
		return a.Direction < b.Direction
	})

	g.dirtyRooms = make(map[string]bool)
	g.dirtyEdges = make(map[edgeKey]bool)
	g.deletedRooms = nil
	g.deletedEdges = nil
	return d
}

// Load replaces graph contents with journaled state, for crash resume.
// currentRoomID comes from the latest turn record.
func (g *Graph) Load(rooms []*Room, conns []*Connection, currentRoomID string) {
	g.rooms = make(map[string]*Room, len(rooms))
	g.edges = make(map[string]map[string]*Connection)
	g.implicit = make(map[edgeKey]bool)
	for _, r := range rooms {
		if r.Exits == nil {
			r.Exits = make(map[string]string)
		}
		g.rooms[r.RoomID] = r
	}
	for _, c := range conns {
		g.setEdge(c)
	}
	g.currentRoomID = currentRoomID
	g.prevRoomID = ""
	g.recentRooms = nil
	if currentRoomID != "" {
		g.recentRooms = []string{currentRoomID}
	}
	g.dirtyRooms = make(map[string]bool)
	g.dirtyEdges = make(map[edgeKey]bool)
}
