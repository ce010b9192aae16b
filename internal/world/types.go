// Package world holds the game world model: the room graph, the item
// registry, and the maze subsystem. All state here is derived from parsed
// game output and journaled after every turn; nothing in this package talks
// to the interpreter or the network.
package world

import "fmt"

// Location sentinels for Item.Location. Any other value is a room id.
const (
	LocInventory = "inventory"
	LocUnknown   = "unknown"
)

// Tristate models facts that start unknown and are settled by evidence,
// such as item portability. A definite value never regresses to unknown.
type Tristate int8

const (
	TristateUnknown Tristate = iota
	TristateFalse
	TristateTrue
)

func (t Tristate) String() string {
	switch t {
	case TristateTrue:
		return "true"
	case TristateFalse:
		return "false"
	default:
		return "unknown"
	}
}

// Room is a location in the game world. Items present in a room are
// deliberately not stored here: that is a live query against the item
// registry keyed by location.
type Room struct {
	RoomID           string
	Name             string
	Description      string
	Visited          bool
	VisitCount       int
	MazeGroup        string // maze group id, "" outside mazes
	MazeMarkerItem   string // item id dropped here as marker, "" if none
	IsDark           bool
	FirstVisitedTurn int
	LastVisitedTurn  int
	// Exits maps a direction token to the destination room id, or "" when
	// the exit was mentioned in a description but never traversed.
	Exits map[string]string
}

// Connection is a directed edge between two rooms.
type Connection struct {
	FromRoomID    string
	ToRoomID      string
	Direction     string
	Bidirectional bool
	Blocked       bool
	BlockReason   string
	Teleport      bool
	Random        bool
	// ObservedDestinations lists every room this edge has been seen to lead
	// to. Random implies at least two entries.
	ObservedDestinations []string
}

// Item is an object in the game world.
type Item struct {
	ItemID        string
	Name          string
	Description   string
	Location      string // room id, LocInventory, or LocUnknown
	Portable      Tristate
	Properties    map[string]any
	FirstSeenTurn int
	LastSeenTurn  int
}

// Puzzle statuses.
const (
	PuzzleOpen       = "open"
	PuzzleInProgress = "in_progress"
	PuzzleSolved     = "solved"
	PuzzleAbandoned  = "abandoned"
)

// Attempt records one try at a puzzle.
type Attempt struct {
	Action string `json:"action"`
	Result string `json:"result"`
	Turn   int    `json:"turn"`
}

// Puzzle is an open obstacle tracked across turns. RelatedItems holds item
// ids only; resolving them goes through the registry.
type Puzzle struct {
	PuzzleID     int64
	Description  string
	Status       string
	Location     string
	RelatedItems []string
	Attempts     []Attempt
	CreatedTurn  int
	SolvedTurn   int // 0 when unsolved
}

// MazeGroup is a detected maze region tracked until fully mapped.
type MazeGroup struct {
	GroupID       string
	EntryRoomID   string
	RoomIDs       []string
	ExitRoomIDs   []string
	Markers       map[string]string // room id -> marker item id
	FullyMapped   bool
	CreatedTurn   int
	CompletedTurn int
}

// RoomUpdate is the side-effect-free delta produced by the map parser before
// the graph applies it.
type RoomUpdate struct {
	RoomChanged bool     `json:"room_changed"`
	RoomName    string   `json:"room_name"`
	Description string   `json:"description"`
	Exits       []string `json:"exits"`
	IsDark      bool     `json:"is_dark"`
	ItemsSeen   []string `json:"items_seen"`

	// Filled by the graph after applying, not by the parser.
	RoomID  string `json:"-"`
	NewRoom bool   `json:"-"`
}

// Item change types produced by the item parser.
const (
	ChangeNew         = "new"
	ChangeTaken       = "taken"
	ChangeDropped     = "dropped"
	ChangeStateChange = "state_change"
	ChangeMoved       = "moved"
	ChangeGone        = "gone"
)

// ItemUpdate is one parsed item delta.
type ItemUpdate struct {
	ItemID     string         `json:"item_id"`
	Name       string         `json:"name"`
	ChangeType string         `json:"change_type"`
	Location   string         `json:"location"`
	Properties map[string]any `json:"properties"`
}

// Validate enforces the change-type enum for structured extraction retries.
func (u ItemUpdate) Validate() error {
	switch u.ChangeType {
	case ChangeNew, ChangeTaken, ChangeDropped, ChangeStateChange, ChangeMoved, ChangeGone:
	default:
		return fmt.Errorf("unknown change_type %q", u.ChangeType)
	}
	if u.ItemID == "" {
		return fmt.Errorf("item update missing item_id")
	}
	return nil
}

// MapSummary is the compact exploration snapshot handed to the game agent.
type MapSummary struct {
	RoomsVisited    int    `json:"rooms_visited"`
	RoomsTotal      int    `json:"rooms_total"`
	UnexploredCount int    `json:"unexplored_count"`
	CurrentRoom     string `json:"current"`
}
