package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autofrotz/internal/agent"
	"autofrotz/internal/llm"
	"autofrotz/internal/world"
)

const twisty = "You are in a maze of twisty little passages, all alike."

// mazeRig builds an orchestrator mid-maze: an active group of two rooms
// entered from the cellar, the player in the first maze room, markers not
// yet placed.
func mazeRig(t *testing.T, minMarkers int) *testRig {
	cfg := testConfig(100)
	cfg.Maze.MinMarkers = minMarkers
	rig := newRig(t, cfg, &fakeInterp{}, nil)
	o := rig.orch

	o.graph.Load([]*world.Room{
		{RoomID: "cellar", Name: "Cellar", Description: "A dank cellar.",
			Exits: map[string]string{"north": "maze_g0_0"}},
		{RoomID: "maze_g0_0", Name: "Maze", Description: twisty, MazeGroup: "g0",
			Exits: map[string]string{"north": "", "south": ""}},
		{RoomID: "maze_g0_1", Name: "Maze", Description: twisty, MazeGroup: "g0",
			Exits: map[string]string{"east": ""}},
	}, []*world.Connection{
		{FromRoomID: "cellar", ToRoomID: "maze_g0_0", Direction: "north"},
	}, "maze_g0_0")
	o.mazes.Load([]*world.MazeGroup{{
		GroupID:     "g0",
		EntryRoomID: "cellar",
		RoomIDs:     []string{"maze_g0_0", "maze_g0_1"},
		Markers:     map[string]string{},
		CreatedTurn: 5,
	}})
	require.NotNil(t, o.mazes.ActiveGroup())
	o.maze = resumeMazeRun(o.mazes.ActiveGroup())
	o.turn = 6
	return rig
}

func loadInventory(o *Orchestrator, ids ...string) {
	items := make([]*world.Item, len(ids))
	for i, id := range ids {
		items[i] = &world.Item{ItemID: id, Name: id, Location: world.LocInventory, Portable: world.TristateTrue}
	}
	o.items.Load(items)
}

func TestMazeDriverDropsMarkerFirst(t *testing.T) {
	rig := mazeRig(t, 2)
	o := rig.orch
	loadInventory(o, "coin", "leaflet")

	dec, ok := o.maze.decide(o)
	require.True(t, ok)
	assert.Equal(t, "drop coin", dec.Command)

	// The game accepted the drop; the registry saw the item leave inventory.
	o.items.Load([]*world.Item{
		{ItemID: "coin", Name: "coin", Location: "maze_g0_0", Portable: world.TristateTrue},
		{ItemID: "leaflet", Name: "leaflet", Location: world.LocInventory, Portable: world.TristateTrue},
	})
	o.mazeStep(dec, &world.RoomUpdate{RoomID: "maze_g0_0"}, "Dropped.")

	group := o.mazes.ActiveGroup()
	assert.Equal(t, "coin", group.Markers["maze_g0_0"])
	assert.Equal(t, "coin", o.graph.Room("maze_g0_0").MazeMarkerItem)
	assert.Contains(t, rig.hook.events, "marked:maze_g0_0")
}

func TestMazeDriverWalksBackIn(t *testing.T) {
	rig := mazeRig(t, 1)
	o := rig.orch
	o.mazes.AssignMarker("maze_g0_0", "coin")
	o.graph.Load([]*world.Room{
		{RoomID: "cellar", Name: "Cellar", Description: "A dank cellar.",
			Exits: map[string]string{"north": "maze_g0_0"}},
		{RoomID: "maze_g0_0", Name: "Maze", Description: twisty, MazeGroup: "g0", MazeMarkerItem: "coin",
			Exits: map[string]string{"north": "", "south": ""}},
		{RoomID: "maze_g0_1", Name: "Maze", Description: twisty, MazeGroup: "g0",
			Exits: map[string]string{"east": ""}},
	}, []*world.Connection{
		{FromRoomID: "cellar", ToRoomID: "maze_g0_0", Direction: "north"},
	}, "cellar")

	// Stepped out of the maze mid-run: the driver walks back in rather than
	// giving up.
	dec, ok := o.maze.decide(o)
	require.True(t, ok)
	assert.Equal(t, "north", dec.Command)
	require.NotNil(t, o.maze)
	assert.NotNil(t, o.mazes.ActiveGroup())
}

func TestMazeDriverReplacesStolenMarker(t *testing.T) {
	rig := mazeRig(t, 1)
	o := rig.orch
	o.mazes.AssignMarker("maze_g0_0", "coin")
	o.items.Load([]*world.Item{
		{ItemID: "coin", Name: "coin", Location: world.LocUnknown, Portable: world.TristateTrue},
		{ItemID: "leaflet", Name: "leaflet", Location: world.LocInventory, Portable: world.TristateTrue},
	})

	// The coin is gone from the room it marked: something took it. The
	// driver records the theft as a puzzle and drops a replacement.
	dec, ok := o.maze.decide(o)
	require.True(t, ok)
	assert.Equal(t, "drop leaflet", dec.Command)
	assert.Empty(t, o.mazes.ActiveGroup().Markers)

	pending := o.puzzles.Pending()
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].Description, "vanished")
	assert.Equal(t, []string{"coin"}, pending[0].RelatedItems)
}

func TestMazeDriverExploresAfterMarking(t *testing.T) {
	rig := mazeRig(t, 1)
	o := rig.orch
	loadInventory(o, "leaflet")
	o.mazes.AssignMarker("maze_g0_0", "coin")

	dec, ok := o.maze.decide(o)
	require.True(t, ok)
	assert.Equal(t, "north", dec.Command, "first pending exit in direction order")
	assert.Equal(t, "maze_g0_0", o.maze.lastRoom)
	assert.Equal(t, "north", o.maze.lastDir)
}

func TestMazeDriverAddsNewMazeRoom(t *testing.T) {
	rig := mazeRig(t, 1)
	o := rig.orch
	o.mazes.AssignMarker("maze_g0_0", "coin")

	// Moving north landed in a provisional room whose description matches
	// the maze and which shows no marker: a genuinely new maze room.
	o.graph.Load([]*world.Room{
		{RoomID: "maze_g0_0", Name: "Maze", Description: twisty, MazeGroup: "g0", MazeMarkerItem: "coin",
			Exits: map[string]string{"north": "maze", "south": ""}},
		{RoomID: "maze_g0_1", Name: "Maze", Description: twisty, MazeGroup: "g0",
			Exits: map[string]string{"east": ""}},
		{RoomID: "maze", Name: "Maze", Description: twisty,
			Exits: map[string]string{"west": ""}},
	}, nil, "maze")
	o.maze.lastRoom, o.maze.lastDir = "maze_g0_0", "north"

	o.mazeStep(agent.Decision{Command: "north"},
		&world.RoomUpdate{RoomChanged: true, RoomID: "maze", NewRoom: true}, twisty)

	assert.Nil(t, o.graph.Room("maze"))
	require.NotNil(t, o.graph.Room("maze_g0_2"))
	assert.Equal(t, "g0", o.graph.Room("maze_g0_2").MazeGroup)
	assert.Contains(t, o.mazes.ActiveGroup().RoomIDs, "maze_g0_2")
}

func TestMazeDriverIdentifiesRoomByMarker(t *testing.T) {
	rig := mazeRig(t, 1)
	o := rig.orch
	o.mazes.AssignMarker("maze_g0_0", "coin")

	// Moving east from maze_g0_1 landed in a "new" room with the coin on
	// the floor: it is really maze_g0_0.
	o.graph.Load([]*world.Room{
		{RoomID: "maze_g0_0", Name: "Maze", Description: twisty, MazeGroup: "g0", MazeMarkerItem: "coin",
			Exits: map[string]string{"north": "", "south": ""}},
		{RoomID: "maze_g0_1", Name: "Maze", Description: twisty, MazeGroup: "g0",
			Exits: map[string]string{"east": "maze"}},
		{RoomID: "maze", Name: "Maze", Description: twisty,
			Exits: map[string]string{}},
	}, []*world.Connection{
		{FromRoomID: "maze_g0_1", ToRoomID: "maze", Direction: "east"},
	}, "maze")
	o.maze.lastRoom, o.maze.lastDir = "maze_g0_1", "east"

	o.mazeStep(agent.Decision{Command: "east"},
		&world.RoomUpdate{RoomChanged: true, RoomID: "maze", ItemsSeen: []string{"coin"}},
		twisty+"\nThere is a coin here.")

	assert.Nil(t, o.graph.Room("maze"))
	assert.Equal(t, "maze_g0_0", o.graph.CurrentRoomID())
	assert.Equal(t, "maze_g0_0", o.graph.Edge("maze_g0_1", "east").ToRoomID)
}

func TestMazeDriverRecordsExit(t *testing.T) {
	rig := mazeRig(t, 1)
	o := rig.orch

	// Moving south led somewhere that looks nothing like the maze.
	o.graph.Load([]*world.Room{
		{RoomID: "maze_g0_0", Name: "Maze", Description: twisty, MazeGroup: "g0",
			Exits: map[string]string{"south": "grating_room"}},
		{RoomID: "grating_room", Name: "Grating Room", Description: "A grating blocks a hole in the ceiling.",
			Exits: map[string]string{}},
	}, nil, "grating_room")
	o.maze.lastRoom, o.maze.lastDir = "maze_g0_0", "south"

	o.mazeStep(agent.Decision{Command: "south"},
		&world.RoomUpdate{RoomChanged: true, RoomID: "grating_room", NewRoom: true},
		"Grating Room")

	assert.Equal(t, []string{"maze_g0_0"}, o.mazes.ActiveGroup().ExitRoomIDs)
}

func TestMazeDriverRetrievalAndCompletion(t *testing.T) {
	rig := mazeRig(t, 1)
	o := rig.orch
	o.mazes.AssignMarker("maze_g0_0", "coin")
	o.items.Load([]*world.Item{
		{ItemID: "coin", Name: "coin", Location: "maze_g0_0", Portable: world.TristateTrue},
	})
	o.maze.phase = mazeRetrieving

	dec, ok := o.maze.decide(o)
	require.True(t, ok)
	assert.Equal(t, "take coin", dec.Command)

	o.items.Load([]*world.Item{
		{ItemID: "coin", Name: "coin", Location: world.LocInventory, Portable: world.TristateTrue},
	})
	o.mazeStep(dec, &world.RoomUpdate{RoomID: "maze_g0_0"}, "Taken.")
	assert.Empty(t, o.mazes.ActiveGroup().Markers)

	// Nothing left to collect: the run completes and control returns to the
	// game agent with a heads-up.
	_, ok = o.maze.decide(o)
	assert.False(t, ok)
	assert.Nil(t, o.maze)
	assert.Nil(t, o.mazes.ActiveGroup())
	assert.True(t, o.mazes.Group("g0").FullyMapped)
	assert.Contains(t, rig.hook.events, "maze_done:g0")
	require.NotEmpty(t, o.special)
	assert.Contains(t, o.special[len(o.special)-1], "fully mapped")
}

func TestMazeDriverPreparationPause(t *testing.T) {
	rig := mazeRig(t, 3)
	o := rig.orch
	loadInventory(o, "coin")
	o.maze.phase = mazePreparing

	_, ok := o.maze.decide(o)
	assert.False(t, ok, "game agent keeps playing while markers are short")
	require.NotEmpty(t, o.special)
	assert.Contains(t, o.special[0], "markers")

	// Enough items collected: the driver takes over again.
	loadInventory(o, "coin", "leaflet", "rope")
	dec, ok := o.maze.decide(o)
	require.True(t, ok)
	assert.Equal(t, "drop coin", dec.Command)
}

func TestMazeDriverAbandonsDarkMaze(t *testing.T) {
	rig := mazeRig(t, 1)
	o := rig.orch
	o.graph.Room("maze_g0_0").IsDark = true

	_, ok := o.maze.decide(o)
	assert.False(t, ok)
	assert.Nil(t, o.maze)
	assert.Nil(t, o.mazes.ActiveGroup())
	require.NotEmpty(t, o.special)
	assert.Contains(t, o.special[0], "dark")

	// The need for a light source is tracked as a puzzle.
	pending := o.puzzles.Pending()
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].Description, "light source")
}

func TestMazeDriverRunsOutOfMarkers(t *testing.T) {
	rig := mazeRig(t, 1)
	o := rig.orch
	o.graph.Load([]*world.Room{
		{RoomID: "maze_g0_0", Name: "Maze", Description: twisty, MazeGroup: "g0",
			Exits: map[string]string{"north": "maze_g0_1"}},
		{RoomID: "maze_g0_1", Name: "Maze", Description: twisty, MazeGroup: "g0",
			Exits: map[string]string{"south": "maze_g0_0"}},
	}, []*world.Connection{
		{FromRoomID: "maze_g0_0", ToRoomID: "maze_g0_1", Direction: "north"},
	}, "maze_g0_0")
	o.items.Load(nil) // nothing droppable
	o.mazes.AssignMarker("maze_g0_1", "coin")

	// Current room is unmarked and there is nothing left to drop: the run
	// falls back to collecting the markers already placed.
	dec, ok := o.maze.decide(o)
	require.True(t, ok)
	assert.Equal(t, mazeRetrieving, o.maze.phase)
	assert.Equal(t, "north", dec.Command)
}

func TestMazeDetectionStartsRun(t *testing.T) {
	rig := newRig(t, testConfig(100), &fakeInterp{}, map[string][]string{
		llm.AgentMapParser: {
			roomJSON("Cellar", "A dank cellar. Passages lead north.", "north"),
			roomJSON("Dead End", twisty, "north"),
			roomJSON("Twisty Passage", twisty, "south", "east"),
			roomJSON("Winding Passage", twisty, "west", "up"),
		},
	})
	o := rig.orch
	ctx := context.Background()

	// Three distinct rooms with the same description walk into the buffer
	// after the cellar.
	_, err := o.graph.UpdateFromGameOutput(ctx, "look", "Cellar", 1)
	require.NoError(t, err)
	_, err = o.graph.UpdateFromGameOutput(ctx, "north", "Dead End\n"+twisty, 2)
	require.NoError(t, err)
	_, err = o.graph.UpdateFromGameOutput(ctx, "north", "Twisty Passage\n"+twisty, 3)
	require.NoError(t, err)
	up, err := o.graph.UpdateFromGameOutput(ctx, "east", "Winding Passage\n"+twisty, 4)
	require.NoError(t, err)

	o.mazeStep(agent.Decision{Command: "east"}, up, twisty)

	require.NotNil(t, o.maze)
	assert.Equal(t, mazePreparing, o.maze.phase, "no droppable markers yet")
	group := o.mazes.ActiveGroup()
	require.NotNil(t, group)
	assert.Len(t, group.RoomIDs, 3)
	assert.Equal(t, "cellar", group.EntryRoomID, "last distinct room before the duplicates")
	assert.Equal(t, "maze_g0_0", o.graph.CurrentRoomID(), "current room keeps sequence zero")
	assert.Contains(t, rig.hook.events, "maze")
}
