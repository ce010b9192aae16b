package world

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func graphWith(t *testing.T, responses ...string) (*Graph, *scriptClient) {
	c := &scriptClient{t: t, responses: responses}
	return NewGraph(c, zap.NewNop()), c
}

func mustUpdate(t *testing.T, g *Graph, command, output string, turn int) *RoomUpdate {
	t.Helper()
	u, err := g.UpdateFromGameOutput(context.Background(), command, output, turn)
	require.NoError(t, err)
	return u
}

func TestGraphNewRoomAndRevisit(t *testing.T) {
	g, _ := graphWith(t,
		roomJSON("West of House", "You are standing in an open field.", "north", "south", "west"),
		roomJSON("West of House", "You are standing in an open field.", "north", "south", "west"),
	)

	u := mustUpdate(t, g, "look", "West of House\nYou are standing in an open field.", 1)
	assert.True(t, u.NewRoom)
	assert.Equal(t, "west_of_house", u.RoomID)
	require.NotNil(t, g.Room("west_of_house"))
	assert.Equal(t, 1, g.Room("west_of_house").VisitCount)
	assert.Len(t, g.Room("west_of_house").Exits, 3)

	// Same room later: visit count bumps, no new room.
	g.currentRoomID = "" // simulate coming back from elsewhere
	u = mustUpdate(t, g, "east", "West of House", 5)
	assert.False(t, u.NewRoom)
	assert.Equal(t, 2, g.Room("west_of_house").VisitCount)
	assert.Equal(t, 5, g.Room("west_of_house").LastVisitedTurn)
}

func TestGraphTraversalCreatesEdgesAndImplicitReverse(t *testing.T) {
	g, _ := graphWith(t,
		roomJSON("West of House", "Open field.", "north"),
		roomJSON("North of House", "North side of the house.", "south", "east"),
	)

	mustUpdate(t, g, "look", "...", 1)
	mustUpdate(t, g, "north", "...", 2)

	conn := g.Edge("west_of_house", "north")
	require.NotNil(t, conn)
	assert.Equal(t, "north_of_house", conn.ToRoomID)
	assert.True(t, conn.Bidirectional)
	assert.Equal(t, "north_of_house", g.Room("west_of_house").Exits["north"])

	// The reverse edge is assumed until proven.
	rev := g.Edge("north_of_house", "south")
	require.NotNil(t, rev)
	assert.Equal(t, "west_of_house", rev.ToRoomID)
	assert.True(t, g.implicit[edgeKey{"north_of_house", "south"}])
}

func TestGraphReciprocityDemotion(t *testing.T) {
	g, _ := graphWith(t,
		roomJSON("Room A", "First room.", "north"),
		roomJSON("Room B", "Second room.", "south"),
		roomJSON("Room C", "Third room.", ""),
	)

	mustUpdate(t, g, "look", "...", 1)
	mustUpdate(t, g, "north", "...", 2)
	// Going south from B should land back in A per the implicit reverse, but
	// lands in C instead: the guess is replaced and the failure counted.
	mustUpdate(t, g, "south", "...", 3)

	conn := g.Edge("room_b", "south")
	require.NotNil(t, conn)
	assert.Equal(t, "room_c", conn.ToRoomID)
	assert.False(t, g.implicit[edgeKey{"room_b", "south"}])
	assert.Equal(t, 1, g.ConsecutiveReciprocityFailures())
}

func TestGraphRandomConnectionUpgrade(t *testing.T) {
	g, _ := graphWith(t,
		roomJSON("Room A", "First.", "north"),
		roomJSON("Room B", "Second.", ""),
		roomJSON("Room A", "First.", "north"),
		roomJSON("Room C", "Third.", ""),
	)

	mustUpdate(t, g, "look", "...", 1)
	mustUpdate(t, g, "north", "...", 2) // a -> b, confirmed
	mustUpdate(t, g, "south", "...", 3) // back in a (confirms implicit reverse)
	mustUpdate(t, g, "north", "...", 4) // a -> c this time: random

	conn := g.Edge("room_a", "north")
	require.NotNil(t, conn)
	assert.True(t, conn.Random)
	assert.ElementsMatch(t, []string{"room_b", "room_c"}, conn.ObservedDestinations)
}

func TestGraphPathfinding(t *testing.T) {
	g := NewGraph(nil, zap.NewNop())
	g.Load([]*Room{
		{RoomID: "a", Exits: map[string]string{"east": "b"}},
		{RoomID: "b", Exits: map[string]string{"east": "c", "west": "a"}},
		{RoomID: "c", Exits: map[string]string{"west": "b", "north": ""}},
	}, []*Connection{
		{FromRoomID: "a", ToRoomID: "b", Direction: "east", Bidirectional: true},
		{FromRoomID: "b", ToRoomID: "a", Direction: "west", Bidirectional: true},
		{FromRoomID: "b", ToRoomID: "c", Direction: "east", Bidirectional: true},
		{FromRoomID: "c", ToRoomID: "b", Direction: "west", Bidirectional: true},
	}, "a")

	t.Run("shortest path", func(t *testing.T) {
		assert.Equal(t, []string{"east", "east"}, g.GetPath("a", "c"))
		assert.Equal(t, "east", g.GetNextStep("a", "c"))
	})
	t.Run("no path", func(t *testing.T) {
		assert.Nil(t, g.GetPath("c", "nowhere"))
	})
	t.Run("same room", func(t *testing.T) {
		assert.Empty(t, g.GetPath("a", "a"))
	})
	t.Run("blocked edge excluded", func(t *testing.T) {
		g.MarkBlocked("b", "east", "the door is locked")
		assert.Nil(t, g.GetPath("a", "c"))
		g.Unblock("b", "east")
		assert.NotNil(t, g.GetPath("a", "c"))
	})
	t.Run("nearest unexplored", func(t *testing.T) {
		exit, path, found := g.GetNearestUnexplored("a")
		assert.True(t, found)
		assert.Equal(t, UnexploredExit{RoomID: "c", Direction: "north"}, exit)
		assert.Equal(t, []string{"east", "east"}, path)
	})
}

func TestGraphRenameRoom(t *testing.T) {
	g := NewGraph(nil, zap.NewNop())
	g.Load([]*Room{
		{RoomID: "maze", Exits: map[string]string{"north": "hall"}},
		{RoomID: "hall", Exits: map[string]string{"south": "maze"}},
	}, []*Connection{
		{FromRoomID: "maze", ToRoomID: "hall", Direction: "north"},
		{FromRoomID: "hall", ToRoomID: "maze", Direction: "south"},
	}, "maze")

	g.RenameRoom("maze", "maze_g0_0")

	assert.Nil(t, g.Room("maze"))
	require.NotNil(t, g.Room("maze_g0_0"))
	assert.Equal(t, "maze_g0_0", g.CurrentRoomID())
	assert.Equal(t, "maze_g0_0", g.Edge("hall", "south").ToRoomID)
	assert.Equal(t, "maze_g0_0", g.Room("hall").Exits["south"])
	assert.Equal(t, "hall", g.Edge("maze_g0_0", "north").ToRoomID)

	delta := g.Flush()
	assert.Contains(t, delta.DeletedRooms, "maze")
}

func TestGraphMergeRoom(t *testing.T) {
	g := NewGraph(nil, zap.NewNop())
	g.Load([]*Room{
		{RoomID: "maze_g0_0", VisitCount: 2, Exits: map[string]string{"north": "maze_dup"}},
		{RoomID: "maze_g0_1", VisitCount: 1, Exits: map[string]string{"south": ""}},
		{RoomID: "maze_dup", VisitCount: 1, Exits: map[string]string{"east": ""}},
	}, []*Connection{
		{FromRoomID: "maze_g0_0", ToRoomID: "maze_dup", Direction: "north"},
	}, "maze_dup")

	// The marker proved maze_dup is really maze_g0_1.
	g.MergeRoom("maze_dup", "maze_g0_1")

	assert.Nil(t, g.Room("maze_dup"))
	merged := g.Room("maze_g0_1")
	require.NotNil(t, merged)
	assert.Equal(t, 2, merged.VisitCount)
	assert.Equal(t, "", merged.Exits["east"])
	assert.Equal(t, "maze_g0_1", g.Edge("maze_g0_0", "north").ToRoomID)
	assert.Equal(t, "maze_g0_1", g.Room("maze_g0_0").Exits["north"])
	assert.Equal(t, "maze_g0_1", g.CurrentRoomID())
}

func TestGraphFlushDelta(t *testing.T) {
	g, _ := graphWith(t,
		roomJSON("Room A", "First.", "north"),
		roomJSON("Room B", "Second.", ""),
	)
	mustUpdate(t, g, "look", "...", 1)
	mustUpdate(t, g, "north", "...", 2)

	delta := g.Flush()
	var roomIDs []string
	for _, r := range delta.Rooms {
		roomIDs = append(roomIDs, r.RoomID)
	}
	if diff := cmp.Diff([]string{"room_a", "room_b"}, roomIDs); diff != "" {
		t.Errorf("dirty rooms mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, delta.Connections, 2) // forward + implicit reverse

	// Second flush is empty.
	delta = g.Flush()
	assert.Empty(t, delta.Rooms)
	assert.Empty(t, delta.Connections)
}

func TestGraphParserGiveUpIsNotFatal(t *testing.T) {
	g, _ := graphWith(t, "total garbage, not json")
	u, err := g.UpdateFromGameOutput(context.Background(), "look", "...", 1)
	require.NoError(t, err)
	assert.Equal(t, "", u.RoomID)
	assert.Equal(t, 0, g.RoomCount())
}

func TestGraphParserErrorIsNotFatal(t *testing.T) {
	g := NewGraph(errClient{}, zap.NewNop())
	u, err := g.UpdateFromGameOutput(context.Background(), "look", "...", 1)
	require.NoError(t, err)
	assert.Equal(t, "", u.RoomID)
	assert.Equal(t, 0, g.RoomCount())
}
