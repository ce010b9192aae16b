package world

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func updatesJSON(updates string) string {
	return `{"updates": [` + updates + `]}`
}

func registryWith(t *testing.T, responses ...string) *Registry {
	return NewRegistry(&scriptClient{t: t, responses: responses}, zap.NewNop())
}

func applyItems(t *testing.T, r *Registry, command, output, room string, turn int) []ItemUpdate {
	t.Helper()
	ups, err := r.UpdateFromGameOutput(context.Background(), command, output, room, turn)
	require.NoError(t, err)
	return ups
}

func TestRegistryNewAndTaken(t *testing.T) {
	r := registryWith(t,
		updatesJSON(`{"item_id": "brass_lantern", "name": "brass lantern", "change_type": "new", "location": "living_room"}`),
		updatesJSON(`{"item_id": "brass_lantern", "name": "brass lantern", "change_type": "taken"}`),
	)

	applyItems(t, r, "look", "...", "living_room", 1)
	it := r.Item("brass_lantern")
	require.NotNil(t, it)
	assert.Equal(t, "living_room", it.Location)
	assert.Equal(t, TristateUnknown, it.Portable)
	assert.Equal(t, 1, it.FirstSeenTurn)

	applyItems(t, r, "take lantern", "Taken.", "living_room", 2)
	assert.Equal(t, LocInventory, it.Location)
	assert.Equal(t, TristateTrue, it.Portable)
	assert.Equal(t, []string{"brass_lantern"}, r.InventoryIDs())
}

func TestRegistryDroppedDefaultsToCurrentRoom(t *testing.T) {
	r := registryWith(t,
		updatesJSON(`{"item_id": "rope", "name": "rope", "change_type": "taken"}`),
		updatesJSON(`{"item_id": "rope", "name": "rope", "change_type": "dropped"}`),
	)
	applyItems(t, r, "take rope", "Taken.", "attic", 1)
	applyItems(t, r, "drop rope", "Dropped.", "maze_g0_1", 2)

	assert.Equal(t, "maze_g0_1", r.Item("rope").Location)
	assert.Equal(t, []*Item{r.Item("rope")}, r.ItemsInRoom("maze_g0_1"))
}

func TestRegistryGoneAndStateChange(t *testing.T) {
	r := registryWith(t,
		updatesJSON(`{"item_id": "sandwich", "name": "sandwich", "change_type": "new", "location": "kitchen"}`),
		updatesJSON(`{"item_id": "sandwich", "name": "sandwich", "change_type": "gone"}`),
		updatesJSON(`{"item_id": "trap_door", "name": "trap door", "change_type": "new", "location": "living_room", "properties": {"open": false}}`),
		updatesJSON(`{"item_id": "trap_door", "name": "trap door", "change_type": "state_change", "properties": {"open": true}}`),
	)
	applyItems(t, r, "look", "...", "kitchen", 1)
	applyItems(t, r, "eat sandwich", "Delicious.", "kitchen", 2)
	assert.Equal(t, LocUnknown, r.Item("sandwich").Location)

	applyItems(t, r, "look", "...", "living_room", 3)
	applyItems(t, r, "open trap door", "The door reluctantly opens.", "living_room", 4)
	trapDoor := r.Item("trap_door")
	assert.Equal(t, "living_room", trapDoor.Location)
	assert.Equal(t, true, trapDoor.Properties["open"])
}

func TestRegistryInvalidChangeTypeIsSkipped(t *testing.T) {
	r := registryWith(t,
		updatesJSON(`{"item_id": "thing", "name": "thing", "change_type": "teleported"}`),
	)
	ups := applyItems(t, r, "look", "...", "somewhere", 1)
	assert.Nil(t, ups)
	assert.Nil(t, r.Item("thing"))
}

func TestRegistryDroppableOrdersPuzzleItemsLast(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	r.Load([]*Item{
		{ItemID: "key", Location: LocInventory, Portable: TristateTrue},
		{ItemID: "leaflet", Location: LocInventory, Portable: TristateTrue},
		{ItemID: "statue", Location: LocInventory, Portable: TristateFalse},
		{ItemID: "scroll", Location: LocInventory, Portable: TristateUnknown},
		{ItemID: "sword", Location: LocInventory, Portable: TristateTrue},
	})

	drop := r.DroppableItems(map[string]bool{"key": true})
	var ids []string
	for _, it := range drop {
		ids = append(ids, it.ItemID)
	}
	// Non-puzzle items first, the puzzle-related key last. Only items with
	// confirmed portability qualify: statue and the unproven scroll are out.
	assert.Equal(t, []string{"leaflet", "sword", "key"}, ids)
}

func TestRegistryCarryLimit(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	r.Load([]*Item{
		{ItemID: "a", Location: LocInventory},
		{ItemID: "b", Location: LocInventory},
	})
	assert.Equal(t, 0, r.CarryLimit())
	r.NoteCarryLimit()
	assert.Equal(t, 2, r.CarryLimit())
}

func TestRegistryNoteUntakeable(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	r.Load([]*Item{{ItemID: "boulder", Location: "cave", Portable: TristateUnknown}})
	r.NoteUntakeable("boulder", 7)
	assert.Equal(t, TristateFalse, r.Item("boulder").Portable)
	assert.Empty(t, r.DroppableItems(nil))
}

func TestRegistryParserErrorIsNotFatal(t *testing.T) {
	r := NewRegistry(errClient{}, zap.NewNop())
	ups, err := r.UpdateFromGameOutput(context.Background(), "look", "...", "attic", 1)
	require.NoError(t, err)
	assert.Empty(t, ups)
}

func TestRegistryFlush(t *testing.T) {
	r := registryWith(t,
		updatesJSON(`{"item_id": "rope", "name": "rope", "change_type": "new", "location": "attic"}`),
	)
	applyItems(t, r, "look", "...", "attic", 1)

	flushed := r.Flush()
	require.Len(t, flushed, 1)
	assert.Equal(t, "rope", flushed[0].ItemID)
	assert.Empty(t, r.Flush())
}
