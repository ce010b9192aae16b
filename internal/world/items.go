package world

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"autofrotz/internal/llm"
)

// itemUpdateBatch wraps the parser's update list so validation runs inside
// the structured-output retry loop.
type itemUpdateBatch struct {
	Updates []ItemUpdate `json:"updates"`
}

func (b itemUpdateBatch) Validate() error {
	for i, u := range b.Updates {
		if err := u.Validate(); err != nil {
			return fmt.Errorf("update %d: %w", i, err)
		}
	}
	return nil
}

// Registry tracks every item ever observed and where it was last seen.
// Items are never deleted; destroyed or eaten items move to the unknown
// location so their history survives.
type Registry struct {
	parser llm.Client
	logger *zap.Logger

	items map[string]*Item

	// carryLimit is the learned inventory capacity, 0 while unknown.
	carryLimit int

	lastMetric *llm.Metric
	dirty      map[string]bool
}

// NewRegistry builds an empty registry backed by the item-parser client.
func NewRegistry(parser llm.Client, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		parser: parser,
		logger: logger,
		items:  make(map[string]*Item),
		dirty:  make(map[string]bool),
	}
}

// Item returns the item with the given id, or nil.
func (r *Registry) Item(itemID string) *Item { return r.items[itemID] }

// LastMetric returns usage accounting for the most recent parser call, or
// nil when the last update made no model call.
func (r *Registry) LastMetric() *llm.Metric { return r.lastMetric }

// CarryLimit returns the learned inventory capacity, 0 while unknown.
func (r *Registry) CarryLimit() int { return r.carryLimit }

// NoteCarryLimit records that an attempt to pick something up just failed
// for capacity, fixing the limit at the current inventory size.
func (r *Registry) NoteCarryLimit() {
	n := len(r.Inventory())
	if r.carryLimit == 0 || n < r.carryLimit {
		r.carryLimit = n
		r.logger.Info("carry limit learned", zap.Int("limit", n))
	}
}

const itemParserPrompt = `You extract item facts from text adventure output.
Given the command the player sent, the game's response, and the current room id, respond with only a JSON object:
{"updates": [{"item_id": str, "name": str, "change_type": str, "location": str, "properties": {}}]}
change_type is one of: new, taken, dropped, state_change, moved, gone.
item_id is the item name lowercased with underscores. location is a room id, "inventory", or "unknown".
Report only items the response actually mentions. An empty updates list is valid.`

// UpdateFromGameOutput parses one turn's output for item changes and applies
// them. A structured-output failure is not fatal: the turn proceeds with no
// item changes.
func (r *Registry) UpdateFromGameOutput(ctx context.Context, command, output, currentRoomID string, turn int) ([]ItemUpdate, error) {
	r.lastMetric = nil

	var batch itemUpdateBatch
	resp, err := r.parser.CompleteJSON(ctx, llm.Request{
		SystemPrompt: itemParserPrompt,
		Messages: []llm.Message{{
			Role: "user",
			Content: fmt.Sprintf("Command: %s\nCurrent room: %s\n\nGame output:\n%s",
				command, currentRoomID, output),
		}},
	}, &batch)
	if resp != nil {
		r.lastMetric = &llm.Metric{
			AgentName:    llm.AgentItemParser,
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
			r.logger.Warn("item parser gave up, skipping item update", zap.Int("turn", turn))
		} else {
			r.logger.Warn("item parse failed, skipping item update",
				zap.Int("turn", turn), zap.Error(err))
		}
		return nil, nil
	}

	for _, u := range batch.Updates {
		r.applyUpdate(u, currentRoomID, turn)
	}
	return batch.Updates, nil
}

func (r *Registry) applyUpdate(u ItemUpdate, currentRoomID string, turn int) {
	it, exists := r.items[u.ItemID]
	if !exists {
		it = &Item{
			ItemID:        u.ItemID,
			Name:          u.Name,
			Location:      LocUnknown,
			Properties:    make(map[string]any),
			FirstSeenTurn: turn,
		}
		r.items[u.ItemID] = it
	}
	if u.Name != "" {
		it.Name = u.Name
	}
	it.LastSeenTurn = turn

	switch u.ChangeType {
	case ChangeNew:
		loc := u.Location
		if loc == "" {
			loc = currentRoomID
		}
		// A known item re-reported as new stays where we already know it is,
		// unless we had lost track of it.
		if !exists || it.Location == LocUnknown {
			it.Location = loc
		}
	case ChangeTaken:
		it.Location = LocInventory
		it.Portable = TristateTrue
	case ChangeDropped:
		loc := u.Location
		if loc == "" || loc == LocInventory {
			loc = currentRoomID
		}
		it.Location = loc
		it.Portable = TristateTrue
	case ChangeMoved:
		if u.Location != "" {
			it.Location = u.Location
		}
	case ChangeGone:
		it.Location = LocUnknown
	case ChangeStateChange:
		// Location unchanged; properties below carry the change.
	}

	for k, v := range u.Properties {
		it.Properties[k] = v
	}
	r.dirty[u.ItemID] = true
}

// NoteUntakeable records that an item refused to be picked up, settling its
// portability to false.
func (r *Registry) NoteUntakeable(itemID string, turn int) {
	if it, ok := r.items[itemID]; ok {
		it.Portable = TristateFalse
		it.LastSeenTurn = turn
		r.dirty[itemID] = true
	}
}

// Inventory returns items currently carried, sorted by id.
func (r *Registry) Inventory() []*Item {
	return r.where(func(it *Item) bool { return it.Location == LocInventory })
}

// InventoryIDs returns carried item ids for turn snapshots.
func (r *Registry) InventoryIDs() []string {
	inv := r.Inventory()
	ids := make([]string, len(inv))
	for i, it := range inv {
		ids[i] = it.ItemID
	}
	return ids
}

// ItemsInRoom returns items last seen in roomID, sorted by id.
func (r *Registry) ItemsInRoom(roomID string) []*Item {
	return r.where(func(it *Item) bool { return it.Location == roomID })
}

// AllItems returns every known item, sorted by id.
func (r *Registry) AllItems() []*Item {
	return r.where(func(*Item) bool { return true })
}

// FindByProperty returns items whose properties carry the given key/value.
func (r *Registry) FindByProperty(key string, value any) []*Item {
	return r.where(func(it *Item) bool { return it.Properties[key] == value })
}

func (r *Registry) where(keep func(*Item) bool) []*Item {
	var out []*Item
	for _, it := range r.items {
		if keep(it) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ItemID < out[k].ItemID })
	return out
}

// DroppableItems returns carried items with confirmed portability, safe to
// leave behind as maze markers, least valuable first: items related to open
// puzzles sort last so they are only sacrificed when nothing else is left.
func (r *Registry) DroppableItems(puzzleItemIDs map[string]bool) []*Item {
	items := r.where(func(it *Item) bool {
		return it.Location == LocInventory && it.Portable == TristateTrue
	})
	sort.SliceStable(items, func(i, k int) bool {
		pi, pk := puzzleItemIDs[items[i].ItemID], puzzleItemIDs[items[k].ItemID]
		if pi != pk {
			return !pi
		}
		return items[i].ItemID < items[k].ItemID
	})
	return items
}

// Flush drains items changed since the last call, sorted by id.
func (r *Registry) Flush() []*Item {
	ids := make([]string, 0, len(r.dirty))
	for id := range r.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := r.items[id]; ok {
			out = append(out, it)
		}
	}
	r.dirty = make(map[string]bool)
	return out
}

// Load replaces registry contents with journaled state, for crash resume.
func (r *Registry) Load(items []*Item) {
	r.items = make(map[string]*Item, len(items))
	for _, it := range items {
		if it.Properties == nil {
			it.Properties = make(map[string]any)
		}
		r.items[it.ItemID] = it
	}
	r.dirty = make(map[string]bool)
}
