package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeID(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "West of House", "west_of_house"},
		{"leading article", "The Troll Room", "troll_room"},
		{"extra whitespace", "  Maze   of  Twisty Passages ", "maze_of_twisty_passages"},
		{"punctuation", "Grating Room.", "grating_room"},
		{"apostrophe", "Wizard's Workshop", "wizards_workshop"},
		{"same id for variants", "the west of house", "west_of_house"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeID(tc.in))
		})
	}
}

func TestNormalizeDescription(t *testing.T) {
	a := NormalizeDescription("You are in a maze of twisty little passages, all alike.")
	b := NormalizeDescription("  you are in a MAZE of twisty little passages  all alike ")
	assert.Equal(t, a, b)
}

func TestSimilarityRatio(t *testing.T) {
	t.Run("identical", func(t *testing.T) {
		assert.Equal(t, 1.0, SimilarityRatio("abc", "abc"))
	})
	t.Run("disjoint", func(t *testing.T) {
		assert.Equal(t, 0.0, SimilarityRatio("abc", "xyz"))
	})
	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, 0.0, SimilarityRatio("", "abc"))
	})
	t.Run("near identical crosses maze threshold", func(t *testing.T) {
		a := NormalizeDescription("You are in a maze of twisty little passages, all alike.")
		b := NormalizeDescription("You are in a maze of twisty little passages, all alike")
		assert.GreaterOrEqual(t, SimilarityRatio(a, b), 0.95)
	})
	t.Run("different rooms stay under threshold", func(t *testing.T) {
		a := NormalizeDescription("You are standing in an open field west of a white house.")
		b := NormalizeDescription("This is the attic. The only exit is a stairway leading down.")
		assert.Less(t, SimilarityRatio(a, b), 0.95)
	})
}

func TestReverseDirection(t *testing.T) {
	assert.Equal(t, "south", ReverseDirection("north"))
	assert.Equal(t, "northeast", ReverseDirection("southwest"))
	assert.Equal(t, "down", ReverseDirection("up"))
	assert.Equal(t, "exit", ReverseDirection("enter"))
	assert.Equal(t, "", ReverseDirection("enter building"))
}

func TestExtractDirection(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"north", "north"},
		{"N", "north"},
		{"go sw", "southwest"},
		{"go up", "up"},
		{"enter building", "enter building"},
		{"climb tree", "climb tree"},
		{"take lamp", ""},
		{"look", ""},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractDirection(tc.in))
		})
	}
}
