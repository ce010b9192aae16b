package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDeath(t *testing.T) {
	assert.True(t, IsDeath("   ****  You have died  ****"))
	assert.True(t, IsDeath("It appears that that last blow was too much for you. You are dead."))
	assert.True(t, IsDeath("Would you like to RESTART, RESTORE a saved game, or QUIT?"))
	assert.False(t, IsDeath("The troll swings and misses."))
}

func TestIsVictory(t *testing.T) {
	assert.True(t, IsVictory("**** You have won ****"))
	assert.True(t, IsVictory("Your score is 350 (total of 350 points), out of a possible maximum."))
	assert.False(t, IsVictory("You can see a trophy case here."))

	// Death output that mentions score is still a death.
	assert.False(t, IsVictory("**** You have died ****\nYour score is 10 out of a possible maximum of 350."))
}

func TestIsFailure(t *testing.T) {
	assert.True(t, IsFailure("You can't go that way."))
	assert.True(t, IsFailure("I don't know the word \"xyzzy\"."))
	assert.True(t, IsFailure("Nothing happens."))
	assert.False(t, IsFailure("Taken."))
}

func TestIsMovementFailure(t *testing.T) {
	assert.True(t, IsMovementFailure("You can't go that way."))
	assert.True(t, IsMovementFailure("The trap door is closed."))
	assert.False(t, IsMovementFailure("North of House"))
}

func TestIsCarryLimit(t *testing.T) {
	assert.True(t, IsCarryLimit("You're carrying too many things already!"))
	assert.True(t, IsCarryLimit("Your load is too heavy."))
	assert.False(t, IsCarryLimit("Taken."))
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "West of House", firstLine("\n\nWest of House\nYou are standing..."))
	assert.Equal(t, "", firstLine("\n \n"))
}
