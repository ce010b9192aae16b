package orchestrator

import (
	"context"
	"regexp"
	"strings"
)

// Interpreter is the contract with the Z-machine process. Implementations
// wrap a running interpreter; the orchestrator never touches the process
// directly.
type Interpreter interface {
	// Intro starts the game and returns the opening text.
	Intro(ctx context.Context) (string, error)
	// DoCommand sends one command and returns the game's response.
	DoCommand(ctx context.Context, command string) (string, error)
	// Save writes the current game state under a slot name.
	Save(ctx context.Context, slot string) error
	// Restore loads a previously saved slot.
	Restore(ctx context.Context, slot string) error
	// Quit shuts the interpreter down.
	Quit(ctx context.Context) error
}

var deathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\*{2,}\s*you have died\s*\*{2,}`),
	regexp.MustCompile(`(?i)\byou have died\b`),
	regexp.MustCompile(`(?i)\byou are dead\b`),
	regexp.MustCompile(`(?i)\byou're dead\b`),
	regexp.MustCompile(`(?i)would you like to (RESTART|restart), (RESTORE|restore)`),
}

var victoryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\*{2,}\s*you have won\s*\*{2,}`),
	regexp.MustCompile(`(?i)\byou have won\b`),
	regexp.MustCompile(`(?i)\byou win\b`),
	regexp.MustCompile(`(?i)your score is \d+ .*out of a possible maximum`),
}

// IsDeath reports whether the output announces the player's death.
func IsDeath(output string) bool { return anyMatch(deathPatterns, output) }

// IsVictory reports whether the output announces winning the game.
func IsVictory(output string) bool {
	// Death banners sometimes mention score too; death wins ties.
	return !IsDeath(output) && anyMatch(victoryPatterns, output)
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// Phrases interpreters use to reject a command outright.
var failurePhrases = []string{
	"you can't go that way",
	"there is a wall",
	"you can't",
	"i don't understand",
	"i don't know the word",
	"that's not a verb i recognise",
	"that's not a verb i recognize",
	"nothing happens",
	"you see nothing special",
	"it is pitch black",
	"too dark to see",
	"the door is locked",
	"is closed",
}

// IsFailure reports whether the output looks like a rejected or useless
// command rather than a state change.
func IsFailure(output string) bool {
	lower := strings.ToLower(output)
	for _, p := range failurePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var movementFailurePhrases = []string{
	"you can't go that way",
	"there is a wall",
	"the door is locked",
	"is closed",
	"too narrow",
	"you would need",
}

// IsMovementFailure reports whether a movement command bounced off something.
func IsMovementFailure(output string) bool {
	lower := strings.ToLower(output)
	for _, p := range movementFailurePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var carryLimitPhrases = []string{
	"carrying too many",
	"your load is too heavy",
	"your hands are full",
	"you're holding too many",
}

// IsCarryLimit reports whether a take failed for inventory capacity.
func IsCarryLimit(output string) bool {
	lower := strings.ToLower(output)
	for _, p := range carryLimitPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var untakeablePhrases = []string{
	"hardly portable",
	"securely fastened",
	"firmly attached",
	"fixed in place",
	"it is securely anchored",
	"you can't take",
	"you can't be serious",
}

// IsUntakeable reports whether a take was refused because the object is
// fixed scenery, as opposed to a carry-limit or parser failure.
func IsUntakeable(output string) bool {
	lower := strings.ToLower(output)
	for _, p := range untakeablePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var takePrefixes = []string{"take ", "get ", "pick up ", "grab "}

// takeTarget extracts the object of a take-style command, if it is one.
func takeTarget(command string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, prefix := range takePrefixes {
		if strings.HasPrefix(lower, prefix) {
			target := strings.TrimSpace(strings.TrimPrefix(lower, prefix))
			if target != "" && target != "all" {
				return target, true
			}
		}
	}
	return "", false
}

// firstLine returns the first non-empty line of output, for block reasons
// and death summaries.
func firstLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return ""
}
