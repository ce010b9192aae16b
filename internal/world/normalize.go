package world

import (
	"regexp"
	"strings"
)

var (
	articleRe  = regexp.MustCompile(`^(the|a|an)\s+`)
	nonAlnumRe = regexp.MustCompile(`[^a-z0-9_]`)
	underRe    = regexp.MustCompile(`_+`)
	punctRe    = regexp.MustCompile(`[^\w\s]`)
)

// NormalizeID turns a display name into a stable identifier: lowercase,
// leading article stripped, spaces to underscores, punctuation removed.
// "The West of House" and "west of house" normalize to the same id.
func NormalizeID(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = articleRe.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, " ", "_")
	s = nonAlnumRe.ReplaceAllString(s, "")
	s = underRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// NormalizeDescription prepares prose for similarity comparison: lowercase,
// whitespace collapsed, punctuation stripped.
func NormalizeDescription(desc string) string {
	s := strings.ToLower(desc)
	s = punctRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// SimilarityRatio computes the classic difflib ratio between two strings:
// 2*M / (len(a)+len(b)) where M is the total length of matching blocks
// found by longest-common-subsequence. Inputs should already be normalized.
func SimilarityRatio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	// LCS over bytes via the standard two-row DP.
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	lcs := prev[len(b)]
	return 2.0 * float64(lcs) / float64(len(a)+len(b))
}

var reverseDirections = map[string]string{
	"north":     "south",
	"south":     "north",
	"east":      "west",
	"west":      "east",
	"northeast": "southwest",
	"northwest": "southeast",
	"southeast": "northwest",
	"southwest": "northeast",
	"up":        "down",
	"down":      "up",
	"in":        "out",
	"out":       "in",
	"enter":     "exit",
	"exit":      "enter",
}

// ReverseDirection returns the compass opposite of a direction token, or ""
// when the direction has no well-defined opposite (e.g. "enter building").
func ReverseDirection(direction string) string {
	return reverseDirections[strings.ToLower(direction)]
}

var directionAbbrevs = map[string]string{
	"n": "north", "s": "south", "e": "east", "w": "west",
	"ne": "northeast", "nw": "northwest", "se": "southeast", "sw": "southwest",
	"u": "up", "d": "down",
}

// ExtractDirection pulls the movement direction out of a command, expanding
// abbreviations and stripping a leading "go". Returns "" for non-movement
// commands.
func ExtractDirection(command string) string {
	cmd := strings.ToLower(strings.TrimSpace(command))
	cmd = strings.TrimPrefix(cmd, "go ")
	cmd = strings.TrimSpace(cmd)

	if full, ok := directionAbbrevs[cmd]; ok {
		return full
	}
	if _, ok := reverseDirections[cmd]; ok {
		return cmd
	}

	// Multi-word commands like "enter building" count as directions only
	// when they start with a known movement verb.
	for _, verb := range []string{"enter ", "exit ", "climb "} {
		if strings.HasPrefix(cmd, verb) {
			return cmd
		}
	}
	return ""
}
