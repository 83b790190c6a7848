// Package budget measures and bounds prompt text. Budgets are counted in Unicode code
// points so that multi-byte text is not penalized.
package budget

import (
	"strings"
	"unicode/utf8"
)

// Ellipsis marks truncated text
const Ellipsis = "…"

func Len(s string) int {
	return utf8.RuneCountInString(s)
}

// Truncate cuts s to at most max characters, ending with Ellipsis when cut
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if Len(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + Ellipsis
}

// Lines accumulates newline-separated lines without exceeding a character budget
type Lines struct {
	max   int
	used  int
	lines []string
}

func NewLines(max int) *Lines {
	return &Lines{max: max}
}

func (x *Lines) cost(line string) int {
	if len(x.lines) == 0 {
		return Len(line)
	}
	return Len(line) + 1
}

// Add appends line if it fits and reports whether it did
func (x *Lines) Add(line string) bool {
	c := x.cost(line)
	if x.used+c > x.max {
		return false
	}
	x.lines = append(x.lines, line)
	x.used += c
	return true
}

// AddTruncated appends as much of line as fits. It gives up when fewer than min
// characters of room are left.
func (x *Lines) AddTruncated(line string, min int) bool {
	if x.Add(line) {
		return true
	}
	room := x.Remaining()
	if len(x.lines) > 0 {
		room--
	}
	if room < min || room <= 0 {
		return false
	}
	return x.Add(Truncate(line, room))
}

// Remaining returns the characters left in the budget
func (x *Lines) Remaining() int {
	return x.max - x.used
}

func (x *Lines) Count() int {
	return len(x.lines)
}

func (x *Lines) String() string {
	return strings.Join(x.lines, "\n")
}

// Lines returns a copy of the accepted lines in insertion order
func (x *Lines) Lines() []string {
	return append([]string(nil), x.lines...)
}
