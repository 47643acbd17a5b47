package screen

import (
	"slices"
	"strings"
)

// Snapshot is an immutable copy of the observable screen state.
type Snapshot struct {
	// Lines has exactly one entry per row, each right-trimmed of spaces.
	Lines []string
	// Styled holds the same rows with SGR sequences. Sources that cannot
	// render styles leave it nil.
	Styled    []string
	CursorRow int
	CursorCol int
}

// Equal reports whether two snapshots describe the same state.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.CursorRow == o.CursorRow &&
		s.CursorCol == o.CursorCol &&
		slices.Equal(s.Lines, o.Lines) &&
		slices.Equal(s.Styled, o.Styled)
}

// Clone returns a copy that shares no slices with s.
func (s Snapshot) Clone() Snapshot {
	s.Lines = slices.Clone(s.Lines)
	s.Styled = slices.Clone(s.Styled)
	return s
}

// Content renders the snapshot the same way Screen.Content does.
func (s Snapshot) Content() string {
	return joinContent(s.Lines)
}

func joinContent(lines []string) string {
	last := len(lines) - 1
	for last >= 0 && lines[last] == "" {
		last--
	}
	if last < 0 {
		return ""
	}
	return strings.Join(lines[:last+1], "\n")
}
