// Package screen keeps the screen of a program in memory. It feeds the raw
// bytes a program writes to its terminal into a charmbracelet/x/vt emulator
// and renders the result the way ptytest compares screens: one string per
// row, right-trimmed of spaces.
//
// A Screen is not safe for concurrent use, except for TakeReplies and
// RepliesReady. Owners serialize everything else, typically with the lock of
// the session that feeds it.
package screen

import (
	"io"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/ansi/parser"
	"github.com/charmbracelet/x/vt"
)

const (
	// DefaultScrollback is the number of lines kept after scrolling off the top.
	DefaultScrollback = 1000

	// maxHeld bounds the text carried over to the next Write.
	maxHeld = 64
)

// Screen is a virtual terminal screen. The zero value is not usable; use New.
type Screen struct {
	cols, rows int
	emu        *vt.Emulator

	// track follows the parser state of everything handed to emu. held is
	// the printed text that ended the previous chunk: emu ends a grapheme
	// cluster at the end of every write, so a combining mark arriving in the
	// next read would otherwise land in a cell of its own.
	track *ansi.Parser
	held  []byte

	scrollback   int
	title        string
	cursorHidden bool

	replyMu sync.Mutex
	replies []byte
	ready   chan struct{}
}

// New returns a blank screen of the given size. Sizes below 1 are raised to 1.
func New(cols, rows int) *Screen {
	cols, rows = max(cols, 1), max(rows, 1)
	s := &Screen{
		cols:       cols,
		rows:       rows,
		emu:        vt.NewEmulator(cols, rows),
		track:      ansi.NewParser(),
		scrollback: DefaultScrollback,
		ready:      make(chan struct{}, 1),
	}
	s.emu.SetScrollbackSize(DefaultScrollback)
	s.emu.SetCallbacks(vt.Callbacks{
		Title:            func(title string) { s.title = title },
		CursorVisibility: func(visible bool) { s.cursorHidden = !visible },
	})
	go s.drainReplies()
	return s
}

// drainReplies collects what the emulator answers to status queries. The
// emulator writes replies to a synchronous pipe, so without a reader a
// program asking for the cursor position would stall Write.
func (s *Screen) drainReplies() {
	buf := make([]byte, 256)
	for {
		n, err := s.emu.Read(buf)
		if n > 0 {
			s.replyMu.Lock()
			s.replies = append(s.replies, buf[:n]...)
			s.replyMu.Unlock()
			select {
			case s.ready <- struct{}{}:
			default:
			}
		}
		if err != nil {
			return
		}
	}
}

// Close stops collecting replies. Rendering keeps working afterwards.
func (s *Screen) Close() error {
	s.flush()
	if c, ok := s.emu.InputPipe().(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SetScrollback sets how many lines History keeps. Zero or less disables
// history.
func (s *Screen) SetScrollback(n int) {
	s.scrollback = max(n, 0)
	if n > 0 {
		s.emu.SetScrollbackSize(n)
	}
}

// Write feeds program output to the screen. Escape sequences, UTF-8 runes
// and grapheme clusters may be split across calls.
func (s *Screen) Write(p []byte) (int, error) {
	data := p
	if len(s.held) > 0 {
		data = append(s.held, p...)
		s.held = nil
	}

	tail := -1
	for i, b := range data {
		before := s.track.State()
		action := s.track.Advance(b)
		switch {
		case before == parser.Utf8State:
		case before == parser.GroundState && (action == parser.PrintAction || s.track.State() == parser.Utf8State):
			if tail < 0 {
				tail = i
			}
		default:
			tail = -1
		}
	}
	if tail >= 0 && len(data)-tail > maxHeld {
		tail = len(data) - maxHeld
		for tail < len(data) && !utf8.RuneStart(data[tail]) {
			tail++
		}
	}
	if tail >= 0 && tail < len(data) {
		s.held = slices.Clone(data[tail:])
		data = data[:tail]
		// The held bytes started in the ground state and are replayed from it.
		s.track.Reset()
	}

	if len(data) > 0 {
		if _, err := s.emu.Write(data); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// WriteString is Write for a string.
func (s *Screen) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// flush hands the held text to the emulator before the screen is read.
func (s *Screen) flush() {
	if len(s.held) == 0 {
		return
	}
	for _, b := range s.held {
		s.track.Advance(b)
	}
	_, _ = s.emu.Write(s.held)
	s.held = nil
}

// TakeReplies returns and clears the bytes the screen wants written back to
// the program, such as cursor position reports.
func (s *Screen) TakeReplies() []byte {
	s.replyMu.Lock()
	defer s.replyMu.Unlock()
	r := s.replies
	s.replies = nil
	return r
}

// RepliesReady receives a value after replies were collected.
func (s *Screen) RepliesReady() <-chan struct{} { return s.ready }

// Size returns the grid dimensions.
func (s *Screen) Size() (cols, rows int) {
	return s.cols, s.rows
}

// Cursor returns the zero-based cursor position.
func (s *Screen) Cursor() (row, col int) {
	s.flush()
	pos := s.emu.CursorPosition()
	return pos.Y, pos.X
}

// CursorVisible reports whether the program has hidden the cursor.
func (s *Screen) CursorVisible() bool { return !s.cursorHidden }

// AltScreen reports whether the alternate screen buffer is active.
func (s *Screen) AltScreen() bool {
	s.flush()
	return s.emu.IsAltScreen()
}

// Title returns the last window title set with OSC 0 or OSC 2.
func (s *Screen) Title() string {
	s.flush()
	return s.title
}

func (s *Screen) row(y int) uv.Line {
	line := make(uv.Line, s.cols)
	for x := range line {
		if c := s.emu.CellAt(x, y); c != nil {
			line[x] = *c
		} else {
			line[x] = uv.EmptyCell
		}
	}
	return line
}

func plain(line uv.Line) string {
	return strings.TrimRight(line.String(), " ")
}

// Line renders one row as text, right-trimmed of spaces.
func (s *Screen) Line(row int) string {
	if row < 0 || row >= s.rows {
		return ""
	}
	s.flush()
	return plain(s.row(row))
}

// Lines renders every row. The result always has one entry per row.
func (s *Screen) Lines() []string {
	s.flush()
	lines := make([]string, s.rows)
	for y := range lines {
		lines[y] = plain(s.row(y))
	}
	return lines
}

// StyledLines renders every row with SGR sequences for its colors and
// attributes. Rows that end styled end with a reset.
func (s *Screen) StyledLines() []string {
	s.flush()
	lines := make([]string, s.rows)
	for y := range lines {
		lines[y] = s.row(y).Render()
	}
	return lines
}

// Content renders the screen as newline separated rows. Each row is
// right-trimmed of spaces and trailing blank rows are dropped.
func (s *Screen) Content() string {
	return joinContent(s.Lines())
}

// History returns the lines that scrolled off the top of the primary screen,
// oldest first, at most the configured scrollback.
func (s *Screen) History() []string {
	if s.scrollback == 0 {
		return nil
	}
	s.flush()
	sb := s.emu.Scrollback()
	if sb == nil {
		return nil
	}
	lines := sb.Lines()
	if len(lines) > s.scrollback {
		lines = lines[len(lines)-s.scrollback:]
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = plain(line)
	}
	return out
}

// Snapshot copies the rendered rows, their styled rendering and the cursor
// position, all taken from the same state.
func (s *Screen) Snapshot() Snapshot {
	row, col := s.Cursor()
	return Snapshot{
		Lines:     s.Lines(),
		Styled:    s.StyledLines(),
		CursorRow: row,
		CursorCol: col,
	}
}
