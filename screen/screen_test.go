package screen

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(t *testing.T, s *Screen, chunks ...string) {
	t.Helper()
	for _, c := range chunks {
		n, err := s.WriteString(c)
		require.NoError(t, err)
		require.Equal(t, len(c), n)
	}
}

// newScreen closes the screen when the test ends.
func newScreen(t *testing.T, cols, rows int) *Screen {
	t.Helper()
	s := New(cols, rows)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// takeReplies waits for the reply goroutine to hand over want.
func takeReplies(t *testing.T, s *Screen, want string) {
	t.Helper()
	var got []byte
	require.Eventually(t, func() bool {
		got = append(got, s.TakeReplies()...)
		return len(got) >= len(want)
	}, 2*time.Second, 5*time.Millisecond, "replies so far: %q", got)
	assert.Equal(t, want, string(got))
}

func TestPlainTextAndNewlines(t *testing.T) {
	s := newScreen(t, 20, 5)
	feed(t, s, "hello\r\nworld")

	assert.Equal(t, "hello\nworld", s.Content())
	row, col := s.Cursor()
	assert.Equal(t, 1, row)
	assert.Equal(t, 5, col)

	lines := s.Lines()
	require.Len(t, lines, 5)
	assert.Equal(t, []string{"hello", "world", "", "", ""}, lines)
}

func TestNewSizeClamped(t *testing.T) {
	s := newScreen(t, 0, -3)
	cols, rows := s.Size()
	assert.Equal(t, 1, cols)
	assert.Equal(t, 1, rows)
	assert.Len(t, s.Lines(), 1)
}

// TestChunkSplitEquivalence feeds each input once whole and once split at
// every byte offset, and requires identical screens.
func TestChunkSplitEquivalence(t *testing.T) {
	inputs := []string{
		"\x1b[31mred\x1b[0m plain",
		"\x1b[2J\x1b[3;4Hxy\x1b[1;1Hz",
		"héllo wörld 日本語",
		"\x1b]0;the title\x07after",
		"\x1b]2;st title\x1b\\after",
		"\x1b[?1049hALT\x1b[?1049lmain",
		"\x1b[38;2;10;20;30mrgb\x1b[48;5;200mbg\x1b[m",
		"ab\x1b[2Dc\x1b[K",
		"\x1b(0lqqk\x1b(B",
		"e\u0301 combined",
		"cafe\u0301",
		"\x1bPqignored dcs\x1b\\visible",
	}

	for _, in := range inputs {
		whole := newScreen(t, 30, 6)
		feed(t, whole, in)
		want := whole.Snapshot()

		for i := 1; i < len(in); i++ {
			split := newScreen(t, 30, 6)
			feed(t, split, in[:i], in[i:])
			got := split.Snapshot()
			assert.Truef(t, want.Equal(got), "input %q split at %d: got %q want %q", in, i, got.Lines, want.Lines)
			assert.Equal(t, whole.Title(), split.Title())
		}
	}
}

func TestByteAtATime(t *testing.T) {
	in := "\x1b[1;32mok\x1b[0m \xe2\x9c\x93 done e\u0301\r\n"
	whole := newScreen(t, 20, 3)
	feed(t, whole, in)

	bytewise := newScreen(t, 20, 3)
	for i := 0; i < len(in); i++ {
		feed(t, bytewise, in[i:i+1])
	}
	assert.Equal(t, whole.StyledLines(), bytewise.StyledLines())
	assert.Equal(t, "ok ✓ done e\u0301", bytewise.Content())
}

func TestTrailingRuneVisibleBeforeNextWrite(t *testing.T) {
	s := newScreen(t, 10, 2)
	feed(t, s, "abc")
	assert.Equal(t, "abc", s.Line(0))
	_, col := s.Cursor()
	assert.Equal(t, 3, col)

	feed(t, s, "語")
	assert.Equal(t, "abc語", s.Line(0))
}

func TestAutowrapAndScroll(t *testing.T) {
	s := newScreen(t, 5, 3)
	feed(t, s, "abcdefgh")
	assert.Equal(t, "abcde\nfgh", s.Content())

	s = newScreen(t, 5, 2)
	feed(t, s, "one\r\ntwo\r\nthree")
	assert.Equal(t, []string{"two", "three"}, s.Lines())
	assert.Equal(t, []string{"one"}, s.History())
}

func TestPendingWrapHoldsCursorOnLastColumn(t *testing.T) {
	s := newScreen(t, 4, 2)
	feed(t, s, "abcd")
	row, col := s.Cursor()
	assert.Equal(t, 0, row)
	assert.Equal(t, 3, col)

	feed(t, s, "\r\n")
	row, col = s.Cursor()
	assert.Equal(t, 1, row)
	assert.Equal(t, 0, col)
	assert.Equal(t, "abcd", s.Content())
}

func TestScrollbackLimit(t *testing.T) {
	s := newScreen(t, 10, 2)
	s.SetScrollback(3)
	for i := 0; i < 10; i++ {
		feed(t, s, strings.Repeat(string(rune('a'+i)), 3), "\r\n")
	}
	assert.Equal(t, []string{"ggg", "hhh", "iii"}, s.History())

	s.SetScrollback(0)
	assert.Empty(t, s.History())
}

func TestCursorMovement(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		row     int
		col     int
		content string
	}{
		{name: "absolute", input: "\x1b[3;5H", row: 2, col: 4},
		{name: "default home", input: "xx\x1b[H", row: 0, col: 0, content: "xx"},
		{name: "clamped", input: "\x1b[99;99H", row: 4, col: 9},
		{name: "relative", input: "\x1b[3B\x1b[4C\x1b[1A\x1b[2D", row: 2, col: 2},
		{name: "column", input: "abc\x1b[7G", row: 0, col: 6, content: "abc"},
		{name: "tab", input: "a\tb", row: 0, col: 9, content: "a       b"},
		{name: "backspace", input: "abc\b\bX", row: 0, col: 2, content: "aXc"},
		{name: "save restore", input: "\x1b[2;3H\x1b7\x1b[5;5H\x1b8", row: 1, col: 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newScreen(t, 10, 5)
			feed(t, s, tc.input)
			row, col := s.Cursor()
			assert.Equal(t, tc.row, row, "row")
			assert.Equal(t, tc.col, col, "col")
			assert.Equal(t, tc.content, s.Content())
		})
	}
}

func TestErase(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		content string
	}{
		{name: "line to end", input: "abcdef\x1b[3G\x1b[K", content: "ab"},
		{name: "line to start", input: "abcdef\x1b[3G\x1b[1K", content: "   def"},
		{name: "whole line", input: "abcdef\x1b[2K", content: ""},
		{name: "display below", input: "one\r\ntwo\r\nthree\x1b[2;2H\x1b[J", content: "one\nt"},
		{name: "display all", input: "one\r\ntwo\x1b[2J", content: ""},
		{name: "erase chars", input: "abcdef\x1b[2G\x1b[3X", content: "a   ef"},
		{name: "delete chars", input: "abcdef\x1b[2G\x1b[2P", content: "adef"},
		{name: "insert chars", input: "abcdef\x1b[2G\x1b[2@", content: "a  bcdef"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newScreen(t, 10, 4)
			feed(t, s, tc.input)
			assert.Equal(t, tc.content, s.Content())
		})
	}
}

func TestInsertDeleteLines(t *testing.T) {
	s := newScreen(t, 10, 4)
	feed(t, s, "a\r\nb\r\nc\r\nd")
	feed(t, s, "\x1b[2;1H\x1b[L")
	assert.Equal(t, []string{"a", "", "b", "c"}, s.Lines())

	feed(t, s, "\x1b[M\x1b[M")
	assert.Equal(t, []string{"a", "c", "", ""}, s.Lines())
}

func TestAltScreen(t *testing.T) {
	s := newScreen(t, 10, 3)
	feed(t, s, "main\x1b[?1049h")
	assert.True(t, s.AltScreen())
	assert.Equal(t, "", s.Content())

	feed(t, s, "\x1b[Hfull screen app")
	assert.Equal(t, "full scree\nn app", s.Content())

	feed(t, s, "\x1b[?1049l")
	assert.False(t, s.AltScreen())
	assert.Equal(t, "main", s.Content())
}

func TestAltScreenDoesNotRecordHistory(t *testing.T) {
	s := newScreen(t, 5, 2)
	feed(t, s, "\x1b[?1049ha\r\nb\r\nc\r\nd\x1b[?1049l")
	assert.Empty(t, s.History())
}

func TestStyledLines(t *testing.T) {
	s := newScreen(t, 20, 2)
	feed(t, s, "\x1b[1;31mA\x1b[22;4;42mB\x1b[0mC\x1b[38;2;1;2;3mD\x1b[m")

	assert.Equal(t, "ABCD", s.Line(0))
	styled := s.StyledLines()
	require.Len(t, styled, 2)
	assert.Contains(t, styled[0], "\x1b[")
	assert.Equal(t, "ABCD", ansi.Strip(styled[0]))
	assert.True(t, strings.HasSuffix(styled[0], ansi.ResetStyle))
	assert.Equal(t, "", styled[1])
	assert.NotContains(t, strings.Join(s.Lines(), ""), "\x1b")
}

func TestStyledLinesRoundTrip(t *testing.T) {
	src := newScreen(t, 20, 2)
	feed(t, src, "\x1b[1;31mred\x1b[0m and \x1b[44mblue bg\x1b[0m")
	styled := src.StyledLines()

	// Replaying the styled rendering reproduces the same rendering.
	dst := newScreen(t, 20, 2)
	feed(t, dst, styled[0])
	assert.Equal(t, styled, dst.StyledLines())
	assert.Equal(t, src.Lines(), dst.Lines())
}

func TestWideRunes(t *testing.T) {
	s := newScreen(t, 5, 2)
	feed(t, s, "日本x")
	assert.Equal(t, "日本x", s.Line(0))
	_, col := s.Cursor()
	assert.Equal(t, 4, col)
}

func TestCombiningMarks(t *testing.T) {
	s := newScreen(t, 5, 1)
	feed(t, s, "e\u0301x")
	assert.Equal(t, "e\u0301x", s.Line(0))
	_, col := s.Cursor()
	assert.Equal(t, 2, col)
}

func TestDECLineDrawing(t *testing.T) {
	s := newScreen(t, 10, 1)
	feed(t, s, "\x1b(0lqk\x1b(Bq")
	assert.Equal(t, "┌─┐q", s.Line(0))
}

func TestOSCTitleAndUnknownSequences(t *testing.T) {
	s := newScreen(t, 20, 2)
	feed(t, s, "\x1b]0;first\x07\x1b]2;second\x1b\\")
	assert.Equal(t, "second", s.Title())

	feed(t, s, "\x1b]52;c;Zm9v\x07\x1b_apc\x1b\\ok")
	assert.Equal(t, "ok", s.Content())
}

func TestCursorVisibility(t *testing.T) {
	s := newScreen(t, 10, 3)
	assert.True(t, s.CursorVisible())
	feed(t, s, "\x1b[?25l")
	assert.False(t, s.CursorVisible())
	feed(t, s, "\x1b[?25h")
	assert.True(t, s.CursorVisible())
}

func TestReplies(t *testing.T) {
	s := newScreen(t, 10, 5)
	feed(t, s, "\x1b[3;4H\x1b[6n")
	select {
	case <-s.RepliesReady():
	case <-time.After(2 * time.Second):
		t.Fatal("no reply signalled")
	}
	takeReplies(t, s, "\x1b[3;4R")
	assert.Nil(t, s.TakeReplies())
	assert.Equal(t, "", s.Content())
}

func TestUnreadRepliesDoNotStallWrites(t *testing.T) {
	s := newScreen(t, 10, 5)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_, _ = s.WriteString("\x1b[6n")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write blocked on an unread reply")
	}
	takeReplies(t, s, strings.Repeat("\x1b[1;1R", 100))
}

func TestCloseKeepsRendering(t *testing.T) {
	s := New(10, 2)
	feed(t, s, "kept")
	require.NoError(t, s.Close())
	assert.Equal(t, "kept", s.Content())
}

func TestSnapshot(t *testing.T) {
	s := newScreen(t, 10, 3)
	feed(t, s, "a  \r\n\x1b[1mb\x1b[m")
	snap := s.Snapshot()
	assert.Equal(t, []string{"a", "b", ""}, snap.Lines)
	require.Len(t, snap.Styled, 3)
	assert.Equal(t, "b", ansi.Strip(snap.Styled[1]))
	assert.Equal(t, 1, snap.CursorRow)
	assert.Equal(t, 1, snap.CursorCol)
	assert.Equal(t, "a\nb", snap.Content())

	other := s.Snapshot()
	assert.True(t, snap.Equal(other))
	other.CursorCol++
	assert.False(t, snap.Equal(other))

	restyled := snap.Clone()
	restyled.Styled[1] = "b"
	assert.False(t, snap.Equal(restyled))
	assert.NotEqual(t, "b", snap.Styled[1])

	// Snapshots are copies.
	feed(t, s, "zzz")
	assert.Equal(t, "b", snap.Lines[1])
}

func TestCursorAlwaysInBounds(t *testing.T) {
	inputs := []string{
		"\x1b[999A\x1b[999D",
		"\x1b[999B\x1b[999C",
		"\x1b[0;0H\x1b[65535;65535H",
		strings.Repeat("x", 200),
		strings.Repeat("語", 50),
	}
	for _, in := range inputs {
		s := newScreen(t, 7, 4)
		feed(t, s, in)
		row, col := s.Cursor()
		assert.GreaterOrEqual(t, row, 0)
		assert.Less(t, row, 4)
		assert.GreaterOrEqual(t, col, 0)
		assert.Less(t, col, 7)
		assert.Len(t, s.Lines(), 4)
	}
}
