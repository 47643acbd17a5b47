package neovim

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brandon-fryslie/ptytest/keys"
)

// Modes as reported by Mode. Mode returns the full nvim_get_mode() string,
// so operator-pending and other sub-modes carry extra letters.
const (
	ModeNormal      = "n"
	ModeInsert      = "i"
	ModeVisual      = "v"
	ModeVisualLine  = "V"
	ModeVisualBlock = "\x16"
	ModeReplace     = "R"
	ModeSelect      = "s"
	ModeCommand     = "c"
	ModeTerminal    = "t"
)

// BufferLines returns lines start through end of the current buffer,
// 1-based and inclusive. An end of -1 means the last line.
func (s *Session) BufferLines(start, end int) ([]string, error) {
	if start < 1 {
		return nil, fmt.Errorf("neovim: start line %d, want 1 or more", start)
	}
	return LuaValue[[]string](s, `local first, last = ...
return vim.api.nvim_buf_get_lines(0, first - 1, last, false)`, start, end)
}

// BufferContent returns the current buffer's lines joined with newlines.
func (s *Session) BufferContent() (string, error) {
	lines, err := s.BufferLines(1, -1)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// SetBufferContent replaces the current buffer with content, split on
// newlines, and moves the cursor to the first line.
func (s *Session) SetBufferContent(content string) error {
	_, err := s.Lua(`vim.api.nvim_buf_set_lines(0, 0, -1, false, vim.split(..., '\n', { plain = true }))
vim.api.nvim_win_set_cursor(0, { 1, 0 })`, content)
	return err
}

// AppendLine inserts line after line number after; 0 inserts at the top and
// -1 appends at the end.
func (s *Session) AppendLine(line string, after int) error {
	_, err := s.Lua(`local line, after = ...
vim.api.nvim_buf_set_lines(0, after, after, false, { line })`, line, after)
	return err
}

// CurrentLine returns the line under the cursor.
func (s *Session) CurrentLine() (string, error) {
	return LuaValue[string](s, "return vim.api.nvim_get_current_line()")
}

// BufferCursor returns the cursor's 1-based line and 1-based byte column in
// the current window. Use Cursor for the position on the screen.
func (s *Session) BufferCursor() (line, col int, err error) {
	pos, err := LuaValue[[2]int](s, "local p = vim.api.nvim_win_get_cursor(0)\nreturn { p[1], p[2] + 1 }")
	if err != nil {
		return 0, 0, err
	}
	return pos[0], pos[1], nil
}

// SetCursor moves the cursor to a 1-based line and column.
func (s *Session) SetCursor(line, col int) error {
	_, err := s.Lua("vim.fn.cursor(...)", line, col)
	return err
}

func (s *Session) GotoLine(line int) error { return s.SetCursor(line, 1) }
func (s *Session) GotoTop() error          { return s.Normal("gg") }
func (s *Session) GotoBottom() error       { return s.Normal("G") }

// Mode returns the current mode as nvim_get_mode() reports it.
func (s *Session) Mode() (string, error) {
	return LuaValue[string](s, "return vim.api.nvim_get_mode().mode")
}

// waitMode polls Mode until accept holds.
func (s *Session) waitMode(want string, accept func(mode string) bool) error {
	return s.expect(0, "mode "+want, func() (bool, string, error) {
		mode, err := s.Mode()
		return err == nil && accept(mode), fmt.Sprintf("%q", mode), err
	})
}

// EnsureNormalMode leaves any mode, including terminal and command-line
// mode, and waits until Neovim is in normal mode.
func (s *Session) EnsureNormalMode() error {
	// CTRL-\ CTRL-N goes to normal mode from everywhere. A leading Escape
	// would be read as Meta-CTRL-\.
	if err := s.SendRaw(keys.Ctrl('\\') + keys.Ctrl('n')); err != nil {
		return err
	}
	return s.waitMode(ModeNormal, func(mode string) bool {
		return mode == ModeNormal || mode == "nt"
	})
}

// EnterInsertMode enters insert mode with one of the commands i, a, I, A, o
// or O.
func (s *Session) EnterInsertMode(how string) error {
	switch how {
	case "i", "a", "I", "A", "o", "O":
	default:
		return fmt.Errorf("neovim: unknown insert command %q", how)
	}
	if err := s.EnsureNormalMode(); err != nil {
		return err
	}
	if err := s.SendRaw(how); err != nil {
		return err
	}
	return s.waitMode(ModeInsert, func(mode string) bool { return mode == ModeInsert })
}

// EnterVisualMode enters visual mode: "v" characterwise, "V" linewise, or
// "<C-v>" (or ModeVisualBlock) blockwise.
func (s *Session) EnterVisualMode(kind string) error {
	if kind == "<C-v>" {
		kind = ModeVisualBlock
	}
	switch kind {
	case ModeVisual, ModeVisualLine, ModeVisualBlock:
	default:
		return fmt.Errorf("neovim: unknown visual mode %q", kind)
	}
	if err := s.EnsureNormalMode(); err != nil {
		return err
	}
	if err := s.SendRaw(kind); err != nil {
		return err
	}
	return s.waitMode(kind, func(mode string) bool { return mode == kind })
}

// TypeText types text in insert mode at the cursor and returns to normal
// mode.
func (s *Session) TypeText(text string) error {
	if err := s.EnterInsertMode("i"); err != nil {
		return err
	}
	if err := s.SendKeys(text, true); err != nil {
		return err
	}
	return s.EnsureNormalMode()
}

// SelectAll selects the whole buffer linewise and stays in visual mode.
func (s *Session) SelectAll() error {
	if err := s.EnsureNormalMode(); err != nil {
		return err
	}
	if err := s.SendRaw("ggVG"); err != nil {
		return err
	}
	return s.waitMode(ModeVisualLine, func(mode string) bool { return mode == ModeVisualLine })
}

func (s *Session) DeleteLine() error   { return s.Normal("dd") }
func (s *Session) Undo() error         { return s.Normal("u") }
func (s *Session) IndentLine() error   { return s.Normal(">>") }
func (s *Session) UnindentLine() error { return s.Normal("<<") }

// Redo redoes the last undone change.
func (s *Session) Redo() error {
	_, err := s.Lua("vim.cmd.redo()")
	return err
}

// WindowCount returns the number of non-floating windows in the current tab.
func (s *Session) WindowCount() (int, error) {
	return LuaValue[int](s, `local n = 0
for _, w in ipairs(vim.api.nvim_tabpage_list_wins(0)) do
  if vim.api.nvim_win_get_config(w).relative == '' then
    n = n + 1
  end
end
return n`)
}

// Split splits the current window, side by side when vertical is set.
func (s *Session) Split(vertical bool) error {
	cmd := "split"
	if vertical {
		cmd = "vsplit"
	}
	_, err := s.Ex(cmd)
	return err
}

func (s *Session) CloseWindow() error {
	_, err := s.Ex("close")
	return err
}

func (s *Session) NextWindow() error {
	_, err := s.Ex("wincmd w")
	return err
}

// TabCount returns the number of tab pages.
func (s *Session) TabCount() (int, error) {
	return LuaValue[int](s, "return #vim.api.nvim_list_tabpages()")
}

func (s *Session) NewTab() error {
	_, err := s.Ex("tabnew")
	return err
}

func (s *Session) NextTab() error {
	_, err := s.Ex("tabnext")
	return err
}

func (s *Session) CloseTab() error {
	_, err := s.Ex("tabclose")
	return err
}

// Edit opens path in the current window.
func (s *Session) Edit(path string) error {
	_, err := s.Lua("vim.cmd.edit(vim.fn.fnameescape(...))", path)
	return err
}

// Write saves the current buffer, to path when it is not empty.
func (s *Session) Write(path string) error {
	_, err := s.Lua(`local path = ...
if path == '' then
  vim.cmd.write()
else
  vim.cmd.write(vim.fn.fnameescape(path))
end`, path)
	return err
}

// CurrentFile returns the full path of the current buffer, or "" when it has
// no name.
func (s *Session) CurrentFile() (string, error) {
	return LuaValue[string](s, "return vim.api.nvim_buf_get_name(0)")
}

// Search moves to the next match of pattern, backwards when backward is set,
// and makes it the last search pattern for SearchNext and SearchPrev. A
// pattern with no match is returned as *LuaError.
func (s *Session) Search(pattern string, backward bool) error {
	_, err := s.Lua(`local pattern, backward = ...
vim.fn.setreg('/', pattern)
vim.fn.histadd('/', pattern)
vim.v.searchforward = backward and 0 or 1
vim.cmd('normal! n')`, pattern, backward)
	return err
}

func (s *Session) SearchNext() error { return s.Normal("n") }
func (s *Session) SearchPrev() error { return s.Normal("N") }

func (s *Session) ClearSearchHighlight() error {
	_, err := s.Ex("nohlsearch")
	return err
}

// Register returns the content of register reg; "" is the unnamed register.
func (s *Session) Register(reg string) (string, error) {
	if reg == "" {
		reg = `"`
	}
	return LuaValue[string](s, "return vim.fn.getreg(...)", reg)
}

func (s *Session) SetRegister(reg, content string) error {
	_, err := s.Lua("vim.fn.setreg(...)", reg, content)
	return err
}

func (s *Session) YankLine() error { return s.Normal("yy") }

// Paste puts the unnamed register after the cursor, or before it.
func (s *Session) Paste(before bool) error {
	if before {
		return s.Normal("P")
	}
	return s.Normal("p")
}

// WaitForPlugin waits until require(module) succeeds. A non-positive timeout
// means the session timeout.
func (s *Session) WaitForPlugin(module string, timeout time.Duration) error {
	return s.expect(timeout, "plugin "+module+" to load", func() (bool, string, error) {
		msg, err := LuaValue[string](s, `local ok, err = pcall(require, ...)
if ok then
  return ''
end
return tostring(err)`, module)
		return err == nil && msg == "", msg, err
	})
}

// CallPlugin calls require(module)[fn] with args and returns its first
// result as JSON.
func (s *Session) CallPlugin(module, fn string, args ...any) (json.RawMessage, error) {
	return s.Lua(`local module, fn = ...
return require(module)[fn](select(3, ...))`, append([]any{module, fn}, args...)...)
}

// TriggerAutocmd runs the autocommands for event matching pattern; empty
// means "*".
func (s *Session) TriggerAutocmd(event, pattern string) error {
	if pattern == "" {
		pattern = "*"
	}
	_, err := s.Lua(`local event, pattern = ...
vim.api.nvim_exec_autocmds(event, { pattern = pattern })`, event, pattern)
	return err
}
