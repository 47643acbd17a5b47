package neovim

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon-fryslie/ptytest/pty"
)

func newNvim(t *testing.T, cfg Config) *Session {
	t.Helper()
	if _, err := exec.LookPath("nvim"); err != nil {
		t.Skip("nvim not installed")
	}
	if cfg.PTY.Cols == 0 {
		cfg.PTY = pty.Config{Cols: 80, Rows: 24, Timeout: 10 * time.Second}
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Cleanup() })
	return s
}

func TestLuaRoundTrip(t *testing.T) {
	s := newNvim(t, Config{})

	sum, err := LuaValue[int](s, "return 1 + 2")
	require.NoError(t, err)
	assert.Equal(t, 3, sum)

	joined, err := LuaValue[string](s, "local a, b = ...\nreturn a .. b", "x]]", "y\n")
	require.NoError(t, err)
	assert.Equal(t, "x]]y\n", joined)

	raw, err := s.Lua("vim.g.unused = 1")
	require.NoError(t, err)
	assert.Nil(t, raw)

	n, err := Eval[int](s, "g:unused + 1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLuaErrorsAreReported(t *testing.T) {
	s := newNvim(t, Config{})

	_, err := s.Lua("error('boom')")
	var luaErr *LuaError
	require.ErrorAs(t, err, &luaErr)
	assert.Contains(t, luaErr.Message, "boom")

	_, err = s.Lua("this is not lua")
	require.ErrorAs(t, err, &luaErr)

	// The dispatcher keeps serving after failures.
	ok, err := LuaValue[bool](s, "return true")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExReturnsOutput(t *testing.T) {
	s := newNvim(t, Config{})

	out, err := s.Ex("echo 'hello from ex'")
	require.NoError(t, err)
	assert.Equal(t, "hello from ex", out)

	_, err = s.Ex("NoSuchCommand")
	var luaErr *LuaError
	assert.ErrorAs(t, err, &luaErr)
}

func TestBufferEditing(t *testing.T) {
	s := newNvim(t, Config{})

	require.NoError(t, s.SetBufferContent("one\ntwo\nthree"))
	lines, err := s.BufferLines(1, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)

	require.NoError(t, s.AppendLine("four", -1))
	require.NoError(t, s.AppendLine("zero", 0))
	content, err := s.BufferContent()
	require.NoError(t, err)
	assert.Equal(t, "zero\none\ntwo\nthree\nfour", content)

	lines, err = s.BufferLines(2, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)

	lines, err = s.BufferLines(10, -1)
	require.NoError(t, err)
	assert.Empty(t, lines)

	require.NoError(t, s.GotoLine(3))
	line, err := s.CurrentLine()
	require.NoError(t, err)
	assert.Equal(t, "two", line)

	require.NoError(t, s.DeleteLine())
	require.NoError(t, s.ExpectBufferNotContains("two"))
	require.NoError(t, s.Undo())
	require.NoError(t, s.ExpectBufferContains("two", 0))

	// The buffer is drawn on the screen too.
	require.NoError(t, s.WaitForText("three", 0))
}

func TestCursor(t *testing.T) {
	s := newNvim(t, Config{})
	require.NoError(t, s.SetBufferContent("alpha\nbeta\ngamma"))

	require.NoError(t, s.SetCursor(2, 3))
	line, col, err := s.BufferCursor()
	require.NoError(t, err)
	assert.Equal(t, 2, line)
	assert.Equal(t, 3, col)

	require.NoError(t, s.GotoBottom())
	require.NoError(t, s.ExpectCursorAt(3, 0, 0))
	require.NoError(t, s.GotoTop())
	require.NoError(t, s.ExpectCursorAt(1, 1, 0))
}

func TestModes(t *testing.T) {
	s := newNvim(t, Config{})

	require.NoError(t, s.EnterInsertMode("A"))
	mode, err := s.Mode()
	require.NoError(t, err)
	assert.Equal(t, ModeInsert, mode, "queries do not leave insert mode")

	require.NoError(t, s.EnsureNormalMode())
	require.NoError(t, s.ExpectMode(ModeNormal, 0))

	require.NoError(t, s.EnterVisualMode("<C-v>"))
	require.NoError(t, s.ExpectMode(ModeVisualBlock, 0))
	require.NoError(t, s.EnsureNormalMode())

	require.NoError(t, s.TypeText("typed text"))
	require.NoError(t, s.ExpectBufferContains("typed text", 0))
	require.NoError(t, s.ExpectMode(ModeNormal, 0))

	require.NoError(t, s.SelectAll())
	require.NoError(t, s.ExpectMode(ModeVisualLine, 0))
}

func TestFeedkeysAppliesMappings(t *testing.T) {
	s := newNvim(t, Config{InitLua: `vim.keymap.set('n', '<leader>x', function() vim.g.mapped = 'yes' end)`})

	require.NoError(t, s.Feedkeys("<leader>x", ""))
	got, err := LuaValue[string](s, "return vim.g.mapped or ''")
	require.NoError(t, err)
	assert.Equal(t, "yes", got)
}

func TestWindowsAndTabs(t *testing.T) {
	s := newNvim(t, Config{})

	require.NoError(t, s.Split(false))
	require.NoError(t, s.Split(true))
	n, err := s.WindowCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, s.NextWindow())
	require.NoError(t, s.CloseWindow())
	n, err = s.WindowCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.NewTab())
	tabs, err := s.TabCount()
	require.NoError(t, err)
	assert.Equal(t, 2, tabs)
	require.NoError(t, s.NextTab())
	require.NoError(t, s.CloseTab())
	tabs, err = s.TabCount()
	require.NoError(t, err)
	assert.Equal(t, 1, tabs)
}

func TestRegistersAndSearch(t *testing.T) {
	s := newNvim(t, Config{})
	require.NoError(t, s.SetBufferContent("apple\nbanana\napple pie"))

	require.NoError(t, s.SetRegister("a", "from register"))
	got, err := s.Register("a")
	require.NoError(t, err)
	assert.Equal(t, "from register", got)

	require.NoError(t, s.YankLine())
	got, err = s.Register("")
	require.NoError(t, err)
	assert.Equal(t, "apple\n", got)
	require.NoError(t, s.Paste(false))
	require.NoError(t, s.ExpectBufferContains("apple\napple\nbanana", 0))

	require.NoError(t, s.Search("banana", false))
	require.NoError(t, s.ExpectCursorAt(3, 1, 0))
	require.NoError(t, s.Search("apple", true))
	require.NoError(t, s.ExpectCursorAt(2, 1, 0))
	require.NoError(t, s.SearchPrev())
	require.NoError(t, s.ExpectCursorAt(4, 0, 0))
	require.NoError(t, s.ClearSearchHighlight())

	var luaErr *LuaError
	assert.ErrorAs(t, s.Search("cherry", false), &luaErr)
}

func TestPluginsAndInit(t *testing.T) {
	plugin := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(plugin, "lua", "greeter"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(plugin, "plugin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(plugin, "lua", "greeter", "init.lua"),
		[]byte("return { greet = function(name) return 'hi ' .. name end }\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(plugin, "plugin", "greeter.lua"),
		[]byte("vim.g.greeter_loaded = 1\nvim.api.nvim_create_autocmd('User', { pattern = 'Greet', callback = function() vim.g.greeted = true end })\n"), 0o644))

	s := newNvim(t, Config{
		Plugins: []string{plugin, filepath.Join(plugin, "missing")},
		InitLua: "vim.g.from_lua = 'lua'",
		InitVim: "let g:from_vim = 'vim'",
	})

	require.NoError(t, s.WaitForPlugin("greeter", 0))
	raw, err := s.CallPlugin("greeter", "greet", "bob")
	require.NoError(t, err)
	var greeting string
	require.NoError(t, json.Unmarshal(raw, &greeting))
	assert.Equal(t, "hi bob", greeting)

	loaded, err := Eval[int](s, "g:greeter_loaded")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	require.NoError(t, s.TriggerAutocmd("User", "Greet"))
	greeted, err := LuaValue[bool](s, "return vim.g.greeted == true")
	require.NoError(t, err)
	assert.True(t, greeted)

	fromInit, err := LuaValue[[]string](s, "return { vim.g.from_lua, vim.g.from_vim }")
	require.NoError(t, err)
	assert.Equal(t, []string{"lua", "vim"}, fromInit)

	assert.Error(t, s.WaitForPlugin("absent", 300*time.Millisecond))
}

func TestEditAndWriteFile(t *testing.T) {
	s := newNvim(t, Config{})
	path := filepath.Join(t.TempDir(), "my notes.txt")

	require.NoError(t, s.Edit(path))
	require.NoError(t, s.SetBufferContent("first\nsecond"))
	require.NoError(t, s.Write(""))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))

	name, err := s.CurrentFile()
	require.NoError(t, err)
	assert.Equal(t, path, name)

	copyPath := filepath.Join(t.TempDir(), "copy.txt")
	require.NoError(t, s.Write(copyPath))
	assert.FileExists(t, copyPath)
}

func TestCleanupQuitsAndRemovesDir(t *testing.T) {
	s := newNvim(t, Config{})
	dir := s.Dir()
	assert.DirExists(t, dir)

	require.NoError(t, s.Cleanup())
	assert.NoDirExists(t, dir)
	assert.False(t, s.Alive())
	assert.Equal(t, 0, s.ExitCode(), "nvim quit on its own")
	assert.NoError(t, s.Cleanup())

	_, err := s.Lua("return 1")
	assert.Error(t, err)
}
