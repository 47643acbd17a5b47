package neovim

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brandon-fryslie/ptytest/keys"
	"github.com/brandon-fryslie/ptytest/pty"
)

// controlKey triggers the request dispatcher installed by the generated
// init.lua. It is mapped with <Cmd> in every mode, so requests never change
// the editor's mode.
var controlKey = keys.F(12)

// Config describes how to start Neovim. Zero values take defaults.
type Config struct {
	// Binary is the nvim executable, looked up on PATH. Defaults to "nvim".
	Binary string

	// Plugins are directories prepended to 'runtimepath'. Neovim sources
	// their plugin/ scripts during startup. A leading ~ is expanded;
	// directories that do not exist are skipped with a warning.
	Plugins []string
	// InitLua runs after the built-in test settings.
	InitLua string
	// InitVim is Vimscript run after InitLua.
	InitVim string
	// Args are appended to the nvim command line.
	Args []string
	// NoClean keeps the user's runtime directories instead of passing --clean.
	NoClean bool

	// PTY configures the terminal. XDG directories pointing into the session's
	// private directory are prepended to PTY.Env.
	PTY pty.Config
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = "nvim"
	}
	if c.PTY.Name == "" {
		c.PTY.Name = "nvim"
	}
	return c
}

func (c Config) argv(bin, initPath string) []string {
	argv := []string{bin}
	if !c.NoClean {
		argv = append(argv, "--clean")
	}
	argv = append(argv, "-n", "-i", "NONE", "-u", initPath)
	return append(argv, c.Args...)
}

// environ isolates the editor's state, data and cache from the user's.
func (c Config) environ(dir string) []string {
	env := make([]string, 0, 4+len(c.PTY.Env))
	for _, kv := range [][2]string{
		{"XDG_CONFIG_HOME", "config"},
		{"XDG_DATA_HOME", "data"},
		{"XDG_STATE_HOME", "state"},
		{"XDG_CACHE_HOME", "cache"},
	} {
		env = append(env, kv[0]+"="+filepath.Join(dir, kv[1]))
	}
	return append(env, c.PTY.Env...)
}

// pluginPaths resolves Plugins, returning the directories that exist and the
// ones that do not.
func (c Config) pluginPaths() (found, missing []string) {
	home, _ := os.UserHomeDir()
	for _, p := range c.Plugins {
		if p == "~" || strings.HasPrefix(p, "~/") {
			p = filepath.Join(home, p[1:])
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			missing = append(missing, p)
			continue
		}
		if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
			missing = append(missing, abs)
			continue
		}
		found = append(found, abs)
	}
	return found, missing
}

// initScript renders init.lua. The dispatcher and the ready marker come
// first so an error in the user's code cannot keep them from loading.
func initScript(reqDir string, plugins []string, initLua, initVim string) string {
	var b strings.Builder
	b.WriteString("-- generated by ptytest\n")
	fmt.Fprintf(&b, "local reqdir = %s\n", luaString(reqDir))
	b.WriteString(dispatcher)
	b.WriteString(`vim.keymap.set({ 'n', 'i', 'v', 'x', 's', 'o', 'c', 't' }, '<F12>', '<Cmd>lua _G.__ptytest_dispatch()<CR>')
vim.api.nvim_create_autocmd('VimEnter', {
  once = true,
  callback = function()
    vim.fn.writefile({}, reqdir .. '/ready')
  end,
})

vim.opt.swapfile = false
vim.opt.backup = false
vim.opt.writebackup = false
vim.opt.undofile = false
vim.opt.shadafile = 'NONE'
vim.opt.updatetime = 100
vim.opt.timeoutlen = 300
vim.opt.ttimeoutlen = 10
vim.opt.lazyredraw = false
vim.opt.termguicolors = false
vim.opt.shortmess:append('I')
`)
	for _, p := range plugins {
		fmt.Fprintf(&b, "vim.opt.runtimepath:prepend(%s)\n", luaString(p))
	}
	if initLua != "" {
		b.WriteString("\n")
		b.WriteString(initLua)
		b.WriteString("\n")
	}
	if initVim != "" {
		fmt.Fprintf(&b, "\nvim.cmd(%s)\n", luaString(initVim))
	}
	return b.String()
}

// dispatcher runs request files <n>.lua in sequence, exactly once each, and
// answers each with <n>.json. A request file returns its decoded arguments and
// the function to call with them.
const dispatcher = `
local served = 0
_G.__ptytest_dispatch = function()
  while true do
    local n = served + 1
    local req = reqdir .. '/' .. n .. '.lua'
    if vim.fn.filereadable(req) == 0 then
      return
    end
    served = n
    local ok, res
    local loaded, args, fn = pcall(dofile, req)
    if loaded then
      ok, res = pcall(fn, unpack(args, 1, args.n or #args))
    else
      ok, res = false, args
    end
    os.remove(req)
    local body = { ok = ok }
    if ok then
      body.value = res
    else
      body.error = tostring(res)
    end
    local encoded, out = pcall(vim.json.encode, body)
    if not encoded then
      out = vim.json.encode({ ok = false, error = 'cannot encode result: ' .. tostring(out) })
    end
    local resp = reqdir .. '/' .. n .. '.json'
    vim.fn.writefile({ out }, resp .. '.tmp')
    os.rename(resp .. '.tmp', resp)
  end
end
`

// luaString quotes s as a Lua long string, choosing a level whose closing
// bracket does not occur in s.
func luaString(s string) string {
	eq := ""
	for strings.Contains(s, "]"+eq+"]") || strings.HasSuffix(s, "]"+eq) {
		eq += "="
	}
	// A newline directly after the opening bracket is dropped by Lua.
	if strings.HasPrefix(s, "\n") || strings.HasPrefix(s, "\r") {
		s = "\n" + s
	}
	return "[" + eq + "[" + s + "]" + eq + "]"
}
