// Package neovim drives a real Neovim on a pseudo-terminal for testing
// plugins and configurations.
//
// A Session is a pty.Session running nvim with a generated init.lua, so the
// rendered screen can be asserted on like any other program. Editor state is
// queried exactly rather than scraped from the screen: each request is a Lua
// function written to the session's private directory, run by a <Cmd> mapping
// and answered as JSON. Requests therefore work in every mode and never
// change it.
package neovim

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/brandon-fryslie/ptytest/pty"
	"github.com/brandon-fryslie/ptytest/session"
)

const (
	pollInterval = 10 * time.Millisecond
	// quitGrace bounds how long Cleanup waits for :qa! before killing.
	quitGrace = time.Second
)

// LuaError is an error raised by Lua code or an Ex command inside Neovim.
type LuaError struct {
	Message string
}

func (e *LuaError) Error() string { return "neovim: " + e.Message }

// Session is a Neovim instance under test.
type Session struct {
	*pty.Session

	dir    string
	logger *slog.Logger

	reqMu sync.Mutex
	seq   int

	cleanupOnce sync.Once
	cleanupErr  error
}

var _ session.Session = (*Session)(nil)

// New starts Neovim and waits until it has finished starting up. Failures,
// including a startup that does not finish within the configured timeout,
// are returned as *session.SpawnError.
func New(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	bin, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, &session.SpawnError{Command: []string{cfg.Binary}, Err: err}
	}
	logger := cfg.PTY.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dir, err := os.MkdirTemp("", "ptytest-nvim-")
	if err != nil {
		return nil, &session.SpawnError{Command: []string{bin}, Err: err}
	}
	reqDir := filepath.Join(dir, "requests")
	if err := os.Mkdir(reqDir, 0o700); err != nil {
		_ = os.RemoveAll(dir)
		return nil, &session.SpawnError{Command: []string{bin}, Err: err}
	}

	plugins, missing := cfg.pluginPaths()
	for _, p := range missing {
		logger.Warn("plugin directory not found, skipping", "path", p)
	}
	initPath := filepath.Join(dir, "init.lua")
	script := initScript(reqDir, plugins, cfg.InitLua, cfg.InitVim)
	if err := os.WriteFile(initPath, []byte(script), 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return nil, &session.SpawnError{Command: []string{bin}, Err: err}
	}

	argv := cfg.argv(bin, initPath)
	ptyCfg := cfg.PTY
	ptyCfg.Env = cfg.environ(dir)
	ps, err := pty.New(argv, ptyCfg)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	s := &Session{
		Session: ps,
		dir:     dir,
		logger:  logger.With("session", ps.Name()),
	}
	if _, err := s.waitFile(filepath.Join(reqDir, "ready"), ps.Timeout()); err != nil {
		content := ps.Content()
		_ = s.Cleanup()
		return nil, &session.SpawnError{Command: argv, Err: fmt.Errorf("startup: %w; screen:\n%s", err, content)}
	}
	s.logger.Debug("neovim started", "dir", dir, "plugins", len(plugins))
	return s, nil
}

// Dir returns the session's private directory holding init.lua, requests and
// the XDG directories. It is removed by Cleanup.
func (s *Session) Dir() string { return s.dir }

func (s *Session) reqPath(n int, ext string) string {
	return filepath.Join(s.dir, "requests", strconv.Itoa(n)+ext)
}

// waitFile returns the content of path once it exists.
func (s *Session) waitFile(path string, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		select {
		case <-s.Done():
			return nil, fmt.Errorf("nvim exited with code %d: %w", s.ExitCode(), session.ErrClosed)
		case <-deadline.C:
			return nil, &session.TimeoutError{Timeout: timeout, LastContent: s.Content()}
		case <-ticker.C:
		}
	}
}

// Lua runs code as the body of a Lua function called with args, which are
// passed through JSON and read with `...`. It returns the function's first
// result as JSON, or nil when it returns nothing. Errors raised by the code
// are returned as *LuaError.
//
// A request that times out stays queued and runs once Neovim gets to it.
func (s *Session) Lua(code string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("neovim: encode arguments: %w", err)
	}

	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	req := fmt.Sprintf("return vim.json.decode(%s), function(...)\n%s\nend\n", luaString(string(argsJSON)), code)
	n, err := s.enqueue(req)
	if err != nil {
		return nil, err
	}

	respPath := s.reqPath(n, ".json")
	data, err := s.waitFile(respPath, s.Timeout())
	if err != nil {
		return nil, fmt.Errorf("neovim: request %d: %w", n, err)
	}
	_ = os.Remove(respPath)

	var resp struct {
		OK    bool            `json:"ok"`
		Value json.RawMessage `json:"value"`
		Error string          `json:"error"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("neovim: decode response %d: %w", n, err)
	}
	if !resp.OK {
		return nil, &LuaError{Message: resp.Error}
	}
	return resp.Value, nil
}

// enqueue writes the next request file and presses the control key. The
// dispatcher stops at the first missing number, so the sequence only advances
// once the file is in place. Callers hold reqMu.
func (s *Session) enqueue(req string) (int, error) {
	n := s.seq + 1
	tmp := s.reqPath(n, ".tmp")
	if err := os.WriteFile(tmp, []byte(req), 0o600); err != nil {
		return 0, fmt.Errorf("neovim: write request: %w", err)
	}
	if err := os.Rename(tmp, s.reqPath(n, ".lua")); err != nil {
		return 0, fmt.Errorf("neovim: write request: %w", err)
	}
	s.seq = n
	return n, s.SendRaw(controlKey)
}

// LuaValue runs code like Session.Lua and decodes its result into T.
func LuaValue[T any](s *Session, code string, args ...any) (T, error) {
	var v T
	raw, err := s.Lua(code, args...)
	if err != nil || raw == nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		// Lua has one table type and encodes an empty list as {}.
		if string(raw) == "{}" {
			var zero T
			return zero, nil
		}
		return v, fmt.Errorf("neovim: decode result %s: %w", raw, err)
	}
	return v, nil
}

// Eval evaluates a Vimscript expression and decodes the result into T.
func Eval[T any](s *Session, expr string) (T, error) {
	return LuaValue[T](s, "return vim.api.nvim_eval(...)", expr)
}

// Ex runs an Ex command, without the leading colon, and returns its output.
func (s *Session) Ex(cmd string) (string, error) {
	return LuaValue[string](s, `local cmd = ...
if vim.api.nvim_exec2 then
  return vim.api.nvim_exec2(cmd, { output = true }).output
end
return vim.api.nvim_exec(cmd, true)`, cmd)
}

// Normal runs keys as a normal mode command, ignoring mappings.
func (s *Session) Normal(keys string) error {
	_, err := s.Lua(`local keys = ...
vim.cmd('normal! ' .. keys)`, keys)
	return err
}

// Feedkeys queues keys in Neovim's input as if typed. Key notation such as
// <CR>, <Esc> and <leader> is expanded. mode takes the flags of feedkeys();
// empty means "m", which applies mappings.
func (s *Session) Feedkeys(keys, mode string) error {
	if mode == "" {
		mode = "m"
	}
	_, err := s.Lua(`local keys, mode = ...
vim.api.nvim_feedkeys(vim.api.nvim_replace_termcodes(keys, true, false, true), mode, false)`, keys, mode)
	return err
}

// Cleanup quits Neovim, falling back to terminating it, and removes the
// session's directory. It is idempotent.
func (s *Session) Cleanup() error {
	s.cleanupOnce.Do(func() {
		s.cleanupErr = s.cleanup()
	})
	return s.cleanupErr
}

func (s *Session) cleanup() error {
	if s.Alive() {
		s.quit()
	}
	err := s.Session.Cleanup()
	if rmErr := os.RemoveAll(s.dir); rmErr != nil {
		err = errors.Join(err, fmt.Errorf("remove %s: %w", s.dir, rmErr))
	}
	return err
}

// quit asks Neovim to exit without saving and waits briefly for it.
func (s *Session) quit() {
	s.reqMu.Lock()
	_, err := s.enqueue("return {}, function() vim.cmd('qa!') end\n")
	s.reqMu.Unlock()
	if err != nil {
		return
	}
	select {
	case <-s.Done():
	case <-time.After(quitGrace):
		s.logger.Debug("neovim did not quit, terminating")
	}
}
