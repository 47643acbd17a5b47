// Package tmux drives a real tmux server as a test session.
//
// A Session creates a detached tmux session, attaches a client to it over a
// pseudo-terminal and sends keystrokes through that client, so key bindings
// behave exactly as for a user. Screen state is never cached: every query is
// a synchronous tmux command.
package tmux

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brandon-fryslie/ptytest/pty"
	"github.com/brandon-fryslie/ptytest/screen"
	"github.com/brandon-fryslie/ptytest/session"
)

var paneIDRe = regexp.MustCompile(`^%\d+$`)

// Direction selects how SplitWindow divides the active pane.
type Direction int

const (
	// Horizontal places the new pane beside the current one (split-window -h).
	Horizontal Direction = iota
	// Vertical places the new pane below the current one (split-window -v).
	Vertical
)

func (d Direction) flag() string {
	if d == Vertical {
		return "-v"
	}
	return "-h"
}

// Session is a tmux session with an attached control client.
type Session struct {
	name   string
	cfg    Config
	logger *slog.Logger

	control *pty.Session

	closed atomic.Bool

	// lastMu guards lastContent, the most recent successful capture. It only
	// serves Content after Cleanup or when tmux fails.
	lastMu      sync.Mutex
	lastContent string

	cleanupOnce sync.Once
	cleanupErr  error
}

var _ session.Session = (*Session)(nil)

// New starts a detached tmux session running the configured shell, attaches a
// client on a pseudo-terminal and waits until the server lists it.
func New(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	s := &Session{
		name:   cfg.Name,
		cfg:    cfg,
		logger: cfg.Logger.With("session", cfg.Name),
	}

	args := []string{
		"new-session", "-d",
		"-s", cfg.Name,
		"-x", strconv.Itoa(cfg.Cols),
		"-y", strconv.Itoa(cfg.Rows),
	}
	args = append(args, cfg.Shell...)
	if _, err := s.run(args...); err != nil {
		return nil, &session.SpawnError{Command: s.argv(args...), Err: err}
	}

	attach := s.argv("attach-session", "-t", s.sessionTarget())
	control, err := pty.New(attach, pty.Config{
		Name:    cfg.Name + "-client",
		Cols:    cfg.Cols,
		Rows:    cfg.Rows,
		Timeout: cfg.Timeout,
		// Allow attaching from inside another tmux.
		Env:    []string{"TMUX="},
		Logger: cfg.Logger,
	})
	if err != nil {
		_ = s.killSession()
		return nil, err
	}
	s.control = control

	if err := s.waitAttached(); err != nil {
		_ = s.Cleanup()
		return nil, &session.SpawnError{Command: attach, Err: err}
	}

	s.logger.Debug("tmux session ready", "cols", cfg.Cols, "rows", cfg.Rows, "socket", cfg.Socket)
	return s, nil
}

func (s *Session) waitAttached() error {
	deadline := time.Now().Add(s.cfg.Timeout)
	var lastErr error
	for {
		out, err := s.run("list-clients", "-t", s.sessionTarget(), "-F", "#{client_tty}")
		if err == nil && strings.TrimSpace(out) != "" {
			return nil
		}
		lastErr = err
		if !s.control.Alive() {
			return fmt.Errorf("client exited: %s", s.control.Content())
		}
		if time.Now().After(deadline) {
			if lastErr == nil {
				lastErr = errors.New("no client attached")
			}
			return fmt.Errorf("waiting for client after %s: %w", s.cfg.Timeout, lastErr)
		}
		time.Sleep(readyPoll)
	}
}

// Name returns the tmux session name.
func (s *Session) Name() string { return s.name }

// Control returns the pseudo-terminal session of the attached client.
func (s *Session) Control() *pty.Session { return s.control }

// Timeout returns the configured default wait.
func (s *Session) Timeout() time.Duration { return s.cfg.Timeout }

// SendKeys types text into the attached client, followed by a carriage return
// unless literal is set.
func (s *Session) SendKeys(text string, literal bool) error {
	if !literal {
		text += "\r"
	}
	return s.SendRaw(text)
}

// SendRaw writes seq to the attached client unchanged.
func (s *Session) SendRaw(seq string) error {
	if s.closed.Load() {
		return fmt.Errorf("send to %s: %w", s.name, session.ErrClosed)
	}
	return s.control.SendRaw(seq)
}

// SendPrefixKey sends the prefix key, pauses, then sends key.
func (s *Session) SendPrefixKey(key string) error {
	if err := s.SendRaw(s.cfg.PrefixKey); err != nil {
		return err
	}
	time.Sleep(s.cfg.PrefixDelay)
	return s.SendRaw(key)
}

// Content captures the active pane including its history. If tmux cannot be
// reached, or after Cleanup, the last successful capture is returned.
func (s *Session) Content() string {
	return s.capture("-S", "-")
}

// ContentVisible captures only the visible rows of the active pane. The
// fallback is the same as for Content.
func (s *Session) ContentVisible() string {
	return s.capture()
}

func (s *Session) capture(extra ...string) string {
	if !s.closed.Load() {
		args := append([]string{"capture-pane", "-p"}, extra...)
		out, err := s.run(append(args, "-t", s.windowTarget())...)
		if err == nil {
			content := normalize(out)
			s.lastMu.Lock()
			s.lastContent = content
			s.lastMu.Unlock()
			return content
		}
		s.logger.Debug("capture failed, using last content", "error", err)
	}
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastContent
}

// PaneContent captures the visible content of one pane.
func (s *Session) PaneContent(paneID string) (string, error) {
	out, err := s.run("capture-pane", "-p", "-t", s.paneTarget(paneID))
	if err != nil {
		return "", err
	}
	return normalize(out), nil
}

// Snapshot captures the visible rows and cursor of the active pane, so a
// tmux session can feed a broadcaster.
func (s *Session) Snapshot() (screen.Snapshot, error) {
	out, err := s.run("capture-pane", "-p", "-t", s.windowTarget())
	if err != nil {
		return screen.Snapshot{}, err
	}
	pos, err := s.run("display-message", "-p", "-t", s.windowTarget(), "#{cursor_x} #{cursor_y} #{pane_height}")
	if err != nil {
		return screen.Snapshot{}, err
	}
	var x, y, height int
	if _, err := fmt.Sscanf(strings.TrimSpace(pos), "%d %d %d", &x, &y, &height); err != nil {
		return screen.Snapshot{}, fmt.Errorf("tmux: parse cursor %q: %w", strings.TrimSpace(pos), err)
	}

	// One entry per pane row, as with the pty screen.
	lines := make([]string, height)
	for i, l := range splitLines(out) {
		if i >= height {
			break
		}
		lines[i] = strings.TrimRight(l, " ")
	}
	return screen.Snapshot{Lines: lines, CursorRow: y, CursorCol: x}, nil
}

// PaneCount returns the number of panes in the current window.
func (s *Session) PaneCount() (int, error) {
	ids, err := s.PaneIDs()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// PaneIDs returns the server-assigned pane identifiers of the current window
// in tmux's order.
func (s *Session) PaneIDs() ([]string, error) {
	out, err := s.run("list-panes", "-t", s.windowTarget(), "-F", "#{pane_id}")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, line := range splitLines(out) {
		id := strings.TrimSpace(line)
		if !paneIDRe.MatchString(id) {
			return nil, fmt.Errorf("tmux: unexpected pane id %q", id)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SplitWindow splits the active pane.
func (s *Session) SplitWindow(d Direction) error {
	_, err := s.run("split-window", d.flag(), "-t", s.windowTarget())
	return err
}

// PaneWidth returns a pane's width in cells. An empty paneID means the active
// pane.
func (s *Session) PaneWidth(paneID string) (int, error) {
	return s.paneInt(paneID, "#{pane_width}")
}

// PaneHeight returns a pane's height in rows. An empty paneID means the active
// pane.
func (s *Session) PaneHeight(paneID string) (int, error) {
	return s.paneInt(paneID, "#{pane_height}")
}

func (s *Session) paneInt(paneID, format string) (int, error) {
	out, err := s.run("display-message", "-p", "-t", s.paneTarget(paneID), format)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("tmux: parse %s: %w", format, err)
	}
	return n, nil
}

func (s *Session) paneTarget(paneID string) string {
	if paneID == "" {
		return s.windowTarget()
	}
	return paneID
}

// sessionTarget names this session exactly. A bare name is also matched as a
// prefix of other session names, so "demo" could resolve to "demo2".
func (s *Session) sessionTarget() string { return "=" + s.name }

// windowTarget is the current window of this session, matched exactly.
func (s *Session) windowTarget() string { return "=" + s.name + ":" }

// GlobalOption reads a global option such as a user @variable.
func (s *Session) GlobalOption(name string) (string, error) {
	out, err := s.run("show-option", "-gv", name)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// SetGlobalOption sets a global option.
func (s *Session) SetGlobalOption(name, value string) error {
	_, err := s.run("set-option", "-g", name, value)
	return err
}

// Exists reports whether the tmux session is still present on the server.
func (s *Session) Exists() (bool, error) {
	_, err := s.run("has-session", "-t", s.sessionTarget())
	switch {
	case err == nil:
		return true, nil
	case isNoSession(err):
		return false, nil
	}
	return false, err
}

// VerifyTextAppears polls Content until text appears or timeout elapses.
func (s *Session) VerifyTextAppears(text string, timeout time.Duration) bool {
	return session.VerifyTextAppears(s, text, timeout)
}

// WaitForText polls Content until text appears, or returns a
// *session.TimeoutError.
func (s *Session) WaitForText(text string, timeout time.Duration) error {
	return session.WaitForText(s, text, timeout)
}

// Cleanup kills the tmux session and the attached client. A session that is
// already gone is not an error. It is idempotent.
func (s *Session) Cleanup() error {
	s.cleanupOnce.Do(func() {
		// Remember what was on screen for Content after cleanup.
		s.Content()
		s.closed.Store(true)

		var errs []error
		if err := s.killSession(); err != nil {
			errs = append(errs, err)
		}
		if s.control != nil {
			if err := s.control.Cleanup(); err != nil {
				errs = append(errs, err)
			}
		}
		s.cleanupErr = errors.Join(errs...)
		s.logger.Debug("tmux session cleaned up", "error", s.cleanupErr)
	})
	return s.cleanupErr
}

func (s *Session) killSession() error {
	_, err := s.run("kill-session", "-t", s.sessionTarget())
	if err != nil && !isNoSession(err) {
		return err
	}
	return nil
}

// normalize applies the same text policy as the pty screen: rows
// right-trimmed of spaces and trailing blank rows dropped.
func normalize(out string) string {
	lines := splitLines(out)
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	last := len(lines) - 1
	for last >= 0 && lines[last] == "" {
		last--
	}
	return strings.Join(lines[:last+1], "\n")
}
