// Package pty runs a program on a pseudo-terminal and keeps an in-memory
// screen of what it draws.
package pty

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	creackpty "github.com/creack/pty"

	"github.com/brandon-fryslie/ptytest/broadcast"
	"github.com/brandon-fryslie/ptytest/screen"
	"github.com/brandon-fryslie/ptytest/session"
)

var errReaderTimeout = errors.New("pty: reader did not stop in time")

// Session is a program running on a pseudo-terminal.
//
// Lock scope: mu guards the screen and is held only while the reader applies
// a chunk or a caller copies state out. wmu serializes writes to the master
// and is never taken while mu is held.
type Session struct {
	name   string
	argv   []string
	cfg    Config
	logger *slog.Logger

	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.Mutex
	screen *screen.Screen

	wmu sync.Mutex

	closed atomic.Bool
	exited atomic.Bool

	// done is closed once the process has been reaped.
	done       chan struct{}
	exitCode   atomic.Int64
	readerDone chan struct{}

	bc *broadcast.Broadcaster

	cleanupOnce sync.Once
	cleanupErr  error
}

var _ session.Session = (*Session)(nil)

// New spawns argv on a new pseudo-terminal of the configured size and starts
// mirroring its output. Spawn failures are returned as *session.SpawnError.
func New(argv []string, cfg Config) (*Session, error) {
	if len(argv) == 0 {
		return nil, &session.SpawnError{Command: argv, Err: errors.New("empty command")}
	}
	cfg = cfg.withDefaults(argv)
	if err := cfg.validate(); err != nil {
		return nil, &session.SpawnError{Command: argv, Err: err}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.environ(os.Environ())

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Cols: uint16(cfg.Cols),
		Rows: uint16(cfg.Rows),
	})
	if err != nil {
		return nil, &session.SpawnError{Command: argv, Err: err}
	}

	scr := screen.New(cfg.Cols, cfg.Rows)
	scr.SetScrollback(cfg.Scrollback)

	s := &Session{
		name:       cfg.Name,
		argv:       append([]string(nil), argv...),
		cfg:        cfg,
		logger:     cfg.Logger.With("session", cfg.Name),
		cmd:        cmd,
		ptmx:       ptmx,
		screen:     scr,
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	s.exitCode.Store(-1)

	go s.readLoop()
	go s.forwardReplies()
	go s.waitExit()

	if cfg.Broadcast {
		s.bc = broadcast.New(s,
			broadcast.WithInterval(cfg.BroadcastInterval),
			broadcast.WithLogger(s.logger),
		)
		s.bc.Start()
	}

	s.logger.Debug("pty session started", "pid", cmd.Process.Pid, "cols", cfg.Cols, "rows", cfg.Rows)
	return s, nil
}

// readLoop applies master output to the screen until EOF or a read error.
func (s *Session) readLoop() {
	defer close(s.readerDone)

	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.mu.Lock()
			_, _ = s.screen.Write(buf[:n])
			s.mu.Unlock()
		}
		if err != nil {
			s.exited.Store(true)
			return
		}
	}
}

// forwardReplies writes the screen's answers to status queries, such as
// cursor position reports, back to the program.
func (s *Session) forwardReplies() {
	for {
		select {
		case <-s.screen.RepliesReady():
		case <-s.readerDone:
			return
		}
		if replies := s.screen.TakeReplies(); len(replies) > 0 {
			if _, err := s.writeMaster(replies); err != nil {
				s.logger.Debug("terminal reply not delivered", "error", err)
			}
		}
	}
}

// waitExit reaps the process and records its exit status.
func (s *Session) waitExit() {
	err := s.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	s.exitCode.Store(int64(code))
	s.exited.Store(true)
	close(s.done)
	s.logger.Debug("pty process exited", "code", code)
}

func (s *Session) writeMaster(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.ptmx.Write(p)
}

func (s *Session) send(data string) error {
	switch {
	case s.closed.Load():
		return fmt.Errorf("send to %s: %w", s.name, session.ErrClosed)
	case s.exited.Load():
		return fmt.Errorf("send to %s: process exited: %w", s.name, session.ErrClosed)
	}
	if _, err := s.writeMaster([]byte(data)); err != nil {
		if s.closed.Load() || s.exited.Load() {
			return fmt.Errorf("send to %s: %w", s.name, session.ErrClosed)
		}
		return fmt.Errorf("send to %s: %w", s.name, err)
	}
	return nil
}

// SendKeys writes text, followed by a carriage return unless literal is set.
func (s *Session) SendKeys(text string, literal bool) error {
	if !literal {
		text += "\r"
	}
	return s.send(text)
}

// SendRaw writes seq unchanged.
func (s *Session) SendRaw(seq string) error {
	return s.send(seq)
}

// Content returns the rendered screen. It keeps working after Cleanup.
func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen.Content()
}

// Lines returns every screen row, right-trimmed of spaces.
func (s *Session) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen.Lines()
}

// StyledLines returns every row with SGR escapes for colors and attributes.
func (s *Session) StyledLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen.StyledLines()
}

// History returns lines that scrolled off the top of the screen.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen.History()
}

// Snapshot copies the screen rows and cursor position. It never fails; the
// error satisfies broadcast.Source.
func (s *Session) Snapshot() (screen.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen.Snapshot(), nil
}

// Cursor returns the zero-based cursor position.
func (s *Session) Cursor() (row, col int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen.Cursor()
}

// Title returns the window title last set by the program.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen.Title()
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

// Timeout returns the configured default wait.
func (s *Session) Timeout() time.Duration { return s.cfg.Timeout }

// Name returns the session's log label.
func (s *Session) Name() string { return s.name }

// Size returns the fixed screen dimensions.
func (s *Session) Size() (cols, rows int) { return s.cfg.Cols, s.cfg.Rows }

// Pid returns the process id of the program.
func (s *Session) Pid() int { return s.cmd.Process.Pid }

// Alive reports whether the program is still running and the session has not
// been cleaned up.
func (s *Session) Alive() bool {
	return !s.closed.Load() && !s.exited.Load()
}

// Done is closed once the program has exited and been reaped.
func (s *Session) Done() <-chan struct{} { return s.done }

// ExitCode returns the program's exit status, or -1 while it is running or
// when it was killed by a signal.
func (s *Session) ExitCode() int { return int(s.exitCode.Load()) }

// Broadcaster returns the broadcaster started by Config.Broadcast, or nil.
func (s *Session) Broadcaster() *broadcast.Broadcaster { return s.bc }

// Cleanup stops the broadcaster, terminates the process group (escalating to
// SIGKILL after KillGrace), closes the master and waits briefly for the
// reader. It is idempotent; errors are informational.
func (s *Session) Cleanup() error {
	s.cleanupOnce.Do(func() {
		s.cleanupErr = s.cleanup()
	})
	return s.cleanupErr
}

func (s *Session) cleanup() error {
	s.closed.Store(true)

	if s.bc != nil {
		s.bc.Shutdown()
	}

	var errs []error
	if !s.processDone() {
		if err := terminate(s.cmd.Process); err != nil {
			s.logger.Debug("terminate signal failed", "error", err)
		}
		select {
		case <-s.done:
		case <-time.After(s.cfg.KillGrace):
			s.logger.Warn("process ignored termination, killing", "pid", s.cmd.Process.Pid, "grace", s.cfg.KillGrace)
			if err := kill(s.cmd.Process); err != nil {
				errs = append(errs, fmt.Errorf("kill %d: %w", s.cmd.Process.Pid, err))
			}
			select {
			case <-s.done:
			case <-time.After(s.cfg.KillGrace):
				errs = append(errs, fmt.Errorf("pty: process %d not reaped", s.cmd.Process.Pid))
			}
		}
	}

	if err := s.ptmx.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, fmt.Errorf("close pty: %w", err))
	}

	select {
	case <-s.readerDone:
		s.mu.Lock()
		_ = s.screen.Close()
		s.mu.Unlock()
	case <-time.After(readerJoinTimeout):
		errs = append(errs, errReaderTimeout)
	}

	s.logger.Debug("pty session cleaned up")
	return errors.Join(errs...)
}

func (s *Session) processDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
