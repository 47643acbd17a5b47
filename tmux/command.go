package tmux

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/brandon-fryslie/ptytest/session"
)

// globalArgs are the server-selection flags every invocation carries.
func (s *Session) globalArgs() []string {
	var args []string
	if s.cfg.Socket != "" {
		args = append(args, "-L", s.cfg.Socket)
	}
	if !s.cfg.UseConfig {
		args = append(args, "-f", "/dev/null")
	}
	return args
}

func (s *Session) argv(args ...string) []string {
	full := append([]string{s.cfg.Binary}, s.globalArgs()...)
	return append(full, args...)
}

// run executes one tmux command and returns its stdout. A non-zero exit or
// any stderr output is reported as *session.ExternalCommandError.
func (s *Session) run(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	argv := s.argv(args...)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	errText := strings.TrimSpace(stderr.String())
	if err != nil || errText != "" {
		code := 0
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			code = exitErr.ExitCode()
		case err != nil:
			code = -1
		}
		return stdout.String(), &session.ExternalCommandError{
			Args:     argv,
			ExitCode: code,
			Stderr:   errText,
			Err:      err,
		}
	}
	return stdout.String(), nil
}

// isNoSession reports whether err is tmux saying the target session or the
// whole server does not exist.
func isNoSession(err error) bool {
	var ce *session.ExternalCommandError
	if !errors.As(err, &ce) || ce.ExitCode != 1 {
		return false
	}
	msg := ce.Stderr
	return msg == "" ||
		strings.Contains(msg, "can't find session") ||
		strings.Contains(msg, "session not found") ||
		strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "error connecting to")
}

func splitLines(out string) []string {
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}
