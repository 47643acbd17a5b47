package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClosed is returned by SendKeys and SendRaw once the program has exited or
// the session was cleaned up. Implementations wrap it with context; match it
// with errors.Is.
var ErrClosed = errors.New("session closed")

// SpawnError reports that a program or multiplexer could not be started.
type SpawnError struct {
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", strings.Join(e.Command, " "), e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TimeoutError reports that expected content did not appear in time.
type TimeoutError struct {
	// Text is the awaited substring. It is empty when waiting on a general
	// condition.
	Text    string
	Timeout time.Duration
	// LastContent is the final content observed before giving up.
	LastContent string
}

func (e *TimeoutError) Error() string {
	what := "condition"
	if e.Text != "" {
		what = fmt.Sprintf("text %q", e.Text)
	}
	return fmt.Sprintf("timed out after %s waiting for %s; last content:\n%s", e.Timeout, what, e.LastContent)
}

// ExternalCommandError reports a failed control command issued to an external
// program such as tmux.
type ExternalCommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExternalCommandError) Error() string {
	msg := fmt.Sprintf("%s: exit %d", strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalCommandError) Unwrap() error { return e.Err }
