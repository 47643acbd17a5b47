package neovim

import (
	"fmt"
	"strings"
	"time"
)

// expect polls check until it reports ok or timeout elapses. A non-positive
// timeout means the session timeout. The error names what was expected and
// the last value observed.
func (s *Session) expect(timeout time.Duration, what string, check func() (ok bool, got string, err error)) error {
	if timeout <= 0 {
		timeout = s.Timeout()
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * pollInterval)
	defer ticker.Stop()

	for {
		ok, got, err := check()
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("neovim: expected %s within %s: %w", what, timeout, err)
			}
			return fmt.Errorf("neovim: expected %s within %s, got %s", what, timeout, got)
		}
		select {
		case <-s.Done():
			return fmt.Errorf("neovim: expected %s: nvim exited with code %d", what, s.ExitCode())
		case <-ticker.C:
		}
	}
}

// ExpectBufferContains waits until the current buffer contains text.
func (s *Session) ExpectBufferContains(text string, timeout time.Duration) error {
	return s.expect(timeout, fmt.Sprintf("buffer to contain %q", text), func() (bool, string, error) {
		content, err := s.BufferContent()
		return err == nil && strings.Contains(content, text), fmt.Sprintf("buffer:\n%s", content), err
	})
}

// ExpectBufferNotContains checks once that the current buffer does not
// contain text.
func (s *Session) ExpectBufferNotContains(text string) error {
	content, err := s.BufferContent()
	if err != nil {
		return err
	}
	if strings.Contains(content, text) {
		return fmt.Errorf("neovim: buffer unexpectedly contains %q; buffer:\n%s", text, content)
	}
	return nil
}

// ExpectMode waits until Mode reports mode.
func (s *Session) ExpectMode(mode string, timeout time.Duration) error {
	return s.expect(timeout, fmt.Sprintf("mode %q", mode), func() (bool, string, error) {
		got, err := s.Mode()
		return err == nil && got == mode, fmt.Sprintf("%q", got), err
	})
}

// ExpectCursorAt waits until the cursor is on line and, unless col is 0, at
// col. Both are 1-based.
func (s *Session) ExpectCursorAt(line, col int, timeout time.Duration) error {
	want := fmt.Sprintf("cursor at line %d", line)
	if col != 0 {
		want = fmt.Sprintf("cursor at %d:%d", line, col)
	}
	return s.expect(timeout, want, func() (bool, string, error) {
		l, c, err := s.BufferCursor()
		return err == nil && l == line && (col == 0 || c == col), fmt.Sprintf("%d:%d", l, c), err
	})
}
