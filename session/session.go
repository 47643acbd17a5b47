// Package session defines the contract shared by every way of driving an
// interactive program under test, along with the polling helpers built on it.
//
// Two implementations exist: package pty runs the program on a pseudo-terminal
// and renders it with an in-memory screen, and package tmux drives a real tmux
// server. Tests written against Session work with either.
package session

import (
	"errors"
	"time"
)

// DefaultTimeout is the wait used when a caller passes a non-positive timeout
// and the session was configured without one.
const DefaultTimeout = 5 * time.Second

// Session is a live attachment to an interactive program.
//
// Implementations are safe for concurrent use. Content never blocks on the
// program and keeps working after the program exits or Cleanup is called.
type Session interface {
	// SendKeys writes text to the program. Unless literal is set, a carriage
	// return is appended to submit the line.
	SendKeys(text string, literal bool) error
	// SendRaw writes seq exactly as given.
	SendRaw(seq string) error
	// Content returns the current screen text: rows right-trimmed of spaces,
	// joined with newlines, trailing blank rows dropped.
	Content() string
	// VerifyTextAppears polls Content until text appears or timeout elapses.
	VerifyTextAppears(text string, timeout time.Duration) bool
	// WaitForText is VerifyTextAppears reporting failure as a *TimeoutError.
	WaitForText(text string, timeout time.Duration) error
	// Cleanup terminates the program and releases its resources. It is
	// idempotent and never panics.
	Cleanup() error
	// Timeout is the default wait applied when callers pass zero.
	Timeout() time.Duration
}

// Use runs fn with s and cleans s up exactly once afterwards, including when
// fn panics. A panic is re-raised after cleanup. The returned error joins fn's
// error with any cleanup error.
func Use[S Session](s S, fn func(S) error) (err error) {
	cleaned := false
	defer func() {
		if cleaned {
			return
		}
		// Only reached when fn panicked.
		_ = s.Cleanup()
	}()

	fnErr := fn(s)
	cleaned = true
	return errors.Join(fnErr, s.Cleanup())
}
