package pty

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"time"
)

const (
	defaultCols           = 120
	defaultRows           = 40
	defaultTimeout        = 5 * time.Second
	defaultKillGrace      = time.Second
	defaultReadBufferSize = 4096
	defaultScrollback     = 1000

	// readerJoinTimeout bounds how long Cleanup waits for the reader goroutine.
	readerJoinTimeout = time.Second
)

// Config describes how to spawn a program. Zero values take defaults.
type Config struct {
	// Name labels the session in logs. Defaults to the program's base name.
	Name string

	Cols int
	Rows int

	// Timeout is the default wait for VerifyTextAppears and WaitForText.
	Timeout time.Duration

	// Env entries are appended to the parent environment after TERM, COLUMNS
	// and LINES, so they can override those.
	Env []string
	Dir string

	// KillGrace is how long Cleanup waits after the polite signal before
	// killing the process group.
	KillGrace time.Duration

	ReadBufferSize int
	// Scrollback is the number of history lines the screen keeps. Negative
	// disables history.
	Scrollback int

	// Broadcast starts a broadcaster bound to the session. It is shut down by
	// Cleanup.
	Broadcast         bool
	BroadcastInterval time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults(argv []string) Config {
	if c.Name == "" && len(argv) > 0 {
		c.Name = filepath.Base(argv[0])
	}
	if c.Cols <= 0 {
		c.Cols = defaultCols
	}
	if c.Rows <= 0 {
		c.Rows = defaultRows
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.KillGrace <= 0 {
		c.KillGrace = defaultKillGrace
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaultReadBufferSize
	}
	switch {
	case c.Scrollback == 0:
		c.Scrollback = defaultScrollback
	case c.Scrollback < 0:
		c.Scrollback = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// validate rejects sizes the terminal driver cannot represent.
func (c Config) validate() error {
	if c.Cols > math.MaxUint16 || c.Rows > math.MaxUint16 {
		return fmt.Errorf("terminal size %dx%d exceeds %d", c.Cols, c.Rows, math.MaxUint16)
	}
	return nil
}

// environ builds the child environment from the parent's.
func (c Config) environ(parent []string) []string {
	env := make([]string, 0, len(parent)+3+len(c.Env))
	env = append(env, parent...)
	env = append(env,
		"TERM=xterm-256color",
		"COLUMNS="+strconv.Itoa(c.Cols),
		"LINES="+strconv.Itoa(c.Rows),
	)
	return append(env, c.Env...)
}
