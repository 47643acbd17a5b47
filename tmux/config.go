package tmux

import (
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/brandon-fryslie/ptytest/keys"
)

const (
	defaultCols        = 120
	defaultRows        = 40
	defaultTimeout     = 5 * time.Second
	defaultBinary      = "tmux"
	defaultPrefixKey   = keys.TmuxPrefix
	defaultPrefixDelay = 50 * time.Millisecond

	// readyPoll is the cadence for waiting on the control client to attach.
	readyPoll = 25 * time.Millisecond
)

// Config describes the tmux session to create. Zero values take defaults.
type Config struct {
	// Name is the tmux session name. Defaults to ptytest-<8 hex digits>.
	Name string
	Cols int
	Rows int
	// Timeout bounds each tmux command and is the default wait for
	// VerifyTextAppears and WaitForText.
	Timeout time.Duration
	// Shell is the program run in the first pane. Defaults to zsh when it is
	// installed, else $SHELL, else sh.
	Shell []string
	// UseConfig loads the user's tmux configuration. When false the server
	// is started with -f /dev/null.
	UseConfig bool
	// Socket selects a separate tmux server with -L.
	Socket string
	Binary string

	PrefixKey   string
	PrefixDelay time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "ptytest-" + uuid.NewString()[:8]
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
	if len(c.Shell) == 0 {
		c.Shell = []string{defaultShell()}
	}
	if c.Binary == "" {
		c.Binary = defaultBinary
	}
	if c.PrefixKey == "" {
		c.PrefixKey = defaultPrefixKey
	}
	if c.PrefixDelay <= 0 {
		c.PrefixDelay = defaultPrefixDelay
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func defaultShell() string {
	if _, err := exec.LookPath("zsh"); err == nil {
		return "zsh"
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		if _, err := exec.LookPath(sh); err == nil {
			return sh
		}
	}
	return "sh"
}
