package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (*Config, *pflag.FlagSet, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := Load(fs, args)
	return cfg, fs, err
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Cols)
	assert.Equal(t, 40, cfg.Rows)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "tmux", cfg.Tmux.Binary)
	assert.False(t, cfg.Tmux.UseConfig)
	assert.Equal(t, 100*time.Millisecond, cfg.Viz.Interval)
	assert.Empty(t, cfg.Record.Path)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileIgnored(t *testing.T) {
	cfg, _, err := load(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Cols)
}

func TestLayering(t *testing.T) {
	path := writeFile(t, "cols: 90\nrows: 20\ntmux:\n  socket: from-file\nviz:\n  token: file-token\n")
	t.Setenv("PTYTEST_ROWS", "25")
	t.Setenv("PTYTEST_TMUX_SOCKET", "from-env")
	t.Setenv("PTYTEST_TMUX_USE_CONFIG", "true")

	cfg, fs, err := load(t, "--config", path, "--tmux-socket", "from-flag", "--viz-interval", "250ms", "watch", "cat")
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigPath)
	// File over defaults.
	assert.Equal(t, 90, cfg.Cols)
	assert.Equal(t, "file-token", cfg.Viz.Token)
	// Env over file.
	assert.Equal(t, 25, cfg.Rows)
	assert.True(t, cfg.Tmux.UseConfig)
	// Flags over env.
	assert.Equal(t, "from-flag", cfg.Tmux.Socket)
	assert.Equal(t, 250*time.Millisecond, cfg.Viz.Interval)
	// Untouched.
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	assert.Equal(t, []string{"watch", "cat"}, fs.Args())
}

func TestUnsetFlagDoesNotOverrideEnv(t *testing.T) {
	t.Setenv("PTYTEST_COLS", "77")
	cfg, _, err := load(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 77, cfg.Cols)
}

func TestUnknownKeyRejected(t *testing.T) {
	path := writeFile(t, "colums: 10\n")
	_, _, err := load(t, "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	path := writeFile(t, "# nothing here\n")
	cfg, _, err := load(t, "--config", path)
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Rows)
}

func TestBadEnvValue(t *testing.T) {
	t.Setenv("PTYTEST_TIMEOUT", "soon")
	_, _, err := load(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)
	cfg.Cols = 0
	cfg.Rows = -1
	cfg.Timeout = 0
	cfg.Shell = `sh -c "unterminated`
	cfg.LogLevel = "loud"
	cfg.Tmux.Binary = ""
	cfg.Viz.Interval = 0

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"cols", "rows", "timeout", "shell", "log level", "tmux binary", "viz interval"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestShellArgv(t *testing.T) {
	cfg := &Config{Shell: `bash -c 'echo "a b"'`}
	argv, err := cfg.ShellArgv()
	require.NoError(t, err)
	assert.Equal(t, []string{"bash", "-c", `echo "a b"`}, argv)

	cfg.Shell = "   "
	_, err = cfg.ShellArgv()
	assert.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "debug"}
	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", level.String())

	cfg.LogLevel = "WARN"
	level, err = cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, "WARN", level.String())
}

func TestEnsureVizToken(t *testing.T) {
	cfg := &Config{}
	token, err := cfg.EnsureVizToken()
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{32}$`, token)

	again, err := cfg.EnsureVizToken()
	require.NoError(t, err)
	assert.Equal(t, token, again)
}
