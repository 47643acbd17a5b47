package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/brandon-fryslie/ptytest/configs"
)

// EnvPrefix is the prefix of environment overrides, as in PTYTEST_COLS.
const EnvPrefix = "PTYTEST"

// Config is the CLI configuration. Environment overrides use the field
// names split into words, as in PTYTEST_TMUX_USE_CONFIG.
type Config struct {
	Cols     int           `yaml:"cols"`
	Rows     int           `yaml:"rows"`
	Timeout  time.Duration `yaml:"timeout"`
	Shell    string        `yaml:"shell"`
	LogLevel string        `yaml:"log_level" split_words:"true"`

	Tmux   TmuxConfig   `yaml:"tmux"`
	Viz    VizConfig    `yaml:"viz"`
	Record RecordConfig `yaml:"record"`

	// ConfigPath is the user file that was consulted, whether or not it
	// existed.
	ConfigPath string `yaml:"-" ignored:"true"`
}

type TmuxConfig struct {
	Binary    string `yaml:"binary"`
	UseConfig bool   `yaml:"use_config" split_words:"true"`
	Socket    string `yaml:"socket"`
}

type VizConfig struct {
	Addr     string        `yaml:"addr"`
	Token    string        `yaml:"token"`
	Interval time.Duration `yaml:"interval"`
}

type RecordConfig struct {
	Path string `yaml:"path"`
}

// DefaultPath returns ~/.config/ptytest/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "ptytest", "config.yaml"), nil
}

// Defaults returns the embedded default configuration.
func Defaults() (*Config, error) {
	cfg := &Config{}
	if err := decode(configs.Default, cfg); err != nil {
		return nil, fmt.Errorf("embedded defaults: %w", err)
	}
	return cfg, nil
}

// Load registers the configuration flags on fs, parses args and layers the
// embedded defaults, the user file, PTYTEST_* environment variables and the
// flags that were set, in that order. Callers may add their own flags to fs
// beforehand and read positional arguments from fs.Args afterwards.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}
	defaultPath, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	AddFlags(fs, cfg, defaultPath)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.ConfigPath, _ = fs.GetString("config")
	if err := cfg.loadFromFile(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.applyFlags(fs); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AddFlags registers the configuration flags with defaults taken from cfg.
func AddFlags(fs *pflag.FlagSet, cfg *Config, configPath string) {
	fs.String("config", configPath, "configuration file")
	fs.Int("cols", cfg.Cols, "terminal width in cells")
	fs.Int("rows", cfg.Rows, "terminal height in rows")
	fs.Duration("timeout", cfg.Timeout, "default wait timeout")
	fs.String("shell", cfg.Shell, "program to run when no command is given (shell-quoted)")
	fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	fs.String("tmux-binary", cfg.Tmux.Binary, "tmux executable")
	fs.Bool("tmux-use-config", cfg.Tmux.UseConfig, "load the user's tmux configuration")
	fs.String("tmux-socket", cfg.Tmux.Socket, "tmux server socket label (-L)")
	fs.String("viz-addr", cfg.Viz.Addr, "viewer server listen address")
	fs.String("viz-token", cfg.Viz.Token, "viewer authentication token (generated if empty)")
	fs.Duration("viz-interval", cfg.Viz.Interval, "screen sampling interval")
	fs.String("record", cfg.Record.Path, "SQLite file to record frames to")
}

func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	var errs []error
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			v, err := fs.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if fs.Changed(name) {
			v, err := fs.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, err := fs.GetDuration(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	num("cols", &c.Cols)
	num("rows", &c.Rows)
	dur("timeout", &c.Timeout)
	str("shell", &c.Shell)
	str("log-level", &c.LogLevel)
	str("tmux-binary", &c.Tmux.Binary)
	str("tmux-socket", &c.Tmux.Socket)
	str("viz-addr", &c.Viz.Addr)
	str("viz-token", &c.Viz.Token)
	dur("viz-interval", &c.Viz.Interval)
	str("record", &c.Record.Path)
	if fs.Changed("tmux-use-config") {
		v, err := fs.GetBool("tmux-use-config")
		errs = append(errs, err)
		c.Tmux.UseConfig = v
	}
	return errors.Join(errs...)
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	if err := decode(data, c); err != nil {
		return fmt.Errorf("%s: %w", c.ConfigPath, err)
	}
	return nil
}

// decode overlays the YAML document onto c. Keys absent from data keep
// their current values; unknown keys are an error.
func decode(data []byte, c *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.Cols < 1 {
		errs = append(errs, fmt.Errorf("invalid cols %d: must be positive", c.Cols))
	}
	if c.Rows < 1 {
		errs = append(errs, fmt.Errorf("invalid rows %d: must be positive", c.Rows))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid timeout %s: must be positive", c.Timeout))
	}
	if _, err := c.ShellArgv(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Tmux.Binary == "" {
		errs = append(errs, errors.New("tmux binary must not be empty"))
	}
	if c.Viz.Interval <= 0 {
		errs = append(errs, fmt.Errorf("invalid viz interval %s: must be positive", c.Viz.Interval))
	}
	return errors.Join(errs...)
}

// ShellArgv splits Shell with POSIX shell quoting rules.
func (c *Config) ShellArgv() ([]string, error) {
	argv, err := shellquote.Split(c.Shell)
	if err != nil {
		return nil, fmt.Errorf("invalid shell %q: %w", c.Shell, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("shell must not be empty")
	}
	return argv, nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// EnsureVizToken fills in a random viewer token when none is configured and
// returns the token in effect.
func (c *Config) EnsureVizToken() (string, error) {
	if c.Viz.Token == "" {
		token, err := generateToken()
		if err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}
		c.Viz.Token = token
	}
	return c.Viz.Token, nil
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
