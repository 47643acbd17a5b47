// ptytest drives programs on pseudo-terminals from the command line.
//
// Usage:
//
//	ptytest check                  verify tmux, the shell and pty support
//	ptytest version                print the version
//	ptytest watch [flags] -- CMD   run CMD on a pty and serve its screen
//	ptytest view URL               follow a watched session in this terminal
//	ptytest replay [DB]            list recordings, or print one with --recording
//
// Every command accepts the configuration flags (--cols, --rows, --timeout,
// --config, ...). Settings are layered from the built-in defaults,
// ~/.config/ptytest/config.yaml, PTYTEST_* environment variables and flags.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/brandon-fryslie/ptytest/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// exitError carries a process exit code. An empty message prints nothing.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		code := 1
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			code = coder.ExitCode()
		}
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "error: %s\n", msg)
		}
		os.Exit(code)
	}
}

// streams are the process's standard files, replaced in tests.
type streams struct {
	stdin  *os.File
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) error {
	std := streams{stdin: stdin, stdout: stdout, stderr: stderr}
	if len(args) == 0 {
		printUsage(stderr)
		return &exitError{code: 2}
	}

	name, rest := args[0], args[1:]
	var err error
	switch name {
	case "check":
		err = runCheck(rest, std)
	case "version", "--version":
		fmt.Fprintf(stdout, "ptytest %s\n", version)
	case "watch":
		err = runWatch(rest, std)
	case "view":
		err = runView(rest, std)
	case "replay":
		err = runReplay(rest, std)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		printUsage(stderr)
		return &exitError{code: 2, err: fmt.Errorf("unknown command %q", name)}
	}
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `ptytest drives programs on pseudo-terminals.

Usage:
  ptytest check                  verify tmux, the shell and pty support
  ptytest version                print the version
  ptytest watch [flags] -- CMD   run CMD on a pty and serve its screen
  ptytest view [flags] URL       follow a watched session in this terminal
  ptytest replay [flags] [DB]    list recordings, or print one with --recording

Run "ptytest COMMAND --help" for the flags of a command.
`)
}

// loadConfig parses a command's flags on top of the layered configuration
// and returns it with a logger at the configured level.
func loadConfig(name string, args []string, std streams, addFlags func(*pflag.FlagSet)) (*config.Config, *pflag.FlagSet, *slog.Logger, error) {
	fs := pflag.NewFlagSet("ptytest "+name, pflag.ContinueOnError)
	fs.SetOutput(std.stderr)
	if addFlags != nil {
		addFlags(fs)
	}
	cfg, err := config.Load(fs, args)
	if err != nil {
		return nil, nil, nil, err
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(std.stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, fs, logger, nil
}
