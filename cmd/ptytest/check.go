package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/brandon-fryslie/ptytest/internal/config"
	"github.com/brandon-fryslie/ptytest/internal/record"
	"github.com/brandon-fryslie/ptytest/neovim"
	"github.com/brandon-fryslie/ptytest/pty"
)

type checkResult struct {
	Name     string
	OK       bool
	Required bool
	Detail   string
}

func runCheck(args []string, std streams) error {
	cfg, _, _, err := loadConfig("check", args, std, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	renderer := lipgloss.NewRenderer(std.stdout)
	okStyle := renderer.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle := renderer.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle := renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)

	failed := false
	for _, r := range runChecks(ctx, cfg) {
		status, style := "ok", okStyle
		switch {
		case r.OK:
		case r.Required:
			status, style = "FAIL", failStyle
			failed = true
		default:
			status, style = "warn", warnStyle
		}
		fmt.Fprintf(std.stdout, "%s %-7s %s\n", style.Render(fmt.Sprintf("%-5s", status)), r.Name, r.Detail)
	}
	if failed {
		return &exitError{code: 1, err: errors.New("required checks failed")}
	}
	return nil
}

func runChecks(ctx context.Context, cfg *config.Config) []checkResult {
	results := []checkResult{
		checkTmux(ctx, cfg.Tmux.Binary),
		checkShell(cfg),
		checkPty(ctx, cfg),
		checkNvim(cfg),
	}
	if cfg.Record.Path != "" {
		results = append(results, checkRecord(ctx, cfg.Record.Path))
	}
	return results
}

func checkTmux(ctx context.Context, binary string) checkResult {
	r := checkResult{Name: "tmux", Required: true}
	path, err := exec.LookPath(binary)
	if err != nil {
		r.Detail = fmt.Sprintf("%s not found on PATH", binary)
		return r
	}
	out, err := exec.CommandContext(ctx, path, "-V").CombinedOutput()
	if err != nil {
		r.Detail = fmt.Sprintf("%s -V: %v", path, err)
		return r
	}
	r.OK = true
	r.Detail = fmt.Sprintf("%s (%s)", strings.TrimSpace(string(out)), path)
	return r
}

func checkShell(cfg *config.Config) checkResult {
	r := checkResult{Name: "shell", Required: true}
	argv, err := cfg.ShellArgv()
	if err != nil {
		r.Detail = err.Error()
		return r
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		r.Detail = fmt.Sprintf("%s not found on PATH", argv[0])
		return r
	}
	r.OK = true
	r.Detail = path
	return r
}

// checkNvim starts Neovim the way package neovim does in tests. Neovim is
// only needed for testing editor plugins.
func checkNvim(cfg *config.Config) checkResult {
	r := checkResult{Name: "nvim"}
	start := time.Now()
	s, err := neovim.New(neovim.Config{PTY: pty.Config{Cols: cfg.Cols, Rows: cfg.Rows, Timeout: cfg.Timeout}})
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			r.Detail = "nvim not found on PATH (only needed for the neovim package)"
			return r
		}
		r.Detail = firstLine(err.Error())
		return r
	}
	defer s.Cleanup()
	version, err := neovim.LuaValue[string](s, "return tostring(vim.version())")
	if err != nil {
		r.Detail = firstLine(err.Error())
		return r
	}
	r.OK = true
	r.Detail = fmt.Sprintf("nvim %s, started in %s", version, time.Since(start).Round(time.Millisecond))
	return r
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// checkPty spawns a trivial program on a pseudo-terminal and waits for it.
func checkPty(ctx context.Context, cfg *config.Config) checkResult {
	r := checkResult{Name: "pty", Required: true}
	argv, err := cfg.ShellArgv()
	if err != nil {
		r.Detail = "no shell to spawn"
		return r
	}
	argv = append(argv, "-c", "exit 0")

	start := time.Now()
	s, err := pty.New(argv, pty.Config{Cols: cfg.Cols, Rows: cfg.Rows})
	if err != nil {
		r.Detail = err.Error()
		return r
	}
	defer s.Cleanup()

	select {
	case <-s.Done():
	case <-ctx.Done():
		r.Detail = "spawned program did not exit"
		return r
	}
	if code := s.ExitCode(); code != 0 {
		r.Detail = fmt.Sprintf("spawned program exited with %d", code)
		return r
	}
	r.OK = true
	r.Detail = fmt.Sprintf("%dx%d, spawned in %s", cfg.Cols, cfg.Rows, time.Since(start).Round(time.Millisecond))
	return r
}

func checkRecord(ctx context.Context, path string) checkResult {
	r := checkResult{Name: "record"}
	db, err := record.Open(ctx, path)
	if err != nil {
		r.Detail = err.Error()
		return r
	}
	defer db.Close()
	r.OK = true
	r.Detail = path
	return r
}
