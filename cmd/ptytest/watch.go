package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/brandon-fryslie/ptytest/broadcast"
	"github.com/brandon-fryslie/ptytest/internal/config"
	"github.com/brandon-fryslie/ptytest/internal/record"
	"github.com/brandon-fryslie/ptytest/internal/viz"
	"github.com/brandon-fryslie/ptytest/pty"
	"github.com/brandon-fryslie/ptytest/screen"
	"github.com/brandon-fryslie/ptytest/session"
	"github.com/brandon-fryslie/ptytest/tmux"
)

type watchOptions struct {
	name        string
	interactive bool
	noServer    bool
	print       bool
	tmux        bool
	throttle    time.Duration
}

func runWatch(args []string, std streams) error {
	var opts watchOptions
	cfg, fs, logger, err := loadConfig("watch", args, std, func(fs *pflag.FlagSet) {
		fs.StringVar(&opts.name, "name", "", "session name shown to viewers (default: program name)")
		fs.BoolVarP(&opts.interactive, "interactive", "i", false, "forward this terminal's input to the program")
		fs.BoolVar(&opts.noServer, "no-server", false, "do not start the viewer server")
		fs.BoolVar(&opts.print, "print", false, "print the final screen to stdout when the program exits")
		fs.BoolVar(&opts.tmux, "tmux", false, "run the program in a tmux session instead of a bare pty")
		fs.DurationVar(&opts.throttle, "throttle", 50*time.Millisecond, "coalesce frames sent to viewers within this window (0 disables)")
	})
	if err != nil {
		return err
	}

	argv := fs.Args()
	if len(argv) == 0 {
		if argv, err = cfg.ShellArgv(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watch(ctx, cfg, argv, opts, std, logger)
}

// target is the watched program, whichever backend runs it.
type target struct {
	sess     session.Session
	name     string
	bc       *broadcast.Broadcaster
	snapshot func() (screen.Snapshot, error)
	done     <-chan struct{}
	// exitCode is -1 when the backend cannot report it.
	exitCode func() int
	cleanup  func() error
}

func startPty(argv []string, cfg *config.Config, opts watchOptions, logger *slog.Logger) (*target, error) {
	s, err := pty.New(argv, pty.Config{
		Name:              opts.name,
		Cols:              cfg.Cols,
		Rows:              cfg.Rows,
		Timeout:           cfg.Timeout,
		Broadcast:         true,
		BroadcastInterval: cfg.Viz.Interval,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	return &target{
		sess:     s,
		name:     s.Name(),
		bc:       s.Broadcaster(),
		snapshot: s.Snapshot,
		done:     s.Done(),
		exitCode: s.ExitCode,
		cleanup:  s.Cleanup,
	}, nil
}

func startTmux(argv []string, cfg *config.Config, opts watchOptions, logger *slog.Logger) (*target, error) {
	s, err := tmux.New(tmux.Config{
		Name:      opts.name,
		Cols:      cfg.Cols,
		Rows:      cfg.Rows,
		Timeout:   cfg.Timeout,
		Shell:     argv,
		UseConfig: cfg.Tmux.UseConfig,
		Socket:    cfg.Tmux.Socket,
		Binary:    cfg.Tmux.Binary,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	bc := broadcast.New(s, broadcast.WithInterval(cfg.Viz.Interval), broadcast.WithLogger(logger))
	bc.Start()
	return &target{
		sess:     s,
		name:     s.Name(),
		bc:       bc,
		snapshot: s.Snapshot,
		// The attached client exits when the tmux session ends.
		done:     s.Control().Done(),
		exitCode: func() int { return -1 },
		cleanup: func() error {
			bc.Shutdown()
			return s.Cleanup()
		},
	}, nil
}

func watch(parent context.Context, cfg *config.Config, argv []string, opts watchOptions, std streams, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	start := startPty
	if opts.tmux {
		start = startTmux
	}
	t, err := start(argv, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer t.cleanup()

	var final lastFrame
	t.bc.Subscribe(final.set)

	var rec *record.Recorder
	if cfg.Record.Path != "" {
		db, err := record.Open(ctx, cfg.Record.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		rec, err = record.NewRecorder(ctx, record.NewRepo(db.SQL()), &record.Recording{
			Name:    t.name,
			Command: argv,
			Cols:    cfg.Cols,
			Rows:    cfg.Rows,
		}, logger)
		if err != nil {
			return err
		}
		t.bc.Subscribe(rec.Record)
		recordState(rec, t)
		logger.Info("recording session", "path", cfg.Record.Path, "recording", rec.ID())
	}

	token := ""
	if !opts.noServer {
		if token, err = cfg.EnsureVizToken(); err != nil {
			return err
		}
	}
	hub := viz.NewHub(token, viz.WithHubLogger(logger), viz.WithThrottle(opts.throttle))
	detach := hub.Attach(t.name, t.bc)
	defer detach()

	var server *viz.Server
	if !opts.noServer {
		server = viz.NewServer(cfg.Viz.Addr, hub, logger)
		if err := server.Listen(); err != nil {
			return err
		}
		fmt.Fprintf(std.stderr, "watching %s at http://%s/ws?token=%s\n", strings.Join(argv, " "), server.Addr(), token)
		fmt.Fprintf(std.stderr, "view with: ptytest view http://%s --viz-token %s\n", server.Addr(), token)
	}

	if opts.interactive {
		restore, err := forwardInput(ctx, std.stdin, t.sess)
		if err != nil {
			return err
		}
		defer restore()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if server != nil {
		g.Go(func() error { return server.Start(gctx) })
	}
	g.Go(func() error {
		select {
		case <-t.done:
		case <-gctx.Done():
			return nil
		}
		// Let the reader and one more broadcaster tick catch the last output.
		select {
		case <-time.After(2 * cfg.Viz.Interval):
		case <-gctx.Done():
		}
		hub.PublishExit(t.name, t.exitCode())
		logger.Info("program exited", "code", t.exitCode())
		cancel()
		return nil
	})
	runErr := g.Wait()

	if rec != nil {
		recordState(rec, t)
	}
	if err := t.cleanup(); err != nil {
		logger.Debug("cleanup", "error", err)
	}
	if rec != nil {
		recordState(rec, t)
		if err := rec.Close(context.Background(), t.exitCode()); err != nil {
			logger.Warn("failed to finish recording", "error", err)
		}
	}
	if opts.print {
		if snap, err := t.snapshot(); err == nil {
			final.set(snap.Lines, snap.CursorCol, snap.CursorRow)
		}
		printLines(std.stdout, final.get())
	}

	if runErr != nil {
		return runErr
	}
	if errors.Is(parent.Err(), context.Canceled) {
		return nil
	}
	if code := t.exitCode(); code > 0 {
		return &exitError{code: code}
	}
	return nil
}

// lastFrame keeps the most recent broadcaster delivery. A tmux session can no
// longer be captured once its program has exited.
type lastFrame struct {
	mu    sync.Mutex
	lines []string
}

func (f *lastFrame) set(lines []string, _, _ int) {
	f.mu.Lock()
	f.lines = lines
	f.mu.Unlock()
}

func (f *lastFrame) get() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lines
}

// recordState records the current screen. Output that arrived before the
// recorder subscribed, or after the last broadcaster tick, is otherwise lost.
func recordState(rec *record.Recorder, t *target) {
	if snap, err := t.snapshot(); err == nil {
		rec.Record(snap.Lines, snap.CursorCol, snap.CursorRow)
	}
}

// forwardInput puts stdin in raw mode when it is a terminal and copies it to
// the session until ctx is done. The returned function restores the terminal.
func forwardInput(ctx context.Context, stdin *os.File, s session.Session) (func(), error) {
	restore := func() {}
	fd := int(stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return nil, fmt.Errorf("failed to set raw mode: %w", err)
		}
		restore = func() { _ = term.Restore(fd, state) }
	}

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := stdin.Read(buf)
			if n > 0 {
				if serr := s.SendRaw(string(buf[:n])); serr != nil {
					return
				}
			}
			if err != nil || ctx.Err() != nil {
				return
			}
		}
	}()
	return restore, nil
}

// printLines writes lines without trailing blank rows.
func printLines(w io.Writer, lines []string) {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	for _, line := range lines[:end] {
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}
