package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"nhooyr.io/websocket"

	"github.com/brandon-fryslie/ptytest/internal/viz"
)

type viewOptions struct {
	plain   bool
	session string
	once    bool
}

func runView(args []string, std streams) error {
	var opts viewOptions
	cfg, fs, _, err := loadConfig("view", args, std, func(fs *pflag.FlagSet) {
		fs.BoolVar(&opts.plain, "plain", false, "print each frame as plain text instead of redrawing")
		fs.StringVar(&opts.session, "session", "", "only show this session")
		fs.BoolVar(&opts.once, "once", false, "exit after the first frame")
	})
	if err != nil {
		return err
	}

	url := "http://" + cfg.Viz.Addr
	switch fs.NArg() {
	case 0:
	case 1:
		url = fs.Arg(0)
	default:
		return &exitError{code: 2, err: errors.New("view takes at most one URL")}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v, err := viz.Dial(ctx, url, cfg.Viz.Token)
	if err != nil {
		return err
	}
	defer v.Close()

	r := newRenderer(std.stdout, opts.plain)
	return view(ctx, v, r, opts)
}

// view renders frames until the watched program exits, the server goes
// away or ctx is done.
func view(ctx context.Context, v *viz.Viewer, r *renderer, opts viewOptions) error {
	for {
		msg, err := v.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.CloseStatus(err) != -1 {
				return nil
			}
			return err
		}
		if opts.session != "" && msg.Session != opts.session && msg.Type != viz.TypeError {
			continue
		}
		switch msg.Type {
		case viz.TypeScreen:
			r.frame(msg)
			if opts.once {
				return nil
			}
		case viz.TypeExit:
			r.exit(msg)
			if msg.Code > 0 {
				return &exitError{code: msg.Code}
			}
			return nil
		case viz.TypeError:
			return fmt.Errorf("server: %s", msg.Message)
		}
	}
}

// renderer draws frames. On a terminal it redraws in place using the styled
// lines and clips to the terminal width; otherwise it prints plain frames
// one after another.
type renderer struct {
	w      io.Writer
	redraw bool
	width  int
}

func newRenderer(w io.Writer, plain bool) *renderer {
	r := &renderer{w: w}
	if f, ok := w.(*os.File); ok && !plain && term.IsTerminal(int(f.Fd())) {
		r.redraw = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			r.width = width
		}
	}
	return r
}

func (r *renderer) frame(msg viz.Message) {
	if !r.redraw {
		fmt.Fprintf(r.w, "--- %s\n", msg.Session)
		printLines(r.w, msg.Lines)
		return
	}

	lines := msg.Lines
	if len(msg.Styled) == len(msg.Lines) {
		lines = msg.Styled
	}
	var b strings.Builder
	b.WriteString("\x1b[H\x1b[2J")
	for i, line := range lines {
		if r.width > 0 {
			line = ansi.Truncate(line, r.width, "")
		}
		b.WriteString(line)
		if i < len(lines)-1 {
			b.WriteString("\r\n")
		}
	}
	fmt.Fprintf(&b, "\x1b[%d;%dH", msg.CursorY+1, msg.CursorX+1)
	_, _ = io.WriteString(r.w, b.String())
}

func (r *renderer) exit(msg viz.Message) {
	if r.redraw {
		_, _ = io.WriteString(r.w, "\x1b[0m\r\n")
	}
	fmt.Fprintf(r.w, "%s exited with code %d\n", msg.Session, msg.Code)
}
