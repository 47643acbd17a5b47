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
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/brandon-fryslie/ptytest/internal/record"
)

type replayOptions struct {
	recording string
	last      bool
	realtime  bool
}

func runReplay(args []string, std streams) error {
	var opts replayOptions
	cfg, fs, _, err := loadConfig("replay", args, std, func(fs *pflag.FlagSet) {
		fs.StringVar(&opts.recording, "recording", "", "recording ID to print (default: list recordings)")
		fs.BoolVar(&opts.last, "last", false, "print only the final frame")
		fs.BoolVar(&opts.realtime, "realtime", false, "pause between frames as long as the original session did")
	})
	if err != nil {
		return err
	}

	path := cfg.Record.Path
	switch fs.NArg() {
	case 0:
	case 1:
		path = fs.Arg(0)
	default:
		return &exitError{code: 2, err: errors.New("replay takes at most one database path")}
	}
	if path == "" {
		return &exitError{code: 2, err: errors.New("no database given: pass DB or --record")}
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open recordings: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := record.Open(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := record.NewRepo(db.SQL())

	if opts.recording == "" {
		return listRecordings(ctx, std.stdout, repo)
	}
	return replayRecording(ctx, std.stdout, repo, opts)
}

func listRecordings(ctx context.Context, w io.Writer, repo *record.Repo) error {
	recs, err := repo.List(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "no recordings")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTARTED\tDURATION\tFRAMES\tEXIT\tCOMMAND")
	for _, rec := range recs {
		frames, err := repo.CountFrames(ctx, rec.ID)
		if err != nil {
			return err
		}
		duration, exit := "running", "-"
		if !rec.EndedAt.IsZero() {
			duration = rec.EndedAt.Sub(rec.StartedAt).Round(time.Millisecond).String()
			exit = fmt.Sprint(rec.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			rec.ID,
			rec.Name,
			rec.StartedAt.Local().Format(time.DateTime),
			duration,
			frames,
			exit,
			strings.Join(rec.Command, " "),
		)
	}
	return tw.Flush()
}

func replayRecording(ctx context.Context, w io.Writer, repo *record.Repo, opts replayOptions) error {
	rec, err := repo.Get(ctx, opts.recording)
	if err != nil {
		return err
	}
	frames, err := repo.Frames(ctx, rec.ID)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		fmt.Fprintf(w, "recording %s has no frames\n", rec.ID)
		return nil
	}
	if opts.last {
		frames = frames[len(frames)-1:]
	}

	var prev time.Time
	for _, f := range frames {
		if opts.realtime && !prev.IsZero() {
			select {
			case <-time.After(f.CapturedAt.Sub(prev)):
			case <-ctx.Done():
				return nil
			}
		}
		prev = f.CapturedAt
		fmt.Fprintf(w, "--- frame %d +%s cursor %d,%d\n",
			f.Seq,
			f.CapturedAt.Sub(rec.StartedAt).Round(time.Millisecond),
			f.CursorRow,
			f.CursorCol,
		)
		printLines(w, f.Lines)
	}
	if !rec.EndedAt.IsZero() {
		fmt.Fprintf(w, "--- exited with code %d\n", rec.ExitCode)
	}
	return nil
}
