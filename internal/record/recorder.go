package record

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const queueSize = 256

// Recorder appends broadcaster deliveries to one recording. Frames are
// queued and written by a single goroutine so a slow disk delays the queue,
// not the broadcaster.
type Recorder struct {
	repo   *Repo
	id     string
	logger *slog.Logger

	// mu guards seq and closed, and is held across the send so Close never
	// closes frames under a sender.
	mu     sync.Mutex
	frames chan *Frame
	seq    int
	closed bool
	last   *Frame

	done    chan struct{}
	written atomic.Int64
	err     error
}

// NewRecorder creates the recording row and starts the writer.
func NewRecorder(ctx context.Context, repo *Repo, rec *Recording, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	r := &Recorder{
		repo:   repo,
		id:     rec.ID,
		logger: logger.With("recording", rec.ID),
		frames: make(chan *Frame, queueSize),
		done:   make(chan struct{}),
	}
	go r.write()
	return r, nil
}

// ID returns the recording ID.
func (r *Recorder) ID() string { return r.id }

// Record queues one frame. It has the broadcaster callback signature, so it
// can be passed to Subscribe directly. A frame identical to the previous one
// is skipped, and frames after Close are dropped.
func (r *Recorder) Record(lines []string, cursorCol, cursorRow int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.last.same(lines, cursorCol, cursorRow) {
		return
	}
	r.seq++
	f := &Frame{
		RecordingID: r.id,
		Seq:         r.seq,
		CapturedAt:  time.Now(),
		Lines:       lines,
		CursorRow:   cursorRow,
		CursorCol:   cursorCol,
	}
	r.last = f
	r.frames <- f
}

func (r *Recorder) write() {
	defer close(r.done)
	var errs []error
	for f := range r.frames {
		if err := r.repo.AppendFrame(context.Background(), f); err != nil {
			r.logger.Warn("failed to record frame", "seq", f.Seq, "error", err)
			errs = append(errs, err)
			continue
		}
		r.written.Add(1)
	}
	r.err = errors.Join(errs...)
}

// Written returns the number of frames stored so far.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Close flushes queued frames and marks the recording finished with
// exitCode. Later calls wait for the flush but do not finish the recording
// again.
func (r *Recorder) Close(ctx context.Context, exitCode int) error {
	r.mu.Lock()
	first := !r.closed
	if first {
		r.closed = true
		close(r.frames)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !first {
		return r.err
	}
	if err := r.repo.Finish(ctx, r.id, exitCode); err != nil {
		return errors.Join(r.err, err)
	}
	return r.err
}
