// Package broadcast fans live screen updates out to any number of observers.
//
// A Broadcaster samples a Source at a fixed interval and, when the screen
// changed since the previous sample, calls every subscriber in registration
// order. Delivery is latest-at-tick: each sampled change reaches every
// subscriber, in order, but intermediate states between two samples are not
// seen. Callbacks run synchronously on the polling goroutine, so a slow
// callback delays the next sample but never the program being observed.
package broadcast

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brandon-fryslie/ptytest/screen"
)

const (
	defaultInterval = 100 * time.Millisecond
	joinTimeout     = time.Second
)

// Source provides screen state to sample.
type Source interface {
	Snapshot() (screen.Snapshot, error)
}

// Callback receives a screen update. lines is owned by the callee.
type Callback func(lines []string, cursorCol, cursorRow int)

// SnapshotCallback receives the whole sampled state, including styled rows
// taken together with the plain ones. The snapshot is owned by the callee.
type SnapshotCallback func(snap screen.Snapshot)

// Handle identifies a subscription.
type Handle uint64

type subscriber struct {
	id      Handle
	fn      Callback
	snapFn  SnapshotCallback
	removed atomic.Bool
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithInterval sets the sampling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithAlwaysNotify delivers every sample, changed or not.
func WithAlwaysNotify() Option {
	return func(b *Broadcaster) { b.alwaysNotify = true }
}

// WithLogger sets the logger used for callback panics and sampling errors.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.logger = l
		}
	}
}

// Broadcaster polls a Source and notifies subscribers of changes.
type Broadcaster struct {
	src          Source
	interval     time.Duration
	alwaysNotify bool
	logger       *slog.Logger

	// subMu guards subs and nextID only. It is never held while calling the
	// source or a callback.
	subMu  sync.Mutex
	subs   []*subscriber
	nextID Handle

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	// last is only touched by the polling goroutine.
	last    screen.Snapshot
	hasLast bool

	ticks      atomic.Uint64
	deliveries atomic.Uint64
}

// New returns a stopped Broadcaster for src.
func New(src Source, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		src:      src,
		interval: defaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Interval returns the sampling interval.
func (b *Broadcaster) Interval() time.Duration { return b.interval }

// Start launches the polling goroutine. Starting a running Broadcaster is a
// no-op. If an earlier Shutdown gave up waiting, Start blocks until that
// goroutine has finished, so at most one ever polls.
func (b *Broadcaster) Start() {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return
	}
	if b.done != nil {
		<-b.done
	}
	b.running = true
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.run(b.stop, b.done)
}

// Running reports whether the polling goroutine is active.
func (b *Broadcaster) Running() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.running
}

// Shutdown stops polling, waits up to a second for the goroutine to finish
// and drops every subscription. It is safe to call repeatedly.
func (b *Broadcaster) Shutdown() {
	b.runMu.Lock()
	wasRunning := b.running
	done := b.done
	if wasRunning {
		close(b.stop)
		b.running = false
	}
	b.runMu.Unlock()

	if wasRunning {
		select {
		case <-done:
		case <-time.After(joinTimeout):
			b.logger.Warn("broadcaster did not stop in time", "timeout", joinTimeout)
		}
	}

	b.subMu.Lock()
	for _, s := range b.subs {
		s.removed.Store(true)
	}
	b.subs = nil
	b.subMu.Unlock()
}

// Subscribe registers fn and returns a handle for Unsubscribe.
func (b *Broadcaster) Subscribe(fn Callback) Handle {
	return b.add(&subscriber{fn: fn})
}

// SubscribeSnapshots registers fn for whole snapshots. It shares ordering and
// handles with Subscribe.
func (b *Broadcaster) SubscribeSnapshots(fn SnapshotCallback) Handle {
	return b.add(&subscriber{snapFn: fn})
}

func (b *Broadcaster) add(s *subscriber) Handle {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.nextID++
	s.id = b.nextID
	b.subs = append(b.subs, s)
	return s.id
}

// Unsubscribe removes a subscription. Once it returns, the callback receives
// no further updates. It reports whether the handle was registered.
func (b *Broadcaster) Unsubscribe(h Handle) bool {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for i, s := range b.subs {
		if s.id == h {
			s.removed.Store(true)
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// SubscriberCount returns the number of registered callbacks.
func (b *Broadcaster) SubscriberCount() int {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	return len(b.subs)
}

// State samples the source immediately, for painting a new viewer.
func (b *Broadcaster) State() (screen.Snapshot, error) {
	if b.src == nil {
		return screen.Snapshot{}, errors.New("broadcast: no source")
	}
	return b.src.Snapshot()
}

// Stats reports how many samples were taken and callbacks invoked.
func (b *Broadcaster) Stats() (ticks, deliveries uint64) {
	return b.ticks.Load(), b.deliveries.Load()
}

func (b *Broadcaster) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	b.hasLast = false
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.tick()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			b.tick()
		}
	}
}

func (b *Broadcaster) tick() {
	b.ticks.Add(1)

	snap, err := b.State()
	if err != nil {
		b.logger.Debug("broadcast snapshot failed", "error", err)
		return
	}
	if b.hasLast && !b.alwaysNotify && snap.Equal(b.last) {
		return
	}
	b.last = snap
	b.hasLast = true

	b.subMu.Lock()
	subs := make([]*subscriber, len(b.subs))
	copy(subs, b.subs)
	b.subMu.Unlock()

	for _, s := range subs {
		if s.removed.Load() {
			continue
		}
		b.deliver(s, snap)
	}
}

func (b *Broadcaster) deliver(s *subscriber, snap screen.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("broadcast subscriber panicked", "subscriber", uint64(s.id), "panic", r)
		}
	}()
	if s.snapFn != nil {
		s.snapFn(snap.Clone())
	} else {
		s.fn(slices.Clone(snap.Lines), snap.CursorCol, snap.CursorRow)
	}
	b.deliveries.Add(1)
}
