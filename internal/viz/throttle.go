package viz

import (
	"sync"
	"time"
)

// Throttle coalesces frames per session: at most one frame per session is
// flushed per interval, and it is the newest one queued.
type Throttle struct {
	mu       sync.Mutex
	pending  map[string]*pendingFrame
	interval time.Duration
	onFlush  func(session string, msg ScreenMessage)
}

type pendingFrame struct {
	msg       ScreenMessage
	coalesced int
	timer     *time.Timer
}

func NewThrottle(interval time.Duration, onFlush func(string, ScreenMessage)) *Throttle {
	return &Throttle{
		pending:  make(map[string]*pendingFrame),
		interval: interval,
		onFlush:  onFlush,
	}
}

// Add queues msg, replacing any frame for the same session that has not
// been flushed yet. It returns true when a queued frame was replaced.
func (t *Throttle) Add(msg ScreenMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	session := msg.Session
	p, exists := t.pending[session]
	if !exists {
		p = &pendingFrame{}
		t.pending[session] = p
	}
	replaced := exists
	if replaced {
		p.coalesced++
	}
	p.msg = msg

	if p.timer == nil {
		p.timer = time.AfterFunc(t.interval, func() {
			t.flushSession(session)
		})
	}
	return replaced
}

func (t *Throttle) flushSession(session string) {
	t.mu.Lock()
	p, exists := t.pending[session]
	if !exists {
		t.mu.Unlock()
		return
	}
	delete(t.pending, session)
	t.mu.Unlock()

	p.timer.Stop()
	if t.onFlush != nil {
		t.onFlush(session, p.msg)
	}
}

// FlushAll sends every queued frame immediately.
func (t *Throttle) FlushAll() {
	t.mu.Lock()
	sessions := make([]string, 0, len(t.pending))
	for s := range t.pending {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	for _, s := range sessions {
		t.flushSession(s)
	}
}
