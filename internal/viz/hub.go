// Package viz publishes live session screens to websocket viewers.
//
// A Hub fans JSON frames out to every connected viewer. Sessions are attached
// through their broadcaster, so the viewer sees exactly what subscribers see.
package viz

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/brandon-fryslie/ptytest/broadcast"
	"github.com/brandon-fryslie/ptytest/screen"
)

const defaultThrottleInterval = 50 * time.Millisecond

type Hub struct {
	clients    map[string]*Client
	register   chan *clientRegistration
	unregister chan *Client
	broadcast  chan []byte
	token      string
	logger     *slog.Logger
	metrics    *Metrics
	mu         sync.RWMutex

	// latest holds the last encoded frame of each session, in attach order,
	// for painting new viewers.
	latestMu sync.RWMutex
	latest   map[string][]byte
	sessions []string

	throttle        *Throttle
	throttleEnabled atomic.Bool
	running         atomic.Bool
}

type clientRegistration struct {
	client  *Client
	initial [][]byte
}

// HubOption configures a Hub.
type HubOption func(*Hub)

func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithMetrics(m *Metrics) HubOption {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithThrottle sets the per-session frame interval. Zero disables
// throttling.
func WithThrottle(d time.Duration) HubOption {
	return func(h *Hub) {
		if d <= 0 {
			h.throttleEnabled.Store(false)
			return
		}
		h.throttleEnabled.Store(true)
		h.throttle.interval = d
	}
}

// NewHub returns a hub that admits viewers presenting token. An empty token
// admits everyone.
func NewHub(token string, opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *clientRegistration, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan []byte, 256),
		token:      token,
		logger:     slog.Default(),
		latest:     make(map[string][]byte),
	}
	h.throttle = NewThrottle(defaultThrottleInterval, func(_ string, msg ScreenMessage) {
		h.sendBroadcast(msg)
	})
	h.throttleEnabled.Store(true)
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics()
	}
	return h
}

// Metrics returns the hub's metrics.
func (h *Hub) Metrics() *Metrics { return h.metrics }

// Running reports whether Run is active.
func (h *Hub) Running() bool { return h.running.Load() }

// Run serves registrations and broadcasts until ctx is done, then flushes
// throttled frames and disconnects every viewer.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.throttle.FlushAll()
			h.drain()
			h.mu.Lock()
			for _, c := range h.clients {
				c.closeSend()
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			h.metrics.Clients.Set(0)
			return

		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.client.id] = reg.client
			n := len(h.clients)
			h.mu.Unlock()
			for _, data := range reg.initial {
				if !reg.client.trySend(data) {
					h.metrics.Dropped.Inc()
				}
			}
			h.metrics.Clients.Set(float64(n))
			go reg.client.writePump()
			go reg.client.readPump()
			h.logger.Info("viewer connected", "client", reg.client.id, "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.closeSend()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.Clients.Set(float64(n))
			h.logger.Info("viewer disconnected", "client", client.id, "total", n)

		case data := <-h.broadcast:
			h.fanOut(data)
		}
	}
}

// drain delivers broadcasts queued before shutdown.
func (h *Hub) drain() {
	for {
		select {
		case data := <-h.broadcast:
			h.fanOut(data)
		default:
			return
		}
	}
}

func (h *Hub) fanOut(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.trySend(data) {
			h.metrics.Dropped.Inc()
			h.logger.Warn("viewer send buffer full, dropping message", "client", c.id)
		}
	}
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) == 1
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept error", "error", err)
		return
	}

	client := newClient(conn, h)
	select {
	case h.register <- &clientRegistration{client: client, initial: h.latestFrames()}:
	default:
		h.logger.Warn("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
	}
}

func (h *Hub) latestFrames() [][]byte {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	frames := make([][]byte, 0, len(h.sessions))
	for _, s := range h.sessions {
		if data, ok := h.latest[s]; ok {
			frames = append(frames, data)
		}
	}
	return frames
}

// Publish sends a frame to every viewer and remembers it for viewers that
// connect later.
func (h *Hub) Publish(msg ScreenMessage) {
	msg.Type = TypeScreen
	if msg.Ts == 0 {
		msg.Ts = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("error marshaling screen message", "session", msg.Session, "error", err)
		return
	}
	h.latestMu.Lock()
	if _, ok := h.latest[msg.Session]; !ok {
		h.sessions = append(h.sessions, msg.Session)
	}
	h.latest[msg.Session] = data
	h.latestMu.Unlock()
	h.metrics.FramesTotal.WithLabelValues(msg.Session).Inc()

	if h.throttleEnabled.Load() {
		if h.throttle.Add(msg) {
			h.metrics.Coalesced.Inc()
		}
		return
	}
	h.enqueue(data)
}

func (h *Hub) sendBroadcast(msg ScreenMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("error marshaling screen message", "session", msg.Session, "error", err)
		return
	}
	h.enqueue(data)
}

// PublishExit tells viewers that session's program exited. Throttled frames
// of the session are flushed first so the exit follows the final screen.
func (h *Hub) PublishExit(session string, code int) {
	h.throttle.flushSession(session)
	data, err := json.Marshal(ExitMessage{Type: TypeExit, Session: session, Code: code})
	if err != nil {
		h.logger.Error("error marshaling exit message", "error", err)
		return
	}
	h.enqueue(data)
}

func (h *Hub) enqueue(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.metrics.Dropped.Inc()
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

func (h *Hub) SendError(client *Client, message string) {
	data, err := json.Marshal(ErrorMessage{Type: TypeError, Message: message})
	if err != nil {
		h.logger.Error("error marshaling error message", "error", err)
		return
	}
	client.trySend(data)
}

// sendLatest repaints one viewer.
func (h *Hub) sendLatest(client *Client) {
	for _, data := range h.latestFrames() {
		if !client.trySend(data) {
			h.metrics.Dropped.Inc()
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SetThrottleEnabled(enabled bool) {
	h.throttleEnabled.Store(enabled)
}

func (h *Hub) FlushPending() {
	h.throttle.FlushAll()
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.running.Load() {
		return
	}
	select {
	case h.unregister <- c:
	default:
		h.logger.Warn("unregister channel full", "client", c.id)
	}
}

// Attach publishes session's screen: the current state immediately, then
// every broadcaster delivery. Plain and styled rows of a frame always come
// from the same snapshot. The returned function detaches the session.
func (h *Hub) Attach(session string, b *broadcast.Broadcaster) (detach func()) {
	publish := func(snap screen.Snapshot) {
		h.Publish(ScreenMessage{
			Session: session,
			Lines:   snap.Lines,
			Styled:  snap.Styled,
			CursorX: snap.CursorCol,
			CursorY: snap.CursorRow,
		})
	}

	if snap, err := b.State(); err == nil {
		publish(snap)
	} else {
		h.logger.Debug("initial screen unavailable", "session", session, "error", err)
	}
	handle := b.SubscribeSnapshots(publish)
	if err := h.metrics.WatchBroadcaster(session, b); err != nil {
		h.logger.Warn("failed to export broadcaster metrics", "session", session, "error", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.Unsubscribe(handle)
			h.metrics.UnwatchBroadcaster(session)
		})
	}
}
