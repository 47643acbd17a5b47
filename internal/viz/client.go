package viz

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const (
	readLimit    = 4096
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// Client is one connected viewer. Its connection lives until the hub closes
// send, so frames queued before hub shutdown are still written.
type Client struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	ctx    context.Context
	cancel context.CancelFunc

	// sendMu guards send against use after close.
	sendMu sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, hub *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		hub:    hub,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, 256),
	}
}

// trySend queues data without blocking. It reports false when the buffer is
// full or the client is gone.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(readLimit)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && c.ctx.Err() == nil {
				c.hub.logger.Debug("viewer read error", "client", c.id, "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.metrics.ClientMessages.WithLabelValues("invalid").Inc()
			c.hub.SendError(c, "invalid message format")
			continue
		}

		switch msg.Type {
		case TypeRefresh:
			c.hub.metrics.ClientMessages.WithLabelValues(msg.Type).Inc()
			c.hub.sendLatest(c)
		default:
			c.hub.metrics.ClientMessages.WithLabelValues("unknown").Inc()
			c.hub.SendError(c, "unknown message type: "+msg.Type)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(msg); err != nil {
				return
			}
		}
	}
}

func (c *Client) ping() error {
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.conn.Ping(ctx)
}

func (c *Client) write(msg []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, msg)
}
