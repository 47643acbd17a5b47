package viz

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"
)

// Viewer is a websocket client of a Hub.
type Viewer struct {
	conn *websocket.Conn
}

// Dial connects to a viewer server. rawURL may be ws://, wss://, http:// or
// https:// and may omit the /ws path. A non-empty token is sent as a bearer
// token.
func Dial(ctx context.Context, rawURL, token string) (*Viewer, error) {
	u, err := wsURL(rawURL)
	if err != nil {
		return nil, err
	}
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, resp, err := websocket.Dial(ctx, u, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: unauthorized", u)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	conn.SetReadLimit(1 << 20)
	return &Viewer{conn: conn}, nil
}

func wsURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid url %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// Read blocks for the next server message.
func (v *Viewer) Read(ctx context.Context) (Message, error) {
	_, data, err := v.conn.Read(ctx)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("invalid server message: %w", err)
	}
	return msg, nil
}

// Refresh asks the server to resend the latest frame of every session.
func (v *Viewer) Refresh(ctx context.Context) error {
	data, err := json.Marshal(ClientMessage{Type: TypeRefresh})
	if err != nil {
		return err
	}
	return v.conn.Write(ctx, websocket.MessageText, data)
}

func (v *Viewer) Close() error {
	return v.conn.Close(websocket.StatusNormalClosure, "")
}
