package viz

const (
	TypeScreen  = "screen"
	TypeExit    = "exit"
	TypeError   = "error"
	TypeRefresh = "refresh"
)

// ScreenMessage is one frame of a session's screen.
type ScreenMessage struct {
	Type    string   `json:"type"`
	Session string   `json:"session"`
	Lines   []string `json:"lines"`
	Styled  []string `json:"styled,omitempty"`
	CursorX int      `json:"cursor_x"`
	CursorY int      `json:"cursor_y"`
	Ts      int64    `json:"ts"`
}

// ExitMessage reports that a session's program exited.
type ExitMessage struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Code    int    `json:"code"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ClientMessage struct {
	Type string `json:"type"`
}

// Message is any server message, as decoded by a viewer.
type Message struct {
	Type    string   `json:"type"`
	Session string   `json:"session,omitempty"`
	Lines   []string `json:"lines,omitempty"`
	Styled  []string `json:"styled,omitempty"`
	CursorX int      `json:"cursor_x,omitempty"`
	CursorY int      `json:"cursor_y,omitempty"`
	Ts      int64    `json:"ts,omitempty"`
	Code    int      `json:"code,omitempty"`
	Message string   `json:"message,omitempty"`
}
