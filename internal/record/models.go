package record

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Recording is one recorded session.
type Recording struct {
	ID        string
	Name      string
	Command   []string
	Cols      int
	Rows      int
	StartedAt time.Time
	// EndedAt is zero while the recording is open.
	EndedAt time.Time
	// ExitCode is -1 until the recording is finished, or when the program was
	// killed by a signal.
	ExitCode int
}

// Frame is one sampled screen.
type Frame struct {
	RecordingID string
	Seq         int
	CapturedAt  time.Time
	Lines       []string
	CursorRow   int
	CursorCol   int
}

// timestampLayout has a fixed-width fraction so stored timestamps sort as
// text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (f *Frame) same(lines []string, cursorCol, cursorRow int) bool {
	return f != nil && f.CursorCol == cursorCol && f.CursorRow == cursorRow && slices.Equal(f.Lines, lines)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(timestampLayout)
}

func formatTimestampOrEmpty(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return formatTimestamp(ts)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

func parseOptionalTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return parseTimestamp(raw)
}

func encodeStringSlice(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	buf, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode string slice: %w", err)
	}
	return string(buf), nil
}

func decodeStringSlice(raw string) ([]string, error) {
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to decode string slice: %w", err)
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}
