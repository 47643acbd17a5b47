package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a recording does not exist.
var ErrNotFound = errors.New("recording not found")

type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// Create inserts rec, assigning an ID and start time when they are empty.
func (r *Repo) Create(ctx context.Context, rec *Recording) error {
	if rec == nil {
		return fmt.Errorf("recording is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = nowUTC()
	}
	if rec.EndedAt.IsZero() {
		rec.ExitCode = -1
	}
	command, err := encodeStringSlice(rec.Command)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO recordings (id, name, command, cols, rows, started_at, ended_at, exit_code)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		rec.ID,
		rec.Name,
		command,
		rec.Cols,
		rec.Rows,
		formatTimestamp(rec.StartedAt),
		formatTimestampOrEmpty(rec.EndedAt),
		rec.ExitCode,
	)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	return nil
}

// Finish marks a recording as ended with the program's exit code.
func (r *Repo) Finish(ctx context.Context, id string, exitCode int) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE recordings SET ended_at = ?, exit_code = ? WHERE id = ?
`, formatTimestamp(nowUTC()), exitCode, id)
	if err != nil {
		return fmt.Errorf("failed to finish recording %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish recording %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finish recording %q: %w", id, ErrNotFound)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Recording, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, command, cols, rows, started_at, ended_at, exit_code
FROM recordings
WHERE id = ?
`, id)
	rec, err := scanRecording(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get recording %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get recording %q: %w", id, err)
	}
	return rec, nil
}

// List returns all recordings, newest first.
func (r *Repo) List(ctx context.Context) ([]*Recording, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, command, cols, rows, started_at, ended_at, exit_code
FROM recordings
ORDER BY started_at DESC, id
`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var out []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recordings: %w", err)
	}
	return out, nil
}

// Delete removes a recording and its frames.
func (r *Repo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete recording %q: %w", id, err)
	}
	return nil
}

// AppendFrame stores f. Seq must increase within a recording.
func (r *Repo) AppendFrame(ctx context.Context, f *Frame) error {
	if f == nil {
		return fmt.Errorf("frame is required")
	}
	if f.CapturedAt.IsZero() {
		f.CapturedAt = nowUTC()
	}
	lines, err := encodeStringSlice(f.Lines)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO frames (recording_id, seq, captured_at, lines, cursor_row, cursor_col)
VALUES (?, ?, ?, ?, ?, ?)
`,
		f.RecordingID,
		f.Seq,
		formatTimestamp(f.CapturedAt),
		lines,
		f.CursorRow,
		f.CursorCol,
	)
	if err != nil {
		return fmt.Errorf("failed to append frame %d to %q: %w", f.Seq, f.RecordingID, err)
	}
	return nil
}

// Frames returns a recording's frames in capture order.
func (r *Repo) Frames(ctx context.Context, recordingID string) ([]*Frame, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT recording_id, seq, captured_at, lines, cursor_row, cursor_col
FROM frames
WHERE recording_id = ?
ORDER BY seq
`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	defer rows.Close()

	var out []*Frame
	for rows.Next() {
		var f Frame
		var capturedAtRaw, linesRaw string
		if err := rows.Scan(&f.RecordingID, &f.Seq, &capturedAtRaw, &linesRaw, &f.CursorRow, &f.CursorCol); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		if f.CapturedAt, err = parseTimestamp(capturedAtRaw); err != nil {
			return nil, err
		}
		if f.Lines, err = decodeStringSlice(linesRaw); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate frames: %w", err)
	}
	return out, nil
}

// CountFrames returns the number of frames stored for a recording.
func (r *Repo) CountFrames(ctx context.Context, recordingID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(1) FROM frames WHERE recording_id = ?`, recordingID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecording(row scanner) (*Recording, error) {
	var rec Recording
	var commandRaw, startedAtRaw, endedAtRaw string
	if err := row.Scan(&rec.ID, &rec.Name, &commandRaw, &rec.Cols, &rec.Rows, &startedAtRaw, &endedAtRaw, &rec.ExitCode); err != nil {
		return nil, err
	}
	var err error
	if rec.Command, err = decodeStringSlice(commandRaw); err != nil {
		return nil, err
	}
	if rec.StartedAt, err = parseTimestamp(startedAtRaw); err != nil {
		return nil, err
	}
	if rec.EndedAt, err = parseOptionalTimestamp(endedAtRaw); err != nil {
		return nil, err
	}
	return &rec, nil
}
