package record

import (
	"context"
	"database/sql"
	"fmt"
)

// step moves the schema from version-1 to version. Steps run in order, each
// in its own transaction together with the user_version bump, so an
// interrupted upgrade resumes at the first step that did not commit.
type step struct {
	version int
	name    string
	stmts   []string
}

var migrations = []step{
	{
		version: 1,
		name:    "create recording tables",
		stmts: []string{
			`CREATE TABLE recordings (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	command TEXT NOT NULL DEFAULT '[]',
	cols INTEGER NOT NULL,
	rows INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL DEFAULT '',
	exit_code INTEGER NOT NULL DEFAULT -1
)`,
			`CREATE TABLE frames (
	recording_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	captured_at TEXT NOT NULL,
	lines TEXT NOT NULL,
	cursor_row INTEGER NOT NULL,
	cursor_col INTEGER NOT NULL,
	PRIMARY KEY (recording_id, seq),
	FOREIGN KEY(recording_id) REFERENCES recordings(id) ON DELETE CASCADE
)`,
		},
	},
	{
		version: 2,
		name:    "index recordings by start time",
		stmts: []string{
			`CREATE INDEX recordings_started_at ON recordings (started_at DESC, id)`,
		},
	},
}

// SchemaVersion is the schema this build writes.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

type queryer interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

func schemaVersion(ctx context.Context, q queryer) (int, error) {
	var v int
	if err := q.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// migrate applies the steps newer than the database's user_version. A
// database that is already current is only read, so a replay opening the
// file while a watch writes it takes no write lock.
func migrate(ctx context.Context, db *sql.DB, steps []step) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	latest := steps[len(steps)-1].version
	if current > latest {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, latest)
	}
	if current == latest {
		return nil
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration connection: %w", err)
	}
	defer conn.Close()

	for _, s := range steps {
		if s.version <= current {
			continue
		}
		if err := apply(ctx, conn, s); err != nil {
			return err
		}
	}
	return nil
}

// apply runs one step inside BEGIN IMMEDIATE. database/sql starts deferred
// transactions, and in WAL mode a deferred reader that later tries to write
// fails with SQLITE_BUSY instead of waiting out busy_timeout.
func apply(ctx context.Context, conn *sql.Conn, s step) (err error) {
	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return fmt.Errorf("failed to start migration %03d: %w", s.version, err)
	}
	defer func() {
		if err != nil {
			_, _ = conn.ExecContext(context.Background(), `ROLLBACK`)
		}
	}()

	// Another process may have run this step while we waited for the lock.
	current, err := schemaVersion(ctx, conn)
	if err != nil {
		return err
	}
	if current >= s.version {
		_, err = conn.ExecContext(ctx, `COMMIT`)
		return err
	}

	for _, stmt := range s.stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed migration %03d (%s): %w", s.version, s.name, err)
		}
	}
	// PRAGMA takes no bind parameters.
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, s.version)); err != nil {
		return fmt.Errorf("failed to set schema version %03d: %w", s.version, err)
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("failed to commit migration %03d: %w", s.version, err)
	}
	return nil
}
