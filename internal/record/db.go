// Package record stores broadcaster frames in SQLite so a session can be
// replayed after the program under test has exited.
package record

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// BusyTimeout is how long a connection waits for another process's write
// lock before failing with SQLITE_BUSY.
const BusyTimeout = 5 * time.Second

// DB is an open recordings database. A watch process writes frames while a
// replay process reads the same file: the database runs in WAL mode so
// readers never block the writer, and both wait out each other's locks for
// up to BusyTimeout.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens the database at path, creating the file and its directory if
// needed, and brings the schema up to date.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %q: %w", path, err)
	}

	// One connection per process; the pragmas in the DSN are applied to it
	// whenever database/sql reopens it.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open database at %q: %w", path, err)
	}

	if err := migrate(ctx, conn, migrations); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &DB{conn: conn, path: path}, nil
}

// dsn builds the modernc.org/sqlite connection string for path.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", "synchronous(normal)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

// SQL returns the underlying handle for building a Repo.
func (d *DB) SQL() *sql.DB {
	return d.conn
}

// Path returns the file the database was opened from.
func (d *DB) Path() string {
	return d.path
}

// Close checkpoints the write-ahead log and closes the database.
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	// A reader still holding a snapshot makes the checkpoint partial, which
	// is fine: the next writer finishes it.
	_, _ = d.conn.Exec(`PRAGMA wal_checkpoint(PASSIVE)`)
	return d.conn.Close()
}
