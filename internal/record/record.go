// Package record persists a transcript of the visible terminal stream to a
// SQLite database, for replay and post-mortem inspection of debugger
// sessions. Only bytes the user actually saw are recorded; suppressed
// injected-command output never reaches the recorder.
package record

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	argv TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT
);

CREATE TABLE IF NOT EXISTS chunks (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	at TEXT NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY(session_id, seq),
	FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
`

// Recorder appends the visible output stream of one session to the
// transcript database. Writes are applied on a background goroutine so a
// slow disk never stalls the terminal; a full queue drops chunks with a log
// line rather than blocking the proxy loop.
type Recorder struct {
	conn      *sql.DB
	sessionID string
	logger    *slog.Logger

	queue chan []byte
	seq   int
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// Open creates (or opens) the transcript database at path and registers a
// new session row for argv.
func Open(ctx context.Context, path string, argv []string) (*Recorder, error) {
	if path == "" {
		return nil, fmt.Errorf("record: database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record: create database directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("record: open database at %q: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("record: ping database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("record: enable foreign keys: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("record: apply schema: %w", err)
	}

	r := &Recorder{
		conn:      conn,
		sessionID: uuid.NewString(),
		logger:    slog.Default(),
		queue:     make(chan []byte, 256),
	}

	_, err = conn.ExecContext(ctx, `
INSERT INTO sessions (id, argv, started_at) VALUES (?, ?, ?)
`, r.sessionID, strings.Join(argv, " "), timestamp())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("record: insert session: %w", err)
	}

	r.wg.Add(1)
	go r.writePump()
	return r, nil
}

// SessionID returns the transcript id assigned to this session.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// Chunk enqueues one visible output chunk. Never blocks; drops when the
// writer has fallen behind.
func (r *Recorder) Chunk(data []byte) {
	if len(data) == 0 {
		return
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)

	select {
	case r.queue <- chunk:
	default:
		r.logger.Warn("transcript queue full, dropping chunk", "bytes", len(data))
	}
}

func (r *Recorder) writePump() {
	defer r.wg.Done()

	for chunk := range r.queue {
		r.seq++
		_, err := r.conn.Exec(`
INSERT INTO chunks (session_id, seq, at, data) VALUES (?, ?, ?, ?)
`, r.sessionID, r.seq, timestamp(), chunk)
		if err != nil {
			r.logger.Warn("transcript insert failed", "error", err)
		}
	}
}

// Close drains queued chunks, stamps the session's end time, and closes the
// database. Safe to call multiple times.
func (r *Recorder) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		close(r.queue)
		r.wg.Wait()

		if _, e := r.conn.ExecContext(ctx, `
UPDATE sessions SET ended_at = ? WHERE id = ?
`, timestamp(), r.sessionID); e != nil {
			err = fmt.Errorf("record: mark session ended: %w", e)
		}
		if e := r.conn.Close(); e != nil && err == nil {
			err = fmt.Errorf("record: close database: %w", e)
		}
	})
	return err
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
