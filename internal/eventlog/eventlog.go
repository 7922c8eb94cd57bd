// Package eventlog is a supplemental sqlite-backed durability layer for
// the Hub's event stream (spec §4.H): recent `event` frames per client
// stream are appended here and can be queried with Since and LatestSeq.
// The hub only appends; it answers seqGap with a freshly-built
// push.snapshot and does not read this log. Grounded
// on the teacher's desktop/d1-shim (database/sql over
// modernc.org/sqlite, WAL + busy_timeout pragmas, retry-on-SQLITE_BUSY).
package eventlog

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one durable event frame.
type Record struct {
	Seq          int64
	Event        string
	PayloadJSON  string
	StateVersion string
	CreatedAt    time.Time
}

// Log appends and reads back per-stream event history.
type Log struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and
// ensures the schema exists.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db}, nil
}

func configure(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("eventlog: journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("eventlog: busy_timeout: %w", err)
	}
	return nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS events (
	stream_id     TEXT NOT NULL,
	seq           INTEGER NOT NULL,
	event         TEXT NOT NULL,
	payload_json  TEXT NOT NULL,
	state_version TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	PRIMARY KEY (stream_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_events_stream_created ON events(stream_id, created_at);
`
	_, err := withRetry(db, schema)
	return err
}

// Close closes the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append records one event frame for streamID at seq. Idempotent on
// (streamID, seq): re-appending the same seq is a no-op rather than an
// error, since the hub may retry a broadcast after a partial failure.
func (l *Log) Append(streamID string, seq int64, event, payloadJSON, stateVersionJSON string, at time.Time) error {
	_, err := withRetry(l.db, `
INSERT INTO events (stream_id, seq, event, payload_json, state_version, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(stream_id, seq) DO NOTHING`,
		streamID, seq, event, payloadJSON, stateVersionJSON, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("eventlog: append %s#%d: %w", streamID, seq, err)
	}
	return nil
}

// Since returns every event recorded for streamID with seq > afterSeq,
// in ascending seq order — the durable half of what a push.snapshot
// rebuild needs beyond current state.
func (l *Log) Since(streamID string, afterSeq int64) ([]Record, error) {
	rows, err := l.db.Query(`
SELECT seq, event, payload_json, state_version, created_at
FROM events
WHERE stream_id = ? AND seq > ?
ORDER BY seq ASC`, streamID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("eventlog: since %s: %w", streamID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var createdAt string
		if err := rows.Scan(&r.Seq, &r.Event, &r.PayloadJSON, &r.StateVersion, &createdAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestSeq returns the highest seq recorded for streamID, or 0 if none.
func (l *Log) LatestSeq(streamID string) (int64, error) {
	var seq sql.NullInt64
	err := l.db.QueryRow(`SELECT MAX(seq) FROM events WHERE stream_id = ?`, streamID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("eventlog: latest seq %s: %w", streamID, err)
	}
	return seq.Int64, nil
}

// Prune deletes events older than before, across all streams, so the
// log doesn't grow unbounded. Returns the number of rows removed.
func (l *Log) Prune(before time.Time) (int64, error) {
	res, err := withRetry(l.db, `DELETE FROM events WHERE created_at < ?`, before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("eventlog: prune: %w", err)
	}
	return res.RowsAffected()
}

func withRetry(db *sql.DB, query string, args ...any) (sql.Result, error) {
	const attempts = 5
	var lastErr error
	for i := 0; i < attempts; i++ {
		res, err := db.Exec(query, args...)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !isBusyError(err) {
			return nil, err
		}
		time.Sleep(time.Duration((i+1)*25) * time.Millisecond)
	}
	return nil, errors.New("eventlog: retry exhausted: " + lastErr.Error())
}

func isBusyError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
