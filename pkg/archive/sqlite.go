// Package archive mirrors appended events into a SQLite table for
// reporting queries. The JSON event log stays the durable source of truth;
// the archive is a rebuildable read model fed by the store's subscription
// channel.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/tbcoin-labs/core/pkg/eventlog"
)

// SQLiteArchive stores event rows in a SQLite database.
type SQLiteArchive struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteArchive creates the archive and runs its migration.
func NewSQLiteArchive(db *sql.DB, logger *slog.Logger) (*SQLiteArchive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &SQLiteArchive{db: db, logger: logger}
	if err := a.migrate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Open opens (or creates) a SQLite database at path and builds an archive
// over it.
func Open(path string, logger *slog.Logger) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	return NewSQLiteArchive(db, logger)
}

func (a *SQLiteArchive) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		signature TEXT NOT NULL DEFAULT '',
		payload JSON
	);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
	CREATE INDEX IF NOT EXISTS idx_events_sequence ON events(sequence);`
	_, err := a.db.ExecContext(context.Background(), query)
	return err
}

// Record inserts or replaces one event row.
func (a *SQLiteArchive) Record(ctx context.Context, event eventlog.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	query := `
	INSERT OR REPLACE INTO events (id, type, sequence, timestamp, status, retry_count, signature, payload)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = a.db.ExecContext(ctx, query,
		event.ID, string(event.Type), event.Sequence, event.Timestamp,
		string(event.Status), event.RetryCount, event.Signature, string(payload))
	return err
}

// Attach subscribes the archive to a store. Archive failures are logged and
// do not fail the append that produced the event; the archive can always be
// rebuilt from the log. Returns the unsubscribe handle.
func (a *SQLiteArchive) Attach(store *eventlog.Store) func() {
	return store.Subscribe(func(event eventlog.Event) {
		if err := a.Record(context.Background(), event); err != nil {
			a.logger.Error("event archive write failed", "event", event.ID, "error", err)
		}
	})
}

// ByType returns the most recent rows of one event type, newest first.
func (a *SQLiteArchive) ByType(ctx context.Context, t eventlog.Type, limit int) ([]eventlog.Event, error) {
	query := `
	SELECT id, type, sequence, timestamp, status, retry_count, signature, payload
	FROM events WHERE type = ? ORDER BY sequence DESC LIMIT ?`
	return a.query(ctx, query, string(t), limit)
}

// Range returns rows with sequence in [from, to], in sequence order.
func (a *SQLiteArchive) Range(ctx context.Context, from, to uint64) ([]eventlog.Event, error) {
	query := `
	SELECT id, type, sequence, timestamp, status, retry_count, signature, payload
	FROM events WHERE sequence >= ? AND sequence <= ? ORDER BY sequence`
	return a.query(ctx, query, from, to)
}

// CountByStatus returns row counts grouped by status.
func (a *SQLiteArchive) CountByStatus(ctx context.Context) (map[eventlog.Status]int, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM events GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[eventlog.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[eventlog.Status(status)] = count
	}
	return counts, rows.Err()
}

func (a *SQLiteArchive) query(ctx context.Context, query string, args ...any) ([]eventlog.Event, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []eventlog.Event
	for rows.Next() {
		var (
			event   eventlog.Event
			typ     string
			status  string
			payload string
		)
		if err := rows.Scan(&event.ID, &typ, &event.Sequence, &event.Timestamp,
			&status, &event.RetryCount, &event.Signature, &payload); err != nil {
			return nil, err
		}
		event.Type = eventlog.Type(typ)
		event.Status = eventlog.Status(status)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
				return nil, fmt.Errorf("decode payload for %s: %w", event.ID, err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
