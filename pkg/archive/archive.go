// Package archive mirrors the event log into a sqlite table for offline inspection. The archive
// is write-only from the server's point of view; nothing is replayed from it on startup. Each
// server process writes under its own run id since event ids restart at zero.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/discussion-experiments/pkg/eventlog"
)

type Archive struct {
	database *sql.DB
	run      string
}

// OpenFile opens (or creates) a sqlite database at path and prepares it.
func OpenFile(ctx context.Context, path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a, err := Open(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// Open ensures the events table exists in db.
func Open(ctx context.Context, db *sql.DB) (*Archive, error) {
	if _, err := db.ExecContext(
		ctx,
		`CREATE TABLE IF NOT EXISTS events (
		run text not null,
		id integer not null,
		type text not null,
		created text not null,
		data text,
		primary key (run, id)
		)`,
	); err != nil {
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}
	a := &Archive{database: db, run: uuid.NewString()}
	slog.Info("Ensured events table exists", "run", a.run)
	return a, nil
}

// Run identifies the events written through this archive.
func (a *Archive) Run() string {
	return a.run
}

func (a *Archive) DB() *sql.DB {
	return a.database
}

func (a *Archive) Close() error {
	return a.database.Close()
}

// Receive stores a batch in one transaction. Events already present are left untouched so a
// repeated backfill is harmless.
func (a *Archive) Receive(batch []eventlog.Event) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := a.database.Begin()
	if err != nil {
		return fmt.Errorf("failed to start tx: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range batch {
		var data sql.NullString
		if ev.Data != nil {
			data = sql.NullString{String: string(ev.Data), Valid: true}
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO events (run, id, type, created, data) VALUES (?, ?, ?, ?, ?)`,
			a.run, ev.EventID, ev.EventType, ev.EventDateCreated, data,
		); err != nil {
			return fmt.Errorf("failed to insert event %d: %w", ev.EventID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// LatestRun returns the run that archived the most recent event, or the empty string when the
// archive is empty.
func LatestRun(ctx context.Context, db *sql.DB) (string, error) {
	var run string
	if err := db.QueryRowContext(ctx, `SELECT run FROM events ORDER BY rowid DESC LIMIT 1`).Scan(&run); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query: %w", err)
	}
	return run, nil
}

// Load reads the events of one run in id order. An empty run selects the latest one.
func Load(ctx context.Context, db *sql.DB, run string) ([]eventlog.Event, error) {
	if run == "" {
		var err error
		if run, err = LatestRun(ctx, db); err != nil {
			return nil, err
		}
	}
	res, err := db.QueryContext(ctx, `SELECT id, type, created, data FROM events WHERE run = ? ORDER BY id`, run)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(res *sql.Rows) {
		if err := res.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(res)

	events := make([]eventlog.Event, 0)
	for res.Next() {
		var ev eventlog.Event
		var data sql.NullString
		if err := res.Scan(&ev.EventID, &ev.EventType, &ev.EventDateCreated, &data); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		if data.Valid {
			ev.Data = []byte(data.String)
		}
		events = append(events, ev)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return events, nil
}
