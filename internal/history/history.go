// Package history persists terminal scan outcomes into a local sqlite
// database, one row per finished run. It is a best-effort audit trail and
// plays no role in the progress contract: the coordinator works the same
// with recording disabled.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/voenkogel/Nautilus/internal/scan"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// Entry is one recorded scan.
type Entry struct {
	ID      int64          `json:"-"`
	UUID    string         `json:"uuid"`
	Cmd     string         `json:"cmd"`
	Params  map[string]any `json:"params"`
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
	Started time.Time      `json:"started"`
	Stopped time.Time      `json:"stopped"`
}

type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening scan history %s: %w", path, err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS scans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			cmd TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP NOT NULL,
			stopped_at TIMESTAMP NOT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating scan history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record implements scan.Recorder.
func (s *Store) Record(ctx context.Context, o scan.Outcome) error {
	params := o.Params
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding scan params: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scans (uuid, cmd, params, status, error, started_at, stopped_at)
		 VALUES (?,?,?,?,?,?,?)`,
		o.ID, o.Cmd, string(raw), string(o.Status), o.Error, o.Started, o.Stopped,
	)
	if err != nil {
		return fmt.Errorf("inserting scan outcome: %w", err)
	}
	return nil
}

// Last returns up to n most recent entries, newest first.
func (s *Store) Last(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, uuid, cmd, params, status, error, started_at, stopped_at
		 FROM scans ORDER BY id DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying scan history: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading scan history: %w", err)
	}
	return out, nil
}

// Get returns the entry identified by the scan uuid, or ErrNotFound.
func (s *Store) Get(ctx context.Context, uuid string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, uuid, cmd, params, status, error, started_at, stopped_at
		 FROM scans WHERE uuid=?`, uuid,
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var e Entry
	var raw string
	err := r.Scan(&e.ID, &e.UUID, &e.Cmd, &raw, &e.Status, &e.Error, &e.Started, &e.Stopped)
	if err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(raw), &e.Params); err != nil {
		return Entry{}, fmt.Errorf("decoding scan params: %w", err)
	}
	return e, nil
}
