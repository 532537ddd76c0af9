// Package eventlog appends operator-facing history (connections, restarts,
// crashes, actions) to a local SQLite database. Nothing reads it back to
// rebuild device state.
package eventlog

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

const eventsTable = "tvbox_events"

// Kind groups events.
type Kind string

const (
	KindConnection Kind = "connection"
	KindRestart    Kind = "isg_restart"
	KindCrash      Kind = "isg_crash"
	KindAction     Kind = "action"
	KindScreenshot Kind = "screenshot"
)

// Event is one history row.
type Event struct {
	ID       string
	DeviceID string
	Kind     Kind
	Name     string
	Success  bool
	Message  string
	At       time.Time
}

// Store writes events to SQLite.
type Store struct {
	db   *sql.DB
	stmt *sql.Stmt
	path string
	now  func() time.Time
}

// Open creates the database file and schema when missing.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, pkgerrors.New("eventlog: database path is empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, pkgerrors.Wrapf(err, "eventlog: create dir %s failed", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "eventlog: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	stmt, err := db.Prepare(`INSERT INTO ` + eventsTable +
		` (id, device_id, kind, name, success, message, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "eventlog: prepare insert failed")
	}
	return &Store{db: db, stmt: stmt, path: path, now: time.Now}, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=60000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "eventlog: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + eventsTable + ` (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT,
			success INTEGER NOT NULL DEFAULT 0,
			message TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tvbox_events_device_time ON ` + eventsTable + ` (device_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return pkgerrors.Wrap(err, "eventlog: prepare schema failed")
		}
	}
	return nil
}

// Path is the database file.
func (s *Store) Path() string { return s.path }

// Record appends e, assigning an id and timestamp when unset.
func (s *Store) Record(ctx context.Context, e Event) error {
	if s == nil || s.db == nil {
		return pkgerrors.New("eventlog: store is closed")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	success := 0
	if e.Success {
		success = 1
	}
	if _, err := s.stmt.ExecContext(ctx, e.ID, e.DeviceID, string(e.Kind), e.Name, success, e.Message, e.At.UTC().UnixMilli()); err != nil {
		return pkgerrors.Wrapf(err, "eventlog: insert %s event failed", e.Kind)
	}
	log.Debug().Str("device", e.DeviceID).Str("kind", string(e.Kind)).Str("name", e.Name).Bool("success", e.Success).Msg("event recorded")
	return nil
}

// Recent lists the newest events of a device for operator display.
func (s *Store) Recent(ctx context.Context, deviceID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, device_id, kind, name, success, message, created_at FROM `+eventsTable+
		` WHERE device_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "eventlog: query recent events failed")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			kind    string
			name    sql.NullString
			message sql.NullString
			success int
			at      int64
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &kind, &name, &success, &message, &at); err != nil {
			return nil, pkgerrors.Wrap(err, "eventlog: scan event failed")
		}
		e.Kind = Kind(kind)
		e.Name = name.String
		e.Message = message.String
		e.Success = success == 1
		e.At = time.UnixMilli(at).UTC()
		events = append(events, e)
	}
	return events, pkgerrors.Wrap(rows.Err(), "eventlog: iterate events failed")
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.stmt != nil {
		s.stmt.Close()
	}
	err := s.db.Close()
	s.db = nil
	return err
}
