// Package sessionstore persists the list of known agent sessions so they
// can be offered for resumption after a restart.
package sessionstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record is one remembered session.
type Record struct {
	SessionID string    `json:"sessionId"`
	AgentName string    `json:"agentName"`
	Title     string    `json:"title"`
	Cwd       string    `json:"cwd"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is a sqlite-backed session list.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the session database at dbPath and
// ensures the schema exists.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sessionstore: prepare database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_mode=rwc", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sessionstore: initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		cwd TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_agent_name ON sessions(agent_name);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a session record. Timestamps are filled in when
// zero.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, agent_name, title, cwd, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			agent_name = excluded.agent_name,
			title = excluded.title,
			cwd = excluded.cwd,
			updated_at = excluded.updated_at
	`, rec.SessionID, rec.AgentName, rec.Title, rec.Cwd, rec.CreatedAt, rec.UpdatedAt)
	return err
}

// Get returns the record for sessionID, or sql.ErrNoRows.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, agent_name, title, cwd, created_at, updated_at
		FROM sessions
		WHERE session_id = ?
	`, sessionID)

	rec := &Record{}
	if err := row.Scan(&rec.SessionID, &rec.AgentName, &rec.Title, &rec.Cwd, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns all sessions, most recently used first. An empty agentName
// lists every agent's sessions.
func (s *Store) List(ctx context.Context, agentName string) ([]*Record, error) {
	query := `
		SELECT session_id, agent_name, title, cwd, created_at, updated_at
		FROM sessions
	`
	var args []any
	if agentName != "" {
		query += ` WHERE agent_name = ?`
		args = append(args, agentName)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(&rec.SessionID, &rec.AgentName, &rec.Title, &rec.Cwd, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Touch bumps a session's updated_at so it sorts to the top of List.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET updated_at = ? WHERE session_id = ?
	`, time.Now().UTC(), sessionID)
	return err
}

// SetTitle updates a session's display title.
func (s *Store) SetTitle(ctx context.Context, sessionID, title string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET title = ?, updated_at = ? WHERE session_id = ?
	`, title, time.Now().UTC(), sessionID)
	return err
}

// Delete removes a session record.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}
