// Package history implements the optional sqlite-backed message history
// store. getMessageHistory is explicitly optional; this module implements it
// against sqlite, single-writer, WAL-mode, schema created on open.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one stored message, keyed by session-id.
type Entry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	Kind      string    `json:"kind"` // e.g. "assistantMessage", "toolUse"
	Payload   string    `json:"payload"` // JSON-encoded event data
	CreatedAt time.Time `json:"createdAt"`
}

// entryRow is the sqlx scan target; column names map via the `db` tag.
type entryRow struct {
	ID        int64     `db:"id"`
	SessionID string    `db:"session_id"`
	Kind      string    `db:"kind"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

func (r entryRow) toEntry() Entry {
	return Entry{ID: r.ID, SessionID: r.SessionID, Kind: r.Kind, Payload: r.Payload, CreatedAt: r.CreatedAt}
}

// Store is the sqlite-backed message history store.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Append stores one event's payload for later history retrieval.
func (s *Store) Append(ctx context.Context, sessionID, kind string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal history payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, kind, payload, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, kind, string(payload), time.Now().UTC(),
	)
	return err
}

// List returns up to limit messages for sessionID, most recent last,
// starting at offset.
func (s *Store) List(ctx context.Context, sessionID string, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, session_id, kind, payload, created_at FROM messages
		 WHERE session_id = ? ORDER BY id ASC LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEntry())
	}
	return out, nil
}

// Clear deletes every stored message for sessionID (mirrors delivery.Queue.Clear).
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}
