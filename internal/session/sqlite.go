package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samsaffron/term-relay/internal/llm"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Schema for the sessions database.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    directory TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    sequence INTEGER NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
    content TEXT NOT NULL,
    metadata TEXT,
    ignore_in_display BOOLEAN NOT NULL DEFAULT FALSE,
    ignore_in_llm BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id, sequence);

-- Full-text search on message content
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content='messages',
    content_rowid='id'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;
`

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save replaces the stored log for id inside a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, messages []llm.Message, directory, id string) (string, error) {
	if id == "" {
		id = NewID()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, directory, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET directory = excluded.directory, updated_at = excluded.updated_at`,
		id, nullString(directory), now, now)
	if err != nil {
		return "", fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", id); err != nil {
		return "", fmt.Errorf("clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (session_id, sequence, role, content, metadata, ignore_in_display, ignore_in_llm)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range messages {
		var meta sql.NullString
		if m.Metadata != nil {
			data, err := json.Marshal(m.Metadata)
			if err != nil {
				return "", fmt.Errorf("encode metadata: %w", err)
			}
			meta = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, id, i, string(m.Role), m.Content, meta, m.IgnoreInDisplay, m.IgnoreInLLM); err != nil {
			return "", fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// Load retrieves a session by ID. Missing sessions return nil, nil.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Session, error) {
	var directory sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT directory FROM sessions WHERE id = ?", id).Scan(&directory)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	messages, err := s.messages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, Messages: messages, Directory: directory.String}, nil
}

func (s *SQLiteStore) messages(ctx context.Context, id string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, metadata, ignore_in_display, ignore_in_llm
		FROM messages WHERE session_id = ? ORDER BY sequence`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []llm.Message{}
	for rows.Next() {
		var (
			m    llm.Message
			role string
			meta sql.NullString
		)
		if err := rows.Scan(&role, &m.Content, &meta, &m.IgnoreInDisplay, &m.IgnoreInLLM); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = llm.Role(role)
		if meta.Valid && meta.String != "" {
			m.Metadata = &llm.MessageMetadata{}
			if err := json.Unmarshal([]byte(meta.String), m.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// List returns all sessions, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, directory FROM sessions ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var sessions []Session
	for rows.Next() {
		var (
			sess      Session
			directory sql.NullString
		)
		if err := rows.Scan(&sess.ID, &directory); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Directory = directory.String
		sessions = append(sessions, sess)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sessions {
		msgs, err := s.messages(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Messages = msgs
	}
	return sessions, nil
}

// Delete removes a session and, via cascade, its messages.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Search finds visible messages matching query using FTS5.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit == 0 {
		limit = 20
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.session_id, m.role, snippet(messages_fts, 0, '**', '**', '...', 16)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ? AND m.ignore_in_display = FALSE
		ORDER BY rank
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r    SearchResult
			role string
		)
		if err := rows.Scan(&r.SessionID, &role, &r.Snippet); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		r.Role = llm.Role(role)
		r.Snippet = strings.ReplaceAll(r.Snippet, "\n", " ")
		results = append(results, r)
	}
	return results, rows.Err()
}

// ftsQuery quotes each term so user input cannot hit FTS5 query syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(fields, " ")
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString converts an empty string to NULL for database storage.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
