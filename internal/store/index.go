// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/vhnguyen/polychat/internal/openai"
)

// =============================================================================
// MESSAGE INDEX
// =============================================================================

// MessageIndex is a SQLite full-text index over stored session
// messages. The JSON files under the store remain the source of truth;
// the index is rebuilt per session on every save and can be deleted at
// any time without losing data.
type MessageIndex struct {
	db *sql.DB
	mu sync.Mutex
}

// indexSchema holds sessions, their messages, and an FTS5 table kept in
// sync by triggers.
const indexSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    updated_at INTEGER NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content='messages',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES('delete', old.id, old.content);
END;
`

// NewMessageIndex opens (or creates) the index database at dbPath.
func NewMessageIndex(dbPath string) (*MessageIndex, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}

	return &MessageIndex{db: db}, nil
}

// Close releases the database handle.
func (idx *MessageIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.db.Close()
}

// =============================================================================
// INDEXING
// =============================================================================

// IndexSession replaces the indexed content for one session. System
// messages are not indexed.
func (idx *MessageIndex) IndexSession(st *StoredSession) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", st.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO sessions (id, title, updated_at) VALUES (?, ?, ?)",
		st.ID, st.Title, st.UpdatedAt.Unix(),
	); err != nil {
		return err
	}

	insert, err := tx.Prepare("INSERT INTO messages (session_id, seq, role, content) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer insert.Close()

	for i, msg := range st.Messages {
		if msg.Role == openai.RoleSystem || msg.Content == "" {
			continue
		}
		if _, err := insert.Exec(st.ID, i, msg.Role, msg.Content); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Remove drops one session from the index.
func (idx *MessageIndex) Remove(sessionID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, err := idx.db.Exec("DELETE FROM sessions WHERE id = ?", sessionID)
	return err
}

// Clear empties the index.
func (idx *MessageIndex) Clear() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, err := idx.db.Exec("DELETE FROM sessions")
	return err
}

// =============================================================================
// SEARCH
// =============================================================================

// MessageHit is one full-text search match.
type MessageHit struct {
	SessionID string
	Title     string
	Role      string
	Snippet   string
	UpdatedAt time.Time
}

// Search finds messages matching the query, best match first. Each
// query word is matched as a prefix.
func (idx *MessageIndex) Search(query string, limit int) ([]MessageHit, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return []MessageHit{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	rows, err := idx.db.Query(`
		SELECT m.session_id, s.title, m.role,
		       snippet(messages_fts, 0, '', '', '…', 12),
		       s.updated_at
		FROM messages_fts fts
		JOIN messages m ON m.id = fts.rowid
		JOIN sessions s ON s.id = m.session_id
		WHERE messages_fts MATCH ?
		ORDER BY fts.rank
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}
	defer rows.Close()

	var hits []MessageHit
	for rows.Next() {
		var hit MessageHit
		var updated int64
		if err := rows.Scan(&hit.SessionID, &hit.Title, &hit.Role, &hit.Snippet, &updated); err != nil {
			continue
		}
		hit.UpdatedAt = time.Unix(updated, 0)
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// buildFTSQuery turns user input into an FTS5 query. Each word is
// quoted to neutralize FTS5 operators and given a prefix star.
func buildFTSQuery(query string) string {
	words := strings.Fields(query)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, "")
		if w == "" {
			continue
		}
		terms = append(terms, `"`+w+`"*`)
	}
	return strings.Join(terms, " ")
}
