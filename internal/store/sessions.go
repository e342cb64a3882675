// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists chat sessions as JSON files, one per session,
// under the application data directory. Saves are fire-and-forget from
// the orchestration core's point of view.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vhnguyen/polychat/internal/chat"
	"github.com/vhnguyen/polychat/internal/openai"
	"github.com/vhnguyen/polychat/internal/util"
)

// =============================================================================
// STORED SESSION TYPE
// =============================================================================

// StoredSession is the on-disk form of a chat session.
type StoredSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Models    []string  `json:"models,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages []StoredMessage `json:"messages"`
}

// StoredMessage is one persisted message. Image parts are flattened to
// their text; attachments are not re-persisted.
type StoredMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionMeta is the listing view of a stored session.
type SessionMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// =============================================================================
// SESSION STORE
// =============================================================================

// SessionStore reads and writes sessions under BaseDir.
type SessionStore struct {
	BaseDir string

	// MaxSessions caps retained sessions; oldest are evicted on save.
	// Zero means unlimited.
	MaxSessions int

	// Index, when set, keeps a full-text search index in sync with the
	// JSON files. Index failures never fail the store.
	Index *MessageIndex
}

// NewSessionStore creates a store rooted at ~/.polychat/sessions.
func NewSessionStore() (*SessionStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewSessionStoreWithDir(filepath.Join(homeDir, ".polychat", "sessions"))
}

// NewSessionStoreWithDir creates a store rooted at baseDir.
func NewSessionStoreWithDir(baseDir string) (*SessionStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &SessionStore{BaseDir: baseDir, MaxSessions: 100}, nil
}

// =============================================================================
// SAVE / LOAD
// =============================================================================

// Save persists the conversation under its session ID.
func (s *SessionStore) Save(conv *chat.Conversation, models []string) error {
	stored := &StoredSession{
		ID:        conv.ID,
		Title:     conv.Title,
		Models:    models,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: time.Now(),
	}
	for _, msg := range conv.Log() {
		stored.Messages = append(stored.Messages, StoredMessage{Role: msg.Role, Content: msg.Text()})
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(s.filePath(stored.ID), data, 0644); err != nil {
		return err
	}

	if s.Index != nil {
		s.Index.IndexSession(stored)
	}
	if s.MaxSessions > 0 {
		s.enforceLimit()
	}
	return nil
}

// Load retrieves a stored session by ID.
func (s *SessionStore) Load(id string) (*StoredSession, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var stored StoredSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// Restore rebuilds a conversation from a stored session.
func (st *StoredSession) Restore() *chat.Conversation {
	messages := make([]openai.Message, 0, len(st.Messages))
	for _, m := range st.Messages {
		messages = append(messages, openai.Message{Role: m.Role, Content: m.Content})
	}

	conv := chat.New("")
	conv.Restore(messages)
	conv.ID = st.ID
	conv.Title = st.Title
	conv.CreatedAt = st.CreatedAt
	return conv
}

// =============================================================================
// LIST / DELETE
// =============================================================================

// List returns metadata for every stored session, most recent first.
func (s *SessionStore) List() ([]SessionMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionMeta{}, nil
		}
		return nil, err
	}

	var metas []SessionMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		stored, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue // skip corrupted files
		}

		preview := ""
		for _, msg := range stored.Messages {
			if msg.Role == openai.RoleUser {
				preview = util.TruncateRunes(strings.ReplaceAll(msg.Content, "\n", " "), 80)
				break
			}
		}
		metas = append(metas, SessionMeta{
			ID:           stored.ID,
			Title:        stored.Title,
			UpdatedAt:    stored.UpdatedAt,
			MessageCount: len(stored.Messages),
			Preview:      preview,
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Delete removes a stored session.
func (s *SessionStore) Delete(id string) error {
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrSessionNotFound
		}
		return err
	}
	if s.Index != nil {
		s.Index.Remove(id)
	}
	return nil
}

// Clear removes every stored session.
func (s *SessionStore) Clear() error {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			os.Remove(filepath.Join(s.BaseDir, entry.Name()))
		}
	}
	if s.Index != nil {
		s.Index.Clear()
	}
	return nil
}

func (s *SessionStore) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxSessions {
		return
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.Before(metas[j].UpdatedAt)
	})
	for i := 0; i < len(metas)-s.MaxSessions; i++ {
		s.Delete(metas[i].ID)
	}
}

// Search queries the full-text message index.
func (s *SessionStore) Search(query string, limit int) ([]MessageHit, error) {
	if s.Index == nil {
		return nil, ErrNoIndex
	}
	return s.Index.Search(query, limit)
}

func (s *SessionStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrSessionNotFound is returned when no session exists for an ID.
var ErrSessionNotFound = &SessionError{Message: "session not found"}

// ErrNoIndex is returned by Search when the store has no index.
var ErrNoIndex = &SessionError{Message: "search index not available"}

// SessionError is a session persistence error comparable with errors.Is.
type SessionError struct {
	Message string
}

func (e *SessionError) Error() string { return e.Message }

// Is reports whether target is a SessionError with the same message.
func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	return ok && e.Message == t.Message
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown renders the session as a Markdown document.
func (st *StoredSession) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# Session " + st.ID + "\n\n")
	sb.WriteString("Created: " + st.CreatedAt.Format(time.RFC3339) + "\n\n---\n\n")

	for _, msg := range st.Messages {
		label := "**User**"
		switch msg.Role {
		case openai.RoleAssistant:
			label = "**Assistant**"
		case openai.RoleSystem:
			label = "**System**"
		}
		sb.WriteString(label + ":\n\n" + msg.Content + "\n\n---\n\n")
	}
	return sb.String()
}
