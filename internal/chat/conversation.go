// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat holds the conversation state sent as context on every
// completion request.
package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/vhnguyen/polychat/internal/openai"
)

// MaxHistory is the maximum retained log length including the system
// message. After each completed turn the log collapses to the system
// message plus the most recent MaxHistory-1 turns.
const MaxHistory = 8

// =============================================================================
// CONVERSATION
// =============================================================================

// Conversation is the ordered message log of one session. It always
// begins with exactly one system message; that message is never evicted.
type Conversation struct {
	// ID identifies the session this log belongs to.
	ID string

	// Title is derived from the first user message if not set.
	Title string

	CreatedAt time.Time
	UpdatedAt time.Time

	messages []openai.Message
}

// New creates a conversation seeded with the given system prompt.
func New(systemPrompt string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        "sess_" + uuid.New().String()[:8],
		CreatedAt: now,
		UpdatedAt: now,
		messages:  []openai.Message{openai.NewSystemMessage(systemPrompt)},
	}
}

// SystemPrompt returns the active system prompt.
func (c *Conversation) SystemPrompt() string {
	return c.messages[0].Content
}

// SetSystemPrompt replaces the system message content in place. The
// rest of the log is untouched.
func (c *Conversation) SetSystemPrompt(prompt string) {
	c.messages[0] = openai.NewSystemMessage(prompt)
	c.UpdatedAt = time.Now()
}

// AppendUser appends a user turn.
func (c *Conversation) AppendUser(content string) {
	c.append(openai.NewUserMessage(content))
}

// AppendAssistant appends an assistant turn.
func (c *Conversation) AppendAssistant(content string) {
	c.append(openai.NewAssistantMessage(content))
}

func (c *Conversation) append(msg openai.Message) {
	c.messages = append(c.messages, msg)
	c.UpdatedAt = time.Now()
	c.updateTitle()
	c.truncate()
}

// truncate collapses the log to [system, last MaxHistory-1] once it
// grows past MaxHistory. The system message survives unconditionally.
func (c *Conversation) truncate() {
	if len(c.messages) <= MaxHistory {
		return
	}
	kept := make([]openai.Message, 0, MaxHistory)
	kept = append(kept, c.messages[0])
	kept = append(kept, c.messages[len(c.messages)-(MaxHistory-1):]...)
	c.messages = kept
}

// Log returns a copy of the message log for transport use. Mutating the
// returned slice does not affect the conversation.
func (c *Conversation) Log() []openai.Message {
	out := make([]openai.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages including the system message.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// LastAssistant returns the most recent assistant text, or empty.
func (c *Conversation) LastAssistant() string {
	for i := len(c.messages) - 1; i > 0; i-- {
		if c.messages[i].Role == openai.RoleAssistant {
			return c.messages[i].Content
		}
	}
	return ""
}

// Reset drops every turn but keeps the system message and identity.
func (c *Conversation) Reset() {
	c.messages = c.messages[:1]
	c.UpdatedAt = time.Now()
}

// Restore replaces the log with previously persisted messages. The
// first message must be a system message; if it is not, the current
// system prompt is prepended.
func (c *Conversation) Restore(messages []openai.Message) {
	if len(messages) == 0 || messages[0].Role != openai.RoleSystem {
		messages = append([]openai.Message{c.messages[0]}, messages...)
	}
	c.messages = make([]openai.Message, len(messages))
	copy(c.messages, messages)
	c.truncate()
	c.UpdatedAt = time.Now()
}

// updateTitle derives a title from the first user message if unset.
func (c *Conversation) updateTitle() {
	if c.Title != "" {
		return
	}
	for _, msg := range c.messages {
		if msg.Role == openai.RoleUser {
			c.Title = preview(msg.Text(), 50)
			return
		}
	}
}

// preview truncates s to maxLen runes, appending an ellipsis.
func preview(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
