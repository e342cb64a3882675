// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// MESSAGES
// =============================================================================

// Role values for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part kinds for multimodal message content.
const (
	PartText  = "text"
	PartImage = "image"
)

// Part is one element of a multimodal message body: either a text block
// or an image reference (a URL or base64 data URL).
type Part struct {
	Kind  string
	Value string
}

// Message is a single chat turn. Content carries plain text; Parts, when
// non-empty, carries an ordered multimodal body instead and Content is
// ignored. Only user messages may carry image parts.
type Message struct {
	Role    string
	Content string
	Parts   []Part
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a plain-text user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewVisionMessage creates a user message carrying an instruction text
// part followed by one image part per reference, in order.
func NewVisionMessage(instruction string, images []string) Message {
	parts := make([]Part, 0, len(images)+1)
	parts = append(parts, Part{Kind: PartText, Value: instruction})
	for _, img := range images {
		parts = append(parts, Part{Kind: PartImage, Value: img})
	}
	return Message{Role: RoleUser, Parts: parts}
}

// wire representations for multimodal content.
type wirePart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *wireImageRef `json:"image_url,omitempty"`
}

type wireImageRef struct {
	URL string `json:"url"`
}

// MarshalJSON serializes text-only messages with a plain string content
// field and multimodal messages with a typed part array, matching what
// OpenAI-compatible endpoints accept.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) == 0 {
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{m.Role, m.Content})
	}

	parts := make([]wirePart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Kind {
		case PartText:
			parts = append(parts, wirePart{Type: "text", Text: p.Value})
		case PartImage:
			parts = append(parts, wirePart{Type: "image_url", ImageURL: &wireImageRef{URL: p.Value}})
		default:
			return nil, fmt.Errorf("unknown message part kind: %q", p.Kind)
		}
	}
	return json.Marshal(struct {
		Role    string     `json:"role"`
		Content []wirePart `json:"content"`
	}{m.Role, parts})
}

// Text returns the plain-text body of the message. For multimodal
// messages this is the concatenation of the text parts.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Value
		}
	}
	return out
}

// HasImages reports whether the message carries any image parts.
func (m Message) HasImages() bool {
	for _, p := range m.Parts {
		if p.Kind == PartImage {
			return true
		}
	}
	return false
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// chatRequest is the JSON body sent to /chat/completions.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream"`
}

// chatResponse is the blocking-mode response body.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// content returns the first choice's text, or empty if none.
func (r *chatResponse) content() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// StreamChunk is one delta fragment from a streaming response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Content returns the delta text of the first choice.
func (c *StreamChunk) Content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// Done reports whether the chunk carries a finish reason.
func (c *StreamChunk) Done() bool {
	return len(c.Choices) > 0 && c.Choices[0].FinishReason != ""
}

// apiErrorResponse is the error envelope some endpoints return.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// ERRORS
// =============================================================================

// Sentinel errors for common failure classes.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("API key not configured")

	// ErrAuthFailed indicates the endpoint rejected the bearer key.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")
)

// APIError is a non-2xx response from the completion endpoint.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
}

// StreamError is a failure mid-stream. Partial holds whatever text was
// received before the failure; it is never discarded.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}
