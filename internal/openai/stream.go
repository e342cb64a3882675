// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// SSE READER
// =============================================================================

// sseDone is the end-of-stream sentinel carried in a data line.
var sseDone = []byte("[DONE]")

// SSEReader parses Server-Sent-Events frames from a response body.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates an SSE reader over r.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// ReadData reads the next `data:` payload from the stream. Non-data
// fields (event:, id:, retry:, comments) are ignored. Returns io.EOF
// when the stream ends.
func (s *SSEReader) ReadData() ([]byte, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) == 0 {
				return nil, io.EOF
			}
			if err != io.EOF {
				return nil, err
			}
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		if data, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			return bytes.TrimSpace(data), nil
		}
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamCallback receives the delta text of each streamed chunk.
type StreamCallback func(delta string)

// ChatStream performs one streaming chat-completion request, invoking
// callback for every content delta, and returns the accumulated text.
//
// Malformed frames are skipped individually; a single corrupt chunk never
// terminates an otherwise-good stream. On mid-stream failure the returned
// error is a *StreamError preserving the partial text. Cancellation via
// ctx returns the partial text together with ctx.Err().
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message, callback StreamCallback) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	body := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.temperature,
		TopP:        c.topP,
		Stream:      true,
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.logRequest(req)

	start := time.Now()
	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		return "", errorFromResponse(resp.StatusCode, respBody)
	}

	var accumulated strings.Builder
	reader := NewSSEReader(resp.Body)

	for {
		select {
		case <-ctx.Done():
			return accumulated.String(), ctx.Err()
		default:
		}

		data, err := reader.ReadData()
		if err != nil {
			if err == io.EOF {
				return accumulated.String(), nil
			}
			if ctx.Err() != nil {
				return accumulated.String(), ctx.Err()
			}
			return accumulated.String(), &StreamError{
				Partial: accumulated.String(),
				Err:     err,
			}
		}

		if bytes.Equal(data, sseDone) {
			return accumulated.String(), nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		if content := chunk.Content(); content != "" {
			accumulated.WriteString(content)
			callback(content)
		}
		if chunk.Done() {
			return accumulated.String(), nil
		}
	}
}
