// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package attach prepares file attachments for a send: plain-text
// extraction, image encoding to data URLs, and keyword-driven context
// scanning for documents too large to inline whole.
package attach

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vhnguyen/polychat/internal/openai"
	"github.com/vhnguyen/polychat/internal/orchestrate"
)

// RAGThreshold is the document size, in bytes, above which the full
// text is no longer inlined and the keyword scan kicks in.
const RAGThreshold = 2000

// fallbackContextSize caps the context when no keyword matches.
const fallbackContextSize = 3000

// imageMIME maps the extensions accepted as image attachments.
var imageMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// IsImage reports whether path has a recognized image extension.
func IsImage(path string) bool {
	_, ok := imageMIME[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ExtractText reads path as UTF-8 text.
func ExtractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading attachment: %w", err)
	}
	return string(data), nil
}

// ExtractImage encodes the file at path as a base64 data URL, the form
// the vision pipeline sends as an image part.
func ExtractImage(path string) (string, error) {
	mime, ok := imageMIME[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", fmt.Errorf("unsupported image type: %s", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// =============================================================================
// SMART CONTEXT SCAN
// =============================================================================

// ExtractKeywords asks a model to turn the user's query into search
// keywords for scanning a large document. The reply is expected as a
// comma-separated list; it is split, trimmed and lowercased.
func ExtractKeywords(ctx context.Context, orch *orchestrate.Orchestrator, model, query string) ([]string, error) {
	raw, err := orch.Once(ctx, model, []openai.Message{
		openai.NewUserMessage(keywordPrompt(query)),
	}, orchestrate.Discard)
	if err != nil {
		return nil, err
	}
	return SplitKeywords(raw), nil
}

// SplitKeywords normalizes a comma-separated keyword reply.
func SplitKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.ToLower(strings.TrimSpace(p)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return keywords
}

// ScanContext walks the document line by line and collects every line
// containing any keyword, padded with one line of surrounding context.
// Duplicate blocks are dropped. When nothing matches, a truncated head
// of the document is returned so the model still sees something.
func ScanContext(keywords []string, content string) string {
	lines := strings.Split(content, "\n")
	var blocks []string
	seen := make(map[string]struct{})

	for i, line := range lines {
		lower := strings.ToLower(line)
		matched := false
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		block := line
		if i > 0 {
			block = lines[i-1] + "\n" + block
		}
		if i < len(lines)-1 {
			block = block + "\n" + lines[i+1]
		}
		if _, dup := seen[block]; dup {
			continue
		}
		seen[block] = struct{}{}
		blocks = append(blocks, block)
	}

	if len(blocks) == 0 {
		if len(content) > fallbackContextSize {
			return content[:fallbackContextSize] + "\n\n...[truncated]..."
		}
		return content
	}
	return strings.Join(blocks, "\n---\n")
}

// EnrichPrompt wraps document context around the user's question. The
// fenced form is what actually enters the conversation log; the bare
// question is what the user sees.
func EnrichPrompt(question, docContext string) string {
	if docContext == "" {
		return question
	}
	return "=== CONTEXT ===\n" + docContext + "\n=== END ===\n\nUSER: " + question
}

func keywordPrompt(query string) string {
	return fmt.Sprintf(`Task: You are a smart search agent.
The user wants to find information with this query: %q

Requirements:
1. Analyze the user's intent.
2. List the 10-15 most important keywords or short phrases for finding relevant passages in a text document.
3. Include synonyms and domain terms where they apply.
4. RETURN ONLY THE KEYWORDS, separated by commas. No explanation.

Example:
User: "How much is this month's salary"
Output: salary, income, payslip, net pay, bonus, this month`, query)
}
