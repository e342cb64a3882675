// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package extract pulls structured payloads out of free-text model
// replies. Model output is an untrusted boundary: a reply that was asked
// to be "JSON only" routinely arrives wrapped in prose or markdown
// fences, so callers decode best-effort and supply a typed fallback.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError indicates the raw text contained no decodable payload.
type ParseError struct {
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return "parse error: " + e.Reason
}

// JSON locates the first '{' and the last '}' in raw, tolerating any
// surrounding prose, and decodes the span into v. Returns a *ParseError
// if no object span exists or the span does not decode.
func JSON(raw string, v any) error {
	first := strings.IndexByte(raw, '{')
	last := strings.LastIndexByte(raw, '}')
	if first == -1 || last == -1 || last < first {
		return &ParseError{Reason: "no JSON object found"}
	}

	span := raw[first : last+1]
	if err := json.Unmarshal([]byte(span), v); err != nil {
		return &ParseError{Reason: fmt.Sprintf("object span does not decode: %v", err)}
	}
	return nil
}
