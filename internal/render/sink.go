// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// LiveSink streams text to a writer as it arrives. Updates carry the
// full text so far; the sink prints only the unseen suffix, so a plain
// terminal shows a growing answer without repaints.
type LiveSink struct {
	mu      sync.Mutex
	w       io.Writer
	prev    string
	label   string
	labeled bool
}

// NewLiveSink creates a sink writing to w. A non-empty label is
// printed once before the first byte of output.
func NewLiveSink(w io.Writer, label string) *LiveSink {
	return &LiveSink{w: w, label: label}
}

// Update implements orchestrate.Sink. Full replaces are honored by
// diffing against what has been printed; if the text shrank (a marker
// rewrite), the remainder is printed on a fresh line.
func (s *LiveSink) Update(full string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.labeled && s.label != "" {
		fmt.Fprintln(s.w, ModelStyle.Render(s.label))
		s.labeled = true
	}

	if strings.HasPrefix(full, s.prev) {
		io.WriteString(s.w, full[len(s.prev):])
		s.prev = full
		return
	}

	// Not an append: print the replacement on its own line.
	fmt.Fprint(s.w, "\n"+full)
	s.prev = full
}

// Finish terminates the output with a newline.
func (s *LiveSink) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w)
}

// =============================================================================
// BUFFERED CARD SINK
// =============================================================================

// CardSink collects the full text silently and renders it once as a
// framed card. Used for fan-out members that must not interleave with
// the live-streamed primary.
type CardSink struct {
	mu    sync.Mutex
	label string
	last  string
}

// NewCardSink creates a buffered sink labeled with the model name.
func NewCardSink(label string) *CardSink {
	return &CardSink{label: label}
}

// Update implements orchestrate.Sink.
func (s *CardSink) Update(full string) {
	s.mu.Lock()
	s.last = full
	s.mu.Unlock()
}

// Text returns the most recent full text.
func (s *CardSink) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Render writes the collected text as a framed card.
func (s *CardSink) Render(w io.Writer, md *Markdown) {
	body := s.Text()
	if md != nil {
		body = md.Render(body)
	}
	card := CardStyle.Width(Width() - 2).Render(ModelStyle.Render(s.label) + "\n" + strings.TrimRight(body, "\n"))
	fmt.Fprintln(w, card)
}
