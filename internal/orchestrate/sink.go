// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrate

// Sink consumes the accumulated text of one response. Update is called
// with the full text so far on every delta and must re-render
// idempotently (full replace, not append).
type Sink interface {
	Update(full string)
}

// Discard is the silent sink used for internal sub-calls whose output is
// consumed programmatically rather than displayed. It is a first-class
// value, not a sentinel identifier.
var Discard Sink = discard{}

type discard struct{}

func (discard) Update(string) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(full string)

// Update implements Sink.
func (f SinkFunc) Update(full string) { f(full) }
