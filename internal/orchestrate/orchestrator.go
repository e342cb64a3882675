// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrate drives model calls against a live-call registry
// and a conversation. It owns the per-call lifecycle: register, stream,
// annotate the sink on failure or stop, settle, and (for the primary
// member of a fan-out) append the result to history.
package orchestrate

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vhnguyen/polychat/internal/calls"
	"github.com/vhnguyen/polychat/internal/chat"
	"github.com/vhnguyen/polychat/internal/openai"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBusy is returned when a generation is started while another is
	// still in flight.
	ErrBusy = errors.New("a generation is already in flight")

	// ErrCancelled is returned when a call ended because it was stopped,
	// either by its own context or by Registry.StopAll.
	ErrCancelled = errors.New("generation cancelled")
)

// Markers appended to sink output. Partial text already streamed is
// always preserved in front of them.
const (
	stoppedMarker = "\n\n*[stopped]*"
	errorMarker   = "\n\n⚠ Error: "
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Request is one member of a fan-out. The first request in a batch is
// the primary member; only its final text enters the conversation.
type Request struct {
	Model    string
	Messages []openai.Message
	Sink     Sink
}

// Result is the settled outcome of one fan-out member.
type Result struct {
	Model string
	Text  string
	Err   error
}

// Orchestrator coordinates streaming calls over a shared registry and
// conversation. One Orchestrator serves one conversation at a time.
type Orchestrator struct {
	client     *openai.Client
	registry   *calls.Registry
	conv       *chat.Conversation
	generating atomic.Bool
}

// New returns an Orchestrator bound to the given client, registry and
// conversation.
func New(client *openai.Client, registry *calls.Registry, conv *chat.Conversation) *Orchestrator {
	return &Orchestrator{client: client, registry: registry, conv: conv}
}

// Conversation returns the conversation this orchestrator appends to.
func (o *Orchestrator) Conversation() *chat.Conversation { return o.conv }

// Registry returns the live-call registry.
func (o *Orchestrator) Registry() *calls.Registry { return o.registry }

// Acquire marks a generation as in flight. It fails with ErrBusy if one
// already is; callers must Release when the whole run has settled.
func (o *Orchestrator) Acquire() error {
	if !o.generating.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

// Release clears the in-flight flag set by Acquire.
func (o *Orchestrator) Release() { o.generating.Store(false) }

// Generating reports whether a generation is currently in flight.
func (o *Orchestrator) Generating() bool { return o.generating.Load() }

// StopAll cancels every live call.
func (o *Orchestrator) StopAll() { o.registry.StopAll() }

// =============================================================================
// SINGLE CALLS
// =============================================================================

// StreamTo runs one streaming call, forwarding the accumulated text to
// sink on every delta. On cancellation the partial text is kept and a
// stopped marker is appended; on failure the partial text is kept and
// the error is rendered after it. The returned text never includes the
// markers.
func (o *Orchestrator) StreamTo(ctx context.Context, model string, messages []openai.Message, sink Sink) (string, error) {
	callCtx, handle := o.registry.Begin(ctx, model)
	defer o.registry.Settle(handle)

	var buf strings.Builder
	text, err := o.client.ChatStream(callCtx, model, messages, func(delta string) {
		buf.WriteString(delta)
		sink.Update(buf.String())
	})
	if err != nil {
		var streamErr *openai.StreamError
		if errors.As(err, &streamErr) {
			text = streamErr.Partial
		}
		if errors.Is(err, context.Canceled) {
			sink.Update(text + stoppedMarker)
			return text, ErrCancelled
		}
		log.Printf("stream failed: model=%s err=%v", model, err)
		sink.Update(text + errorMarker + err.Error())
		return text, err
	}
	return text, nil
}

// Once runs one blocking (non-streaming) call, pushing the final text
// to sink once on success. Workflow sub-calls that gather text silently
// pass Discard.
func (o *Orchestrator) Once(ctx context.Context, model string, messages []openai.Message, sink Sink) (string, error) {
	callCtx, handle := o.registry.Begin(ctx, model)
	defer o.registry.Settle(handle)

	text, err := o.client.Chat(callCtx, model, messages)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			sink.Update(stoppedMarker)
			return "", ErrCancelled
		}
		log.Printf("call failed: model=%s err=%v", model, err)
		sink.Update(errorMarker + err.Error())
		return "", err
	}
	sink.Update(text)
	return text, nil
}

// =============================================================================
// FAN-OUT
// =============================================================================

// RunMany streams every request concurrently and waits for all of them
// to settle; one member failing never interrupts the others. The first
// request is the primary member, and its final text alone is appended
// to the conversation. Results are returned in request order.
func (o *Orchestrator) RunMany(ctx context.Context, requests []Request) []Result {
	results := make([]Result, len(requests))

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			text, err := o.StreamTo(ctx, req.Model, req.Messages, req.Sink)
			results[i] = Result{Model: req.Model, Text: text, Err: err}
		}(i, req)
	}
	wg.Wait()

	if len(results) > 0 && results[0].Err == nil && results[0].Text != "" {
		o.conv.AppendAssistant(results[0].Text)
	}
	return results
}
