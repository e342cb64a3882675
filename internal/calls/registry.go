// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package calls tracks outstanding cancellable transport calls.
//
// Every transport invocation registers a handle here before its network
// request is issued and settles it exactly once when the call completes,
// fails or is cancelled. A global stop cancels every live handle and
// clears the set atomically, so no handle can be both cancelled and left
// registered.
package calls

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// HANDLE
// =============================================================================

// Handle is one outstanding transport call.
type Handle struct {
	// ID uniquely identifies the call.
	ID string

	// Model is the model identifier the call was issued against.
	Model string

	cancel  context.CancelFunc
	settled bool
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is the process-wide set of live call handles.
type Registry struct {
	mu   sync.Mutex
	live map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*Handle)}
}

// Begin registers a new call against model and returns a derived context
// that is cancelled when the handle is cancelled. The handle is live
// until Settle or StopAll.
func (r *Registry) Begin(ctx context.Context, model string) (context.Context, *Handle) {
	callCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:     uuid.New().String(),
		Model:  model,
		cancel: cancel,
	}

	r.mu.Lock()
	r.live[h.ID] = h
	r.mu.Unlock()

	return callCtx, h
}

// Settle removes the handle from the live set and releases its context.
// Settling an already-settled handle is a no-op, so success paths and
// deferred cleanup can both call it safely.
func (r *Registry) Settle(h *Handle) {
	if h == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h.settled {
		return
	}
	h.settled = true
	delete(r.live, h.ID)
	h.cancel()
}

// StopAll cancels every live handle and clears the set. The cancel and
// the removal happen under one lock acquisition.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, h := range r.live {
		h.settled = true
		h.cancel()
		delete(r.live, id)
	}
}

// Active returns the number of live handles.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Models returns the model identifiers of all live handles.
func (r *Registry) Models() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	models := make([]string, 0, len(r.live))
	for _, h := range r.live {
		models = append(models, h.Model)
	}
	return models
}
