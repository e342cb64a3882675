// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package workflow

import (
	"context"

	"github.com/vhnguyen/polychat/internal/orchestrate"
)

// SquadOptions configures a parallel race: the same prompt goes to
// every model at once and each answer streams to its own sink.
type SquadOptions struct {
	Models []string
	Prompt string

	// Sinks holds one sink per model, index-aligned; nil entries fall
	// back to the silent sink.
	Sinks []orchestrate.Sink
}

// Squad fans the prompt out to every model with identical messages and
// waits for all members to settle. Members are independent: one
// failing never interrupts the rest. Only the first model's answer
// enters the conversation.
func Squad(ctx context.Context, orch *orchestrate.Orchestrator, opts SquadOptions) ([]orchestrate.Result, error) {
	if err := requireDistinctModels(opts.Models, 1); err != nil {
		return nil, err
	}
	if err := orch.Acquire(); err != nil {
		return nil, err
	}
	defer orch.Release()

	conv := orch.Conversation()
	conv.AppendUser(opts.Prompt)
	messages := conv.Log()

	requests := make([]orchestrate.Request, len(opts.Models))
	for i, model := range opts.Models {
		sink := orchestrate.Discard
		if i < len(opts.Sinks) && opts.Sinks[i] != nil {
			sink = opts.Sinks[i]
		}
		requests[i] = orchestrate.Request{Model: model, Messages: messages, Sink: sink}
	}
	return orch.RunMany(ctx, requests), nil
}
