// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vhnguyen/polychat/internal/openai"
	"github.com/vhnguyen/polychat/internal/orchestrate"
)

// ErrNoSources is returned when every scatter member failed and there
// is nothing to synthesize.
var ErrNoSources = errors.New("no model produced a source answer")

// synthesisPacing is the cosmetic delay between the scatter and gather
// stages.
const synthesisPacing = 800 * time.Millisecond

// SourceAnswer is one surviving raw answer from the scatter stage.
type SourceAnswer struct {
	Model   string
	Content string
}

// SynthesisOptions configures a scatter-gather consensus run.
type SynthesisOptions struct {
	Models []string
	Query  string

	// OnSource is called as each scatter member settles; err is non-nil
	// for members that failed. Nil is allowed.
	OnSource func(model string, err error)

	// FinalSink receives the leader's streamed consensus answer.
	FinalSink orchestrate.Sink
}

// Synthesize sends the query to every model concurrently, then hands
// the surviving answers to the first model to merge into a single
// consensus answer streamed to FinalSink. Individual scatter failures
// are tolerated; only all of them failing aborts the run.
func Synthesize(ctx context.Context, orch *orchestrate.Orchestrator, opts SynthesisOptions) (string, error) {
	if err := requireDistinctModels(opts.Models, 2); err != nil {
		return "", err
	}
	if err := orch.Acquire(); err != nil {
		return "", err
	}
	defer orch.Release()

	sources, stopped := scatter(ctx, orch, opts)
	if len(sources) == 0 {
		if stopped {
			return "", orchestrate.ErrCancelled
		}
		return "", ErrNoSources
	}
	if err := pause(ctx, synthesisPacing); err != nil {
		return "", orchestrate.ErrCancelled
	}

	leader := opts.Models[0]
	finalSink := opts.FinalSink
	if finalSink == nil {
		finalSink = orchestrate.Discard
	}
	answer, err := orch.StreamTo(ctx, leader, []openai.Message{
		openai.NewSystemMessage("You are a Helpful Expert Synthesizer."),
		openai.NewUserMessage(consensusPrompt(opts.Query, sources)),
	}, finalSink)
	if err != nil {
		return answer, err
	}

	conv := orch.Conversation()
	conv.AppendUser(opts.Query)
	conv.AppendAssistant(answer)
	return answer, nil
}

// scatter runs the silent concurrent stage, returning the surviving
// answers in model order. The second result reports whether any member
// ended because the run was stopped.
func scatter(ctx context.Context, orch *orchestrate.Orchestrator, opts SynthesisOptions) ([]SourceAnswer, bool) {
	results := make([]*SourceAnswer, len(opts.Models))
	var stopped atomic.Bool

	var wg sync.WaitGroup
	for i, model := range opts.Models {
		wg.Add(1)
		go func(i int, model string) {
			defer wg.Done()
			prompt := opts.Query + " (Answer concisely, focus on the core facts)"
			text, err := orch.Once(ctx, model, []openai.Message{openai.NewUserMessage(prompt)}, orchestrate.Discard)
			if opts.OnSource != nil {
				opts.OnSource(model, err)
			}
			if err != nil {
				if errors.Is(err, orchestrate.ErrCancelled) || errors.Is(err, context.Canceled) {
					stopped.Store(true)
					return
				}
				log.Printf("synthesis source failed: model=%s err=%v", model, err)
				return
			}
			results[i] = &SourceAnswer{Model: model, Content: text}
		}(i, model)
	}
	wg.Wait()

	sources := make([]SourceAnswer, 0, len(results))
	for _, r := range results {
		if r != nil {
			sources = append(sources, *r)
		}
	}
	return sources, stopped.Load()
}

func consensusPrompt(query string, sources []SourceAnswer) string {
	labelled := make([]string, len(sources))
	for i, s := range sources {
		labelled[i] = fmt.Sprintf("[SOURCE %d - %s]:\n%s", i+1, s.Model, s.Content)
	}
	combined := strings.Join(labelled, "\n\n----------------\n\n")

	return fmt.Sprintf(`Task: You are a Consensus Engine.
Below are raw answers from different AI sources to the question: %q.

RAW DATA:
"""
%s
"""

PERFORM THESE REASONING STEPS INTERNALLY, BUT ANSWER ONLY WITH THE FINAL RESULT:
1. Find the consensus: points most sources agree on.
2. Detect conflicts: if source A says X and source B says Y, use logic to pick the most likely correct one.
3. Remove noise: drop greetings and repetition.
4. Merge everything into one single, clearly structured answer (Markdown).

OUTPUT REQUIREMENTS:
- Expert, concise tone.
- End with a "🔍 Confidence" section rating the level of agreement (High/Medium/Low).`, query, combined)
}
