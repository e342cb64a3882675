// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package workflow

import (
	"context"
	"fmt"

	"github.com/vhnguyen/polychat/internal/openai"
	"github.com/vhnguyen/polychat/internal/orchestrate"
)

// VisionOptions configures the three-stage image pipeline: the main
// model drafts a vision instruction, the vision model analyzes the
// images, and the main model answers with full conversation history.
type VisionOptions struct {
	MainModel   string
	VisionModel string
	Question    string

	// Images holds the pending attachments as data URLs, in the order
	// they were attached.
	Images []string

	// Status receives stage progress text. Nil discards it.
	Status orchestrate.Sink

	// Answer receives the streamed final answer. Nil discards it.
	Answer orchestrate.Sink
}

// VisionAgent runs the sequential pipeline. Each stage checks for a
// stop between calls; later stages never run after an earlier one
// fails, and a stop aborts with the partial output preserved.
func VisionAgent(ctx context.Context, orch *orchestrate.Orchestrator, opts VisionOptions) (string, error) {
	if opts.MainModel == "" || opts.VisionModel == "" {
		return "", &ValidationError{Reason: "vision pipeline needs a main model and a vision model"}
	}
	if len(opts.Images) == 0 {
		return "", &ValidationError{Reason: "vision pipeline needs at least one image"}
	}
	if err := orch.Acquire(); err != nil {
		return "", err
	}
	defer orch.Release()

	status := opts.Status
	if status == nil {
		status = orchestrate.Discard
	}
	answer := opts.Answer
	if answer == nil {
		answer = orchestrate.Discard
	}

	// The pipeline itself holds a registry handle so a stop issued
	// between stages cancels the stages that have not started yet.
	runCtx, run := orch.Registry().Begin(ctx, "vision-agent")
	defer orch.Registry().Settle(run)

	question := opts.Question
	if question == "" {
		question = "Analyze this image"
	}

	// Stage 1: draft a precise instruction for the vision model.
	status.Update("Directing the vision model...")
	instruction, err := orch.Once(runCtx, opts.MainModel, []openai.Message{
		openai.NewUserMessage(directorPrompt(question)),
	}, status)
	if err != nil {
		return "", err
	}
	if err := runCtx.Err(); err != nil {
		status.Update("*[stopped]*")
		return "", orchestrate.ErrCancelled
	}

	// Stage 2: the vision model reads the images.
	status.Update("Analyzing images...")
	analysis, err := orch.Once(runCtx, opts.VisionModel, []openai.Message{
		openai.NewVisionMessage(instruction, opts.Images),
	}, status)
	if err != nil {
		return "", err
	}
	if err := runCtx.Err(); err != nil {
		status.Update("*[stopped]*")
		return "", orchestrate.ErrCancelled
	}

	// Stage 3: answer with full history plus the analysis.
	status.Update("Composing the final answer...")
	conv := orch.Conversation()
	messages := append(conv.Log(), openai.NewUserMessage(visionAnswerPrompt(question, analysis)))

	final, err := orch.StreamTo(runCtx, opts.MainModel, messages, answer)
	if err != nil {
		return final, err
	}

	conv.AppendUser(question)
	conv.AppendAssistant(final)
	return final, nil
}

func directorPrompt(question string) string {
	return fmt.Sprintf(`You are a smart AI assistant (Director).
The user just sent an image along with the question: %q.
Task: Write one specific, precise English instruction (prompt) for a Vision AI so it extracts the most relevant information from the image.
Return ONLY the instruction text.`, question)
}

func visionAnswerPrompt(question, analysis string) string {
	return fmt.Sprintf(`Original user input: %q
Image analysis from the Vision AI: """%s"""
Based on the information above, answer the user's question.`, question, analysis)
}
