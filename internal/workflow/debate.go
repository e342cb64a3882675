// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vhnguyen/polychat/internal/extract"
	"github.com/vhnguyen/polychat/internal/openai"
	"github.com/vhnguyen/polychat/internal/orchestrate"
)

// DefaultDebateTurns is the fixed round count of a debate.
const DefaultDebateTurns = 15

// debatePacing spaces sequential turns so the transcript stays
// readable as it arrives.
const debatePacing = time.Second

// Roles is the two-sided assignment produced by the casting call.
type Roles struct {
	RoleA string `json:"roleA"`
	DescA string `json:"descA"`
	RoleB string `json:"roleB"`
	DescB string `json:"descB"`
}

// fallbackRoles is substituted whenever casting output cannot be
// decoded. Graceful degradation, not a failure.
var fallbackRoles = Roles{
	RoleA: "Perspective A", DescA: "In favor",
	RoleB: "Perspective B", DescB: "Against",
}

// DebateOptions configures an adversarial debate between the first two
// configured models.
type DebateOptions struct {
	Models []string
	Topic  string

	// Turns overrides the round count; zero means DefaultDebateTurns.
	Turns int

	// TurnSink supplies the sink for each numbered turn. Nil sinks the
	// turns silently.
	TurnSink func(turn int, role string) orchestrate.Sink

	// JudgeSink receives the verdict. Nil discards it.
	JudgeSink orchestrate.Sink
}

// DebateOutcome is the settled result of a full or partial debate.
type DebateOutcome struct {
	Roles      Roles
	Transcript string
	Turns      int
	Verdict    string
}

// Debate casts two opposing roles for the topic, runs the alternating
// turn loop, and hands the transcript to a judge. A turn failure ends
// the loop early; whatever transcript exists is still judged.
func Debate(ctx context.Context, orch *orchestrate.Orchestrator, opts DebateOptions) (*DebateOutcome, error) {
	if err := requireDistinctModels(opts.Models, 2); err != nil {
		return nil, err
	}
	if err := orch.Acquire(); err != nil {
		return nil, err
	}
	defer orch.Release()

	modelA, modelB := opts.Models[0], opts.Models[1]
	turns := opts.Turns
	if turns <= 0 {
		turns = DefaultDebateTurns
	}

	roles := castRoles(ctx, orch, modelA, opts.Topic)
	outcome := &DebateOutcome{Roles: roles}

	var transcript strings.Builder
	fmt.Fprintf(&transcript, "DEBATE TOPIC: %s\n", opts.Topic)
	fmt.Fprintf(&transcript, "SIDE A (%s): %s\n", roles.RoleA, roles.DescA)
	fmt.Fprintf(&transcript, "SIDE B (%s): %s\n", roles.RoleB, roles.DescB)
	transcript.WriteString("-----------------------------------\n")

	limiter := rate.NewLimiter(rate.Every(debatePacing), 1)

	lastLine := ""
	for turn := 1; turn <= turns; turn++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		sideA := turn%2 != 0
		model, role, desc, opponent := modelB, roles.RoleB, roles.DescB, roles.RoleA
		if sideA {
			model, role, desc, opponent = modelA, roles.RoleA, roles.DescA, roles.RoleB
		}

		sink := orchestrate.Discard
		if opts.TurnSink != nil {
			if s := opts.TurnSink(turn, role); s != nil {
				sink = s
			}
		}

		messages := []openai.Message{
			openai.NewSystemMessage(debaterPrompt(role, desc, opponent, opts.Topic)),
			openai.NewUserMessage(turnInstruction(turn, opts.Topic, lastLine)),
		}
		text, err := orch.Once(ctx, model, messages, sink)
		if err != nil {
			log.Printf("debate turn %d failed, judging partial transcript: %v", turn, err)
			break
		}

		lastLine = collapseLine(text)
		fmt.Fprintf(&transcript, "[%s]: %s\n", role, lastLine)
		outcome.Turns = turn
	}

	outcome.Transcript = transcript.String()

	judgeSink := opts.JudgeSink
	if judgeSink == nil {
		judgeSink = orchestrate.Discard
	}
	verdict, err := orch.Once(ctx, modelA, []openai.Message{
		openai.NewSystemMessage("You are an impartial and dramatic Judge."),
		openai.NewUserMessage(judgePrompt(outcome.Transcript)),
	}, judgeSink)
	if err != nil {
		return outcome, err
	}
	outcome.Verdict = verdict
	return outcome, nil
}

// castRoles asks the first model to split the topic into two opposing
// perspectives. Any failure, transport or parse, falls back to the
// fixed role pair; casting never blocks the debate.
func castRoles(ctx context.Context, orch *orchestrate.Orchestrator, model, topic string) Roles {
	raw, err := orch.Once(ctx, model, []openai.Message{
		openai.NewSystemMessage("You are a logical analyzer. Output JSON only. No markdown."),
		openai.NewUserMessage(castingPrompt(topic)),
	}, orchestrate.Discard)
	if err != nil {
		log.Printf("casting call failed, using fallback roles: %v", err)
		return fallbackRoles
	}

	var roles Roles
	if err := extract.JSON(raw, &roles); err != nil {
		log.Printf("casting parse failed, using fallback roles: %v", err)
		return fallbackRoles
	}
	if roles.RoleA == "" || roles.RoleB == "" {
		return fallbackRoles
	}
	return roles
}

func castingPrompt(topic string) string {
	return fmt.Sprintf(`Topic: %q.
Task: Analyze this topic and identify 2 opposing perspectives (Debater A vs Debater B).

Output format: JSON ONLY.
{
"roleA": "Name of perspective 1 (e.g. AI Enthusiast)",
"descA": "Core mindset of perspective 1",
"roleB": "Name of perspective 2 (e.g. Traditional Humanist)",
"descB": "Core mindset of perspective 2"
}`, topic)
}

func debaterPrompt(role, desc, opponent, topic string) string {
	return fmt.Sprintf(`Identity: You represent the perspective of %q regarding %q.
Core Mindset: %s.
Opponent: %q.
Instructions:
1. Be concise (max 60 words).
2. STYLE: Witty, sarcastic, creative, and full of personality. Use metaphors and slang naturally.
3. Roast the opponent's logic playfully but sharply based on your mindset.
4. Don't be boring or robotic.`, role, topic, desc, opponent)
}

func turnInstruction(turn int, topic, lastLine string) string {
	if turn == 1 {
		return fmt.Sprintf("Start the discussion on %q from your perspective. Point out the most critical aspect.", topic)
	}
	return fmt.Sprintf("Opponent said: %q.\nRespond critically based on your mindset. Find the flaw in their logic or provide a deeper counter-perspective.", lastLine)
}

func judgePrompt(transcript string) string {
	return fmt.Sprintf(`Role: You are the ULTIMATE JUDGE of a debate. You are wise, fair, but dramatic.
Input: The full transcript of a debate between two AI perspectives.

Transcript:
"""
%s
"""

Task: Decide the winner based on logic, creativity, and persuasion (roasting skills included).

Output Format (Markdown):

## 🏆 WINNER: [winning side]

> "Quote the single best MVP line of the match, from either side"

### 📝 Verdict:
(3-4 sharp sentences on how the match played out. Why did the winner win? What did the loser miss?)

### ⭐ Scorecard:
| Criterion | Side A | Side B |
| :--- | :---: | :---: |
| Logic | ?/10 | ?/10 |
| Creativity | ?/10 | ?/10 |
| **TOTAL** | **XX** | **YY** |`, transcript)
}
