// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vhnguyen/polychat/internal/calls"
	"github.com/vhnguyen/polychat/internal/chat"
	"github.com/vhnguyen/polychat/internal/openai"
	"github.com/vhnguyen/polychat/internal/orchestrate"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

// seenRequest is one decoded completion request as the server saw it.
type seenRequest struct {
	Model  string
	Stream bool
	System string
	User   string // last user message, or "" for multimodal content
	Vision bool   // last user message carried content parts
}

// scriptFunc decides the response for one request. A non-zero status
// fails the request; otherwise text is returned as the completion.
type scriptFunc func(req seenRequest) (text string, status int)

type fakeAPI struct {
	mu   sync.Mutex
	seen []seenRequest

	server *httptest.Server
}

// newFakeAPI records every request and answers via script.
func newFakeAPI(t *testing.T, script scriptFunc) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model    string `json:"model"`
			Stream   bool   `json:"stream"`
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		req := seenRequest{Model: body.Model, Stream: body.Stream}
		for _, m := range body.Messages {
			var s string
			plain := json.Unmarshal(m.Content, &s) == nil
			switch m.Role {
			case "system":
				req.System = s
			case "user":
				if plain {
					req.User = s
					req.Vision = false
				} else {
					req.User = ""
					req.Vision = true
				}
			}
		}

		f.mu.Lock()
		f.seen = append(f.seen, req)
		f.mu.Unlock()

		text, status := script(req)
		if status != 0 {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"scripted failure"}}`)
			return
		}
		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", text)
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, text)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) orchestrator() *orchestrate.Orchestrator {
	client := openai.NewClient("test-key").WithBaseURL(f.server.URL)
	return orchestrate.New(client, calls.NewRegistry(), chat.New("sys"))
}

func (f *fakeAPI) requests() []seenRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]seenRequest, len(f.seen))
	copy(out, f.seen)
	return out
}

// collectSink appends updates; the workflows under test call it from a
// single goroutine per sink, but the mutex keeps the race detector
// happy when runs overlap.
type collectSink struct {
	mu      sync.Mutex
	updates []string
}

func (s *collectSink) Update(full string) {
	s.mu.Lock()
	s.updates = append(s.updates, full)
	s.mu.Unlock()
}

func (s *collectSink) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return ""
	}
	return s.updates[len(s.updates)-1]
}

// =============================================================================
// SQUAD
// =============================================================================

func TestSquad_RacesAllModelsAndKeepsPrimaryAnswer(t *testing.T) {
	api := newFakeAPI(t, func(req seenRequest) (string, int) {
		return "answer from " + req.Model, 0
	})
	orch := api.orchestrator()

	primary, second := &collectSink{}, &collectSink{}
	results, err := Squad(context.Background(), orch, SquadOptions{
		Models: []string{"alpha", "beta"},
		Prompt: "what is up",
		Sinks:  []orchestrate.Sink{primary, second},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "answer from alpha", results[0].Text)
	require.Equal(t, "answer from beta", results[1].Text)
	require.Equal(t, "answer from alpha", primary.last())
	require.Equal(t, "answer from beta", second.last())

	// Only the primary answer enters history: system, user, assistant.
	conv := orch.Conversation()
	require.Equal(t, 3, conv.Len())
	require.Equal(t, "answer from alpha", conv.LastAssistant())

	for _, req := range api.requests() {
		require.True(t, req.Stream, "squad members must stream")
		require.Equal(t, "what is up", req.User)
		require.Equal(t, "sys", req.System)
	}
}

func TestSquad_SingleModelIsAllowed(t *testing.T) {
	api := newFakeAPI(t, func(seenRequest) (string, int) { return "solo", 0 })
	orch := api.orchestrator()

	results, err := Squad(context.Background(), orch, SquadOptions{
		Models: []string{"alpha"},
		Prompt: "hi",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "solo", orch.Conversation().LastAssistant())
}

func TestSquad_EmptyModelListIsRejectedBeforeNetwork(t *testing.T) {
	api := newFakeAPI(t, func(seenRequest) (string, int) { return "", 0 })
	orch := api.orchestrator()

	_, err := Squad(context.Background(), orch, SquadOptions{Models: []string{" ", ""}, Prompt: "hi"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Empty(t, api.requests())
}

// =============================================================================
// DEBATE
// =============================================================================

const castingJSON = `{"roleA":"Optimist","descA":"Hopeful about change","roleB":"Skeptic","descB":"Wary of change"}`

// debateScript answers the casting call with JSON, the judge with a
// verdict, and everything else with a per-model turn line.
func debateScript(casting string) scriptFunc {
	return func(req seenRequest) (string, int) {
		switch {
		case strings.Contains(req.System, "logical analyzer"):
			return casting, 0
		case strings.Contains(req.System, "Judge"):
			return "the verdict", 0
		default:
			return "turn by " + req.Model, 0
		}
	}
}

func TestDebate_AlternatesModelsOddEven(t *testing.T) {
	api := newFakeAPI(t, debateScript(castingJSON))
	orch := api.orchestrator()

	var turnRoles []string
	outcome, err := Debate(context.Background(), orch, DebateOptions{
		Models: []string{"alpha", "beta"},
		Topic:  "tabs vs spaces",
		Turns:  3,
		TurnSink: func(turn int, role string) orchestrate.Sink {
			turnRoles = append(turnRoles, fmt.Sprintf("%d:%s", turn, role))
			return nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, Roles{RoleA: "Optimist", DescA: "Hopeful about change", RoleB: "Skeptic", DescB: "Wary of change"}, outcome.Roles)
	require.Equal(t, 3, outcome.Turns)
	require.Equal(t, "the verdict", outcome.Verdict)
	require.Equal(t, []string{"1:Optimist", "2:Skeptic", "3:Optimist"}, turnRoles)

	// casting + 3 turns + judge
	reqs := api.requests()
	require.Len(t, reqs, 5)
	require.Equal(t, "alpha", reqs[1].Model) // odd turns are side A
	require.Equal(t, "beta", reqs[2].Model)
	require.Equal(t, "alpha", reqs[3].Model)

	// Turn 2 quotes turn 1 back at the opponent.
	require.Contains(t, reqs[2].User, `Opponent said: "turn by alpha"`)
}

func TestDebate_FallsBackOnProseCasting(t *testing.T) {
	api := newFakeAPI(t, debateScript("Sorry, I only speak prose."))
	orch := api.orchestrator()

	outcome, err := Debate(context.Background(), orch, DebateOptions{
		Models: []string{"alpha", "beta"},
		Topic:  "anything",
		Turns:  1,
	})
	require.NoError(t, err)
	require.Equal(t, fallbackRoles, outcome.Roles)
	require.Contains(t, outcome.Transcript, "SIDE A (Perspective A): In favor")
}

func TestDebate_TurnFailureStillJudgesPartialTranscript(t *testing.T) {
	api := newFakeAPI(t, func(req seenRequest) (string, int) {
		switch {
		case strings.Contains(req.System, "logical analyzer"):
			return castingJSON, 0
		case strings.Contains(req.System, "Judge"):
			return "verdict on a short match", 0
		case req.Model == "beta":
			return "", http.StatusInternalServerError
		default:
			return "opening statement", 0
		}
	})
	orch := api.orchestrator()

	outcome, err := Debate(context.Background(), orch, DebateOptions{
		Models: []string{"alpha", "beta"},
		Topic:  "resilience",
		Turns:  3,
	})
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Turns)
	require.Equal(t, "verdict on a short match", outcome.Verdict)
	require.Equal(t, 1, strings.Count(outcome.Transcript, "[Optimist]:"))
	require.NotContains(t, outcome.Transcript, "[Skeptic]:")

	// The judge ran exactly once, on the partial transcript.
	judged := 0
	for _, req := range api.requests() {
		if strings.Contains(req.System, "Judge") {
			judged++
			require.Contains(t, req.User, "opening statement")
		}
	}
	require.Equal(t, 1, judged)
}

func TestDebate_RejectsSameModelTwice(t *testing.T) {
	api := newFakeAPI(t, debateScript(castingJSON))
	orch := api.orchestrator()

	_, err := Debate(context.Background(), orch, DebateOptions{
		Models: []string{"alpha", "alpha"},
		Topic:  "mirrors",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Empty(t, api.requests())
}

func TestDebate_MultiLineTurnCollapsesToOneTranscriptLine(t *testing.T) {
	api := newFakeAPI(t, func(req seenRequest) (string, int) {
		switch {
		case strings.Contains(req.System, "logical analyzer"):
			return castingJSON, 0
		case strings.Contains(req.System, "Judge"):
			return "v", 0
		default:
			return "first line\n\nsecond   line", 0
		}
	})
	orch := api.orchestrator()

	outcome, err := Debate(context.Background(), orch, DebateOptions{
		Models: []string{"alpha", "beta"},
		Topic:  "whitespace",
		Turns:  1,
	})
	require.NoError(t, err)
	require.Contains(t, outcome.Transcript, "[Optimist]: first line second line\n")
}

// =============================================================================
// SYNTHESIS
// =============================================================================

func TestSynthesize_MergesSurvivingSourcesInOrder(t *testing.T) {
	api := newFakeAPI(t, func(req seenRequest) (string, int) {
		switch {
		case strings.Contains(req.System, "Synthesizer"):
			return "the consensus", 0
		case req.Model == "beta":
			return "", http.StatusInternalServerError
		default:
			return "facts from " + req.Model, 0
		}
	})
	orch := api.orchestrator()

	var mu sync.Mutex
	settled := map[string]bool{}
	final := &collectSink{}

	answer, err := Synthesize(context.Background(), orch, SynthesisOptions{
		Models: []string{"alpha", "beta", "gamma"},
		Query:  "capital of France?",
		OnSource: func(model string, err error) {
			mu.Lock()
			settled[model] = err == nil
			mu.Unlock()
		},
		FinalSink: final,
	})
	require.NoError(t, err)
	require.Equal(t, "the consensus", answer)
	require.Equal(t, "the consensus", final.last())
	require.Equal(t, map[string]bool{"alpha": true, "beta": false, "gamma": true}, settled)

	// The gather prompt labels survivors by source, in model order,
	// skipping the failed member.
	reqs := api.requests()
	var gather *seenRequest
	for i := range reqs {
		if strings.Contains(reqs[i].System, "Synthesizer") {
			gather = &reqs[i]
		}
	}
	require.NotNil(t, gather)
	require.Equal(t, "alpha", gather.Model, "the first model leads the gather")
	require.True(t, gather.Stream)
	require.Contains(t, gather.User, "[SOURCE 1 - alpha]:\nfacts from alpha")
	require.Contains(t, gather.User, "[SOURCE 2 - gamma]:\nfacts from gamma")
	require.NotContains(t, gather.User, "beta]")

	// The exchange lands in history as a plain user/assistant pair.
	conv := orch.Conversation()
	require.Equal(t, 3, conv.Len())
	require.Equal(t, "the consensus", conv.LastAssistant())
}

func TestSynthesize_AllSourcesFailing(t *testing.T) {
	api := newFakeAPI(t, func(seenRequest) (string, int) {
		return "", http.StatusInternalServerError
	})
	orch := api.orchestrator()

	_, err := Synthesize(context.Background(), orch, SynthesisOptions{
		Models: []string{"alpha", "beta"},
		Query:  "q",
	})
	require.ErrorIs(t, err, ErrNoSources)

	// Only the two scatter calls happened; no gather was attempted.
	require.Len(t, api.requests(), 2)
	require.Equal(t, 1, orch.Conversation().Len())
}

func TestSynthesize_StopDuringScatterReportsCancelled(t *testing.T) {
	api := newFakeAPI(t, func(seenRequest) (string, int) { return "x", 0 })
	orch := api.orchestrator()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Synthesize(ctx, orch, SynthesisOptions{
		Models: []string{"alpha", "beta"},
		Query:  "q",
	})
	require.ErrorIs(t, err, orchestrate.ErrCancelled)
	require.NotErrorIs(t, err, ErrNoSources)
	require.Equal(t, 1, orch.Conversation().Len())
}

func TestSynthesize_NeedsTwoModels(t *testing.T) {
	api := newFakeAPI(t, func(seenRequest) (string, int) { return "x", 0 })
	orch := api.orchestrator()

	_, err := Synthesize(context.Background(), orch, SynthesisOptions{
		Models: []string{"alpha"},
		Query:  "q",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Empty(t, api.requests())
}

// =============================================================================
// VISION AGENT
// =============================================================================

const tinyImage = "data:image/png;base64,aGVsbG8="

func TestVisionAgent_RunsThreeStagesInOrder(t *testing.T) {
	api := newFakeAPI(t, func(req seenRequest) (string, int) {
		switch {
		case req.Vision:
			return "a red square on white", 0
		case strings.Contains(req.User, "Director"):
			return "describe the shapes and colors", 0
		default:
			return "the final answer", 0
		}
	})
	orch := api.orchestrator()

	status, answer := &collectSink{}, &collectSink{}
	final, err := VisionAgent(context.Background(), orch, VisionOptions{
		MainModel:   "main",
		VisionModel: "eyes",
		Question:    "what is in this picture?",
		Images:      []string{tinyImage},
		Status:      status,
		Answer:      answer,
	})
	require.NoError(t, err)
	require.Equal(t, "the final answer", final)
	require.Equal(t, "the final answer", answer.last())

	reqs := api.requests()
	require.Len(t, reqs, 3)
	require.Equal(t, "main", reqs[0].Model)
	require.Contains(t, reqs[0].User, `"what is in this picture?"`)
	require.Equal(t, "eyes", reqs[1].Model)
	require.True(t, reqs[1].Vision, "stage two must carry content parts")
	require.Equal(t, "main", reqs[2].Model)
	require.True(t, reqs[2].Stream, "the final answer streams")
	require.Contains(t, reqs[2].User, "a red square on white")

	conv := orch.Conversation()
	require.Equal(t, 3, conv.Len())
	require.Equal(t, "the final answer", conv.LastAssistant())
}

func TestVisionAgent_NeedsImages(t *testing.T) {
	api := newFakeAPI(t, func(seenRequest) (string, int) { return "x", 0 })
	orch := api.orchestrator()

	_, err := VisionAgent(context.Background(), orch, VisionOptions{
		MainModel:   "main",
		VisionModel: "eyes",
		Question:    "q",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Empty(t, api.requests())
}

func TestVisionAgent_StageFailureStopsPipeline(t *testing.T) {
	api := newFakeAPI(t, func(req seenRequest) (string, int) {
		if req.Model == "eyes" {
			return "", http.StatusInternalServerError
		}
		return "instruction", 0
	})
	orch := api.orchestrator()

	_, err := VisionAgent(context.Background(), orch, VisionOptions{
		MainModel:   "main",
		VisionModel: "eyes",
		Question:    "q",
		Images:      []string{tinyImage},
	})
	require.Error(t, err)
	require.Len(t, api.requests(), 2, "the answer stage must not run")
	require.Equal(t, 1, orch.Conversation().Len(), "history unchanged on failure")
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func TestRequireDistinctModels(t *testing.T) {
	require.NoError(t, requireDistinctModels([]string{"a", "b"}, 2))
	require.Error(t, requireDistinctModels([]string{"a", "a"}, 2))
	require.Error(t, requireDistinctModels([]string{"a", " "}, 2))
	require.NoError(t, requireDistinctModels([]string{" a ", "a", "b"}, 2))
}

func TestPause_ReturnsEarlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pause(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}
