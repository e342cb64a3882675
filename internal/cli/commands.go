// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vhnguyen/polychat/internal/attach"
	"github.com/vhnguyen/polychat/internal/chat"
	"github.com/vhnguyen/polychat/internal/gate"
	"github.com/vhnguyen/polychat/internal/openai"
	"github.com/vhnguyen/polychat/internal/orchestrate"
	"github.com/vhnguyen/polychat/internal/render"
	"github.com/vhnguyen/polychat/internal/workflow"
)

// handleCommand dispatches a slash command. The bool result reports
// whether the REPL should keep running.
func (s *Session) handleCommand(input string) (bool, error) {
	cmd, rest, _ := strings.Cut(strings.TrimPrefix(input, "/"), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "help", "h":
		s.printHelp()
	case "quit", "q", "exit":
		return false, nil
	case "clear", "c":
		s.Orch.Conversation().Reset()
		fmt.Println(render.InfoStyle.Render("conversation cleared"))
	case "new", "n":
		s.saveSession()
		s.Orch = orchestrate.New(s.Client, s.Registry, chat.New(s.Config.Chat.SystemPrompt))
		fmt.Println(render.InfoStyle.Render("started a new session"))
	case "stop":
		if s.Orch.Generating() {
			s.Orch.StopAll()
			fmt.Println(render.InfoStyle.Render("stopping live calls"))
		} else {
			fmt.Println(render.InfoStyle.Render("nothing running"))
		}
	case "models", "model", "m":
		return true, s.cmdModels(rest)
	case "system":
		return true, s.cmdSystem(rest)
	case "squad":
		s.squadMode = !s.squadMode
		state := "off"
		if s.squadMode {
			state = "on"
		}
		fmt.Println(render.InfoStyle.Render("squad mode " + state))
	case "debate":
		return true, s.cmdDebate(rest)
	case "synth", "synthesize":
		return true, s.cmdSynthesize(rest)
	case "attach", "a":
		return true, s.cmdAttach(rest)
	case "detach":
		s.pendingImages = nil
		s.fileContent = ""
		s.fileName = ""
		fmt.Println(render.InfoStyle.Render("attachments cleared"))
	case "history":
		s.cmdHistory()
	case "sessions":
		return true, printSessions(s.Store)
	case "search":
		return true, s.cmdSearch(rest)
	case "load":
		return true, s.cmdLoad(rest)
	case "status":
		s.cmdStatus()
	case "license":
		return true, s.cmdLicense(rest)
	default:
		return true, fmt.Errorf("unknown command: /%s (try /help)", cmd)
	}
	return true, nil
}

func (s *Session) printHelp() {
	fmt.Print(`Commands:
  /models [a,b,...]   Show or replace the model list (first is primary)
  /system [prompt]    Show or replace the system prompt
  /squad              Toggle squad mode (race all models on each send)
  /debate TOPIC       Run an adversarial debate between the first two models
  /synth QUERY        Scatter the query to all models and synthesize one answer
  /attach PATH        Attach an image (vision) or a text document (context)
  /detach             Drop pending attachments
  /history            Show the conversation log
  /sessions           List stored sessions
  /search QUERY       Full-text search across stored sessions
  /load ID            Load a stored session
  /status             Show live calls and quota
  /license KEY        Activate a license key
  /clear              Clear the conversation
  /new                Save and start a fresh session
  /stop               Stop every live generation
  /quit               Exit
  Ctrl+C              Stop the current generation
`)
}

func (s *Session) cmdModels(rest string) error {
	if rest == "" {
		for i, m := range s.Config.Models.List {
			marker := "  "
			if i == 0 {
				marker = "* "
			}
			fmt.Println(marker + m)
		}
		if s.Config.Models.Vision != "" {
			fmt.Println(render.InfoStyle.Render("vision: " + s.Config.Models.Vision))
		}
		return nil
	}

	var list []string
	for _, m := range strings.Split(rest, ",") {
		if m = strings.TrimSpace(m); m != "" {
			list = append(list, m)
		}
	}
	if len(list) == 0 {
		return fmt.Errorf("no models given")
	}
	s.Config.Models.List = list
	fmt.Println(render.InfoStyle.Render("models set: " + strings.Join(list, ", ")))
	return nil
}

func (s *Session) cmdSystem(rest string) error {
	if rest == "" {
		fmt.Println(s.Orch.Conversation().SystemPrompt())
		return nil
	}
	s.Orch.Conversation().SetSystemPrompt(rest)
	s.Config.Chat.SystemPrompt = rest
	fmt.Println(render.InfoStyle.Render("system prompt updated"))
	return nil
}

// =============================================================================
// WORKFLOW COMMANDS
// =============================================================================

func (s *Session) cmdDebate(topic string) error {
	if topic == "" {
		return fmt.Errorf("usage: /debate TOPIC")
	}
	if d := s.Gate.Check(gate.FeaturePremium); !d.Allowed {
		return fmt.Errorf("%s", d.Message)
	}

	outcome, err := workflow.Debate(context.Background(), s.Orch, workflow.DebateOptions{
		Models: s.Config.Models.List,
		Topic:  topic,
		Turns:  s.Config.Workflows.DebateTurns,
		TurnSink: func(turn int, role string) orchestrate.Sink {
			style := render.SideAStyle
			if turn%2 == 0 {
				style = render.SideBStyle
			}
			fmt.Printf("\n%s\n", style.Render(fmt.Sprintf("[%d] %s", turn, strings.ToUpper(role))))
			return render.NewLiveSink(os.Stdout, "")
		},
		JudgeSink: orchestrate.Discard,
	})
	if outcome != nil {
		fmt.Println()
		verdict := s.Markdown.Render(outcome.Verdict)
		fmt.Println(render.JudgeStyle.Width(render.Width() - 2).Render(strings.TrimRight(verdict, "\n")))
	}
	return err
}

func (s *Session) cmdSynthesize(query string) error {
	if query == "" {
		return fmt.Errorf("usage: /synth QUERY")
	}
	if d := s.Gate.Check(gate.FeaturePremium); !d.Allowed {
		return fmt.Errorf("%s", d.Message)
	}

	final := render.NewLiveSink(os.Stdout, "consensus ("+s.Config.PrimaryModel()+")")
	fmt.Println()
	_, err := workflow.Synthesize(context.Background(), s.Orch, workflow.SynthesisOptions{
		Models: s.Config.Models.List,
		Query:  query,
		OnSource: func(model string, err error) {
			if err != nil {
				fmt.Fprintln(os.Stderr, render.InfoStyle.Render("✗ "+model))
				return
			}
			fmt.Fprintln(os.Stderr, render.InfoStyle.Render("✔ "+model))
		},
		FinalSink: final,
	})
	final.Finish()
	if err == nil {
		s.saveSession()
	}
	return err
}

// =============================================================================
// ATTACHMENTS AND SESSIONS
// =============================================================================

func (s *Session) cmdAttach(path string) error {
	if path == "" {
		return fmt.Errorf("usage: /attach PATH")
	}

	if attach.IsImage(path) {
		dataURL, err := attach.ExtractImage(path)
		if err != nil {
			return err
		}
		s.pendingImages = append(s.pendingImages, dataURL)
		fmt.Println(render.InfoStyle.Render(fmt.Sprintf("image attached (%d pending); next send runs the vision agent", len(s.pendingImages))))
		return nil
	}

	text, err := attach.ExtractText(path)
	if err != nil {
		return err
	}
	s.fileContent = text
	s.fileName = path
	mode := "inlined whole"
	if len(text) > attach.RAGThreshold {
		mode = "keyword scan on send"
	}
	fmt.Println(render.InfoStyle.Render(fmt.Sprintf("document attached: %s (%d bytes, %s)", path, len(text), mode)))
	return nil
}

func (s *Session) cmdHistory() {
	for _, msg := range s.Orch.Conversation().Log() {
		label := render.InfoStyle.Render("[" + msg.Role + "]")
		if msg.Role == openai.RoleUser {
			label = render.PromptStyle.Render("[user]")
		}
		fmt.Println(label + " " + msg.Text())
	}
}

func (s *Session) cmdSearch(query string) error {
	if query == "" {
		return fmt.Errorf("usage: /search QUERY")
	}
	hits, err := s.Store.Search(query, 10)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println(render.InfoStyle.Render("no matches"))
		return nil
	}
	for _, h := range hits {
		fmt.Printf("  %-14s %s  [%s] %s\n",
			h.SessionID, h.UpdatedAt.Format("2006-01-02"), h.Role, h.Snippet)
	}
	fmt.Println(render.InfoStyle.Render("use /load ID to resume a session"))
	return nil
}

func (s *Session) cmdLoad(id string) error {
	if id == "" {
		return fmt.Errorf("usage: /load ID")
	}
	stored, err := s.Store.Load(id)
	if err != nil {
		return err
	}
	s.Orch = orchestrate.New(s.Client, s.Registry, stored.Restore())
	fmt.Println(render.InfoStyle.Render("loaded session " + id))
	return nil
}

func (s *Session) cmdStatus() {
	fmt.Printf("live calls: %d", s.Registry.Active())
	if models := s.Registry.Models(); len(models) > 0 {
		fmt.Printf(" (%s)", strings.Join(models, ", "))
	}
	fmt.Println()
	fmt.Println("messages:", s.Orch.Conversation().Len())
	if s.Gate.Licensed() {
		fmt.Println("license: active")
	} else {
		fmt.Printf("quota: %d chat, %d premium remaining\n",
			s.Gate.Remaining(gate.FeatureChat), s.Gate.Remaining(gate.FeaturePremium))
	}
	if s.Client.IsConfigured() {
		fmt.Println("api key:", s.Client.KeyFingerprint())
	}
}

func (s *Session) cmdLicense(key string) error {
	if key == "" {
		return fmt.Errorf("usage: /license KEY")
	}
	if err := s.Gate.Activate(key, time.Now().AddDate(1, 0, 0)); err != nil {
		return err
	}
	fmt.Println(render.InfoStyle.Render("license activated"))
	return nil
}
