// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/peterh/liner"

	"github.com/vhnguyen/polychat/internal/attach"
	"github.com/vhnguyen/polychat/internal/calls"
	"github.com/vhnguyen/polychat/internal/config"
	"github.com/vhnguyen/polychat/internal/gate"
	"github.com/vhnguyen/polychat/internal/openai"
	"github.com/vhnguyen/polychat/internal/orchestrate"
	"github.com/vhnguyen/polychat/internal/render"
	"github.com/vhnguyen/polychat/internal/store"
	"github.com/vhnguyen/polychat/internal/workflow"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// Input wraps liner with persistent history.
type Input struct {
	line        *liner.State
	historyFile string
}

// NewInput creates the line editor and loads history.
func NewInput() *Input {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	in := &Input{line: line, historyFile: filepath.Join(configDir, "input_history")}

	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
	return in
}

// Read prompts for one line, recording non-empty input in history.
func (in *Input) Read(prompt string) (string, error) {
	input, err := in.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		in.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history and restores the terminal.
func (in *Input) Close() {
	if f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
		in.line.WriteHistory(f)
		f.Close()
	}
	in.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// Session holds the state of one interactive run.
type Session struct {
	Config   *config.Config
	Client   *openai.Client
	Registry *calls.Registry
	Orch     *orchestrate.Orchestrator
	Gate     *gate.Gate
	Store    *store.SessionStore
	Markdown *render.Markdown
	Quiet    bool

	// pendingConfig holds a hot-reloaded config until the REPL applies
	// it between prompts.
	pendingConfig atomic.Pointer[config.Config]

	squadMode bool

	// Pending attachments, consumed by the next send.
	pendingImages []string
	fileContent   string
	fileName      string

	input *Input
}

// RunREPL runs the interactive loop until EOF or /quit.
func (s *Session) RunREPL() error {
	s.input = NewInput()
	defer s.input.Close()

	// Ctrl+C during generation stops every live call; at the prompt it
	// is handled by liner as an aborted read.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if s.Orch.Generating() {
				s.Orch.StopAll()
				fmt.Fprintln(os.Stderr, "\n"+render.WarnStyle.Render("[stopping]"))
			}
		}
	}()

	if !s.Quiet {
		s.printWelcome()
	}

	for {
		s.applyPendingConfig()

		input, err := s.input.Read(render.PromptStyle.Render("polychat> "))
		if err != nil {
			// Ctrl+C at the prompt or Ctrl+D both exit.
			fmt.Println()
			s.saveSession()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			keepGoing, err := s.handleCommand(input)
			if err != nil {
				fmt.Fprintln(os.Stderr, render.ErrorStyle.Render("[error] ")+err.Error())
			}
			if !keepGoing {
				s.saveSession()
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			s.saveSession()
			return nil
		}

		if err := s.send(input); err != nil {
			fmt.Fprintln(os.Stderr, render.ErrorStyle.Render("[error] ")+err.Error())
		}
	}
}

// applyPendingConfig picks up a hot-reloaded config file. Only the
// settings that can change mid-session are applied; the API client
// keeps its credentials for the life of the run.
func (s *Session) applyPendingConfig() {
	next := s.pendingConfig.Swap(nil)
	if next == nil {
		return
	}
	s.Config.Models = next.Models
	s.Config.Workflows = next.Workflows
	s.Config.Chat.Temperature = next.Chat.Temperature
	s.Config.Chat.TopP = next.Chat.TopP
	if next.Chat.SystemPrompt != s.Config.Chat.SystemPrompt {
		s.Config.Chat.SystemPrompt = next.Chat.SystemPrompt
		s.Orch.Conversation().SetSystemPrompt(next.Chat.SystemPrompt)
	}
	fmt.Println(render.InfoStyle.Render("config reloaded: models " + strings.Join(next.Models.List, ", ")))
}

func (s *Session) printWelcome() {
	fmt.Println(render.ModelStyle.Render("polychat " + Version))
	fmt.Println(render.InfoStyle.Render("models: " + strings.Join(s.Config.Models.List, ", ")))
	if s.Gate.Licensed() {
		fmt.Println(render.InfoStyle.Render("license: active"))
	} else {
		fmt.Println(render.InfoStyle.Render(fmt.Sprintf("free tier: %d chats, %d premium runs remaining",
			s.Gate.Remaining(gate.FeatureChat), s.Gate.Remaining(gate.FeaturePremium))))
	}
	fmt.Println(render.InfoStyle.Render("type /help for commands"))
	fmt.Println()
}

// =============================================================================
// SEND PATH
// =============================================================================

// send dispatches one user message: vision pipeline when images are
// pending, otherwise a plain or squad completion, with document
// context folded in when a file is attached.
func (s *Session) send(text string) error {
	ctx := context.Background()

	if len(s.pendingImages) > 0 {
		return s.sendVision(ctx, text)
	}

	if d := s.Gate.Check(gate.FeatureChat); !d.Allowed {
		return fmt.Errorf("%s", d.Message)
	}

	prompt, err := s.enrichWithFile(ctx, text)
	if err != nil {
		return err
	}

	models := s.Config.Models.List
	if !s.squadMode || len(models) < 2 {
		models = models[:1]
	}

	sinks := make([]orchestrate.Sink, len(models))
	cards := make([]*render.CardSink, len(models))
	primary := render.NewLiveSink(os.Stdout, models[0])
	sinks[0] = primary
	for i := 1; i < len(models); i++ {
		cards[i] = render.NewCardSink(models[i])
		sinks[i] = cards[i]
	}

	fmt.Println()
	results, err := workflow.Squad(ctx, s.Orch, workflow.SquadOptions{
		Models: models,
		Prompt: prompt,
		Sinks:  sinks,
	})
	if err != nil {
		return err
	}
	primary.Finish()

	// Secondary members render as cards after the primary stream so
	// concurrent output never interleaves.
	for i := 1; i < len(models); i++ {
		cards[i].Render(os.Stdout, s.Markdown)
		if results[i].Err != nil {
			fmt.Fprintln(os.Stderr, render.InfoStyle.Render(models[i]+": "+results[i].Err.Error()))
		}
	}

	s.saveSession()
	return nil
}

// enrichWithFile folds attached document context into the prompt. Large
// documents go through the keyword scan; small ones are inlined whole.
func (s *Session) enrichWithFile(ctx context.Context, text string) (string, error) {
	if s.fileContent == "" {
		return text, nil
	}

	docContext := s.fileContent
	if len(s.fileContent) > attach.RAGThreshold {
		keywords, err := attach.ExtractKeywords(ctx, s.Orch, s.Config.PrimaryModel(), text)
		if err != nil {
			return "", fmt.Errorf("keyword extraction: %w", err)
		}
		fmt.Println(render.InfoStyle.Render("scanning " + s.fileName + " for: " + strings.Join(firstN(keywords, 3), ", ")))
		docContext = attach.ScanContext(keywords, s.fileContent)
	}
	return attach.EnrichPrompt(text, docContext), nil
}

func (s *Session) sendVision(ctx context.Context, text string) error {
	if d := s.Gate.Check(gate.FeaturePremium); !d.Allowed {
		return fmt.Errorf("%s", d.Message)
	}
	if s.Config.Models.Vision == "" {
		return fmt.Errorf("no vision model configured (models.vision)")
	}

	status := render.NewLiveSink(os.Stderr, "agent")
	answer := render.NewLiveSink(os.Stdout, s.Config.PrimaryModel())

	fmt.Println()
	_, err := workflow.VisionAgent(ctx, s.Orch, workflow.VisionOptions{
		MainModel:   s.Config.PrimaryModel(),
		VisionModel: s.Config.Models.Vision,
		Question:    text,
		Images:      s.pendingImages,
		Status:      status,
		Answer:      answer,
	})
	answer.Finish()
	s.pendingImages = nil
	if err != nil {
		return err
	}

	s.saveSession()
	return nil
}

// saveSession persists the conversation; failures are reported but
// never block the chat.
func (s *Session) saveSession() {
	if s.Orch.Conversation().Len() <= 1 {
		return
	}
	if err := s.Store.Save(s.Orch.Conversation(), s.Config.Models.List); err != nil {
		fmt.Fprintln(os.Stderr, render.InfoStyle.Render("session save failed: "+err.Error()))
	}
}

func firstN(list []string, n int) []string {
	if len(list) < n {
		return list
	}
	return list[:n]
}
