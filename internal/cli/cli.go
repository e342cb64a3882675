// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the polychat command line: an interactive
// multi-model REPL with squad, debate, synthesis and vision modes.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vhnguyen/polychat/internal/calls"
	"github.com/vhnguyen/polychat/internal/chat"
	"github.com/vhnguyen/polychat/internal/config"
	"github.com/vhnguyen/polychat/internal/gate"
	"github.com/vhnguyen/polychat/internal/openai"
	"github.com/vhnguyen/polychat/internal/orchestrate"
	"github.com/vhnguyen/polychat/internal/render"
	"github.com/vhnguyen/polychat/internal/store"
)

// Version is the released version string.
const Version = "0.3.0"

// Args holds parsed command line arguments.
type Args struct {
	// Models overrides the configured model list (comma separated).
	Models string

	// SessionID resumes a stored session.
	SessionID string

	// ListSessions prints stored sessions and exits.
	ListSessions bool

	// ShowVersion prints the version and exits.
	ShowVersion bool

	// Quiet suppresses the welcome banner.
	Quiet bool
}

// ParseArgs reads os.Args style arguments.
func ParseArgs(argv []string) (Args, error) {
	var args Args
	for i := 0; i < len(argv); i++ {
		switch arg := argv[i]; arg {
		case "-m", "--models":
			if i+1 >= len(argv) {
				return args, fmt.Errorf("%s requires a value", arg)
			}
			i++
			args.Models = argv[i]
		case "-s", "--session":
			if i+1 >= len(argv) {
				return args, fmt.Errorf("%s requires a value", arg)
			}
			i++
			args.SessionID = argv[i]
		case "--sessions":
			args.ListSessions = true
		case "-q", "--quiet":
			args.Quiet = true
		case "-V", "--version":
			args.ShowVersion = true
		case "-h", "--help":
			printUsage()
			os.Exit(0)
		default:
			return args, fmt.Errorf("unknown argument: %s", arg)
		}
	}
	return args, nil
}

func printUsage() {
	fmt.Print(`polychat - multi-model chat orchestrator

Usage:
  polychat [flags]

Flags:
  -m, --models LIST    Comma-separated model IDs (first is primary)
  -s, --session ID     Resume a stored session
      --sessions       List stored sessions
  -q, --quiet          Skip the welcome banner
  -V, --version        Print version
  -h, --help           Show this help

Environment:
  POLYCHAT_API_KEY       API key (overrides config file)
  POLYCHAT_BASE_URL      OpenAI-compatible endpoint base
  POLYCHAT_MODELS        Comma-separated model list
  POLYCHAT_VISION_MODEL  Vision model for image attachments
`)
}

// Run is the CLI entry point.
func Run(argv []string) error {
	args, err := ParseArgs(argv)
	if err != nil {
		return err
	}
	if args.ShowVersion {
		fmt.Println("polychat " + Version)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if args.Models != "" {
		var list []string
		for _, m := range strings.Split(args.Models, ",") {
			if m = strings.TrimSpace(m); m != "" {
				list = append(list, m)
			}
		}
		if len(list) > 0 {
			cfg.Models.List = list
		}
	}

	sessions, err := newSessionStore(cfg)
	if err != nil {
		return err
	}
	if sessions.Index != nil {
		defer sessions.Index.Close()
	}
	if args.ListSessions {
		return printSessions(sessions)
	}

	if cfg.API.Key == "" {
		fmt.Fprintln(os.Stderr, render.WarnStyle.Render("No API key configured. Set POLYCHAT_API_KEY or api.key in ~/.polychat/config.toml."))
	}

	client := openai.NewClient(cfg.API.Key).
		WithBaseURL(cfg.API.BaseURL).
		WithSampling(cfg.Chat.Temperature, cfg.Chat.TopP).
		WithReferer(cfg.API.Referer)

	conv := chat.New(cfg.Chat.SystemPrompt)
	if args.SessionID != "" {
		stored, err := sessions.Load(args.SessionID)
		if err != nil {
			return err
		}
		conv = stored.Restore()
	}

	accessGate, err := gate.Open()
	if err != nil {
		return err
	}

	session := &Session{
		Config:   cfg,
		Client:   client,
		Registry: calls.NewRegistry(),
		Gate:     accessGate,
		Store:    sessions,
		Markdown: render.NewMarkdown(cfg.UI.Theme),
		Quiet:    args.Quiet,
	}
	session.Orch = orchestrate.New(client, session.Registry, conv)

	// Hot-reload the config file while the session runs; the REPL
	// applies changes between prompts.
	if cfgPath, err := config.Path(); err == nil {
		if watcher, err := config.NewWatcher(cfgPath, func(next *config.Config) {
			session.pendingConfig.Store(next)
		}); err == nil {
			defer watcher.Close()
		}
	}

	return session.RunREPL()
}

func newSessionStore(cfg *config.Config) (*store.SessionStore, error) {
	var s *store.SessionStore
	var err error
	if cfg.Chat.SessionDir != "" {
		s, err = store.NewSessionStoreWithDir(cfg.Chat.SessionDir)
	} else {
		s, err = store.NewSessionStore()
	}
	if err != nil {
		return nil, err
	}
	s.MaxSessions = cfg.Chat.MaxSessions

	// A broken index disables /search but never blocks the store.
	if idx, err := store.NewMessageIndex(filepath.Join(s.BaseDir, "search.db")); err == nil {
		s.Index = idx
	}
	return s, nil
}

func printSessions(sessions *store.SessionStore) error {
	metas, err := sessions.List()
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Println("Sessions:")
	for _, m := range metas {
		fmt.Printf("  %-14s %s  %3d msgs  %s\n",
			m.ID, m.UpdatedAt.Format("2006-01-02 15:04"), m.MessageCount, m.Preview)
	}
	return nil
}
