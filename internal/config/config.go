// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates polychat configuration from
// ~/.polychat/config.toml with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/vhnguyen/polychat/internal/workflow"
)

// DefaultSystemPrompt shapes answers toward visual, example-heavy
// explanations. Users can override it per session.
const DefaultSystemPrompt = `Role: Clear Explainer.
Primary: Detailed text + visual (more visual than text).
Visuals: Use ASCII art frequently.
Format: Wrap ASCII art in text.
FILES: Deep analysis + tables.
Math: Brief only. $ inline, $$ block.
STYLE: Combine text with ASCII art.`

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the root configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// API holds transport settings.
	API APIConfig `toml:"api" json:"api"`

	// Models holds the model roster.
	Models ModelsConfig `toml:"models" json:"models"`

	// Chat holds conversation settings.
	Chat ChatConfig `toml:"chat" json:"chat"`

	// Workflows holds per-mode tuning.
	Workflows WorkflowConfig `toml:"workflows" json:"workflows"`

	// UI holds terminal rendering settings.
	UI UIConfig `toml:"ui" json:"ui"`
}

// APIConfig configures the chat completions endpoint.
type APIConfig struct {
	// Key is the bearer token. Never logged.
	Key string `toml:"key" json:"key"`

	// BaseURL overrides the default OpenAI-compatible endpoint base.
	BaseURL string `toml:"base_url" json:"base_url"`

	// Referer is sent as HTTP-Referer for provider attribution.
	Referer string `toml:"referer" json:"referer"`
}

// ModelsConfig is the configured model roster.
type ModelsConfig struct {
	// List holds the active models in priority order; the first entry
	// is the primary model.
	List []string `toml:"list" json:"list"`

	// Vision is the model used for image analysis.
	Vision string `toml:"vision" json:"vision"`
}

// ChatConfig tunes conversation behavior.
type ChatConfig struct {
	SystemPrompt string  `toml:"system_prompt" json:"system_prompt"`
	Temperature  float64 `toml:"temperature" json:"temperature"`
	TopP         float64 `toml:"top_p" json:"top_p"`

	// SessionDir overrides where sessions are stored.
	SessionDir string `toml:"session_dir" json:"session_dir"`

	// MaxSessions caps stored sessions.
	MaxSessions int `toml:"max_sessions" json:"max_sessions"`
}

// WorkflowConfig tunes the multi-model modes.
type WorkflowConfig struct {
	// DebateTurns is the debate round count.
	DebateTurns int `toml:"debate_turns" json:"debate_turns"`
}

// UIConfig tunes terminal output.
type UIConfig struct {
	// Markdown renders assistant output through the markdown renderer
	// when enabled.
	Markdown bool `toml:"markdown" json:"markdown"`

	// Theme selects the markdown style ("dark", "light", "auto").
	Theme string `toml:"theme" json:"theme"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Version: "0.3.0",
		API: APIConfig{
			BaseURL: "https://openrouter.ai/api/v1",
		},
		Models: ModelsConfig{
			List: []string{"openai/gpt-oss-120b"},
		},
		Chat: ChatConfig{
			SystemPrompt: DefaultSystemPrompt,
			Temperature:  0.7,
			TopP:         1.0,
			MaxSessions:  100,
		},
		Workflows: WorkflowConfig{
			DebateTurns: workflow.DefaultDebateTurns,
		},
		UI: UIConfig{
			Markdown: true,
			Theme:    "auto",
		},
	}
}

// ConfigDir returns ~/.polychat.
func ConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".polychat"), nil
}

// Path returns the config file location.
func Path() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the config file if present, applies environment overrides
// and validates. A missing file yields defaults, not an error.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadPath(path)
}

// LoadPath loads from an explicit file path.
func LoadPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as TOML to the default location with owner-only
// permissions; the file may hold the API key.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// ApplyEnvOverrides lets the environment win over the file.
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("POLYCHAT_API_KEY"); key != "" {
		c.API.Key = key
	}
	if url := os.Getenv("POLYCHAT_BASE_URL"); url != "" {
		c.API.BaseURL = url
	}
	if models := os.Getenv("POLYCHAT_MODELS"); models != "" {
		var list []string
		for _, m := range strings.Split(models, ",") {
			if m = strings.TrimSpace(m); m != "" {
				list = append(list, m)
			}
		}
		if len(list) > 0 {
			c.Models.List = list
		}
	}
	if vision := os.Getenv("POLYCHAT_VISION_MODEL"); vision != "" {
		c.Models.Vision = vision
	}
	if temp := os.Getenv("POLYCHAT_TEMPERATURE"); temp != "" {
		if v, err := strconv.ParseFloat(temp, 64); err == nil {
			c.Chat.Temperature = v
		}
	}
	if turns := os.Getenv("POLYCHAT_DEBATE_TURNS"); turns != "" {
		if v, err := strconv.Atoi(turns); err == nil {
			c.Workflows.DebateTurns = v
		}
	}
}

// fillDefaults repairs zero values a partial file may leave behind.
func (c *Config) fillDefaults() {
	def := Default()
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	if len(c.Models.List) == 0 {
		c.Models.List = def.Models.List
	}
	if c.Chat.SystemPrompt == "" {
		c.Chat.SystemPrompt = def.Chat.SystemPrompt
	}
	if c.Chat.Temperature == 0 {
		c.Chat.Temperature = def.Chat.Temperature
	}
	if c.Chat.TopP == 0 {
		c.Chat.TopP = def.Chat.TopP
	}
	if c.Chat.MaxSessions == 0 {
		c.Chat.MaxSessions = def.Chat.MaxSessions
	}
	if c.Workflows.DebateTurns == 0 {
		c.Workflows.DebateTurns = def.Workflows.DebateTurns
	}
	if c.UI.Theme == "" {
		c.UI.Theme = def.UI.Theme
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidateErrors aggregates every invalid field.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks field ranges and required values.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		errs = append(errs, ValidationError{Field: "api.base_url", Message: "must start with http:// or https://"})
	}
	if len(c.Models.List) == 0 {
		errs = append(errs, ValidationError{Field: "models.list", Message: "at least one model required"})
	}
	for _, m := range c.Models.List {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, ValidationError{Field: "models.list", Message: "model IDs must be non-empty"})
			break
		}
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		errs = append(errs, ValidationError{Field: "chat.temperature", Message: "must be between 0 and 2"})
	}
	if c.Chat.TopP <= 0 || c.Chat.TopP > 1 {
		errs = append(errs, ValidationError{Field: "chat.top_p", Message: "must be in (0, 1]"})
	}
	if c.Workflows.DebateTurns < 1 || c.Workflows.DebateTurns > 50 {
		errs = append(errs, ValidationError{Field: "workflows.debate_turns", Message: "must be between 1 and 50"})
	}
	switch c.UI.Theme {
	case "dark", "light", "auto":
	default:
		errs = append(errs, ValidationError{Field: "ui.theme", Message: "must be dark, light or auto"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// PrimaryModel returns the first configured model.
func (c *Config) PrimaryModel() string {
	if len(c.Models.List) == 0 {
		return ""
	}
	return c.Models.List[0]
}
