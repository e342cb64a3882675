// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gate enforces the free-tier quota consulted once per
// user-initiated send. A denial short-circuits before any network
// call. A valid license lifts every limit.
package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vhnguyen/polychat/internal/util"
)

// Feature tags the two metered capability classes.
type Feature string

const (
	// FeatureChat covers plain sends and squad runs.
	FeatureChat Feature = "chat"

	// FeaturePremium covers debate, synthesis and the vision agent.
	FeaturePremium Feature = "premium"
)

// Free-tier limits per feature class.
const (
	FreeChatLimit    = 10
	FreePremiumLimit = 2
)

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	Message string
}

// License is a stored activation record.
type License struct {
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the license is active.
func (l *License) Valid() bool {
	return l != nil && l.Key != "" && l.ExpiresAt.After(time.Now())
}

// =============================================================================
// GATE
// =============================================================================

// state is the on-disk quota record.
type state struct {
	Usage   map[string]int `json:"usage"`
	License *License       `json:"license,omitempty"`
}

// Gate tracks per-feature usage in a JSON file under the data dir.
type Gate struct {
	path  string
	state state
}

// Open loads or initializes the gate state at ~/.polychat/access.json.
func Open() (*Gate, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return OpenPath(filepath.Join(homeDir, ".polychat", "access.json"))
}

// OpenPath loads or initializes the gate state at path.
func OpenPath(path string) (*Gate, error) {
	g := &Gate{path: path, state: state{Usage: map[string]int{}}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return g, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &g.state); err != nil {
		// A corrupt quota file resets to zero rather than locking the
		// user out.
		g.state = state{Usage: map[string]int{}}
	}
	if g.state.Usage == nil {
		g.state.Usage = map[string]int{}
	}
	return g, nil
}

// Check consumes one use of the feature if quota remains. Licensed
// users always pass without consuming anything.
func (g *Gate) Check(feature Feature) Decision {
	if g.state.License.Valid() {
		return Decision{Allowed: true}
	}

	limit := FreeChatLimit
	if feature == FeaturePremium {
		limit = FreePremiumLimit
	}

	used := g.state.Usage[string(feature)]
	if used >= limit {
		return Decision{
			Allowed: false,
			Message: fmt.Sprintf("free tier exhausted: %d/%d %s uses; activate a license to continue", used, limit, feature),
		}
	}

	g.state.Usage[string(feature)] = used + 1
	g.persist()
	return Decision{Allowed: true}
}

// Remaining reports the unused quota for a feature; licensed users get
// -1, meaning unlimited.
func (g *Gate) Remaining(feature Feature) int {
	if g.state.License.Valid() {
		return -1
	}
	limit := FreeChatLimit
	if feature == FeaturePremium {
		limit = FreePremiumLimit
	}
	if rem := limit - g.state.Usage[string(feature)]; rem > 0 {
		return rem
	}
	return 0
}

// Activate stores a license key with its expiry. An expired activation
// is rejected up front.
func (g *Gate) Activate(key string, expiresAt time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("empty license key")
	}
	if !expiresAt.After(time.Now()) {
		return fmt.Errorf("license already expired")
	}
	g.state.License = &License{Key: key, ExpiresAt: expiresAt}
	return g.persist()
}

// Deactivate clears any stored license.
func (g *Gate) Deactivate() error {
	g.state.License = nil
	return g.persist()
}

// Licensed reports whether a valid license is active.
func (g *Gate) Licensed() bool {
	return g.state.License.Valid()
}

func (g *Gate) persist() error {
	data, err := json.MarshalIndent(&g.state, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(g.path, data, 0600)
}
