// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package gate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestGate(t *testing.T) *Gate {
	t.Helper()
	g, err := OpenPath(filepath.Join(t.TempDir(), "access.json"))
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestCheck_ChatQuota(t *testing.T) {
	g := openTestGate(t)

	for i := 0; i < FreeChatLimit; i++ {
		if d := g.Check(FeatureChat); !d.Allowed {
			t.Fatalf("use %d denied: %s", i+1, d.Message)
		}
	}
	d := g.Check(FeatureChat)
	if d.Allowed {
		t.Fatal("over-limit use allowed")
	}
	if !strings.Contains(d.Message, "free tier exhausted") {
		t.Errorf("denial message = %q", d.Message)
	}
}

func TestCheck_PremiumQuotaIsSeparateAndSmaller(t *testing.T) {
	g := openTestGate(t)

	// Exhaust premium; chat must stay untouched.
	for i := 0; i < FreePremiumLimit; i++ {
		if d := g.Check(FeaturePremium); !d.Allowed {
			t.Fatalf("premium use %d denied", i+1)
		}
	}
	if d := g.Check(FeaturePremium); d.Allowed {
		t.Fatal("over-limit premium use allowed")
	}
	if got := g.Remaining(FeatureChat); got != FreeChatLimit {
		t.Errorf("chat remaining = %d, want %d", got, FreeChatLimit)
	}
	if got := g.Remaining(FeaturePremium); got != 0 {
		t.Errorf("premium remaining = %d, want 0", got)
	}
}

func TestLicense_LiftsAllLimits(t *testing.T) {
	g := openTestGate(t)

	// Burn the whole premium quota first.
	for i := 0; i <= FreePremiumLimit; i++ {
		g.Check(FeaturePremium)
	}

	if err := g.Activate("POLY-KEY-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if !g.Licensed() {
		t.Fatal("Licensed() = false after Activate")
	}
	if d := g.Check(FeaturePremium); !d.Allowed {
		t.Fatalf("licensed use denied: %s", d.Message)
	}
	if got := g.Remaining(FeatureChat); got != -1 {
		t.Errorf("licensed remaining = %d, want -1", got)
	}

	if err := g.Deactivate(); err != nil {
		t.Fatal(err)
	}
	if d := g.Check(FeaturePremium); d.Allowed {
		t.Fatal("quota not enforced after Deactivate")
	}
}

func TestActivate_RejectsBadInput(t *testing.T) {
	g := openTestGate(t)

	if err := g.Activate("  ", time.Now().Add(time.Hour)); err == nil {
		t.Error("empty key accepted")
	}
	if err := g.Activate("KEY", time.Now().Add(-time.Hour)); err == nil {
		t.Error("expired license accepted")
	}
}

func TestExpiredLicense_DoesNotLift(t *testing.T) {
	g := openTestGate(t)
	g.state.License = &License{Key: "OLD", ExpiresAt: time.Now().Add(-time.Minute)}

	if g.Licensed() {
		t.Fatal("expired license reported as active")
	}
	// Falls back to metering.
	if d := g.Check(FeatureChat); !d.Allowed {
		t.Fatal("first metered use denied")
	}
	if got := g.Remaining(FeatureChat); got != FreeChatLimit-1 {
		t.Errorf("remaining = %d", got)
	}
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func TestState_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.json")

	g, err := OpenPath(path)
	if err != nil {
		t.Fatal(err)
	}
	g.Check(FeatureChat)
	g.Check(FeatureChat)
	if err := g.Activate("POLY-KEY-2", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.Licensed() {
		t.Error("license lost across reopen")
	}
	if err := reopened.Deactivate(); err != nil {
		t.Fatal(err)
	}
	if got := reopened.Remaining(FeatureChat); got != FreeChatLimit-2 {
		t.Errorf("usage lost across reopen: remaining = %d", got)
	}
}

func TestOpenPath_CorruptFileResetsQuota(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	g, err := OpenPath(path)
	if err != nil {
		t.Fatalf("corrupt state must not fail open: %v", err)
	}
	if got := g.Remaining(FeatureChat); got != FreeChatLimit {
		t.Errorf("remaining = %d, want a fresh quota", got)
	}
}

func TestOpenPath_MissingFileStartsFresh(t *testing.T) {
	g, err := OpenPath(filepath.Join(t.TempDir(), "nope", "access.json"))
	if err != nil {
		t.Fatal(err)
	}
	if g.Licensed() {
		t.Error("fresh gate reports a license")
	}
}
