// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workflow implements the multi-model conversation modes built
// on top of the orchestrator: squad (parallel race), debate
// (adversarial turn loop with casting and judging), synthesis
// (scatter-gather consensus) and the vision agent pipeline.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError reports a precondition failure detected before any
// network call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "workflow validation: " + e.Reason
}

// requireDistinctModels checks that at least min distinct model IDs are
// configured. Duplicates collapse: a debate between a model and itself
// is rejected the same way an empty list is.
func requireDistinctModels(models []string, min int) error {
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			seen[m] = struct{}{}
		}
	}
	if len(seen) < min {
		return &ValidationError{Reason: fmt.Sprintf("need at least %d distinct models, have %d", min, len(seen))}
	}
	return nil
}

// pause sleeps for d unless ctx is cancelled first. Purely cosmetic
// pacing between stages; never a correctness requirement.
func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// collapseLine flattens a multi-line response into one line, the form
// quoted back to the opponent on the next debate turn.
func collapseLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
