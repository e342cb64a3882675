// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package attach

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestIsImage(t *testing.T) {
	for _, path := range []string{"a.png", "b.JPG", "dir/c.jpeg", "d.gif", "e.webp"} {
		if !IsImage(path) {
			t.Errorf("IsImage(%q) = false", path)
		}
	}
	for _, path := range []string{"a.txt", "b.pdf", "noext", "a.png.md"} {
		if IsImage(path) {
			t.Errorf("IsImage(%q) = true", path)
		}
	}
}

func TestExtractImage_DataURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pic.png")
	payload := []byte{0x89, 'P', 'N', 'G'}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	url, err := ExtractImage(path)
	if err != nil {
		t.Fatalf("ExtractImage failed: %v", err)
	}
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload)
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
}

func TestExtractImage_RejectsUnknownExtension(t *testing.T) {
	if _, err := ExtractImage("f.txt"); err == nil {
		t.Fatal("expected an error for a non-image extension")
	}
}

func TestSplitKeywords(t *testing.T) {
	got := SplitKeywords("Salary, income ,  PAYSLIP,, net pay ")
	want := []string{"salary", "income", "payslip", "net pay"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitKeywords = %v, want %v", got, want)
	}
}

// =============================================================================
// CONTEXT SCAN
// =============================================================================

func TestScanContext_MatchWithSurroundingLines(t *testing.T) {
	doc := strings.Join([]string{
		"intro line",
		"the salary is 5000",
		"closing line",
		"unrelated",
	}, "\n")

	got := ScanContext([]string{"salary"}, doc)
	want := "intro line\nthe salary is 5000\nclosing line"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestScanContext_CaseInsensitiveAndMultipleBlocks(t *testing.T) {
	doc := strings.Join([]string{
		"a", "SALARY here", "b",
		"x", "y", "z",
		"p", "bonus paid", "q",
	}, "\n")

	got := ScanContext([]string{"salary", "bonus"}, doc)
	if !strings.Contains(got, "SALARY here") || !strings.Contains(got, "bonus paid") {
		t.Fatalf("missing a matched block: %q", got)
	}
	if strings.Count(got, "\n---\n") != 1 {
		t.Errorf("blocks not joined by separator: %q", got)
	}
}

func TestScanContext_DropsDuplicateBlocks(t *testing.T) {
	// Both matches produce the identical "pad\nsalary\npad" block, so
	// only one copy survives.
	doc := "pad\nsalary\npad\nsalary\npad"
	got := ScanContext([]string{"salary"}, doc)
	if got != "pad\nsalary\npad" {
		t.Errorf("got %q, want a single deduplicated block", got)
	}
}

func TestScanContext_NoMatchFallsBackToHead(t *testing.T) {
	short := "nothing relevant here"
	if got := ScanContext([]string{"salary"}, short); got != short {
		t.Errorf("short document must pass through whole, got %q", got)
	}

	long := strings.Repeat("filler text without the word\n", 200)
	got := ScanContext([]string{"salary"}, long)
	if !strings.HasSuffix(got, "...[truncated]...") {
		t.Errorf("long fallback not truncated: %q", got[len(got)-40:])
	}
	if len(got) > fallbackContextSize+30 {
		t.Errorf("fallback too large: %d bytes", len(got))
	}
}

func TestEnrichPrompt(t *testing.T) {
	got := EnrichPrompt("what is the total?", "row1\nrow2")
	if !strings.HasPrefix(got, "=== CONTEXT ===\nrow1\nrow2\n=== END ===") {
		t.Errorf("context fence missing: %q", got)
	}
	if !strings.HasSuffix(got, "USER: what is the total?") {
		t.Errorf("question missing: %q", got)
	}

	if got := EnrichPrompt("q", ""); got != "q" {
		t.Errorf("empty context must pass the question through, got %q", got)
	}
}
