package ui

import (
	"strings"
	"testing"
)

func TestTruncateLines(t *testing.T) {
	short := "one\ntwo\nthree"
	if got := TruncateLines(short, 15, 5); got != short {
		t.Errorf("short text should pass through unchanged")
	}

	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "line")
	}
	long := strings.Join(lines, "\n")

	got := TruncateLines(long, 15, 5)
	if !strings.Contains(got, "30 lines hidden") {
		t.Errorf("missing hidden-line marker in %q", got)
	}
	if strings.Count(got, "\n") >= 40 {
		t.Error("truncated output is not shorter than input")
	}
}

func TestTruncateSimple(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"héllo wörld", 8, "héllo..."},
		{"abc", 2, "..."},
	}
	for _, tt := range tests {
		if got := TruncateSimple(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("TruncateSimple(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}

func TestWrapText(t *testing.T) {
	got := WrapText("the quick brown fox jumps over the lazy dog", 10)
	for _, line := range strings.Split(got, "\n") {
		if len(line) > 10 {
			t.Errorf("line %q exceeds width 10", line)
		}
	}

	// Existing breaks are preserved.
	got = WrapText("a\nb", 80)
	if got != "a\nb" {
		t.Errorf("WrapText altered pre-wrapped text: %q", got)
	}
}

func TestShouldUseColor(t *testing.T) {
	t.Run("NO_COLOR disables", func(t *testing.T) {
		t.Setenv("NO_COLOR", "1")
		if ShouldUseColor() {
			t.Error("NO_COLOR should disable color")
		}
	})
	t.Run("NO_COLOR beats CLICOLOR_FORCE", func(t *testing.T) {
		t.Setenv("NO_COLOR", "1")
		t.Setenv("CLICOLOR_FORCE", "1")
		if ShouldUseColor() {
			t.Error("NO_COLOR should take precedence")
		}
	})
	t.Run("CLICOLOR_FORCE enables without TTY", func(t *testing.T) {
		t.Setenv("CLICOLOR_FORCE", "1")
		if !ShouldUseColor() {
			t.Error("CLICOLOR_FORCE should enable color")
		}
	})
	t.Run("CLICOLOR=0 disables", func(t *testing.T) {
		t.Setenv("CLICOLOR", "0")
		if ShouldUseColor() {
			t.Error("CLICOLOR=0 should disable color")
		}
	})
}

func TestIsAgentMode(t *testing.T) {
	// Stdout is not a TTY under go test, so agent mode is on by default.
	if !IsAgentMode() {
		t.Error("expected agent mode in non-TTY test environment")
	}

	SetAgentMode(true)
	defer SetAgentMode(false)
	if !IsAgentMode() {
		t.Error("SetAgentMode(true) should force agent mode")
	}
}

func TestRenderMarkdownAgentMode(t *testing.T) {
	SetAgentMode(true)
	defer SetAgentMode(false)

	in := "# Title\n\nbody"
	if got := RenderMarkdown(in); got != in {
		t.Errorf("agent mode must pass markdown through unchanged, got %q", got)
	}
}
