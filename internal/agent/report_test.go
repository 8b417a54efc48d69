package agent

import (
	"strings"
	"testing"
)

func TestParseReport(t *testing.T) {
	raw := `{"completed":true,"summary":"tightened redirect validation","commit_message":"fix: validate login redirect target","files_changed":["auth/redirect.go"]}`

	r, err := ParseReport(raw)
	if err != nil {
		t.Fatalf("ParseReport failed: %v", err)
	}
	if !r.Completed {
		t.Error("expected completed=true")
	}
	if r.CommitMessage != "fix: validate login redirect target" {
		t.Errorf("commit_message = %q", r.CommitMessage)
	}
	if len(r.FilesChanged) != 1 || r.FilesChanged[0] != "auth/redirect.go" {
		t.Errorf("files_changed = %v", r.FilesChanged)
	}
}

func TestParseReportFencedOutput(t *testing.T) {
	raw := "Here is my report:\n```json\n" +
		`{"completed":false,"summary":"migration requires a maintenance window"}` +
		"\n```\nLet me know if you need anything else."

	r, err := ParseReport(raw)
	if err != nil {
		t.Fatalf("ParseReport failed: %v", err)
	}
	if r.Completed {
		t.Error("expected completed=false")
	}
	if !strings.Contains(r.Summary, "maintenance window") {
		t.Errorf("summary = %q", r.Summary)
	}
}

func TestParseReportFailsClosed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no JSON at all", "I finished the task, everything looks good!"},
		{"unknown field", `{"summary":"s","sneaky_extra":true}`},
		{"missing summary", `{"completed":true,"commit_message":"fix: x"}`},
		{"completed without commit message", `{"completed":true,"summary":"done"}`},
		{"malformed JSON", `{"summary": "unterminated`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := ParseReport(tc.raw)
			if err == nil {
				t.Fatal("expected parse error")
			}
			if r == nil {
				t.Fatal("report must be non-nil even on failure")
			}
			if r.Completed || r.Summary != "" || len(r.Followups) != 0 {
				t.Errorf("failed parse must yield empty report, got %+v", r)
			}
		})
	}
}

func TestParseReportDropsInvalidFollowups(t *testing.T) {
	raw := `{
		"completed": true,
		"summary": "fixed N+1 query",
		"commit_message": "perf: batch author lookups",
		"followups": [
			{"agent": "perf", "project_id": "web", "issue": "same pattern in exports"},
			{"agent": "perf", "project_id": "", "issue": "missing project"},
			{"agent": "perf", "project_id": "web", "issue": ""}
		]
	}`

	r, err := ParseReport(raw)
	if err != nil {
		t.Fatalf("ParseReport failed: %v", err)
	}
	if len(r.Followups) != 1 {
		t.Fatalf("expected 1 valid followup, got %d", len(r.Followups))
	}
	if r.Followups[0].Issue != "same pattern in exports" {
		t.Errorf("wrong followup survived: %+v", r.Followups[0])
	}
}
