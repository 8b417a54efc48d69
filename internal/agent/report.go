package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/steveyegge/greenlight/internal/types"
)

// Report is the structured result an agent run must emit as its final
// output. Agent output is untrusted: parsing is strict and any schema
// mismatch fails closed to an empty report rather than propagating
// half-parsed data into the pipeline.
type Report struct {
	// Completed is the agent's own claim that the change is done and
	// committed. The worker still verifies the workspace independently.
	Completed bool `json:"completed"`

	// Summary is a short human-readable description of what changed.
	Summary string `json:"summary"`

	// CommitMessage is used verbatim for the commit and PR title.
	CommitMessage string `json:"commit_message"`

	// FilesChanged lists workspace-relative paths the agent touched.
	FilesChanged []string `json:"files_changed,omitempty"`

	// Followups are new findings the agent surfaced while working. They
	// feed back into triage like any other analyzer output.
	Followups []types.Finding `json:"followups,omitempty"`
}

// ParseReport extracts and validates a Report from raw agent output.
// The model may wrap the JSON in prose or a fenced code block, so the
// parser locates the outermost JSON object first. Unknown fields are
// rejected. On any failure the returned report is empty (never nil) and
// the error describes the mismatch.
func ParseReport(raw string) (*Report, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return &Report{}, fmt.Errorf("agent output contains no JSON object")
	}

	dec := json.NewDecoder(strings.NewReader(payload))
	dec.DisallowUnknownFields()

	var r Report
	if err := dec.Decode(&r); err != nil {
		return &Report{}, fmt.Errorf("agent report does not match schema: %w", err)
	}

	if r.Summary == "" {
		return &Report{}, fmt.Errorf("agent report missing summary")
	}
	if r.Completed && r.CommitMessage == "" {
		return &Report{}, fmt.Errorf("agent report claims completion without commit_message")
	}

	// Followups are findings, so they go through the same validation as
	// intake. Invalid ones are dropped, not surfaced.
	valid := r.Followups[:0]
	for _, f := range r.Followups {
		if f.Validate() == nil {
			valid = append(valid, f)
		}
	}
	r.Followups = valid

	return &r, nil
}

// extractJSON returns the outermost {...} object in s, or "" when none
// is found. Handles markdown code fences around the payload.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
