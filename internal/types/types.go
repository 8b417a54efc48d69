// Package types defines core data structures for the greenlight pipeline.
package types

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Finding is a single issue or opportunity reported by an analyzer agent
// for a project. Findings are ephemeral scoring input: they are consumed by
// the story factory and embedded into Story.Rationale, never persisted on
// their own.
type Finding struct {
	Agent      string   `json:"agent"`
	ProjectID  string   `json:"project_id"`
	Issue      string   `json:"issue"`
	Action     string   `json:"action,omitempty"`
	Severity   Severity `json:"severity,omitempty"`
	Effort     Effort   `json:"effort,omitempty"`
	Impact     Impact   `json:"impact,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"` // nil means unreported; scorer applies its default
}

// Validate checks that a finding carries the minimum fields the pipeline
// needs. Enum fields are deliberately not validated here: the scorer is
// total over unknown values and maps them to medium-weight defaults.
func (f *Finding) Validate() error {
	if strings.TrimSpace(f.ProjectID) == "" {
		return fmt.Errorf("project_id is required")
	}
	if strings.TrimSpace(f.Issue) == "" {
		return fmt.Errorf("issue text is required")
	}
	return nil
}

// PrioritySignal is a time-bounded user override. While unexpired it fully
// dominates computed scoring for the finding it accompanies.
type PrioritySignal struct {
	Source        string     `json:"source"`
	PriorityLevel Level      `json:"priority_level"`
	RawContent    string     `json:"raw_content,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"` // nil means no expiry
}

// Expired reports whether the signal has lapsed as of now.
func (s *PrioritySignal) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// Story is the persisted, actionable work item derived from one retained
// finding. After creation only status, approval, and execution artifacts
// mutate; scoring fields are written once by the factory.
type Story struct {
	ID          string `json:"id"`
	ContentHash string `json:"-"` // Internal: SHA256 of scoring identity, drives triage dedup - NOT exported
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Rationale   string `json:"rationale,omitempty"`
	SourceAgent string `json:"source_agent,omitempty"`

	Priority            Priority    `json:"priority,omitempty"`
	Policy              Policy      `json:"policy,omitempty"`
	PriorityLevel       Level       `json:"priority_level,omitempty"`
	PriorityScore       int         `json:"priority_score"` // No omitempty: 0 is a legal score
	AdvancesLaunchStage bool        `json:"advances_launch_stage,omitempty"`
	Status              StoryStatus `json:"status,omitempty"`
	UserApproved        bool        `json:"user_approved,omitempty"`

	// Execution artifacts. Pointer fields stay nil until the relevant
	// side effect has actually happened.
	ExternalTaskID   *string    `json:"external_task_id,omitempty"`
	ExternalIssueURL *string    `json:"external_issue_url,omitempty"`
	PRURL            *string    `json:"pr_url,omitempty"`
	ErrorText        string     `json:"error_text,omitempty"`
	ExecutedAt       *time.Time `json:"executed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ComputeContentHash creates a deterministic hash of the story's scoring
// identity (excludes ID, status, artifacts, timestamps). Two stories built
// from the same finding hash identically, which is what makes triage
// re-runs idempotent.
func (s *Story) ComputeContentHash() string {
	h := sha256.New()
	h.Write([]byte(s.ProjectID))
	h.Write([]byte{0})
	h.Write([]byte(s.Title))
	h.Write([]byte{0})
	h.Write([]byte(s.SourceAgent))
	h.Write([]byte{0})
	h.Write([]byte(s.Policy))
	h.Write([]byte{0})
	h.Write([]byte(s.PriorityLevel))
	h.Write([]byte{0})
	h.Write([]byte(fmt.Sprintf("%d", s.PriorityScore)))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Validate checks field values and the status/artifact invariants.
func (s *Story) Validate() error {
	if len(s.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(s.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(s.Title))
	}
	if strings.TrimSpace(s.ProjectID) == "" {
		return fmt.Errorf("project_id is required")
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", s.Status)
	}
	if !s.Policy.IsValid() {
		return fmt.Errorf("invalid policy: %s", s.Policy)
	}
	if !s.PriorityLevel.IsValid() {
		return fmt.Errorf("invalid priority level: %s", s.PriorityLevel)
	}
	if s.PriorityScore < 0 || s.PriorityScore > 100 {
		return fmt.Errorf("priority score must be between 0 and 100 (got %d)", s.PriorityScore)
	}
	// Execution timestamps belong to stories that actually executed.
	if s.ExecutedAt != nil && s.Status != StatusCompleted && s.Status != StatusFailed {
		return fmt.Errorf("executed_at requires completed or failed status")
	}
	// Approval gate invariant: in_progress under approval_required implies approval.
	if s.Status == StatusInProgress && s.Policy == PolicyApprovalRequired && !s.UserApproved {
		return fmt.Errorf("approval_required story cannot be in_progress without user approval")
	}
	return nil
}

// SetDefaults applies defaults for fields omitted during intake or JSON
// import. Call after json.Unmarshal:
//   - Status: StatusPending if empty
//   - Policy: PolicyApprovalRequired if empty (fail safe)
//   - Priority / PriorityLevel: medium / P2 if empty
//   - CreatedAt / UpdatedAt: now if zero
func (s *Story) SetDefaults() {
	if s.Status == "" {
		s.Status = StatusPending
	}
	if s.Policy == "" {
		s.Policy = PolicyApprovalRequired
	}
	if s.Priority == "" {
		s.Priority = PriorityMedium
	}
	if s.PriorityLevel == "" {
		s.PriorityLevel = LevelP2
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
}

// Terminal reports whether the story has reached a final status.
func (s *Story) Terminal() bool {
	return s.Status.Terminal()
}

// StoryStatus represents the lifecycle state of a story.
type StoryStatus string

// Story statuses. pending -> approved -> in_progress -> completed|failed;
// pending -> rejected. The three terminal states admit no transitions out.
const (
	StatusPending    StoryStatus = "pending"
	StatusApproved   StoryStatus = "approved"
	StatusInProgress StoryStatus = "in_progress"
	StatusCompleted  StoryStatus = "completed"
	StatusFailed     StoryStatus = "failed"
	StatusRejected   StoryStatus = "rejected"
)

// IsValid checks if the status is a known value.
func (s StoryStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusInProgress, StatusCompleted, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s StoryStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// Policy is the execution gate attached to a story.
type Policy string

// Policies. auto_safe runs unattended; approval_required needs human
// sign-off before a worker may claim it; suggest_only is surfaced but never
// auto-executed.
const (
	PolicyAutoSafe         Policy = "auto_safe"
	PolicyApprovalRequired Policy = "approval_required"
	PolicySuggestOnly      Policy = "suggest_only"
)

// IsValid checks if the policy is a known value.
func (p Policy) IsValid() bool {
	switch p {
	case PolicyAutoSafe, PolicyApprovalRequired, PolicySuggestOnly:
		return true
	}
	return false
}

// Level is the bucketed priority label, P0 highest through P3 lowest.
type Level string

// Priority levels.
const (
	LevelP0 Level = "P0"
	LevelP1 Level = "P1"
	LevelP2 Level = "P2"
	LevelP3 Level = "P3"
)

// IsValid checks if the level is a known value.
func (l Level) IsValid() bool {
	switch l {
	case LevelP0, LevelP1, LevelP2, LevelP3:
		return true
	}
	return false
}

// Number returns the queue ordering number for the level. Lower dequeues
// first. Unknown levels sort last.
func (l Level) Number() int {
	switch l {
	case LevelP0:
		return 1
	case LevelP1:
		return 2
	case LevelP2:
		return 3
	case LevelP3:
		return 4
	}
	return 4
}

// Priority is the coarse story priority shown to humans and trackers.
type Priority string

// Coarse priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// IsValid checks if the priority is a known value.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Severity of a finding as reported by its analyzer.
type Severity string

// Severities.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Effort estimate for acting on a finding.
type Effort string

// Efforts.
const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// Impact estimate for acting on a finding.
type Impact string

// Impacts.
const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// JobState is the queue-side lifecycle of a QueueJob.
type JobState string

// Job states. waiting and delayed are pre-dispatch and cancellable; active
// jobs run to completion.
const (
	JobWaiting   JobState = "waiting"
	JobDelayed   JobState = "delayed"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// IsValid checks if the job state is a known value.
func (js JobState) IsValid() bool {
	switch js {
	case JobWaiting, JobDelayed, JobActive, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Live reports whether the job still occupies the per-story dedup slot.
func (js JobState) Live() bool {
	switch js {
	case JobWaiting, JobDelayed, JobActive:
		return true
	}
	return false
}

// QueueJob is the transient execution ticket for a story. At most one live
// job exists per story; the job disappears from dedup accounting once it
// completes or fails.
type QueueJob struct {
	ID             string    `json:"id"`
	StoryID        string    `json:"story_id"`
	PriorityNumber int       `json:"priority_number"` // 1 (P0) .. 4 (P3), lower dequeues first
	Source         string    `json:"source,omitempty"`
	State          JobState  `json:"state"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"max_attempts"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	NextRunAt      time.Time `json:"next_run_at"`
	LastError      string    `json:"last_error,omitempty"`
}

// Validate checks job field values.
func (j *QueueJob) Validate() error {
	if j.StoryID == "" {
		return fmt.Errorf("story_id is required")
	}
	if j.PriorityNumber < 1 || j.PriorityNumber > 4 {
		return fmt.Errorf("priority number must be between 1 and 4 (got %d)", j.PriorityNumber)
	}
	if !j.State.IsValid() {
		return fmt.Errorf("invalid job state: %s", j.State)
	}
	if j.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1 (got %d)", j.MaxAttempts)
	}
	return nil
}

// StoryFilter narrows story queries for list and dashboard views.
// Zero values mean "no constraint".
type StoryFilter struct {
	Status    StoryStatus
	ProjectID string
	Priority  Priority
	Policy    Policy
	Since     *time.Time
	Limit     int
}
