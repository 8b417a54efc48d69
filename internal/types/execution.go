package types

import "time"

// Event is one append-only audit record. Every transition, enqueue, sync
// outcome, and execution step writes one; the dashboard replays them.
type Event struct {
	ID        int64     `json:"id"`
	StoryID   string    `json:"story_id,omitempty"`
	Kind      string    `json:"kind"`
	Actor     string    `json:"actor,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentSession records one RunAgent invocation. Sessions form a tree via
// ParentID so nested agent spawns stay reconstructable after the run.
type AgentSession struct {
	ID           string     `json:"id"`
	StoryID      string     `json:"story_id"`
	ParentID     string     `json:"parent_id,omitempty"`
	Role         string     `json:"role"`
	InputTokens  int64      `json:"input_tokens"`
	OutputTokens int64      `json:"output_tokens"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// StoryStats summarizes the backlog for dashboards.
type StoryStats struct {
	Pending    int `json:"pending"`
	Approved   int `json:"approved"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Rejected   int `json:"rejected"`
	Total      int `json:"total"`
}
