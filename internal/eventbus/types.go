package eventbus

import "time"

// EventType identifies an event flowing through the bus.
type EventType string

const (
	// Story lifecycle events.
	EventStoryCreated   EventType = "StoryCreated"
	EventStoryApproved  EventType = "StoryApproved"
	EventStoryRejected  EventType = "StoryRejected"
	EventStoryStarted   EventType = "StoryStarted"
	EventStoryCompleted EventType = "StoryCompleted"
	EventStoryFailed    EventType = "StoryFailed"

	// Queue events.
	EventJobEnqueued EventType = "JobEnqueued"
	EventJobRemoved  EventType = "JobRemoved"
	EventJobRetried  EventType = "JobRetried"

	// Tracker sync events.
	EventTrackerLinked     EventType = "TrackerLinked"
	EventTrackerSyncFailed EventType = "TrackerSyncFailed"
)

// IsStoryEvent reports whether the event type belongs to the story
// lifecycle category.
func (t EventType) IsStoryEvent() bool {
	switch t {
	case EventStoryCreated, EventStoryApproved, EventStoryRejected,
		EventStoryStarted, EventStoryCompleted, EventStoryFailed:
		return true
	}
	return false
}

// IsQueueEvent reports whether the event type belongs to the queue
// category.
func (t EventType) IsQueueEvent() bool {
	switch t {
	case EventJobEnqueued, EventJobRemoved, EventJobRetried:
		return true
	}
	return false
}

// Event is a single occurrence flowing through the bus.
type Event struct {
	Type      EventType `json:"type"`
	StoryID   string    `json:"story_id,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	URL       string    `json:"url,omitempty"`
	Occurred  time.Time `json:"occurred"`
}

// Result aggregates handler outcomes for one dispatch. Handlers append to
// it; the dispatcher returns it for introspection.
type Result struct {
	// Notified lists the notification channels that accepted the event.
	Notified []string

	// Warnings collects non-fatal handler complaints.
	Warnings []string
}
