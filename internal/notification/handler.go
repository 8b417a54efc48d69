package notification

import (
	"context"

	"github.com/steveyegge/greenlight/internal/eventbus"
)

// BusHandler bridges the event bus to the dispatcher. Register it on a
// bus and every subscribed event fans out through the configured routes,
// with the event type as the route key.
type BusHandler struct {
	dispatcher *Dispatcher
	types      []eventbus.EventType
}

var _ eventbus.Handler = (*BusHandler)(nil)

// NewBusHandler subscribes the dispatcher to the given event types.
// Nil types means the story lifecycle set.
func NewBusHandler(d *Dispatcher, types []eventbus.EventType) *BusHandler {
	if types == nil {
		types = []eventbus.EventType{
			eventbus.EventStoryCreated,
			eventbus.EventStoryApproved,
			eventbus.EventStoryRejected,
			eventbus.EventStoryStarted,
			eventbus.EventStoryCompleted,
			eventbus.EventStoryFailed,
		}
	}
	return &BusHandler{dispatcher: d, types: types}
}

func (h *BusHandler) ID() string { return "notification" }

func (h *BusHandler) Handles() []eventbus.EventType { return h.types }

// Priority 100: notification runs after bookkeeping handlers.
func (h *BusHandler) Priority() int { return 100 }

// Handle fans the event out and records which channels accepted it.
// Channel failures become warnings, never an error: delivery is
// best-effort by contract.
func (h *BusHandler) Handle(ctx context.Context, event *eventbus.Event, result *eventbus.Result) error {
	for _, r := range h.dispatcher.Dispatch(ctx, PayloadFromEvent(event), string(event.Type)) {
		if r.Success {
			result.Notified = append(result.Notified, r.Channel)
		} else {
			result.Warnings = append(result.Warnings, "notification "+r.Channel+": "+r.Error)
		}
	}
	return nil
}
