// Package notification fans story lifecycle events out to configured
// channels. Routes map an event type to a channel list ("log",
// "webhook", "slack:#channel"); delivery is best-effort and per-channel
// failures never affect the pipeline.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/steveyegge/greenlight/internal/eventbus"
)

// defaultRouteKey is used when an event type has no explicit route.
const defaultRouteKey = "default"

// Config holds notification settings, loaded from the project config.
type Config struct {
	// Routes maps an event type name (or "default") to channel specs.
	// Channel specs: "log", "webhook", "slack", "slack:#channel".
	Routes map[string][]string `json:"routes" yaml:"routes"`

	// WebhookURL receives JSON payloads for "webhook" channels.
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`

	// SlackToken authenticates "slack" channels. SlackChannel is the
	// default destination when the spec carries none.
	SlackToken   string `json:"slack_token" yaml:"slack_token"`
	SlackChannel string `json:"slack_channel" yaml:"slack_channel"`
}

// Payload is the wire format delivered to webhook channels and rendered
// for slack/log channels.
type Payload struct {
	Type      string    `json:"type"`
	StoryID   string    `json:"story_id,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	URL       string    `json:"url,omitempty"`
	Occurred  time.Time `json:"occurred"`
}

// DispatchResult records the outcome of one channel delivery.
type DispatchResult struct {
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// slackPoster is the slice of the slack client the dispatcher uses.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Dispatcher delivers payloads to channels.
type Dispatcher struct {
	config     Config
	httpClient *http.Client
	slack      slackPoster
	logf       func(format string, args ...interface{})
}

// NewDispatcher creates a dispatcher. A slack client is only constructed
// when a token is configured.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		config:     cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logf: func(format string, args ...interface{}) {
			fmt.Printf(format, args...)
		},
	}
	if cfg.SlackToken != "" {
		d.slack = slack.New(cfg.SlackToken)
	}
	return d
}

// Dispatch sends the payload to every channel routed for routeKey.
// Missing routes fall back to "default", then to the log channel, so a
// dispatcher with zero configuration still surfaces events.
func (d *Dispatcher) Dispatch(ctx context.Context, payload *Payload, routeKey string) []DispatchResult {
	if routeKey == "" {
		routeKey = defaultRouteKey
	}

	var results []DispatchResult
	for _, channel := range d.getRoutes(routeKey) {
		results = append(results, d.dispatchToChannel(ctx, payload, channel))
	}
	return results
}

// getRoutes returns the channel specs for the given key.
func (d *Dispatcher) getRoutes(routeKey string) []string {
	if d.config.Routes == nil {
		return []string{"log"}
	}
	routes, ok := d.config.Routes[routeKey]
	if !ok {
		routes, ok = d.config.Routes[defaultRouteKey]
		if !ok {
			return []string{"log"}
		}
	}
	return routes
}

// dispatchToChannel delivers to a single channel spec.
func (d *Dispatcher) dispatchToChannel(ctx context.Context, payload *Payload, channel string) DispatchResult {
	result := DispatchResult{Channel: channel}

	switch {
	case channel == "log":
		d.logNotification(payload)
		result.Success = true

	case channel == "webhook":
		if d.config.WebhookURL == "" {
			result.Error = "no webhook URL configured"
		} else if err := d.sendWebhook(ctx, payload, d.config.WebhookURL); err != nil {
			result.Error = err.Error()
		} else {
			result.Success = true
		}

	case channel == "slack" || strings.HasPrefix(channel, "slack:"):
		target := strings.TrimPrefix(channel, "slack")
		target = strings.TrimPrefix(target, ":")
		if target == "" {
			target = d.config.SlackChannel
		}
		switch {
		case d.slack == nil:
			result.Error = "no slack token configured"
		case target == "":
			result.Error = "no slack channel configured"
		default:
			if err := d.sendSlack(ctx, payload, target); err != nil {
				result.Error = err.Error()
			} else {
				result.Success = true
			}
		}

	default:
		result.Error = fmt.Sprintf("unknown channel type: %s", channel)
	}

	return result
}

// logNotification prints the event to stdout.
func (d *Dispatcher) logNotification(payload *Payload) {
	d.logf("\n🔔 %s\n", payload.Type)
	if payload.StoryID != "" {
		d.logf("   Story: %s\n", payload.StoryID)
	}
	if payload.Title != "" {
		d.logf("   Title: %s\n", payload.Title)
	}
	if payload.Detail != "" {
		d.logf("   Detail: %s\n", payload.Detail)
	}
	if payload.URL != "" {
		d.logf("   URL: %s\n", payload.URL)
	}
	d.logf("\n")
}

// sendWebhook POSTs the payload as JSON.
func (d *Dispatcher) sendWebhook(ctx context.Context, payload *Payload, webhookURL string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Greenlight-Event", payload.Type)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// sendSlack posts a compact message to the target channel.
func (d *Dispatcher) sendSlack(ctx context.Context, payload *Payload, channel string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "*%s*", payload.Type)
	if payload.Title != "" {
		fmt.Fprintf(&msg, ": %s", truncate(payload.Title, 120))
	}
	if payload.StoryID != "" {
		fmt.Fprintf(&msg, " (`%s`)", payload.StoryID)
	}
	if payload.Detail != "" {
		fmt.Fprintf(&msg, "\n%s", truncate(payload.Detail, 300))
	}
	if payload.URL != "" {
		fmt.Fprintf(&msg, "\n%s", payload.URL)
	}

	_, _, err := d.slack.PostMessageContext(ctx, channel,
		slack.MsgOptionText(msg.String(), false))
	if err != nil {
		return fmt.Errorf("slack post failed: %w", err)
	}
	return nil
}

// truncate shortens a string to the specified length with ellipsis.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}

// PayloadFromEvent converts a bus event to the notification wire format.
func PayloadFromEvent(event *eventbus.Event) *Payload {
	return &Payload{
		Type:      string(event.Type),
		StoryID:   event.StoryID,
		ProjectID: event.ProjectID,
		Title:     event.Title,
		Actor:     event.Actor,
		Detail:    event.Detail,
		URL:       event.URL,
		Occurred:  event.Occurred,
	}
}
