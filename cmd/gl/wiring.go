package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/steveyegge/greenlight/internal/config"
	"github.com/steveyegge/greenlight/internal/eventbus"
	"github.com/steveyegge/greenlight/internal/notification"
	"github.com/steveyegge/greenlight/internal/queue"
	"github.com/steveyegge/greenlight/internal/queue/redisq"
	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/storage/sqlite"
	"github.com/steveyegge/greenlight/internal/telemetry"
	"github.com/steveyegge/greenlight/internal/tracker"

	// Tracker backends register themselves at init.
	_ "github.com/steveyegge/greenlight/internal/tracker/linear"
	_ "github.com/steveyegge/greenlight/internal/tracker/mock"
)

// resolveDBPath returns the sqlite path: --db flag > GL_DB/config db >
// nearest .greenlight/greenlight.db.
func resolveDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return filepath.Join(config.FindDir(), "greenlight.db")
}

// openStore opens the sqlite store, instrumented when telemetry is on.
func openStore(ctx context.Context) (storage.Store, error) {
	path := resolveDBPath()
	store, err := sqlite.New(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	return telemetry.WrapStore(store), nil
}

// openBroker selects the queue backend from config: "memory" (default)
// or "redis".
func openBroker() (queue.Broker, error) {
	switch kind := config.GetString("queue.broker"); kind {
	case "", "memory":
		return queue.NewMemoryBroker(), nil
	case "redis":
		addr := config.GetString("queue.redis-addr")
		if !strings.Contains(addr, "://") {
			addr = "redis://" + addr
		}
		return redisq.New(addr)
	default:
		return nil, fmt.Errorf("unknown queue broker %q (memory or redis)", kind)
	}
}

// newBus builds the event bus with notification dispatch attached when
// any channel beyond logging is configured.
func newBus() *eventbus.Bus {
	bus := eventbus.New()

	cfg := notification.Config{
		WebhookURL:   config.GetString("notify.webhook-url"),
		SlackToken:   config.GetString("notify.slack-token"),
		SlackChannel: config.GetString("notify.slack-channel"),
	}
	dispatcher := notification.NewDispatcher(cfg)
	bus.Register(notification.NewBusHandler(dispatcher, nil))
	return bus
}

// newTrackerAdapter builds the sync adapter for the configured tracker.
// Returns nil when no tracker is configured; sync is optional everywhere.
func newTrackerAdapter(store storage.Store, bus *eventbus.Bus) (*tracker.Adapter, error) {
	kind := config.GetString("tracker.kind")
	if kind == "" {
		return nil, nil
	}
	t, err := tracker.New(kind)
	if err != nil {
		return nil, fmt.Errorf("tracker %q: %w (known: %s)", kind, err, strings.Join(tracker.List(), ", "))
	}
	return tracker.NewAdapter(t, store, bus), nil
}
