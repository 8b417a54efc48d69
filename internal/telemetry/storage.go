package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/types"
)

const storageScopeName = "github.com/steveyegge/greenlight/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in gl.storage.* metrics. Use
// WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner      storage.Store
	tracer     trace.Tracer
	ops        metric.Int64Counter
	dur        metric.Float64Histogram
	errs       metric.Int64Counter
	storyGauge metric.Int64Gauge
}

var _ storage.Store = (*InstrumentedStore)(nil)

// WrapStore returns s decorated with OTel instrumentation. When telemetry
// is disabled, s is returned as-is with zero overhead.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("gl.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("gl.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("gl.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	storyGauge, _ := m.Int64Gauge("gl.story.count",
		metric.WithDescription("Current number of stories by status (snapshot from Stats)"),
	)
	return &InstrumentedStore{
		inner:      s,
		tracer:     Tracer(storageScopeName),
		ops:        ops,
		dur:        dur,
		errs:       errs,
		storyGauge: storyGauge,
	}
}

// op starts a span and counts the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span and records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) CreateStory(ctx context.Context, story *types.Story, actor string) error {
	ctx, span, start := s.op(ctx, "CreateStory")
	err := s.inner.CreateStory(ctx, story, actor)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) GetStory(ctx context.Context, id string) (*types.Story, error) {
	ctx, span, start := s.op(ctx, "GetStory")
	story, err := s.inner.GetStory(ctx, id)
	s.done(ctx, span, start, err)
	return story, err
}

func (s *InstrumentedStore) GetStoryByContentHash(ctx context.Context, hash string) (*types.Story, error) {
	ctx, span, start := s.op(ctx, "GetStoryByContentHash")
	story, err := s.inner.GetStoryByContentHash(ctx, hash)
	s.done(ctx, span, start, err)
	return story, err
}

func (s *InstrumentedStore) ListStories(ctx context.Context, filter types.StoryFilter) ([]*types.Story, error) {
	ctx, span, start := s.op(ctx, "ListStories")
	stories, err := s.inner.ListStories(ctx, filter)
	s.done(ctx, span, start, err)
	return stories, err
}

func (s *InstrumentedStore) TransitionStory(ctx context.Context, id string, from []types.StoryStatus, to types.StoryStatus, actor string, updates storage.StoryUpdates) (*types.Story, error) {
	ctx, span, start := s.op(ctx, "TransitionStory",
		attribute.String("gl.story.to_status", string(to)))
	story, err := s.inner.TransitionStory(ctx, id, from, to, actor, updates)
	s.done(ctx, span, start, err, attribute.String("gl.story.to_status", string(to)))
	return story, err
}

func (s *InstrumentedStore) SetExternalRef(ctx context.Context, id, taskID, url, actor string) error {
	ctx, span, start := s.op(ctx, "SetExternalRef")
	err := s.inner.SetExternalRef(ctx, id, taskID, url, actor)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) AddEvent(ctx context.Context, storyID, kind, actor, detail string) error {
	ctx, span, start := s.op(ctx, "AddEvent")
	err := s.inner.AddEvent(ctx, storyID, kind, actor, detail)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) GetEvents(ctx context.Context, storyID string, limit int) ([]*types.Event, error) {
	ctx, span, start := s.op(ctx, "GetEvents")
	events, err := s.inner.GetEvents(ctx, storyID, limit)
	s.done(ctx, span, start, err)
	return events, err
}

func (s *InstrumentedStore) RecordSession(ctx context.Context, sess *types.AgentSession) error {
	ctx, span, start := s.op(ctx, "RecordSession")
	err := s.inner.RecordSession(ctx, sess)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) ListSessions(ctx context.Context, storyID string) ([]*types.AgentSession, error) {
	ctx, span, start := s.op(ctx, "ListSessions")
	sessions, err := s.inner.ListSessions(ctx, storyID)
	s.done(ctx, span, start, err)
	return sessions, err
}

func (s *InstrumentedStore) Stats(ctx context.Context) (*types.StoryStats, error) {
	ctx, span, start := s.op(ctx, "Stats")
	stats, err := s.inner.Stats(ctx)
	s.done(ctx, span, start, err)
	if err == nil && stats != nil {
		for status, count := range map[string]int{
			"pending":     stats.Pending,
			"approved":    stats.Approved,
			"in_progress": stats.InProgress,
			"completed":   stats.Completed,
			"failed":      stats.Failed,
			"rejected":    stats.Rejected,
		} {
			s.storyGauge.Record(ctx, int64(count),
				metric.WithAttributes(attribute.String("gl.story.status", status)))
		}
	}
	return stats, err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
