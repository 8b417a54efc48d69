package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/steveyegge/greenlight/internal/queue"
	"github.com/steveyegge/greenlight/internal/storage/memory"
	"github.com/steveyegge/greenlight/internal/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store, *queue.Manager) {
	t.Helper()
	store := memory.New()
	broker := queue.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })
	mgr := queue.NewManager(store, broker)

	srv := httptest.NewServer(NewServer(NewQueries(store, mgr)).Handler())
	t.Cleanup(srv.Close)
	return srv, store, mgr
}

func seedStory(t *testing.T, store *memory.Store, title string, status types.StoryStatus) *types.Story {
	t.Helper()
	story := &types.Story{
		ProjectID: "web",
		Title:     title,
		Status:    status,
	}
	if err := store.CreateStory(context.Background(), story, "triage"); err != nil {
		t.Fatalf("CreateStory failed: %v", err)
	}
	return story
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestStoriesEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedStory(t, store, "Fix login redirect", types.StatusPending)
	seedStory(t, store, "Speed up feed query", types.StatusCompleted)

	var body struct {
		Stories []*types.Story `json:"stories"`
		Count   int            `json:"count"`
	}
	if code := getJSON(t, srv.URL+"/api/stories", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Count != 2 {
		t.Errorf("count = %d, want 2", body.Count)
	}

	body.Stories = nil
	if code := getJSON(t, srv.URL+"/api/stories?status=completed", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Count != 1 || body.Stories[0].Title != "Speed up feed query" {
		t.Errorf("filtered = %+v", body.Stories)
	}
}

func TestStoriesRejectsInvalidParams(t *testing.T) {
	srv, _, _ := newTestServer(t)

	if code := getJSON(t, srv.URL+"/api/stories?status=bogus", nil); code != http.StatusBadRequest {
		t.Errorf("invalid status: code = %d, want 400", code)
	}
	if code := getJSON(t, srv.URL+"/api/stories?since=not-a-date", nil); code != http.StatusBadRequest {
		t.Errorf("invalid since: code = %d, want 400", code)
	}
}

func TestStoriesSinceFilter(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedStory(t, store, "Recent story", types.StatusPending)

	var body struct {
		Count int `json:"count"`
	}
	if code := getJSON(t, srv.URL+"/api/stories?since=-1d", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Count != 1 {
		t.Errorf("since -1d count = %d, want 1", body.Count)
	}
	if code := getJSON(t, srv.URL+"/api/stories?since=%2B1d", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Count != 0 {
		t.Errorf("since +1d count = %d, want 0", body.Count)
	}
}

func TestStoryDetail(t *testing.T) {
	srv, store, _ := newTestServer(t)
	story := seedStory(t, store, "Fix login redirect", types.StatusPending)

	var body struct {
		Story  *types.Story   `json:"story"`
		Events []*types.Event `json:"events"`
	}
	if code := getJSON(t, srv.URL+"/api/stories/"+story.ID, &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Story == nil || body.Story.ID != story.ID {
		t.Errorf("story = %+v", body.Story)
	}
	// CreateStory writes at least the creation event.
	if len(body.Events) == 0 {
		t.Error("expected audit events")
	}

	if code := getJSON(t, srv.URL+"/api/stories/st-nope", nil); code != http.StatusNotFound {
		t.Errorf("missing story: code = %d, want 404", code)
	}
}

func TestQueueEndpoint(t *testing.T) {
	srv, store, mgr := newTestServer(t)
	story := seedStory(t, store, "Fix login redirect", types.StatusPending)
	if _, err := mgr.Enqueue(context.Background(), story.ID, types.LevelP1, "test", "tester"); err != nil {
		t.Fatal(err)
	}

	var status queue.Status
	if code := getJSON(t, srv.URL+"/api/queue", &status); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if status.Waiting != 1 {
		t.Errorf("waiting = %d, want 1", status.Waiting)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	story := seedStory(t, store, "Fix login redirect", types.StatusPending)

	sess := &types.AgentSession{
		ID:        "sess-1",
		StoryID:   story.ID,
		Role:      "executor",
		StartedAt: time.Now().UTC(),
	}
	if err := store.RecordSession(context.Background(), sess); err != nil {
		t.Fatal(err)
	}

	var body struct {
		Sessions []*types.AgentSession `json:"sessions"`
		Count    int                   `json:"count"`
	}
	if code := getJSON(t, srv.URL+"/api/sessions?story="+story.ID, &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Count != 1 || body.Sessions[0].Role != "executor" {
		t.Errorf("sessions = %+v", body.Sessions)
	}

	if code := getJSON(t, srv.URL+"/api/sessions", nil); code != http.StatusBadRequest {
		t.Errorf("missing story param: code = %d, want 400", code)
	}
}

func TestOverviewEndpoint(t *testing.T) {
	srv, store, mgr := newTestServer(t)
	story := seedStory(t, store, "Fix login redirect", types.StatusPending)
	seedStory(t, store, "Done already", types.StatusCompleted)
	if _, err := mgr.Enqueue(context.Background(), story.ID, types.LevelP2, "test", "tester"); err != nil {
		t.Fatal(err)
	}

	var overview Overview
	if code := getJSON(t, srv.URL+"/api/overview", &overview); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if overview.Stories == nil || overview.Stories.Total != 2 {
		t.Errorf("stories = %+v", overview.Stories)
	}
	if overview.Queue == nil || overview.Queue.Waiting != 1 {
		t.Errorf("queue = %+v", overview.Queue)
	}
}

func TestMethodAndHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/stories", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST code = %d, want 405", resp.StatusCode)
	}

	var health map[string]string
	if code := getJSON(t, srv.URL+"/health", &health); code != http.StatusOK {
		t.Fatalf("health code = %d", code)
	}
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}
}
