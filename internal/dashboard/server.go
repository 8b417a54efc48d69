package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/timeparsing"
	"github.com/steveyegge/greenlight/internal/types"
)

// Server serves the read-only JSON API:
//
//	GET /api/stories          ?status=&project=&priority=&since=&limit=
//	GET /api/stories/{id}     story + recent events
//	GET /api/queue            queue snapshot
//	GET /api/events           ?story=&limit=
//	GET /api/sessions         ?story=
//	GET /api/overview         story stats + queue snapshot
//	GET /health
type Server struct {
	queries    *Queries
	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer creates the dashboard server over the given queries.
func NewServer(queries *Queries) *Server {
	s := &Server{
		queries: queries,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/api/stories", s.handleStories)
	s.mux.HandleFunc("/api/stories/", s.handleStory)
	s.mux.HandleFunc("/api/queue", s.handleQueue)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/overview", s.handleOverview)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleStories(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	q := r.URL.Query()
	filter := types.StoryFilter{
		Status:    types.StoryStatus(q.Get("status")),
		ProjectID: q.Get("project"),
		Priority:  types.Priority(q.Get("priority")),
		Policy:    types.Policy(q.Get("policy")),
		Limit:     intParam(q.Get("limit"), 0),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid status: "+string(filter.Status))
		return
	}
	if since := q.Get("since"); since != "" {
		t, err := timeparsing.Parse(since, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
			return
		}
		filter.Since = &t
	}

	stories, err := s.queries.Stories(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"stories": stories, "count": len(stories)})
}

func (s *Server) handleStory(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/stories/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing story ID in path")
		return
	}
	story, events, err := s.queries.Story(r.Context(), id, 50)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "story "+id+" not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"story": story, "events": events})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	status, err := s.queries.QueueStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, status)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	q := r.URL.Query()
	events, err := s.queries.Events(r.Context(), q.Get("story"), intParam(q.Get("limit"), 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"events": events, "count": len(events)})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	storyID := r.URL.Query().Get("story")
	if storyID == "" {
		writeError(w, http.StatusBadRequest, "story parameter is required")
		return
	}
	sessions, err := s.queries.Sessions(r.Context(), storyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	overview, err := s.queries.Overview(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, overview)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed: use GET")
		return false
	}
	return true
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
