package linear

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/steveyegge/greenlight/internal/tracker"
)

// newTestServer serves canned GraphQL responses keyed by operation name
// substring.
func newTestServer(t *testing.T, respond func(query string, vars map[string]interface{}) (string, int)) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "test-key" {
			t.Errorf("Authorization = %q, want test-key", got)
		}
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		body, status := respond(req.Query, req.Variables)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client := NewClient("test-key", "team-1")
	client.endpoint = srv.URL
	return srv, client
}

func TestGetTeamStates(t *testing.T) {
	_, client := newTestServer(t, func(query string, vars map[string]interface{}) (string, int) {
		if vars["teamId"] != "team-1" {
			t.Errorf("teamId = %v, want team-1", vars["teamId"])
		}
		return `{"data":{"team":{"id":"team-1","states":{"nodes":[
			{"id":"s1","name":"Backlog","type":"backlog"},
			{"id":"s2","name":"In Progress","type":"started"}
		]}}}}`, http.StatusOK
	})

	states, err := client.GetTeamStates(context.Background())
	if err != nil {
		t.Fatalf("GetTeamStates failed: %v", err)
	}
	if len(states) != 2 || states[1].Type != "started" {
		t.Errorf("unexpected states: %+v", states)
	}
}

func TestCreateIssue(t *testing.T) {
	_, client := newTestServer(t, func(query string, vars map[string]interface{}) (string, int) {
		input := vars["input"].(map[string]interface{})
		if input["title"] != "Fix login redirect" {
			t.Errorf("title = %v", input["title"])
		}
		if input["priority"] != float64(2) {
			t.Errorf("priority = %v, want 2", input["priority"])
		}
		return `{"data":{"issueCreate":{"success":true,"issue":{
			"id":"iss-1","identifier":"ENG-42","title":"Fix login redirect",
			"url":"https://linear.app/acme/issue/ENG-42"
		}}}}`, http.StatusOK
	})

	issue, err := client.CreateIssue(context.Background(), "Fix login redirect", "details", 2, "")
	if err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}
	if issue.Identifier != "ENG-42" {
		t.Errorf("identifier = %s, want ENG-42", issue.Identifier)
	}
}

func TestGraphQLErrorSurface(t *testing.T) {
	_, client := newTestServer(t, func(query string, vars map[string]interface{}) (string, int) {
		return `{"errors":[{"message":"team not found"}]}`, http.StatusOK
	})

	if _, err := client.GetTeamStates(context.Background()); err == nil {
		t.Fatal("expected GraphQL error to surface")
	}
}

func TestUpdateIssueStateUnsuccessful(t *testing.T) {
	_, client := newTestServer(t, func(query string, vars map[string]interface{}) (string, int) {
		return `{"data":{"issueUpdate":{"success":false}}}`, http.StatusOK
	})

	if err := client.UpdateIssueState(context.Background(), "iss-1", "s2"); err == nil {
		t.Fatal("expected error for unsuccessful update")
	}
}

func TestAddComment(t *testing.T) {
	_, client := newTestServer(t, func(query string, vars map[string]interface{}) (string, int) {
		input := vars["input"].(map[string]interface{})
		if input["issueId"] != "iss-1" {
			t.Errorf("issueId = %v", input["issueId"])
		}
		return `{"data":{"commentCreate":{"success":true}}}`, http.StatusOK
	})

	if err := client.AddComment(context.Background(), "iss-1", "done"); err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
}

func TestTrackerValidate(t *testing.T) {
	tk := New(Config{})
	if err := tk.Validate(); err == nil {
		t.Error("expected validation error without credentials")
	}
	tk = New(Config{APIKey: "k", TeamID: "t"})
	if err := tk.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestRegistryRegistration(t *testing.T) {
	factory := tracker.Get("linear")
	if factory == nil {
		t.Fatal("linear should self-register")
	}
	if name := factory().Name(); name != "linear" {
		t.Errorf("factory produced tracker %q", name)
	}
}
