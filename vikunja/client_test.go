package vikunja

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-vikunja/vikunja-mcp/auth"
	"github.com/go-vikunja/vikunja-mcp/mcp"
	"github.com/go-vikunja/vikunja-mcp/tools"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestGetCurrentUser(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/user" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tk_alice" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		json.NewEncoder(w).Encode(User{ID: 7, Username: "alice", Email: "alice@example.com"})
	})

	id, err := c.GetCurrentUser(context.Background(), "tk_alice")
	if err != nil {
		t.Fatalf("GetCurrentUser: %v", err)
	}
	if id.ID != 7 || id.Username != "alice" || id.Email != "alice@example.com" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestGetCurrentUserUnauthorized(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid token"}`, http.StatusUnauthorized)
	})

	_, err := c.GetCurrentUser(context.Background(), "bad")
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateTask(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/projects/3/tasks" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var in Task
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if in.Title != "Write report" {
			t.Fatalf("unexpected title %q", in.Title)
		}
		in.ID = 42
		in.ProjectID = 3
		json.NewEncoder(w).Encode(in)
	})

	task, err := c.CreateTask(context.Background(), "tk", 3, &Task{Title: "Write report"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.ID != 42 || task.ProjectID != 3 {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestAPIErrorCarriesUpstreamMessage(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"project does not exist"}`, http.StatusNotFound)
	})

	_, err := c.GetTask(context.Background(), "tk", 99)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", apiErr.Status)
	}
	if !strings.Contains(apiErr.Message, "project does not exist") {
		t.Fatalf("expected upstream message, got %q", apiErr.Message)
	}
}

func TestListProjects(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]Project{{ID: 1, Title: "Inbox"}, {ID: 2, Title: "Work"}})
	})

	projects, err := c.ListProjects(context.Background(), "tk")
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(projects) != 2 || projects[1].Title != "Work" {
		t.Fatalf("unexpected projects %+v", projects)
	}
}

func TestToolsetCreateTaskRequiresTitle(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("upstream must not be reached on invalid arguments")
	})
	reg := tools.NewRegistry(Toolset(c)...)

	_, err := reg.CallTool(context.Background(), callReq("create_task", `{"project_id":3}`), testUser())
	var invalid *tools.InvalidArgumentsError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidArgumentsError, got %v", err)
	}
	if !strings.Contains(invalid.Error(), "title") {
		t.Fatalf("expected error to name title, got %q", invalid.Error())
	}
}

func TestToolsetCreateTaskSuccess(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var in Task
		json.NewDecoder(r.Body).Decode(&in)
		in.ID = 5
		json.NewEncoder(w).Encode(in)
	})
	reg := tools.NewRegistry(Toolset(c)...)

	res, err := reg.CallTool(context.Background(), callReq("create_task", `{"title":"Buy milk","project_id":1}`), testUser())
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if !strings.Contains(res.Content[0].Text, "Buy milk") {
		t.Fatalf("expected task payload in content, got %q", res.Content[0].Text)
	}
}

func TestToolsetUpstreamFailureBecomesErrorResult(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"internal error"}`, http.StatusInternalServerError)
	})
	reg := tools.NewRegistry(Toolset(c)...)

	res, err := reg.CallTool(context.Background(), callReq("list_projects", `{}`), testUser())
	if err != nil {
		t.Fatalf("upstream failure must not surface as error, got %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected IsError result, got %+v", res)
	}
}

func callReq(name, args string) *mcp.CallToolRequest {
	return &mcp.CallToolRequest{Name: name, Arguments: json.RawMessage(args)}
}

func testUser() *auth.UserContext {
	return &auth.UserContext{ID: 7, Username: "alice", Token: "tk_alice"}
}
