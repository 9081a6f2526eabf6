// Package vikunja is a client for the upstream Vikunja task-management
// API: the identity endpoint the token validator depends on, and the
// task/project operations exposed as MCP tools.
package vikunja

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-vikunja/vikunja-mcp/auth"
)

// APIError is a non-auth upstream failure with the HTTP status attached.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vikunja api error (status %d): %s", e.Status, e.Message)
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to a Vikunja API base URL (".../api/v1").
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a Client for the given API base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// User is the Vikunja user payload returned by GET /user.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Task is the subset of the Vikunja task model the tools operate on.
type Task struct {
	ID          int64  `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Done        bool   `json:"done,omitempty"`
	ProjectID   int64  `json:"project_id,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

// Project is the subset of the Vikunja project model the tools operate on.
type Project struct {
	ID          int64  `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// GetCurrentUser resolves the bearer token to its user. It implements
// auth.IdentityClient: upstream 401/403 map to auth.ErrUnauthorized.
func (c *Client) GetCurrentUser(ctx context.Context, token string) (*auth.Identity, error) {
	var u User
	if err := c.do(ctx, token, http.MethodGet, "/user", nil, &u); err != nil {
		return nil, err
	}
	return &auth.Identity{ID: u.ID, Username: u.Username, Email: u.Email}, nil
}

// CreateTask creates a task in the given project.
func (c *Client) CreateTask(ctx context.Context, token string, projectID int64, task *Task) (*Task, error) {
	var out Task
	path := fmt.Sprintf("/projects/%d/tasks", projectID)
	if err := c.do(ctx, token, http.MethodPut, path, task, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTask fetches a single task by id.
func (c *Client) GetTask(ctx context.Context, token string, id int64) (*Task, error) {
	var out Task
	if err := c.do(ctx, token, http.MethodGet, fmt.Sprintf("/tasks/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTask applies the non-zero fields of task to the stored task.
func (c *Client) UpdateTask(ctx context.Context, token string, task *Task) (*Task, error) {
	var out Task
	if err := c.do(ctx, token, http.MethodPost, fmt.Sprintf("/tasks/%d", task.ID), task, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProjects enumerates the projects visible to the caller.
func (c *Client) ListProjects(ctx context.Context, token string) ([]Project, error) {
	var out []Project
	if err := c.do(ctx, token, http.MethodGet, "/projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProject applies the non-zero fields of project.
func (c *Client) UpdateProject(ctx context.Context, token string, project *Project) (*Project, error) {
	var out Project
	if err := c.do(ctx, token, http.MethodPost, fmt.Sprintf("/projects/%d", project.ID), project, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, token, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vikunja request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: vikunja returned status %d", auth.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &APIError{Status: resp.StatusCode, Message: readAPIMessage(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode vikunja response: %w", err)
	}
	return nil
}

// readAPIMessage extracts Vikunja's {"message": "..."} error body when
// present, falling back to the raw text.
func readAPIMessage(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(b) == 0 {
		return "no response body"
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return string(b)
}

var _ auth.IdentityClient = (*Client)(nil)
