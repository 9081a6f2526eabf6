package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-vikunja/vikunja-mcp/auth"
	"github.com/go-vikunja/vikunja-mcp/mcp"
)

type echoArgs struct {
	Message string `json:"message"`
	Loud    bool   `json:"loud,omitempty"`
}

func newEchoRegistry(t *testing.T) *Registry {
	t.Helper()
	echo := NewTool("echo", func(ctx context.Context, user *auth.UserContext, args echoArgs) (*mcp.CallToolResult, error) {
		msg := args.Message
		if args.Loud {
			msg = strings.ToUpper(msg)
		}
		return TextResult(msg), nil
	}, WithDescription("Echo a message back"))

	failing := NewTool("flaky", func(ctx context.Context, user *auth.UserContext, args echoArgs) (*mcp.CallToolResult, error) {
		return nil, fmt.Errorf("upstream unreachable")
	})

	return NewRegistry(echo, failing)
}

func TestListTools(t *testing.T) {
	r := newEchoRegistry(t)

	list := r.ListTools(context.Background())
	if len(list) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(list))
	}

	var echo *mcp.Tool
	for i := range list {
		if list[i].Name == "echo" {
			echo = &list[i]
		}
	}
	if echo == nil {
		t.Fatalf("echo tool missing from listing")
	}
	if echo.InputSchema.Type != "object" {
		t.Fatalf("expected object schema, got %q", echo.InputSchema.Type)
	}
	if _, ok := echo.InputSchema.Properties["message"]; !ok {
		t.Fatalf("expected message property in schema: %+v", echo.InputSchema)
	}
	// Fields without omitempty are required; optional ones are not.
	if len(echo.InputSchema.Required) != 1 || echo.InputSchema.Required[0] != "message" {
		t.Fatalf("expected only message required, got %v", echo.InputSchema.Required)
	}
}

func TestCallTool(t *testing.T) {
	r := newEchoRegistry(t)

	res, err := r.CallTool(context.Background(), &mcp.CallToolRequest{
		Name:      "echo",
		Arguments: json.RawMessage(`{"message":"hi","loud":true}`),
	}, nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if res.Content[0].Text != "HI" {
		t.Fatalf("expected HI, got %q", res.Content[0].Text)
	}
}

func TestCallUnknownTool(t *testing.T) {
	r := newEchoRegistry(t)

	_, err := r.CallTool(context.Background(), &mcp.CallToolRequest{Name: "nope"}, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected message to mention not found, got %q", err.Error())
	}
}

func TestMissingRequiredArgument(t *testing.T) {
	r := newEchoRegistry(t)

	_, err := r.CallTool(context.Background(), &mcp.CallToolRequest{
		Name:      "echo",
		Arguments: json.RawMessage(`{"loud":true}`),
	}, nil)

	var invalid *InvalidArgumentsError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidArgumentsError, got %v", err)
	}
	if !strings.Contains(invalid.Error(), "required") || !strings.Contains(invalid.Error(), "message") {
		t.Fatalf("expected message to name the missing field, got %q", invalid.Error())
	}
}

func TestUnknownArgumentRejected(t *testing.T) {
	r := newEchoRegistry(t)

	_, err := r.CallTool(context.Background(), &mcp.CallToolRequest{
		Name:      "echo",
		Arguments: json.RawMessage(`{"message":"hi","volume":11}`),
	}, nil)

	var invalid *InvalidArgumentsError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidArgumentsError, got %v", err)
	}
}

func TestExecutionFailureBecomesResult(t *testing.T) {
	r := newEchoRegistry(t)

	res, err := r.CallTool(context.Background(), &mcp.CallToolRequest{
		Name:      "flaky",
		Arguments: json.RawMessage(`{"message":"hi"}`),
	}, nil)
	if err != nil {
		t.Fatalf("execution failure must not surface as error, got %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected IsError result, got %+v", res)
	}
	if !strings.Contains(res.Content[0].Text, "upstream unreachable") {
		t.Fatalf("expected failure message in content, got %q", res.Content[0].Text)
	}
}
