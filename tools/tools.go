// Package tools implements the tool dispatcher: a registry of callable
// tools with reflected input schemas and envelope validation.
//
// Two failure planes are kept strictly apart. Envelope problems (unknown
// tool, arguments that do not satisfy the input schema) surface as errors
// for the transport to turn into JSON-RPC error objects. Failures inside
// a tool's business logic never escape as errors; they come back as
// CallToolResult values with IsError set, so transport-level retry logic
// cannot double-invoke a tool on a false failure.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-vikunja/vikunja-mcp/auth"
	"github.com/go-vikunja/vikunja-mcp/mcp"
)

// ErrNotFound indicates the named tool is not registered.
var ErrNotFound = errors.New("tool not found")

// InvalidArgumentsError reports arguments that failed schema validation.
type InvalidArgumentsError struct {
	Tool   string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// Handler executes a tool call with raw, already-validated arguments.
type Handler func(ctx context.Context, user *auth.UserContext, args json.RawMessage) (*mcp.CallToolResult, error)

// Tool pairs a descriptor with its handler.
type Tool struct {
	Descriptor mcp.Tool
	Handler    Handler
}

// Dispatcher is the contract the transport dispatches decoded tool
// methods against.
type Dispatcher interface {
	// ListTools enumerates the available tool descriptors.
	ListTools(ctx context.Context) []mcp.Tool

	// CallTool validates the request envelope and executes the tool.
	// Unknown names return ErrNotFound; schema violations return
	// *InvalidArgumentsError. Execution failures are encoded in the
	// result, never in the error.
	CallTool(ctx context.Context, req *mcp.CallToolRequest, user *auth.UserContext) (*mcp.CallToolResult, error)
}
